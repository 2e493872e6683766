package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Types
// ==============================

// SubmitSwapRequest is the POST /api/v1/swaps body.
type SubmitSwapRequest struct {
	Submitter    string `json:"submitter"` // 0x-prefixed address
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     int64  `json:"amountIn"`
	MinAmountOut int64  `json:"minAmountOut"`
	Nonce        uint64 `json:"nonce"`
}

// SubmitSwapResponse echoes the assigned id plus the non-binding preview.
type SubmitSwapResponse struct {
	ID                      string  `json:"id"`
	EpochID                 uint64  `json:"epochId"`
	PreviewMatchProbability float64 `json:"previewMatchProbability"`
}

// SwapInfo is the status view of one request.
type SwapInfo struct {
	ID           string `json:"id"`
	Submitter    string `json:"submitter"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     int64  `json:"amountIn"`
	MinAmountOut int64  `json:"minAmountOut"`
	EpochID      uint64 `json:"epochId"`
	Status       string `json:"status"`
	SubmittedAt  int64  `json:"submittedAt"` // Unix milliseconds
}

// EpochInfo describes the open epoch.
type EpochInfo struct {
	EpochID  uint64 `json:"epochId"`
	State    string `json:"state"`
	OpenedAt int64  `json:"openedAt"` // Unix milliseconds
	ClosesAt int64  `json:"closesAt"`
}

// PairVolumes is the live (eventually consistent) aggregate view of a pair.
type PairVolumes struct {
	Pair        string `json:"pair"`
	BaseVolume  int64  `json:"baseVolume"`
	QuoteVolume int64  `json:"quoteVolume"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest subscribes/unsubscribes channels:
//
//	{"op": "subscribe", "channels": ["epochs", "swaps", "swaps:0xabc..."]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

// WSEpochUpdate is broadcast on the "epochs" channel at every state change.
type WSEpochUpdate struct {
	Channel string `json:"channel"`
	EpochID uint64 `json:"epochId"`
	State   string `json:"state"`
}

// WSOutcomeUpdate is broadcast on "swaps" and "swaps:{submitter}" once a
// request settles.
type WSOutcomeUpdate struct {
	Channel   string `json:"channel"`
	ID        string `json:"id"`
	Submitter string `json:"submitter"`
	EpochID   uint64 `json:"epochId"`
	Status    string `json:"status"`
	AmountOut int64  `json:"amountOut"`
	Refunded  int64  `json:"refunded"`
}
