package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/swapnet-io/swapnet/pkg/engine"
	"github.com/swapnet-io/swapnet/pkg/storage"
)

// Server is the submission gateway: REST for submit/query, WebSocket for
// epoch and outcome notifications. It implements engine.Notifier so the
// coordinator can push updates through the hub.
type Server struct {
	coord  *engine.Coordinator
	ledger *engine.Ledger
	store  storage.Store
	router *mux.Router
	hub    *Hub
}

// NewServer wires routes. store may be nil when no archive is configured.
func NewServer(coord *engine.Coordinator, ledger *engine.Ledger, store storage.Store) *Server {
	s := &Server{
		coord:  coord,
		ledger: ledger,
		store:  store,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Swap submission and lookup
	api.HandleFunc("/swaps", s.handleSubmitSwap).Methods("POST")
	api.HandleFunc("/swaps/{id}", s.handleGetSwap).Methods("GET")

	// Epoch endpoints
	api.HandleFunc("/epochs/current", s.handleGetCurrentEpoch).Methods("GET")
	api.HandleFunc("/epochs/close", s.handleCloseEpoch).Methods("POST")
	api.HandleFunc("/epochs/{id}", s.handleGetEpoch).Methods("GET")

	// Live pair aggregate (informational)
	api.HandleFunc("/pairs/{pair}", s.handleGetPair).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// engine.Notifier
// ==============================

func (s *Server) NotifyEpoch(epochID uint64, state engine.EpochState) {
	s.hub.BroadcastToChannel("epochs", WSEpochUpdate{
		Channel: "epochs",
		EpochID: epochID,
		State:   state.String(),
	})
}

func (s *Server) NotifyOutcome(req engine.SwapRequest, outcome engine.RequestOutcome) {
	update := WSOutcomeUpdate{
		Channel:   "swaps",
		ID:        req.ID.Hex(),
		Submitter: req.Submitter.Hex(),
		EpochID:   req.Epoch,
		Status:    outcome.Status.String(),
		AmountOut: outcome.AmountOut,
		Refunded:  outcome.Refunded,
	}
	s.hub.BroadcastToChannel("swaps", update)
	personal := update
	personal.Channel = "swaps:" + req.Submitter.Hex()
	s.hub.BroadcastToChannel(personal.Channel, personal)
}

var _ engine.Notifier = (*Server)(nil)

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitSwap(w http.ResponseWriter, r *http.Request) {
	var body SubmitSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !common.IsHexAddress(body.Submitter) {
		writeError(w, http.StatusBadRequest, "submitter must be a hex address")
		return
	}

	result, err := s.coord.Submit(engine.SwapSubmission{
		Submitter:    common.HexToAddress(body.Submitter),
		TokenIn:      body.TokenIn,
		TokenOut:     body.TokenOut,
		AmountIn:     body.AmountIn,
		MinAmountOut: body.MinAmountOut,
		Nonce:        body.Nonce,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrEpochClosed), errors.Is(err, engine.ErrDuplicateID):
			// Both are retry-with-new-input conditions for the submitter.
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, SubmitSwapResponse{
		ID:                      result.ID.Hex(),
		EpochID:                 result.EpochID,
		PreviewMatchProbability: result.PreviewMatchProbability,
	})
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	idHex := mux.Vars(r)["id"]
	id := common.HexToHash(idHex)

	req, ok := s.ledger.Get(id)
	if !ok && s.store != nil {
		var err error
		req, ok, err = s.store.GetRequest(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if !ok {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}

	writeJSON(w, http.StatusOK, SwapInfo{
		ID:           req.ID.Hex(),
		Submitter:    req.Submitter.Hex(),
		TokenIn:      req.TokenIn,
		TokenOut:     req.TokenOut,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		EpochID:      req.Epoch,
		Status:       req.Status.String(),
		SubmittedAt:  req.SubmittedAt.UnixMilli(),
	})
}

func (s *Server) handleGetCurrentEpoch(w http.ResponseWriter, r *http.Request) {
	e := s.coord.Current()
	writeJSON(w, http.StatusOK, EpochInfo{
		EpochID:  e.ID,
		State:    e.State().String(),
		OpenedAt: e.OpenedAt.UnixMilli(),
		ClosesAt: e.ClosesAt.UnixMilli(),
	})
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	e := s.coord.Current()
	s.coord.CloseNow()
	writeJSON(w, http.StatusAccepted, map[string]uint64{"closingEpoch": e.ID})
}

func (s *Server) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "no epoch archive configured")
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "epoch id must be an integer")
		return
	}

	arch, ok, err := s.store.GetEpoch(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "epoch not archived")
		return
	}
	writeJSON(w, http.StatusOK, arch)
}

func (s *Server) handleGetPair(w http.ResponseWriter, r *http.Request) {
	pair, err := engine.ParsePairKey(mux.Vars(r)["pair"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "pair must look like TOKA-TOKB")
		return
	}

	vol := s.coord.Current().Volumes(pair)
	writeJSON(w, http.StatusOK, PairVolumes{
		Pair:        pair.String(),
		BaseVolume:  vol.BaseVolume,
		QuoteVolume: vol.QuoteVolume,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
