package main

import (
	"strconv"
	"strings"

	"github.com/swapnet-io/swapnet/pkg/engine"
)

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePairPrice parses "ETH-USDC=2000" into a pair key and a scaled price.
func parsePairPrice(entry string) (engine.PairKey, int64, bool) {
	name, value, found := strings.Cut(entry, "=")
	if !found {
		return engine.PairKey{}, 0, false
	}
	pair, err := engine.ParsePairKey(strings.TrimSpace(name))
	if err != nil {
		return engine.PairKey{}, 0, false
	}
	px, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || px <= 0 {
		return engine.PairKey{}, 0, false
	}
	return pair, int64(px * engine.PriceScale), true
}
