// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package httpapi serves the relayer's one operator-facing read endpoint,
// GET /getAMBs, which reports the AMB recorded for the messageIdentifier
// given in its transactionHash parameter.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bountyrelay/relayer/store"
)

// Server serves the relayer's HTTP API.
type Server struct {
	store  *store.Store
	logger *zap.Logger
}

func New(s *store.Store, logger *zap.Logger) *Server {
	return &Server{store: s, logger: logger}
}

// Handler returns the http.Handler to mount, so callers control the
// listener/TLS termination themselves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/getAMBs", s.handleGetAMBs)
	return mux
}

type getAMBsResponse struct {
	MessageIdentifier string   `json:"messageIdentifier"`
	AMBsObserved      []string `json:"ambsObserved"`
}

// handleGetAMBs parses transactionHash as a 32-byte hash, uses it directly
// as a messageIdentifier, and reports the AMB of the AmbMessage stored under
// that identifier (none when nothing is stored). It does not search the
// stored AmbMessages for a matching source transaction hash.
func (s *Server) handleGetAMBs(w http.ResponseWriter, r *http.Request) {
	txHashParam := r.URL.Query().Get("transactionHash")
	if txHashParam == "" {
		http.Error(w, "missing transactionHash query parameter", http.StatusBadRequest)
		return
	}
	if len(txHashParam) != 66 {
		http.Error(w, "transactionHash must be a 32-byte hex hash", http.StatusBadRequest)
		return
	}

	id := common.HexToHash(txHashParam)
	ctx := r.Context()

	amb, found, err := s.store.GetAmb(ctx, id)
	if err != nil {
		s.logger.Error("getAMBs lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := getAMBsResponse{MessageIdentifier: id.Hex()}
	if found {
		resp.AMBsObserved = []string{amb.AMB}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed encoding getAMBs response", zap.Error(err))
	}
}
