// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server is the serving shell around the core: JSON-RPC framing for
// the authenticated Engine endpoint and the public eth_ endpoint, JWT
// validation, health checks and the metrics handler.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/mevm/engine"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResult and rpcError are the two response shapes: a result is present
// even when null, an error response carries no result at all.
type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

type rpcError struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *engine.Error   `json:"error"`
}

// Handler dispatches one JSON-RPC method.
type Handler interface {
	Dispatch(method string, params json.RawMessage) (interface{}, error)
}

// Config holds the listen addresses and the engine JWT secret.
type Config struct {
	EngineAddr string
	PublicAddr string
	JWTSecret  []byte
}

// Server runs the two HTTP endpoints.
type Server struct {
	config  Config
	engine  Handler
	public  Handler
	servers []*http.Server
}

// New builds the serving shell over the engine and public handlers.
func New(config Config, engineAPI, publicAPI Handler) *Server {
	return &Server{config: config, engine: engineAPI, public: publicAPI}
}

// Run serves both endpoints until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	engineMux := http.NewServeMux()
	engineMux.HandleFunc("/", s.handleEngine)
	engineServer := &http.Server{Addr: s.config.EngineAddr, Handler: engineMux, ReadHeaderTimeout: 10 * time.Second}

	publicMux := http.NewServeMux()
	publicMux.Handle("/metrics", promhttp.Handler())
	publicMux.HandleFunc("/", s.handlePublic)
	publicServer := &http.Server{Addr: s.config.PublicAddr, Handler: publicMux, ReadHeaderTimeout: 10 * time.Second}

	s.servers = []*http.Server{engineServer, publicServer}
	for _, server := range s.servers {
		server := server
		group.Go(func() error {
			log.Info("listening", "addr", server.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, server := range s.servers {
			_ = server.Shutdown(shutdownCtx)
		}
		return nil
	})
	return group.Wait()
}

// handleEngine serves the authenticated Engine API endpoint.
func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		// Health checks land here as plain GETs.
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := validateJWT(r.Header.Get("Authorization"), s.config.JWTSecret); err != nil {
		log.Debug("rejected engine request", "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	serveRPC(w, r, s.engine)
}

// handlePublic serves the unauthenticated read endpoint. GET on any path is
// a health check.
func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	serveRPC(w, r, s.public)
}

func serveRPC(w http.ResponseWriter, r *http.Request, handler Handler) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var request rpcRequest
	if err := json.Unmarshal(body, &request); err != nil {
		writeResponse(w, rpcError{
			JSONRPC: "2.0",
			Error:   &engine.Error{Code: engine.CodeInvalidParams, Message: "malformed request"},
		})
		return
	}
	result, err := handler.Dispatch(request.Method, request.Params)
	if err != nil {
		var engineErr *engine.Error
		if !errors.As(err, &engineErr) {
			engineErr = &engine.Error{Code: -32603, Message: err.Error()}
		}
		writeResponse(w, rpcError{JSONRPC: "2.0", ID: request.ID, Error: engineErr})
		return
	}
	writeResponse(w, rpcResult{JSONRPC: "2.0", ID: request.ID, Result: result})
}

func writeResponse(w http.ResponseWriter, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Debug("failed to write RPC response", "err", err)
	}
}
