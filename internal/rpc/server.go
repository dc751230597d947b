// Package rpc provides a JSON-RPC 2.0 server for the CHIMERA swap daemon.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/chimera-swap/chimerad/internal/assembler"
	"github.com/chimera-swap/chimerad/internal/program"
	"github.com/chimera-swap/chimerad/internal/signer"
	"github.com/chimera-swap/chimerad/internal/storage"
	"github.com/chimera-swap/chimerad/pkg/logging"
)

// Server is a JSON-RPC 2.0 server.
type Server struct {
	store     *storage.Storage
	program   *program.Program
	signer    *signer.Client
	authority *btcec.PublicKey
	network   string
	log       *logging.Logger
	wsHub     *WSHub

	server   *http.Server
	listener net.Listener

	startTime time.Time

	handlers map[string]Handler
	mu       sync.RWMutex
}

// Handler is a JSON-RPC method handler.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewServer creates a new JSON-RPC server. The signer client may be nil,
// in which case assembled transactions are stored but never submitted.
func NewServer(store *storage.Storage, prog *program.Program, sc *signer.Client, authority *btcec.PublicKey, network string) *Server {
	s := &Server{
		store:     store,
		program:   prog,
		signer:    sc,
		authority: authority,
		network:   network,
		log:       logging.GetDefault().Component("rpc"),
		startTime: time.Now(),
		handlers:  make(map[string]Handler),
	}

	s.registerHandlers()

	return s
}

// registerHandlers registers all JSON-RPC method handlers.
func (s *Server) registerHandlers() {
	// Assembly methods
	s.handlers["swap_assembleInscription"] = s.swapAssembleInscription
	s.handlers["swap_assembleRune"] = s.swapAssembleRune

	// Raw program dispatch (borsh-encoded instruction, as submitted on-chain)
	s.handlers["program_execute"] = s.programExecute

	// Audit log methods
	s.handlers["swap_get"] = s.swapGet
	s.handlers["swap_list"] = s.swapList

	// Service methods
	s.handlers["service_status"] = s.serviceStatus
}

// Start starts the RPC server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// Initialize WebSocket hub
	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", s.handleRPC)
	mux.HandleFunc("POST /{$}", s.handleRPC)
	mux.HandleFunc("OPTIONS /", s.handleCORS)
	mux.HandleFunc("OPTIONS /{$}", s.handleCORS)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /ws/", s.handleWS)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("RPC server error", "error", err)
		}
	}()

	s.log.Info("RPC server started", "addr", addr, "ws", "ws://"+addr+"/ws")
	return nil
}

// Stop stops the RPC server and shuts down the WebSocket hub.
func (s *Server) Stop() error {
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Addr returns the listener address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleRPC handles incoming JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, ParseError, "Parse error", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.writeError(w, req.ID, InvalidRequest, "Invalid Request", nil)
		return
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeError(w, req.ID, MethodNotFound, "Method not found", req.Method)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.writeError(w, req.ID, errorCode(err), err.Error(), nil)
		return
	}

	s.writeResult(w, req.ID, result)
}

// errorCode maps assembly and dispatch errors onto JSON-RPC codes. Anything
// the caller could have fixed in the request is InvalidParams.
func errorCode(err error) int {
	switch {
	case errors.Is(err, assembler.ErrTxDecode),
		errors.Is(err, assembler.ErrInvalidTxID),
		errors.Is(err, assembler.ErrParamMismatch),
		errors.Is(err, program.ErrBadAccountSet),
		errors.Is(err, program.ErrUnknownOpcode),
		errors.Is(err, program.ErrInstructionDecode),
		errors.Is(err, program.ErrEmptyInstruction),
		errors.Is(err, errInvalidParams):
		return InvalidParams
	case errors.Is(err, storage.ErrRequestNotFound):
		return InvalidParams
	default:
		return InternalError
	}
}

// writeResult writes a successful response.
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// handleCORS handles CORS preflight requests.
func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
