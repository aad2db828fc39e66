package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/tensei-bridge/backend/internal/chains"
	"github.com/tensei-bridge/backend/internal/config"
	"github.com/tensei-bridge/backend/internal/orchestrator"
	"github.com/tensei-bridge/backend/internal/session"
	"github.com/tensei-bridge/backend/internal/ws"
)

// Pinger reports whether the upstream migration service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the migration workflow over HTTP: a JSON API for
// driving sessions plus a WebSocket feed of state changes.
type Server struct {
	config         *config.Config
	manager        *orchestrator.Manager
	broadcaster    *ws.Broadcaster
	pinger         Pinger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cfg *config.Config, manager *orchestrator.Manager, broadcaster *ws.Broadcaster, pinger Pinger) *Server {
	s := &Server{
		config:         cfg,
		manager:        manager,
		broadcaster:    broadcaster,
		pinger:         pinger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/chains", s.handleChains)
	mux.HandleFunc("/api/v1/sessions", s.handleSessions)
	mux.HandleFunc("/api/v1/sessions/", s.handleSessionRoutes)
}

// writeJSON is the single success-path encoder.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform error envelope.
func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// errorStatus maps orchestrator sentinel errors to HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidStep):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnknownChain), errors.Is(err, orchestrator.ErrBadContract):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("ws client rejected: %v", err)
		return
	}
	log.Printf("WebSocket client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, chains.All())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.manager.States())
	case http.MethodPost:
		orch := s.manager.Create()
		writeJSON(w, http.StatusCreated, orch.State())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSessionRoutes dispatches /api/v1/sessions/{id} and
// /api/v1/sessions/{id}/{op}.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	parts := strings.SplitN(path, "/", 2)

	id, err := url.PathUnescape(parts[0])
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	orch, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session %s not found", id)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, orch.State())
		case http.MethodDelete:
			s.manager.Remove(id)
			s.broadcaster.QueueRemoval(id)
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleOperation(w, r, orch, parts[1])
}

// operation request bodies; only the fields each operation reads.
type operationRequest struct {
	Chain         string `json:"chain"`
	WalletAddress string `json:"walletAddress"`
	PaymentProof  string `json:"paymentProof"`
	Contract      string `json:"contract"`
	TokenID       string `json:"tokenId"`
	Manual        bool   `json:"manual"`
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, op string) {
	var req operationRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
	}

	var err error
	switch op {
	case "connect":
		err = orch.WalletConnected()
	case "chain":
		err = orch.SelectChain(r.Context(), req.Chain, req.WalletAddress)
	case "payment":
		err = orch.ConfirmPayment(r.Context(), req.PaymentProof)
	case "contract":
		err = orch.EnterContract()
	case "detect":
		err = orch.StartDetection(req.Contract)
	case "deposit":
		if req.Manual {
			err = orch.ConfirmDepositManual(r.Context(), req.Contract, req.TokenID)
		} else {
			err = orch.SelectDetectedAsset(r.Context(), session.Asset{Contract: req.Contract, TokenID: req.TokenID})
		}
	case "back":
		err = orch.GoBack()
	case "reset":
		orch.Reset()
	case "simulate":
		err = orch.SimulateProgress()
	default:
		writeError(w, http.StatusNotFound, "unknown operation %q", op)
		return
	}

	if err != nil {
		writeError(w, errorStatus(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, orch.State())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Tensei-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
