// Package server implements the Registry API surface: GET /health,
// POST /receipts/query, GET /receipts/{id}, GET /stats, POST
// /validate. Handlers use only net/http and encoding/json, matching
// the teacher's handler files, which never reach for a router
// library.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/bpi-core/bpci-core/pkg/anchor"
	"github.com/bpi-core/bpci-core/pkg/consensus"
	"github.com/bpi-core/bpci-core/pkg/orchestrator"
	"github.com/bpi-core/bpci-core/pkg/policy"
	"github.com/bpi-core/bpci-core/pkg/registry"
	"github.com/bpi-core/bpci-core/pkg/settlement"
)

// Server holds every component the Registry API surface answers
// queries against. Any field may be nil; handlers that need an absent
// component respond with a service-unavailable error rather than
// panicking.
type Server struct {
	Store       *registry.Store
	Keys        *registry.KeyStore
	Engine      *consensus.Engine
	LightClient *anchor.LightClient
	Court       *policy.Court
	Orchestrator *orchestrator.Orchestrator
	Settlement  *settlement.Engine

	startedAt time.Time
	logger    *log.Logger
}

// New creates a Server. logger may be nil, in which case a default
// stdlib logger is used.
func New(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[server] ", log.LstdFlags)
	}
	return &Server{startedAt: time.Now(), logger: logger}
}

// Routes builds the Registry API's ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/receipts/query", s.handleReceiptsQuery)
	mux.HandleFunc("/receipts/", s.handleReceiptByID)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/validate", s.handleValidate)
	return mux
}

// writeOK flattens payload's fields alongside status=success, giving
// every endpoint's response the shared {status, error?, ...payload}
// shape spec.md requires.
func writeOK(w http.ResponseWriter, payload interface{}) {
	body := flatten(payload)
	body["status"] = "success"
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"status": "error",
		"error":  message,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// flatten round-trips payload through JSON into a map so its fields
// sit alongside "status" at the envelope's top level.
func flatten(payload interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	if payload == nil {
		return out
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// authenticatedRequest is embedded by every request body that must
// carry an api_key per spec.md's body-embedded authentication rule.
type authenticatedRequest struct {
	APIKey string `json:"api_key"`
}

// authenticate checks the api_key already decoded into req against
// s.Keys.
func (s *Server) authenticate(req authenticatedRequest) (registry.APIKey, bool) {
	if s.Keys == nil {
		return registry.APIKey{}, false
	}
	return s.Keys.Authenticate(req.APIKey)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

func receiptIDFromPath(path string) string {
	return strings.TrimPrefix(path, "/receipts/")
}
