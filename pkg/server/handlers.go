package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bpi-core/bpci-core/pkg/registry"
)

// receiptsQueryRequest is the body of POST /receipts/query.
type receiptsQueryRequest struct {
	authenticatedRequest
	ReceiptID       string `json:"receipt_id,omitempty"`
	ExecutionID     string `json:"execution_id,omitempty"`
	TimeFrom        string `json:"time_from,omitempty"`
	TimeTo          string `json:"time_to,omitempty"`
	BlockHeightFrom uint64 `json:"block_height_from,omitempty"`
	BlockHeightTo   uint64 `json:"block_height_to,omitempty"`
	ComplianceOnly  bool   `json:"compliance_only,omitempty"`
	PageSize        int    `json:"page_size,omitempty"`
	Cursor          string `json:"cursor,omitempty"`
}

func (s *Server) handleReceiptsQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "receipts/query requires POST")
		return
	}

	var req receiptsQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.authenticate(req.authenticatedRequest); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or revoked api_key")
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "registry store not available")
		return
	}

	params := registry.QueryParams{
		ReceiptID:       req.ReceiptID,
		ExecutionID:     req.ExecutionID,
		BlockHeightFrom: req.BlockHeightFrom,
		BlockHeightTo:   req.BlockHeightTo,
		ComplianceOnly:  req.ComplianceOnly,
		PageSize:        req.PageSize,
		Cursor:          req.Cursor,
	}
	if req.TimeFrom != "" {
		if t, err := time.Parse(time.RFC3339, req.TimeFrom); err == nil {
			params.TimeFrom = t
		}
	}
	if req.TimeTo != "" {
		if t, err := time.Parse(time.RFC3339, req.TimeTo); err == nil {
			params.TimeTo = t
		}
	}

	result, err := s.Store.Query(params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, result)
}

func (s *Server) handleReceiptByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "receipts/{id} requires GET")
		return
	}

	var req authenticatedRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if _, ok := s.authenticate(req); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or revoked api_key")
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "registry store not available")
		return
	}

	id := receiptIDFromPath(r.URL.Path)
	if id == "" {
		writeError(w, http.StatusBadRequest, "receipt id is required")
		return
	}

	rec, err := s.Store.GetReceipt(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, map[string]interface{}{"receipt": rec})
}

// statsResponse aggregates a point-in-time snapshot across every
// component wired into the server, mirroring the teacher's
// HandleLedgerStatus pattern of merging several stores' states into
// one status document.
type statsResponse struct {
	UptimeSeconds int64       `json:"uptime_seconds"`
	Consensus     interface{} `json:"consensus,omitempty"`
	Anchor        interface{} `json:"anchor,omitempty"`
	Policy        interface{} `json:"policy,omitempty"`
	Orchestrator  interface{} `json:"orchestrator,omitempty"`
	Settlement    interface{} `json:"settlement,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req authenticatedRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if _, ok := s.authenticate(req); !ok {
		writeError(w, http.StatusUnauthorized, "invalid or revoked api_key")
		return
	}

	resp := statsResponse{UptimeSeconds: int64(time.Since(s.startedAt).Seconds())}
	if s.Engine != nil {
		resp.Consensus = map[string]interface{}{
			"height": s.Engine.Height(),
			"round":  s.Engine.Round(),
		}
	}
	if s.LightClient != nil {
		best, ok := s.LightClient.BestHeader()
		resp.Anchor = map[string]interface{}{
			"best_height":        best.Height,
			"has_best":           ok,
			"last_anchor_height": s.LightClient.LastAnchorHeight(),
		}
	}
	if s.Court != nil {
		resp.Policy = s.Court.Snapshot()
	}
	if s.Orchestrator != nil {
		resp.Orchestrator = s.Orchestrator.Snapshot()
	}
	if s.Settlement != nil {
		resp.Settlement = s.Settlement.Snapshot()
	}

	writeOK(w, resp)
}

// validateRequest is the body of POST /validate.
type validateRequest struct {
	authenticatedRequest
	ReceiptID string `json:"receipt_id"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "validate requires POST")
		return
	}

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := s.authenticate(req.authenticatedRequest)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or revoked api_key")
		return
	}
	if s.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "registry store not available")
		return
	}
	if req.ReceiptID == "" {
		writeError(w, http.StatusBadRequest, "receipt_id is required")
		return
	}

	rec, err := s.Store.GetReceipt(req.ReceiptID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	opts := registry.ValidateOptions{}
	if key.Role != registry.RoleAdmin {
		opts.MaxAge = 24 * time.Hour
	}
	result := registry.ValidateReceipt(rec, opts)
	writeOK(w, map[string]interface{}{"validation": result})
}
