package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// ResetStats handles POST /api/stats/reset.
func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.stats.Reset()
	h.logger.Info("stats reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LearningStatus handles GET /api/learning.
func (h *Handler) LearningStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.learner.StatusReport())
}

// ListBlocks handles GET /api/blocks.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := h.limiter.Blocked()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(blocks),
		"blocks": blocks,
	})
}

type addBlockRequest struct {
	IP       string `json:"ip"`
	Reason   string `json:"reason,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// AddBlock handles POST /api/blocks, blocking an IP manually.
func (h *Handler) AddBlock(w http.ResponseWriter, r *http.Request) {
	var req addBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		jsonError(w, "ip is required", http.StatusBadRequest)
		return
	}

	duration := h.cfg.IPBlocking.BlockDuration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			jsonError(w, "invalid duration", http.StatusBadRequest)
			return
		}
		duration = d
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	h.limiter.BlockIP(req.IP, reason, duration)
	h.metrics.IPBlocks.Inc(reason)
	h.metrics.BlockedIPs.Set(float64(h.limiter.BlockedCount()))
	h.logger.Info("ip blocked", "ip", req.IP, "reason", reason, "duration", duration)
	writeJSON(w, http.StatusCreated, map[string]string{"blocked": req.IP})
}

// DeleteBlock handles DELETE /api/blocks/{ip}.
func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if !h.limiter.UnblockIP(ip) {
		jsonError(w, "ip not blocked", http.StatusNotFound)
		return
	}
	h.metrics.BlockedIPs.Set(float64(h.limiter.BlockedCount()))
	h.logger.Info("ip unblocked", "ip", ip)
	writeJSON(w, http.StatusOK, map[string]string{"unblocked": ip})
}

// Logs handles GET /api/logs?limit=N.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			jsonError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.logs.Recent(r.Context(), limit)
	if err != nil {
		jsonError(w, "log query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
