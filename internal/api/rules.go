package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-waf/aegis-go/internal/rules"
)

// ListRules handles GET /api/rules, optionally filtered by ?category=.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if cat := r.URL.Query().Get("category"); cat != "" {
		writeJSON(w, http.StatusOK, h.rules.ByCategory(cat))
		return
	}
	writeJSON(w, http.StatusOK, h.rules.All())
}

// GetRule handles GET /api/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "rule not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule.Source = rules.SourceCustom
	rule.Enabled = true
	if err := h.rules.Add(rule); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.refreshRuleGauges()
	h.logger.Info("rule added", "id", rule.ID, "category", rule.Category)
	created, _ := h.rules.Get(rule.ID)
	writeJSON(w, http.StatusCreated, created)
}

type updateRuleRequest struct {
	Name        *string   `json:"name"`
	Category    *string   `json:"category"`
	Pattern     *string   `json:"pattern"`
	Flags       *string   `json:"flags"`
	Score       *float64  `json:"score"`
	Description *string   `json:"description"`
	Severity    *string   `json:"severity"`
	Tags        *[]string `json:"tags"`
	Enabled     *bool     `json:"enabled"`
}

// UpdateRule handles PUT /api/rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule, err := h.rules.UpdateRule(chi.URLParam(r, "id"), rules.Update{
		Name:        req.Name,
		Category:    req.Category,
		Pattern:     req.Pattern,
		Flags:       req.Flags,
		Score:       req.Score,
		Description: req.Description,
		Severity:    req.Severity,
		Tags:        req.Tags,
		Enabled:     req.Enabled,
	})
	if err != nil {
		switch {
		case errors.Is(err, rules.ErrNotFound):
			jsonError(w, "rule not found", http.StatusNotFound)
		default:
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	h.refreshRuleGauges()
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/{id}. Built-in and community rules
// cannot be deleted, only disabled.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.rules.Delete(id); err != nil {
		switch {
		case errors.Is(err, rules.ErrNotFound):
			jsonError(w, "rule not found", http.StatusNotFound)
		case errors.Is(err, rules.ErrProtected):
			jsonError(w, "rule cannot be deleted, disable it instead", http.StatusForbidden)
		default:
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	h.refreshRuleGauges()
	h.logger.Info("rule deleted", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleRule handles POST /api/rules/{id}/toggle.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.rules.Toggle(id, req.Enabled); err != nil {
		jsonError(w, "rule not found", http.StatusNotFound)
		return
	}
	h.refreshRuleGauges()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": req.Enabled})
}

// RuleStats handles GET /api/rules/stats.
func (h *Handler) RuleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rules.RuleStats())
}

type importExportRequest struct {
	Path       string   `json:"path"`
	Categories []string `json:"categories,omitempty"`
}

// ImportRules handles POST /api/rules/import.
func (h *Handler) ImportRules(w http.ResponseWriter, r *http.Request) {
	var req importExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	n, err := h.rules.Import(req.Path)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.refreshRuleGauges()
	h.logger.Info("rules imported", "path", req.Path, "count", n)
	writeJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// ExportRules handles POST /api/rules/export.
func (h *Handler) ExportRules(w http.ResponseWriter, r *http.Request) {
	var req importExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		jsonError(w, "path is required", http.StatusBadRequest)
		return
	}
	n, err := h.rules.Export(req.Path, req.Categories...)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"exported": n})
}

func (h *Handler) refreshRuleGauges() {
	for cat, n := range h.rules.EnabledByCategory() {
		h.metrics.RulesEnabled.Set(float64(n), cat)
	}
}
