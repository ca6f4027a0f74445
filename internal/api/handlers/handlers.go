// Package handlers implements the HTTP handlers for the migration admin
// surface: analytics, migration status, manual canary adjustment, and
// emergency rollback.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/platefull/platefull/control-plane/internal/flags"
	"github.com/platefull/platefull/control-plane/internal/monitor"
	"github.com/platefull/platefull/control-plane/internal/registry"
	"github.com/platefull/platefull/control-plane/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Flags    *flags.Store
	Registry *registry.Registry
	Monitor  *monitor.Monitor
}

// New creates a Handlers instance.
func New(fs *flags.Store, reg *registry.Registry, mon *monitor.Monitor) *Handlers {
	return &Handlers{Flags: fs, Registry: reg, Monitor: mon}
}

// operationParam extracts and validates the {operation} path segment.
// Unknown operations are rejected so a typo cannot create stray flags.
func operationParam(w http.ResponseWriter, r *http.Request) (models.Operation, bool) {
	op := models.Operation(chi.URLParam(r, "operation"))
	if !models.IsKnownOperation(op) {
		respondError(w, http.StatusBadRequest, "unknown operation: "+string(op))
		return "", false
	}
	return op, true
}

func hoursParam(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// ── Analytics & status ──────────────────────────────────────

func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Monitor.Analytics(hoursParam(r, 24)))
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := models.MigrationStatus{
		GeneratedAt: time.Now().UTC(),
		Operations:  make(map[models.Operation]models.OperationStatus),
		Breakers:    h.Registry.BreakerStates(),
	}
	for _, op := range models.KnownOperations() {
		pct, enabled := h.Flags.CanaryPercentage(op)
		prov := h.Flags.ProviderForOperation(op)
		ostat := models.OperationStatus{
			Provider:         prov,
			FullModel:        models.FullModelFor(prov),
			MiniModel:        models.MiniModelFor(prov),
			CanaryEnabled:    enabled,
			CanaryPercentage: pct,
		}
		if until, active := h.Monitor.OverrideUntil(op); active {
			ostat.ManualOverrideUntil = &until
		}
		status.Operations[op] = ostat
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.Monitor.Report(hoursParam(r, 24))))
}

// ── Canary adjustment ───────────────────────────────────────

type adjustRequest struct {
	Increment int `json:"increment"`
	Decrement int `json:"decrement"`
}

func (h *Handlers) IncreaseCanary(w http.ResponseWriter, r *http.Request) {
	op, ok := operationParam(w, r)
	if !ok {
		return
	}
	req := adjustRequest{Increment: 5}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Increment <= 0 {
		respondError(w, http.StatusBadRequest, "increment must be positive")
		return
	}
	newPct := h.Flags.IncrementCanaryPercentage(op, req.Increment)
	h.Monitor.NoteManualOverride(op)
	log.Info().Str("operation", string(op)).Int("percentage", newPct).Msg("canary increased manually")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operation":  op,
		"percentage": newPct,
	})
}

func (h *Handlers) DecreaseCanary(w http.ResponseWriter, r *http.Request) {
	op, ok := operationParam(w, r)
	if !ok {
		return
	}
	req := adjustRequest{Decrement: 5}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Decrement <= 0 {
		respondError(w, http.StatusBadRequest, "decrement must be positive")
		return
	}
	newPct := h.Flags.DecrementCanaryPercentage(op, req.Decrement)
	h.Monitor.NoteManualOverride(op)
	log.Info().Str("operation", string(op)).Int("percentage", newPct).Msg("canary decreased manually")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operation":  op,
		"percentage": newPct,
	})
}

// ── Emergency operations ────────────────────────────────────

func (h *Handlers) EmergencyRollback(w http.ResponseWriter, r *http.Request) {
	op, ok := operationParam(w, r)
	if !ok {
		return
	}
	h.Flags.EmergencyRollbackCanary(op)
	h.Monitor.NoteManualOverride(op)
	log.Warn().Str("operation", string(op)).Msg("manual emergency rollback")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"operation":   op,
		"rolled_back": true,
		"timestamp":   time.Now().UTC(),
	})
}

func (h *Handlers) EmergencyDisableProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	if h.Registry.Breaker(name) == nil {
		respondError(w, http.StatusBadRequest, "unknown provider: "+name)
		return
	}
	h.Flags.EmergencyDisableProvider(name)
	log.Warn().Str("provider", name).Msg("provider disabled by operator")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider":  name,
		"disabled":  true,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handlers) AutoAdjust(w http.ResponseWriter, r *http.Request) {
	op, ok := operationParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.Monitor.AutoAdjustCanary(op))
}

// ── Flags ───────────────────────────────────────────────────

func (h *Handlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Flags.List())
}

func (h *Handlers) SetFlag(w http.ResponseWriter, r *http.Request) {
	var flag models.FeatureFlag
	if err := json.NewDecoder(r.Body).Decode(&flag); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if flag.Name == "" {
		respondError(w, http.StatusBadRequest, "flag name is required")
		return
	}
	if flag.Percentage != nil && (*flag.Percentage < 0 || *flag.Percentage > 100) {
		respondError(w, http.StatusBadRequest, "percentage must be in [0,100]")
		return
	}
	h.Flags.Set(flag)
	log.Info().Str("flag", flag.Name).Bool("enabled", flag.Enabled).Msg("flag updated")
	respondJSON(w, http.StatusOK, flag)
}

// ── Responders ──────────────────────────────────────────────

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: false, Error: message})
}
