/*
scenarios.go - Demo scenario handlers

PURPOSE:

	Lets a demo or a manual test start from a known dataset. The datasets
	themselves live in catalog/scenarios.go; this file only exposes them.

USAGE VIA API:

	GET  /api/scenarios               List scenarios
	GET  /api/scenarios/current       The loaded scenario, or null
	POST /api/scenarios/load          {"scenario_id": "controlled-month"}
	POST /api/scenarios/reset         Wipe everything

NOTE:

	Loading or resetting wipes the store. Only use in development/demo
	environments.
*/
package api

import (
	"net/http"
	"strings"

	"github.com/warp/stock-ledger/catalog"
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Scenarios())
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := catalog.Find(current)
	writeJSON(w, http.StatusOK, s)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.ScenarioID)
	if _, ok := catalog.Find(id); !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	// Scenario loads are serialized; a half-loaded dataset is never current.
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""

	if err := catalog.Load(r.Context(), h.Service, id, h.Now()); err != nil {
		h.Logger.WithError(err).WithField("scenario", id).Error("loading scenario")
		h.writeServiceError(w, err)
		return
	}
	h.currentScenario = id

	h.Logger.WithField("scenario", id).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": id})
}

// ResetDatabase wipes every medication, ledger entry and log.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Service.Reset(r.Context()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
