package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
)

// APIHandler serves the system endpoints: version, liveness, readiness.
type APIHandler struct {
	store   interfaces.StateStore
	gateway interfaces.DataGateway
	carrier interfaces.CarrierService
	logger  arbor.ILogger
}

func NewAPIHandler(store interfaces.StateStore, gateway interfaces.DataGateway, carrier interfaces.CarrierService, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		store:   store,
		gateway: gateway,
		carrier: carrier,
		logger:  logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns liveness status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// ReadyHandler reports whether the process can accept work: the state store
// answers and both subprocess services completed their handshake.
func (h *APIHandler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	checks := map[string]bool{
		"state_store": h.store.Ping(r.Context()) == nil,
		"data_source": h.gateway.Ready(),
		"carrier":     h.carrier.Ready(),
	}

	ready := true
	for _, ok := range checks {
		if !ok {
			ready = false
			break
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]interface{}{
		"ready":  ready,
		"checks": checks,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
