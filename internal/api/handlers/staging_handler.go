package handlers

import (
	"net/http"

	"github.com/storegrid/engine/internal/api/types"
	"github.com/storegrid/engine/internal/services"
)

type StagingHandler struct {
	svc services.StagingService
}

func NewStagingHandler(svc services.StagingService) *StagingHandler {
	return &StagingHandler{svc: svc}
}

// Create enqueues a clone of the tenant's production stack. The {id} path
// parameter is the parent tenant.
func (h *StagingHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CreateStaging(r.Context(), tenantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true})
}

func (h *StagingHandler) ListForTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := pathID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListStaging(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func (h *StagingHandler) Get(w http.ResponseWriter, r *http.Request) {
	envID, ok := pathID(w, r)
	if !ok {
		return
	}
	env, err := h.svc.GetStaging(r.Context(), envID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: env})
}

func (h *StagingHandler) Push(w http.ResponseWriter, r *http.Request) {
	envID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.PushStaging(r.Context(), envID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true})
}

func (h *StagingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	envID, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteStaging(r.Context(), envID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true})
}
