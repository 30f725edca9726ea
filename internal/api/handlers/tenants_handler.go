package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/storegrid/engine/internal/api/types"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/services"
)

type TenantsHandler struct {
	svc services.TenantService
}

func NewTenantsHandler(svc services.TenantService) *TenantsHandler {
	return &TenantsHandler{svc: svc}
}

func (h *TenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.TenantCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}

	t, err := h.svc.CreateTenant(r.Context(), &services.CreateTenantInput{
		Domain:     req.Domain,
		Platform:   models.Platform(req.Platform),
		AdminEmail: req.AdminEmail,
		Plan: services.PlanInput{
			Name:                req.Plan.Name,
			DiskLimitBytes:      req.Plan.DiskLimitBytes,
			BandwidthLimitBytes: req.Plan.BandwidthLimitBytes,
			MemoryLimit:         req.Plan.MemoryLimit,
			CPULimit:            req.Plan.CPULimit,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// 202: the record exists but provisioning runs in the worker.
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: t})
}

func (h *TenantsHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	items, err := h.svc.ListTenants(r.Context(), &services.TenantFilters{
		Status:   models.TenantStatus(r.URL.Query().Get("status")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{Page: page, PageSize: size},
	})
}

func (h *TenantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.GetTenant(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: t})
}

func (h *TenantsHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.svc.SuspendTenant)
}

func (h *TenantsHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.svc.ReactivateTenant)
}

func (h *TenantsHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.svc.TerminateTenant)
}

func (h *TenantsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.lifecycleAction(w, r, h.svc.RetryProvisioning)
}

func (h *TenantsHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req types.SubscriptionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.svc.UpdateSubscription(r.Context(), id, &services.SubscriptionInput{
		State:         models.SubscriptionState(req.State),
		GraceDeadline: req.GraceDeadline,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: t})
}

func (h *TenantsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	jobs, err := h.svc.ListJobs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: jobs})
}

func (h *TenantsHandler) lifecycleAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
