package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storegrid/engine/internal/api/types"
	"github.com/storegrid/engine/internal/models"
	"github.com/storegrid/engine/internal/services"
	appErr "github.com/storegrid/engine/pkg/errors"
)

type mockTenantService struct {
	mock.Mock
}

func (m *mockTenantService) CreateTenant(ctx context.Context, input *services.CreateTenantInput) (*models.Tenant, error) {
	args := m.Called(ctx, input)
	if t := args.Get(0); t != nil {
		return t.(*models.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantService) GetTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	args := m.Called(ctx, tenantID)
	if t := args.Get(0); t != nil {
		return t.(*models.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantService) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	args := m.Called(ctx, domain)
	if t := args.Get(0); t != nil {
		return t.(*models.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantService) ListTenants(ctx context.Context, filters *services.TenantFilters) ([]models.Tenant, error) {
	args := m.Called(ctx, filters)
	if ts := args.Get(0); ts != nil {
		return ts.([]models.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantService) SuspendTenant(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *mockTenantService) ReactivateTenant(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *mockTenantService) TerminateTenant(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *mockTenantService) RetryProvisioning(ctx context.Context, tenantID uuid.UUID) error {
	return m.Called(ctx, tenantID).Error(0)
}

func (m *mockTenantService) UpdateSubscription(ctx context.Context, tenantID uuid.UUID, input *services.SubscriptionInput) (*models.Tenant, error) {
	args := m.Called(ctx, tenantID, input)
	if t := args.Get(0); t != nil {
		return t.(*models.Tenant), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTenantService) ListJobs(ctx context.Context, targetID uuid.UUID) ([]models.Job, error) {
	args := m.Called(ctx, targetID)
	if js := args.Get(0); js != nil {
		return js.([]models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func tenantTestRouter(svc services.TenantService) chi.Router {
	h := NewTenantsHandler(svc)
	r := chi.NewRouter()
	r.Get("/tenants", h.List)
	r.Post("/tenants", h.Create)
	r.Get("/tenants/{id}", h.Get)
	r.Post("/tenants/{id}/suspend", h.Suspend)
	r.Put("/tenants/{id}/subscription", h.UpdateSubscription)
	return r
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) types.APIResponse {
	t.Helper()
	var resp types.APIResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestCreateTenantAccepted(t *testing.T) {
	svc := &mockTenantService{}
	created := &models.Tenant{ID: uuid.New(), Domain: "shop.example.com", Status: models.StatusPending}
	svc.On("CreateTenant", mock.Anything, mock.MatchedBy(func(in *services.CreateTenantInput) bool {
		return in.Domain == "shop.example.com" && in.Platform == models.PlatformWooCommerce
	})).Return(created, nil)

	body := `{
		"domain": "shop.example.com",
		"platform": "woocommerce",
		"admin_email": "owner@example.com",
		"plan": {"name": "basic", "disk_limit_bytes": 1073741824, "bandwidth_limit_bytes": 10737418240, "memory_limit": "1g", "cpu_limit": "1"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(body))
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	resp := decodeResponse(t, rr)
	require.True(t, resp.Success)
	svc.AssertExpectations(t)
}

func TestCreateTenantRejectsBadJSON(t *testing.T) {
	svc := &mockTenantService{}
	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "CreateTenant", mock.Anything, mock.Anything)
}

func TestCreateTenantDomainConflict(t *testing.T) {
	svc := &mockTenantService{}
	svc.On("CreateTenant", mock.Anything, mock.Anything).
		Return(nil, appErr.New(appErr.CodeConflict, "domain already registered"))

	body := `{"domain": "shop.example.com", "platform": "woocommerce", "plan": {"name": "basic", "disk_limit_bytes": 1, "bandwidth_limit_bytes": 1, "memory_limit": "1g", "cpu_limit": "1"}}`
	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(body))
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	resp := decodeResponse(t, rr)
	require.False(t, resp.Success)
	require.Equal(t, "conflict", resp.Error.Code)
}

func TestListTenantsClampsPaging(t *testing.T) {
	svc := &mockTenantService{}
	svc.On("ListTenants", mock.Anything, &services.TenantFilters{
		Status:   models.StatusActive,
		Page:     1,
		PageSize: 20,
	}).Return([]models.Tenant{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/tenants?status=active&page=0&page_size=9999", nil)
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}

func TestGetTenantInvalidID(t *testing.T) {
	svc := &mockTenantService{}
	req := httptest.NewRequest(http.MethodGet, "/tenants/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetTenantNotFound(t *testing.T) {
	svc := &mockTenantService{}
	id := uuid.New()
	svc.On("GetTenant", mock.Anything, id).Return(nil, appErr.New(appErr.CodeNotFound, "tenant not found"))

	req := httptest.NewRequest(http.MethodGet, "/tenants/"+id.String(), nil)
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSuspendTenantConflictMapsTo409(t *testing.T) {
	svc := &mockTenantService{}
	id := uuid.New()
	svc.On("SuspendTenant", mock.Anything, id).
		Return(appErr.New(appErr.CodeConflict, "tenant status pending does not allow this action"))

	req := httptest.NewRequest(http.MethodPost, "/tenants/"+id.String()+"/suspend", nil)
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestSuspendTenantAccepted(t *testing.T) {
	svc := &mockTenantService{}
	id := uuid.New()
	svc.On("SuspendTenant", mock.Anything, id).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/tenants/"+id.String()+"/suspend", nil)
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestUpdateSubscriptionPassesGraceDeadline(t *testing.T) {
	svc := &mockTenantService{}
	id := uuid.New()
	svc.On("UpdateSubscription", mock.Anything, id, mock.MatchedBy(func(in *services.SubscriptionInput) bool {
		return in.State == models.SubscriptionPastDue && in.GraceDeadline != nil
	})).Return(&models.Tenant{ID: id}, nil)

	body := `{"state": "past_due", "grace_deadline": "2026-09-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPut, "/tenants/"+id.String()+"/subscription", strings.NewReader(body))
	rr := httptest.NewRecorder()
	tenantTestRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	svc.AssertExpectations(t)
}
