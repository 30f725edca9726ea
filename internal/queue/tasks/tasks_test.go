package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockLifecycle struct {
	mock.Mock
}

func (m *mockLifecycle) Provision(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *mockLifecycle) Suspend(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *mockLifecycle) Reactivate(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

func (m *mockLifecycle) Terminate(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

type mockStagingLifecycle struct {
	mock.Mock
}

func (m *mockStagingLifecycle) Create(ctx context.Context, tenantID uuid.UUID) (*models.StagingEnvironment, error) {
	args := m.Called(ctx, tenantID)
	if v := args.Get(0); v != nil {
		return v.(*models.StagingEnvironment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStagingLifecycle) Push(ctx context.Context, envID uuid.UUID) (string, error) {
	args := m.Called(ctx, envID)
	return args.String(0), args.Error(1)
}

func (m *mockStagingLifecycle) Delete(ctx context.Context, envID uuid.UUID) error {
	args := m.Called(ctx, envID)
	return args.Error(0)
}

func (m *mockStagingLifecycle) DeleteAllForTenant(ctx context.Context, tenantID uuid.UUID) error {
	args := m.Called(ctx, tenantID)
	return args.Error(0)
}

type mockJobRepository struct {
	mock.Mock
}

func (m *mockJobRepository) Create(ctx context.Context, obj *models.Job) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockJobRepository) GetByID(ctx context.Context, id any, dest *models.Job) error {
	args := m.Called(ctx, id, dest)
	return args.Error(0)
}

func (m *mockJobRepository) Update(ctx context.Context, obj *models.Job) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockJobRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockJobRepository) Begin(ctx context.Context, targetID uuid.UUID, targetKind, operation string) (*models.Job, error) {
	args := m.Called(ctx, targetID, targetKind, operation)
	if v := args.Get(0); v != nil {
		return v.(*models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobRepository) Complete(ctx context.Context, id uuid.UUID, runErr error) error {
	args := m.Called(ctx, id, runErr)
	return args.Error(0)
}

func (m *mockJobRepository) AttachMeta(ctx context.Context, id uuid.UUID, meta datatypes.JSON) error {
	args := m.Called(ctx, id, meta)
	return args.Error(0)
}

func (m *mockJobRepository) ListByTarget(ctx context.Context, targetID uuid.UUID) ([]models.Job, error) {
	args := m.Called(ctx, targetID)
	if v := args.Get(0); v != nil {
		return v.([]models.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func tenantTask(t *testing.T, taskType string, tenantID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := NewTenantTask(taskType, tenantID)
	require.NoError(t, err)
	return task
}

func TestTenantTaskHandler_HandleProvision(t *testing.T) {
	tenantID := uuid.New()
	jobID := uuid.New()

	t.Run("successful provision", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpProvision).
			Return(&models.Job{ID: jobID}, nil).Once()
		lifecycle.On("Provision", mock.Anything, tenantID).Return(nil).Once()
		jobs.On("Complete", mock.Anything, jobID, nil).Return(nil).Once()

		err := handler.HandleProvision(context.Background(), tenantTask(t, TypeTenantProvision, tenantID))
		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, lifecycle, jobs)
	})

	t.Run("provision failure is returned for retry and recorded", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		provErr := appErr.New(appErr.CodeExternalToolFailure, "compose up failed")
		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpProvision).
			Return(&models.Job{ID: jobID}, nil).Once()
		lifecycle.On("Provision", mock.Anything, tenantID).Return(provErr).Once()
		jobs.On("Complete", mock.Anything, jobID, provErr).Return(nil).Once()

		err := handler.HandleProvision(context.Background(), tenantTask(t, TypeTenantProvision, tenantID))
		require.Error(t, err)
		require.True(t, appErr.IsCode(err, appErr.CodeExternalToolFailure))
		mock.AssertExpectationsForObjects(t, lifecycle, jobs)
	})

	t.Run("claim conflict is not retried", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		claimErr := appErr.New(appErr.CodeConflict, "tenant not in expected status pending")
		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpProvision).
			Return(&models.Job{ID: jobID}, nil).Once()
		lifecycle.On("Provision", mock.Anything, tenantID).Return(claimErr).Once()
		jobs.On("Complete", mock.Anything, jobID, claimErr).Return(nil).Once()

		err := handler.HandleProvision(context.Background(), tenantTask(t, TypeTenantProvision, tenantID))
		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, lifecycle, jobs)
	})

	t.Run("malformed payload is dropped without a job row", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		task := asynq.NewTask(TypeTenantProvision, []byte("not json"))
		err := handler.HandleProvision(context.Background(), task)
		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, lifecycle, jobs)
	})
}

func TestTenantTaskHandler_HandleTerminate(t *testing.T) {
	tenantID := uuid.New()
	jobID := uuid.New()

	t.Run("staging cascade runs before termination", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpTerminate).
			Return(&models.Job{ID: jobID}, nil).Once()
		staging.On("DeleteAllForTenant", mock.Anything, tenantID).Return(nil).Once()
		lifecycle.On("Terminate", mock.Anything, tenantID).Return(nil).Once()
		jobs.On("Complete", mock.Anything, jobID, nil).Return(nil).Once()

		err := handler.HandleTerminate(context.Background(), tenantTask(t, TypeTenantTerminate, tenantID))
		require.NoError(t, err)
		mock.AssertExpectationsForObjects(t, lifecycle, staging, jobs)
	})

	t.Run("cascade failure blocks termination", func(t *testing.T) {
		lifecycle := &mockLifecycle{}
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewTenantTaskHandler(lifecycle, staging, jobs)

		cascadeErr := errors.New("staging teardown failed")
		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpTerminate).
			Return(&models.Job{ID: jobID}, nil).Once()
		staging.On("DeleteAllForTenant", mock.Anything, tenantID).Return(cascadeErr).Once()
		jobs.On("Complete", mock.Anything, jobID, cascadeErr).Return(nil).Once()

		err := handler.HandleTerminate(context.Background(), tenantTask(t, TypeTenantTerminate, tenantID))
		require.Error(t, err)
		lifecycle.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything)
		mock.AssertExpectationsForObjects(t, lifecycle, staging, jobs)
	})
}

func TestStagingTaskHandler_HandleCreate(t *testing.T) {
	tenantID := uuid.New()
	jobID := uuid.New()
	envID := uuid.New()

	t.Run("successful create attaches environment meta", func(t *testing.T) {
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewStagingTaskHandler(staging, jobs)

		env := &models.StagingEnvironment{ID: envID, TenantID: tenantID, Seq: 1, Domain: "staging-1.shop.example.com"}
		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpStagingCreate).
			Return(&models.Job{ID: jobID}, nil).Once()
		staging.On("Create", mock.Anything, tenantID).Return(env, nil).Once()
		jobs.On("AttachMeta", mock.Anything, jobID, mock.MatchedBy(func(meta datatypes.JSON) bool {
			var m map[string]string
			require.NoError(t, json.Unmarshal(meta, &m))
			return m["environment_id"] == envID.String() && m["domain"] == env.Domain
		})).Return(nil).Once()
		jobs.On("Complete", mock.Anything, jobID, nil).Return(nil).Once()

		task, err := NewStagingCreateTask(tenantID)
		require.NoError(t, err)
		require.NoError(t, handler.HandleCreate(context.Background(), task))
		mock.AssertExpectationsForObjects(t, staging, jobs)
	})

	t.Run("quota exhaustion is terminal", func(t *testing.T) {
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewStagingTaskHandler(staging, jobs)

		quotaErr := appErr.New(appErr.CodeStagingQuotaExhausted, "staging environment limit reached")
		jobs.On("Begin", mock.Anything, tenantID, TargetTenant, models.OpStagingCreate).
			Return(&models.Job{ID: jobID}, nil).Once()
		staging.On("Create", mock.Anything, tenantID).Return(nil, quotaErr).Once()
		jobs.On("Complete", mock.Anything, jobID, quotaErr).Return(nil).Once()

		task, err := NewStagingCreateTask(tenantID)
		require.NoError(t, err)
		require.NoError(t, handler.HandleCreate(context.Background(), task))
		mock.AssertExpectationsForObjects(t, staging, jobs)
	})
}

func TestStagingTaskHandler_HandlePush(t *testing.T) {
	envID := uuid.New()
	jobID := uuid.New()

	t.Run("backup path is attached even when the push fails", func(t *testing.T) {
		staging := &mockStagingLifecycle{}
		jobs := &mockJobRepository{}
		handler := NewStagingTaskHandler(staging, jobs)

		pushErr := appErr.New(appErr.CodeDatabaseCloneFailure, "database restore failed")
		jobs.On("Begin", mock.Anything, envID, TargetStaging, models.OpStagingPush).
			Return(&models.Job{ID: jobID}, nil).Once()
		staging.On("Push", mock.Anything, envID).Return("/srv/backups/files-20260824T100000", pushErr).Once()
		jobs.On("AttachMeta", mock.Anything, jobID, mock.MatchedBy(func(meta datatypes.JSON) bool {
			var m map[string]string
			require.NoError(t, json.Unmarshal(meta, &m))
			return m["backup_path"] == "/srv/backups/files-20260824T100000"
		})).Return(nil).Once()
		jobs.On("Complete", mock.Anything, jobID, pushErr).Return(nil).Once()

		task, err := NewStagingTask(TypeStagingPush, envID)
		require.NoError(t, err)
		err = handler.HandlePush(context.Background(), task)
		require.Error(t, err)
		require.True(t, appErr.IsCode(err, appErr.CodeDatabaseCloneFailure))
		mock.AssertExpectationsForObjects(t, staging, jobs)
	})
}
