package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobStatus is the state of one orchestration attempt.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Operation kinds recorded in the audit log.
const (
	OpProvision     = "provision"
	OpSuspend       = "suspend"
	OpReactivate    = "reactivate"
	OpTerminate     = "terminate"
	OpStagingCreate = "staging_create"
	OpStagingPush   = "staging_push"
	OpStagingDelete = "staging_delete"
)

// Job is an append-only audit record of an orchestration attempt. Rows are
// never mutated except to close out their status; the handlers use them for
// idempotency checks and operators for visibility.
type Job struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TargetID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"target_id"`
	TargetKind string         `gorm:"type:varchar(32);not null" json:"target_kind"`
	Operation  string         `gorm:"type:varchar(32);index;not null" json:"operation"`
	Status     JobStatus      `gorm:"type:varchar(16);index;not null;default:running" json:"status"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	Meta       datatypes.JSON `gorm:"type:jsonb" json:"meta,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
