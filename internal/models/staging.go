package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StagingStatus is the lifecycle state of a staging environment.
type StagingStatus string

const (
	StagingCreating StagingStatus = "creating"
	StagingActive   StagingStatus = "active"
	StagingSyncing  StagingStatus = "syncing"
	StagingFailed   StagingStatus = "failed"
	StagingDeleted  StagingStatus = "deleted"
)

// StagingEnvironment is an isolated clone of a tenant's stack.
type StagingEnvironment struct {
	ID       uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID uuid.UUID     `gorm:"type:uuid;not null;index:idx_staging_tenant_seq,unique" json:"tenant_id"`
	Seq      int           `gorm:"not null;index:idx_staging_tenant_seq,unique" json:"seq"`
	Port     int           `gorm:"index" json:"port"`
	Domain   string        `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain"`
	Status   StagingStatus `gorm:"type:varchar(32);index;not null;default:creating" json:"status"`

	LastPushAt *time.Time `json:"last_push_at,omitempty"`
	LastError  string     `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
