package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageSample is one tenant's measured resource consumption for one day.
// Append-only; the enforcement worker sums bandwidth samples over the
// billing month.
type UsageSample struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_tenant_day,unique" json:"tenant_id"`
	Day            string    `gorm:"type:varchar(10);not null;index:idx_usage_tenant_day,unique" json:"day"`
	DiskBytes      int64     `json:"disk_bytes"`
	BandwidthBytes int64     `json:"bandwidth_bytes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UsageDay formats a sample day key (UTC calendar date).
func UsageDay(t time.Time) string { return t.UTC().Format("2006-01-02") }
