package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds. Threshold alerts are rate-limited per kind per tenant
// within the configured cooldown; grace warnings are sent at most once each.
const (
	NotifyDiskWarning       = "disk_warning"
	NotifyDiskCritical      = "disk_critical"
	NotifyBandwidthWarning  = "bandwidth_warning"
	NotifyBandwidthCritical = "bandwidth_critical"
	NotifySuspended         = "suspended"
	NotifyTerminated        = "terminated"
	NotifyGraceThreeDays    = "grace_3d"
	NotifyGraceOneDay       = "grace_1d"
	NotifyWelcome           = "welcome"
	NotifyStagingPushed     = "staging_pushed"
)

// NotificationRecord marks that a notification of a given kind was sent to a
// tenant, so alerting stays idempotent across enforcement cycles.
type NotificationRecord struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;index;not null" json:"tenant_id"`
	Kind     string    `gorm:"type:varchar(32);index;not null" json:"kind"`
	SentAt   time.Time `gorm:"index;not null" json:"sent_at"`
}
