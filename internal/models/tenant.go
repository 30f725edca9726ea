package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Platform identifies the store software a tenant runs.
type Platform string

const (
	PlatformWooCommerce Platform = "woocommerce"
	PlatformMagento     Platform = "magento"
)

// NeedsEdgeCache reports whether the platform ships a cache-proxy container
// whose config directory must be seeded in the workspace.
func (p Platform) NeedsEdgeCache() bool { return p == PlatformMagento }

// TenantStatus is the lifecycle state of a tenant stack.
type TenantStatus string

const (
	StatusPending      TenantStatus = "pending"
	StatusProvisioning TenantStatus = "provisioning"
	StatusActive       TenantStatus = "active"
	StatusFailed       TenantStatus = "failed"
	StatusSuspended    TenantStatus = "suspended"
	StatusTerminated   TenantStatus = "terminated"
)

// tenantTransitions is the single source of truth for legal status moves.
// Every worker that mutates tenant status goes through Transition; nothing
// writes the column directly.
var tenantTransitions = map[TenantStatus][]TenantStatus{
	StatusPending:      {StatusProvisioning},
	StatusProvisioning: {StatusActive, StatusFailed},
	StatusFailed:       {StatusProvisioning, StatusTerminated},
	StatusActive:       {StatusSuspended, StatusTerminated},
	StatusSuspended:    {StatusActive, StatusTerminated},
	StatusTerminated:   {},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to TenantStatus) bool {
	for _, next := range tenantTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SubscriptionState mirrors the billing system's view of a tenant.
type SubscriptionState string

const (
	SubscriptionActive    SubscriptionState = "active"
	SubscriptionPastDue   SubscriptionState = "past_due"
	SubscriptionCancelled SubscriptionState = "cancelled"
)

// Plan holds the resource limits a tenant is entitled to.
type Plan struct {
	Name                string `gorm:"type:varchar(64)" json:"name"`
	DiskLimitBytes      int64  `json:"disk_limit_bytes"`
	BandwidthLimitBytes int64  `json:"bandwidth_limit_bytes"`
	MemoryLimit         string `gorm:"type:varchar(16)" json:"memory_limit"`
	CPULimit            string `gorm:"type:varchar(16)" json:"cpu_limit"`
}

// Tenant is one customer's hosted store and its container stack.
type Tenant struct {
	ID       uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Domain   string       `gorm:"type:varchar(255);uniqueIndex;not null" json:"domain" validate:"required,fqdn"`
	Platform Platform     `gorm:"type:varchar(32);not null" json:"platform" validate:"required,oneof=woocommerce magento"`
	Port     int          `gorm:"index" json:"port"`
	Status   TenantStatus `gorm:"type:varchar(32);index;not null;default:pending" json:"status"`

	Plan Plan `gorm:"embedded;embeddedPrefix:plan_" json:"plan"`

	// Generated credentials: write-once, immutable for the life of the stack.
	DBName        string `gorm:"type:varchar(64)" json:"-"`
	DBUser        string `gorm:"type:varchar(64)" json:"-"`
	DBPassword    string `gorm:"type:varchar(128)" json:"-"`
	AdminUser     string `gorm:"type:varchar(64)" json:"-"`
	AdminPassword string `gorm:"type:varchar(128)" json:"-"`
	AdminEmail    string `gorm:"type:varchar(255)" json:"admin_email" validate:"omitempty,email"`

	SubscriptionState SubscriptionState `gorm:"type:varchar(32);index;not null;default:active" json:"subscription_state"`
	GraceDeadline     *time.Time        `json:"grace_deadline,omitempty"`

	// TLS issuance is best-effort; a degraded tenant serves plain HTTP.
	TLSDegraded       bool   `gorm:"not null;default:false;index" json:"tls_degraded"`
	TLSDegradedReason string `gorm:"type:text" json:"tls_degraded_reason,omitempty"`

	LastError string `gorm:"type:text" json:"last_error,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Transition validates and applies a status change in memory. Persisting it
// is the repository's job (guarded by the expected current status).
func (t *Tenant) Transition(to TenantStatus) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("illegal tenant status transition %s -> %s", t.Status, to)
	}
	t.Status = to
	return nil
}

// HasCredentials reports whether per-tenant secrets were already generated.
func (t *Tenant) HasCredentials() bool {
	return t.DBName != "" && t.DBPassword != ""
}

// StagingDomain derives the generated domain for the n-th staging clone.
func (t *Tenant) StagingDomain(seq int) string {
	return fmt.Sprintf("staging-%d.%s", seq, t.Domain)
}
