package types

import "time"

type TenantCreateRequest struct {
	Domain     string            `json:"domain" validate:"required,fqdn"`
	Platform   string            `json:"platform" validate:"required,oneof=woocommerce magento"`
	AdminEmail string            `json:"admin_email" validate:"omitempty,email"`
	Plan       TenantPlanRequest `json:"plan" validate:"required"`
}

type TenantPlanRequest struct {
	Name                string `json:"name" validate:"required"`
	DiskLimitBytes      int64  `json:"disk_limit_bytes" validate:"gt=0"`
	BandwidthLimitBytes int64  `json:"bandwidth_limit_bytes" validate:"gt=0"`
	MemoryLimit         string `json:"memory_limit" validate:"required"`
	CPULimit            string `json:"cpu_limit" validate:"required"`
}

type SubscriptionUpdateRequest struct {
	State         string     `json:"state" validate:"required,oneof=active past_due cancelled"`
	GraceDeadline *time.Time `json:"grace_deadline"`
}
