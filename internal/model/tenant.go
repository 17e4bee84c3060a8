package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a tenant record.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Active reports whether requests for the tenant may proceed.
func (s Status) Active() bool {
	return s == StatusActive
}

// TenantRecord represents the tenants table
type TenantRecord struct {
	ID          uuid.UUID  `json:"id"`
	Slug        string     `json:"slug"`
	DisplayName string     `json:"display_name"`
	Status      Status     `json:"status"`
	Domains     []string   `json:"domains,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// TenantOverride represents the tenant_overrides table. Document is a partial
// Config in its JSON form; Version increases by one on every write.
type TenantOverride struct {
	Slug      string          `json:"slug"`
	Document  json.RawMessage `json:"document"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OverrideChange is emitted by a config store whenever a tenant's override or
// record is written.
type OverrideChange struct {
	Slug    string `json:"slug"`
	Version int64  `json:"version"`
}

// Identity is the authenticated caller, if any.
type Identity struct {
	UserID      string
	TenantClaim string
}

// RequestDescriptor is the routing layer's view of an inbound request.
type RequestDescriptor struct {
	Host    string
	Headers map[string]string
	Query   map[string]string
}
