package model

import (
	"maps"
	"slices"
)

// Config is the complete configuration of a tenant. Every key downstream code
// reads is declared here so an unconfigured tenant still gets a full document.
type Config struct {
	General  GeneralSettings    `json:"general"`
	Security SecuritySettings   `json:"security"`
	Features map[string]Feature `json:"features"`
	Limits   Limits             `json:"limits"`
	Brand    BrandIdentity      `json:"brand"`
}

type GeneralSettings struct {
	DisplayName  string `json:"displayName"`
	Locale       string `json:"locale"`
	Timezone     string `json:"timezone"`
	SupportEmail string `json:"supportEmail"`
}

type SecuritySettings struct {
	RequireMFA        bool      `json:"requireMfa"`
	SessionTTLMinutes int       `json:"sessionTtlMinutes"`
	PasswordMinLength int       `json:"passwordMinLength"`
	AllowedOrigins    []string  `json:"allowedOrigins"`
	RateLimit         RateLimit `json:"rateLimit"`
}

// RateLimit bounds inbound requests per tenant.
type RateLimit struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// Feature is a named capability toggle.
type Feature struct {
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`
}

// Unlimited disables a limit.
const Unlimited int64 = -1

// Limits are per-resource usage ceilings.
type Limits struct {
	MaxUsers             int64 `json:"maxUsers"`
	MaxAPICallsPerPeriod int64 `json:"maxApiCallsPerPeriod"`
	MaxStorageBytes      int64 `json:"maxStorageBytes"`
	MaxPolls             int64 `json:"maxPolls"`
	MaxTrainingSessions  int64 `json:"maxTrainingSessions"`
	MaxPresentations     int64 `json:"maxPresentations"`
	MaxJobApplications   int64 `json:"maxJobApplications"`
}

// Resource identifies a metered resource.
type Resource string

const (
	ResourceUsers            Resource = "users"
	ResourceAPICalls         Resource = "apiCalls"
	ResourceStorageBytes     Resource = "storageBytes"
	ResourcePolls            Resource = "polls"
	ResourceTrainingSessions Resource = "trainingSessions"
	ResourcePresentations    Resource = "presentations"
	ResourceJobApplications  Resource = "jobApplications"
)

// Resources lists every metered resource in a stable order.
var Resources = []Resource{
	ResourceUsers,
	ResourceAPICalls,
	ResourceStorageBytes,
	ResourcePolls,
	ResourceTrainingSessions,
	ResourcePresentations,
	ResourceJobApplications,
}

// Limit returns the ceiling configured for r.
func (l Limits) Limit(r Resource) (int64, bool) {
	switch r {
	case ResourceUsers:
		return l.MaxUsers, true
	case ResourceAPICalls:
		return l.MaxAPICallsPerPeriod, true
	case ResourceStorageBytes:
		return l.MaxStorageBytes, true
	case ResourcePolls:
		return l.MaxPolls, true
	case ResourceTrainingSessions:
		return l.MaxTrainingSessions, true
	case ResourcePresentations:
		return l.MaxPresentations, true
	case ResourceJobApplications:
		return l.MaxJobApplications, true
	}
	return 0, false
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	out := c
	out.Security.AllowedOrigins = slices.Clone(c.Security.AllowedOrigins)
	out.Features = maps.Clone(c.Features)
	out.Brand = c.Brand.Clone()
	return out
}
