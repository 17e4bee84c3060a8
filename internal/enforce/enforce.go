// Package enforce decides whether a tenant may use a feature or consume more
// of a metered resource.
package enforce

import (
	"fmt"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// Reason explains a denial.
type Reason string

const (
	NoTenantContext Reason = "NoTenantContext"
	TenantInactive  Reason = "TenantInactive"
	FeatureDisabled Reason = "FeatureDisabled"
	LimitExceeded   Reason = "LimitExceeded"
	UnknownResource Reason = "UnknownResource"
	InvalidDelta    Reason = "InvalidDelta"
)

// Decision is the outcome of an authorization check. Limit, Current and
// Delta are filled in for limit checks.
type Decision struct {
	Allowed bool
	Reason  Reason
	Subject string
	Limit   int64
	Current int64
	Delta   int64
}

func allow(subject string) Decision {
	return Decision{Allowed: true, Subject: subject}
}

func deny(reason Reason, subject string) Decision {
	return Decision{Reason: reason, Subject: subject}
}

// Err returns nil for an allowed decision and a *DeniedError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason, Subject: d.Subject}
}

// DeniedError carries the specific reason a request was refused.
type DeniedError struct {
	Reason  Reason
	Subject string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied %s: %s", e.Subject, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return e.Reason == TenantInactive && target == model.ErrTenantInactive
}

func gate(tc *model.TenantContext, subject string) (Decision, bool) {
	if tc == nil {
		return deny(NoTenantContext, subject), false
	}
	if !tc.Status().Active() {
		return deny(TenantInactive, subject), false
	}
	return Decision{}, true
}

// AuthorizeFeature allows a feature only when the tenant is active and the
// feature is present and enabled.
func AuthorizeFeature(tc *model.TenantContext, feature string) Decision {
	if d, ok := gate(tc, feature); !ok {
		return d
	}
	f, ok := tc.Feature(feature)
	if !ok || !f.Enabled {
		return deny(FeatureDisabled, feature)
	}
	return allow(feature)
}

// AuthorizeLimit allows consuming delta more of resource when current+delta
// stays within the tenant's limit. Reaching the limit exactly is allowed.
func AuthorizeLimit(tc *model.TenantContext, resource model.Resource, current, delta int64) Decision {
	subject := string(resource)
	if d, ok := gate(tc, subject); !ok {
		return d
	}
	limit, ok := tc.Limit(resource)
	if !ok {
		return deny(UnknownResource, subject)
	}
	d := Decision{Subject: subject, Limit: limit, Current: current, Delta: delta}
	if delta < 0 {
		d.Reason = InvalidDelta
		return d
	}
	if limit == model.Unlimited || (current <= limit && delta <= limit-current) {
		d.Allowed = true
		return d
	}
	d.Reason = LimitExceeded
	return d
}
