package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotIdentified    = errors.New("tenant not identified")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrTenantInactive   = errors.New("tenant inactive")
	ErrConfigInvalid    = errors.New("tenant configuration invalid")
	ErrStoreTimeout     = errors.New("config store timeout")
	ErrStoreUnavailable = errors.New("config store unavailable")
)

// FieldError is a single validation failure at a dotted config path.
type FieldError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e FieldError) String() string {
	return e.Path + ": " + e.Reason
}

// ConfigError reports every problem found in a merged configuration.
type ConfigError struct {
	Slug     string
	Problems []FieldError
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("tenant %q: %d config problem(s): %s", e.Slug, len(e.Problems), strings.Join(parts, "; "))
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// Retryable reports whether err is an infrastructure failure worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreTimeout) || errors.Is(err, ErrStoreUnavailable)
}
