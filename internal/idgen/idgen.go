// Package idgen generates random identifiers for events and API keys.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars, e.g. "evt_" or "ak_".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RequestID returns an ID for a request that arrived without X-Request-ID.
func RequestID() string {
	return WithPrefix("req_")
}
