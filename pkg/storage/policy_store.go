// Package storage holds the per-domain access policies served by the bridge.
package storage

import (
	"github.com/polisai/polis-rest/pkg/domain"
)

// PolicyStore publishes access policies and replaces them as a whole on reload.
type PolicyStore interface {
	domain.PolicyProvider

	// Replace atomically swaps the full set of policies.
	Replace(policies map[string]*domain.AccessPolicy) uint64

	// Domains returns the served domain names in sorted order.
	Domains() []string
}
