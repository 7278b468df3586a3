package storage

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/polisai/polis-rest/pkg/domain"
)

// MemoryPolicyStore is an in-memory implementation of PolicyStore. Readers always see
// one complete snapshot.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*domain.AccessPolicy
	version  uint64
}

// NewMemoryPolicyStore creates a store seeded with policies.
func NewMemoryPolicyStore(policies map[string]*domain.AccessPolicy) *MemoryPolicyStore {
	s := &MemoryPolicyStore{}
	s.Replace(policies)
	return s
}

// DomainPolicy returns the policy of a served domain or a *domain.ConfigurationError.
func (s *MemoryPolicyStore) DomainPolicy(name string) (*domain.AccessPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[normalize(name)]
	if !ok {
		return nil, &domain.ConfigurationError{Domain: name, Reason: "module not configured for domain"}
	}
	return policy, nil
}

// Replace swaps in a copy of policies and returns the new snapshot version.
func (s *MemoryPolicyStore) Replace(policies map[string]*domain.AccessPolicy) uint64 {
	next := make(map[string]*domain.AccessPolicy, len(policies))
	for name, policy := range policies {
		if policy == nil {
			continue
		}
		next[normalize(name)] = policy
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = next
	s.version++
	return s.version
}

// Domains returns the served domain names in sorted order.
func (s *MemoryPolicyStore) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.policies))
}

// Version returns the number of snapshots published so far.
func (s *MemoryPolicyStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
