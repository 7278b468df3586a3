package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-rest/pkg/domain"
)

func TestMemoryPolicyStore(t *testing.T) {
	store := NewMemoryPolicyStore(map[string]*domain.AccessPolicy{
		"Example.COM": {Domain: "example.com"},
		"skipped.org": nil,
	})

	policy, err := store.DomainPolicy("example.com.")
	require.NoError(t, err)
	assert.Equal(t, "example.com", policy.Domain)

	_, err = store.DomainPolicy("skipped.org")
	assert.True(t, domain.IsConfigurationError(err))

	assert.Equal(t, []string{"example.com"}, store.Domains())
	assert.Equal(t, uint64(1), store.Version())
}

func TestMemoryPolicyStoreReplace(t *testing.T) {
	store := NewMemoryPolicyStore(nil)
	_, err := store.DomainPolicy("a.example")
	require.Error(t, err)

	seed := map[string]*domain.AccessPolicy{"a.example": {Domain: "a.example"}}
	version := store.Replace(seed)
	assert.Equal(t, uint64(2), version)

	// later changes to the caller's map are not visible
	seed["b.example"] = &domain.AccessPolicy{Domain: "b.example"}
	assert.Equal(t, []string{"a.example"}, store.Domains())

	store.Replace(map[string]*domain.AccessPolicy{"b.example": {Domain: "b.example"}})
	_, err = store.DomainPolicy("a.example")
	assert.True(t, domain.IsConfigurationError(err))
}

func TestMemoryPolicyStoreConcurrentReplace(t *testing.T) {
	store := NewMemoryPolicyStore(nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("d%d.example", i)
			store.Replace(map[string]*domain.AccessPolicy{
				name:             {Domain: name},
				"shared.example": {Domain: "shared.example"},
			})
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				if p, err := store.DomainPolicy("shared.example"); err == nil {
					assert.Equal(t, "shared.example", p.Domain)
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, store.Domains(), 2)
	assert.Equal(t, uint64(9), store.Version())
}
