package access

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-rest/pkg/domain"
)

type staticPolicies map[string]*domain.AccessPolicy

func (s staticPolicies) DomainPolicy(name string) (*domain.AccessPolicy, error) {
	policy, ok := s[name]
	if !ok {
		return nil, &domain.ConfigurationError{Domain: name, Reason: "module not loaded"}
	}
	return policy, nil
}

func TestPermittedEmptyListAllowsEverythingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		candidate := rapid.Int().Draw(t, "candidate")
		called := false
		ok := Permitted([]int{}, candidate, func(int, int) bool {
			called = true
			return false
		})
		assert.True(t, ok)
		assert.False(t, called, "matcher must not run for an empty list")
	})
}

func TestPermittedNonEmptyListRequiresMatchProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		list := rapid.SliceOfN(rapid.IntRange(0, 50), 1, 10).Draw(t, "list")
		candidate := rapid.IntRange(0, 50).Draw(t, "candidate")

		expected := false
		for _, v := range list {
			if v == candidate {
				expected = true
			}
		}

		assert.Equal(t, expected, Permitted(list, candidate, func(c, e int) bool { return c == e }))
		assert.Equal(t, expected, Member(list, candidate))
	})
}

func TestMatchNetwork(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		network  string
		expected bool
	}{
		{name: "inside v4", addr: "10.1.2.3", network: "10.0.0.0/8", expected: true},
		{name: "outside v4", addr: "11.1.2.3", network: "10.0.0.0/8", expected: false},
		{name: "host route", addr: "127.0.0.1", network: "127.0.0.1/32", expected: true},
		{name: "mapped v6 against v4", addr: "::ffff:192.168.1.10", network: "192.168.1.0/24", expected: true},
		{name: "v6", addr: "2001:db8::1", network: "2001:db8::/32", expected: true},
		{name: "v6 outside", addr: "2001:db9::1", network: "2001:db8::/32", expected: false},
		{name: "zoned link-local", addr: "fe80::1%eth0", network: "fe80::/10", expected: true},
		{name: "zoned host route", addr: "fe80::1%2", network: "fe80::1/128", expected: true},
		{name: "zoned outside", addr: "fe80::1%eth0", network: "2001:db8::/32", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.addr)
			network := netip.MustParsePrefix(tt.network)
			assert.Equal(t, tt.expected, MatchNetwork(addr, network))
		})
	}

	assert.False(t, MatchNetwork(netip.Addr{}, netip.MustParsePrefix("0.0.0.0/0")))
}

func TestGateChecks(t *testing.T) {
	policies := staticPolicies{
		"open.example": {Domain: "open.example"},
		"locked.example": {
			Domain:              "locked.example",
			AllowedSourceIPs:    []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")},
			AllowedDestinations: []string{"bot@locked.example"},
			AllowedStanzaTypes:  []domain.StanzaKind{domain.KindMessage},
		},
	}
	gate := NewGate(policies)

	t.Run("empty policy permits all", func(t *testing.T) {
		require.NoError(t, gate.CheckSource("open.example", netip.MustParseAddr("203.0.113.9")))
		require.NoError(t, gate.CheckDestination("open.example", domain.JID{Node: "x", Domain: "y"}))
		require.NoError(t, gate.CheckKind("open.example", domain.KindIQ))
	})

	t.Run("source outside allow list", func(t *testing.T) {
		err := gate.CheckSource("locked.example", netip.MustParseAddr("203.0.113.9"))
		require.Error(t, err)
		var denied *domain.AccessDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, CheckSourceIP, denied.Check)
	})

	t.Run("source inside allow list", func(t *testing.T) {
		assert.NoError(t, gate.CheckSource("locked.example", netip.MustParseAddr("127.0.0.1")))
	})

	t.Run("destination and kind", func(t *testing.T) {
		ok := &domain.Stanza{Kind: domain.KindMessage, To: domain.JID{Node: "bot", Domain: "locked.example"}}
		assert.NoError(t, gate.CheckStanza("locked.example", ok))

		wrongTo := &domain.Stanza{Kind: domain.KindMessage, To: domain.JID{Node: "eve", Domain: "locked.example"}}
		assert.True(t, domain.IsAccessDenied(gate.CheckStanza("locked.example", wrongTo)))

		wrongKind := &domain.Stanza{Kind: domain.KindIQ, To: domain.JID{Node: "bot", Domain: "locked.example"}}
		assert.True(t, domain.IsAccessDenied(gate.CheckStanza("locked.example", wrongKind)))
	})

	t.Run("unknown domain is a configuration error", func(t *testing.T) {
		err := gate.CheckSource("missing.example", netip.MustParseAddr("127.0.0.1"))
		assert.True(t, domain.IsConfigurationError(err))
		assert.False(t, domain.IsAccessDenied(err))
	})

	t.Run("subscriber", func(t *testing.T) {
		loopback := netip.MustParseAddr("127.0.0.1")
		assert.NoError(t, gate.CheckSubscriber("locked.example", loopback, domain.JID{Node: "bot", Domain: "locked.example"}))

		err := gate.CheckSubscriber("locked.example", netip.MustParseAddr("203.0.113.9"), domain.JID{Node: "bot", Domain: "locked.example"})
		var denied *domain.AccessDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, CheckSourceIP, denied.Check)

		err = gate.CheckSubscriber("open.example", loopback, domain.JID{Node: "bot", Domain: "locked.example"})
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, CheckRecipient, denied.Check)
		assert.Equal(t, "bot@locked.example", denied.Value)

		assert.True(t, domain.IsConfigurationError(gate.CheckSubscriber("missing.example", loopback, domain.JID{Domain: "missing.example"})))
	})

	t.Run("injected matcher is used", func(t *testing.T) {
		custom := &Gate{Policies: policies, MatchNetwork: func(netip.Addr, netip.Prefix) bool { return true }}
		assert.NoError(t, custom.CheckSource("locked.example", netip.MustParseAddr("203.0.113.9")))
	})
}
