// Package access evaluates per-domain allow-lists for the REST bridge.
//
// Every list follows the same rule: an empty list permits everything, a non-empty list
// requires the candidate to match at least one entry.
package access

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/polisai/polis-rest/pkg/domain"
)

// Check names reported in AccessDeniedError.
const (
	CheckSourceIP    = "source_ip"
	CheckDestination = "destination"
	CheckStanzaType  = "stanza_type"
	CheckRecipient   = "recipient_domain"
)

// NetworkMatcher reports whether addr belongs to network.
type NetworkMatcher func(addr netip.Addr, network netip.Prefix) bool

// Permitted returns true when list is empty, otherwise true iff match accepts the
// candidate against some element of list.
func Permitted[T, E any](list []E, candidate T, match func(T, E) bool) bool {
	if len(list) == 0 {
		return true
	}
	for _, element := range list {
		if match(candidate, element) {
			return true
		}
	}
	return false
}

// Member is Permitted with equality as the matcher.
func Member[T comparable](list []T, candidate T) bool {
	return len(list) == 0 || slices.Contains(list, candidate)
}

// MatchNetwork is the default NetworkMatcher. IPv4-mapped IPv6 addresses match IPv4
// networks and the zone of a link-local peer is ignored.
func MatchNetwork(addr netip.Addr, network netip.Prefix) bool {
	if !addr.IsValid() || !network.IsValid() {
		return false
	}
	addr = addr.WithZone("")
	return network.Contains(addr.Unmap()) || network.Contains(addr)
}

// Gate runs the source, destination and stanza type checks against the policy of a
// domain. It holds no mutable state and is safe for concurrent use.
type Gate struct {
	Policies     domain.PolicyProvider
	MatchNetwork NetworkMatcher
}

// NewGate creates a gate using the default network matcher.
func NewGate(policies domain.PolicyProvider) *Gate {
	return &Gate{Policies: policies, MatchNetwork: MatchNetwork}
}

// Policy returns the domain policy, passing configuration errors through unchanged.
func (g *Gate) Policy(domainName string) (*domain.AccessPolicy, error) {
	policy, err := g.Policies.DomainPolicy(domainName)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, &domain.ConfigurationError{Domain: domainName, Reason: "no policy"}
	}
	return policy, nil
}

// CheckSource verifies the caller address against allowed_ips.
func (g *Gate) CheckSource(domainName string, addr netip.Addr) error {
	policy, err := g.Policy(domainName)
	if err != nil {
		return err
	}
	match := g.MatchNetwork
	if match == nil {
		match = MatchNetwork
	}
	if !Permitted(policy.AllowedSourceIPs, addr, match) {
		return &domain.AccessDeniedError{Check: CheckSourceIP, Value: addr.String()}
	}
	return nil
}

// CheckDestination verifies the stanza recipient against allowed_destinations.
func (g *Gate) CheckDestination(domainName string, to domain.JID) error {
	policy, err := g.Policy(domainName)
	if err != nil {
		return err
	}
	if !Member(policy.AllowedDestinations, to.String()) {
		return &domain.AccessDeniedError{Check: CheckDestination, Value: to.String()}
	}
	return nil
}

// CheckKind verifies the stanza kind against allowed_stanza_types.
func (g *Gate) CheckKind(domainName string, kind domain.StanzaKind) error {
	policy, err := g.Policy(domainName)
	if err != nil {
		return err
	}
	if !Member(policy.AllowedStanzaTypes, kind) {
		return &domain.AccessDeniedError{Check: CheckStanzaType, Value: string(kind)}
	}
	return nil
}

// CheckStanza runs the destination and kind checks, stopping at the first failure.
func (g *Gate) CheckStanza(domainName string, s *domain.Stanza) error {
	if err := g.CheckDestination(domainName, s.To); err != nil {
		return err
	}
	return g.CheckKind(domainName, s.Kind)
}

// CheckSubscriber guards the event stream: the peer must pass the source check and the
// recipient must belong to the served domain.
func (g *Gate) CheckSubscriber(domainName string, addr netip.Addr, recipient domain.JID) error {
	if err := g.CheckSource(domainName, addr); err != nil {
		return err
	}
	if !strings.EqualFold(recipient.Domain, strings.TrimSuffix(domainName, ".")) {
		return &domain.AccessDeniedError{Check: CheckRecipient, Value: recipient.Bare().String()}
	}
	return nil
}
