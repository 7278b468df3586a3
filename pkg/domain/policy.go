package domain

import (
	"context"
	"net/netip"
)

// AccessPolicy is the per-domain allow-list configuration. Empty lists impose no
// restriction. Values are treated as read-only once published by a PolicyProvider.
type AccessPolicy struct {
	Domain              string
	AllowedSourceIPs    []netip.Prefix
	AllowedDestinations []string
	AllowedStanzaTypes  []StanzaKind
	AccessCommands      CommandACL
}

// CommandRequest is the input handed to a CommandACL.
type CommandRequest struct {
	Domain        string
	User          string
	Server        string
	Authenticated bool
	Command       string
	Args          []string
}

// CommandACL authorizes administrative commands. It is opaque to the bridge and only
// interpreted by the command executor.
type CommandACL interface {
	Name() string
	Allow(ctx context.Context, req CommandRequest) (bool, error)
}

// PolicyProvider resolves the access policy of a served domain. A domain the bridge is
// not enabled for yields a *ConfigurationError.
type PolicyProvider interface {
	DomainPolicy(domain string) (*AccessPolicy, error)
}
