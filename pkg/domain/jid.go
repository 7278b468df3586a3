package domain

import (
	"fmt"
	"strings"
)

// JID is an address in the routing namespace: [node@]domain[/resource].
type JID struct {
	Node     string
	Domain   string
	Resource string
}

// ParseJID splits an address into its parts. Node and domain are case-folded; the
// resource is kept as-is.
func ParseJID(s string) (JID, error) {
	if s == "" {
		return JID{}, fmt.Errorf("empty jid")
	}

	rest := s
	var jid JID
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		jid.Resource = rest[i+1:]
		rest = rest[:i]
		if jid.Resource == "" {
			return JID{}, fmt.Errorf("jid %q: empty resource", s)
		}
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		jid.Node = strings.ToLower(rest[:i])
		rest = rest[i+1:]
		if jid.Node == "" {
			return JID{}, fmt.Errorf("jid %q: empty node", s)
		}
	}
	jid.Domain = strings.ToLower(strings.TrimSuffix(rest, "."))
	if jid.Domain == "" {
		return JID{}, fmt.Errorf("jid %q: empty domain", s)
	}
	if strings.ContainsAny(jid.Domain, "@ \t") || strings.ContainsAny(jid.Node, "\"&'/:<>@ ") {
		return JID{}, fmt.Errorf("jid %q: illegal character", s)
	}
	return jid, nil
}

// IsZero reports whether the JID is unset.
func (j JID) IsZero() bool {
	return j.Domain == ""
}

// Bare returns the JID without its resource.
func (j JID) Bare() JID {
	return JID{Node: j.Node, Domain: j.Domain}
}

func (j JID) String() string {
	var b strings.Builder
	if j.Node != "" {
		b.WriteString(j.Node)
		b.WriteByte('@')
	}
	b.WriteString(j.Domain)
	if j.Resource != "" {
		b.WriteByte('/')
		b.WriteString(j.Resource)
	}
	return b.String()
}
