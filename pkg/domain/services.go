package domain

import "context"

// Command executor status codes.
const (
	StatusSuccess = 0
	StatusError   = 1
	StatusUsage   = 2
	StatusBadRPC  = 3
)

// ElementParser parses a raw request body into an element.
type ElementParser interface {
	ParseElement(data []byte) (*Element, error)
}

// MessageDecoder turns a parsed element into a typed stanza. Semantic failures are
// reported as *DecodeError.
type MessageDecoder interface {
	DecodeStanza(el *Element) (*Stanza, error)
}

// Router delivers a stanza to its destination. The caller does not wait for delivery.
type Router interface {
	Route(ctx context.Context, s *Stanza)
}

// Notifier observes stanzas right before they are routed. Errors are reported but never
// change the outcome of the request.
type Notifier interface {
	PreSend(ctx context.Context, s *Stanza, from JID) error
}

// CommandExecutor runs an administrative command line and returns its textual output
// together with a status code.
type CommandExecutor interface {
	Execute(ctx context.Context, args []string, acl CommandACL) (string, int)
}
