package policy

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/telemetry"
)

// Decision captures the result of an ACL evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Input is the document exposed to Rego as input.
type Input struct {
	Domain        string
	User          string
	Server        string
	Authenticated bool
	Command       string
	Args          []string
	DisableCache  bool
}

// InputFromRequest converts a command request into evaluation input.
func InputFromRequest(req domain.CommandRequest) Input {
	return Input{
		Domain:        req.Domain,
		User:          req.User,
		Server:        req.Server,
		Authenticated: req.Authenticated,
		Command:       req.Command,
		Args:          slices.Clone(req.Args),
	}
}

func (in Input) document() map[string]any {
	args := make([]any, len(in.Args))
	for i, a := range in.Args {
		args[i] = a
	}
	return map[string]any{
		"domain":        in.Domain,
		"user":          in.User,
		"server":        in.Server,
		"authenticated": in.Authenticated,
		"command":       in.Command,
		"args":          args,
	}
}

// Filter evaluates a decision for a given input.
type Filter interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Chain requires every filter to allow. The first denial or error ends evaluation.
type Chain struct {
	filters []Filter
}

// NewChain constructs a filter chain.
func NewChain(filters ...Filter) Chain {
	return Chain{filters: append([]Filter(nil), filters...)}
}

// Evaluate executes the chain. An empty chain denies.
func (c Chain) Evaluate(ctx context.Context, input Input) (Decision, error) {
	if len(c.filters) == 0 {
		return Decision{Reason: "no filters"}, nil
	}
	for _, filter := range c.filters {
		decision, err := filter.Evaluate(ctx, input)
		if err != nil {
			return Decision{}, err
		}
		if !decision.Allowed {
			return decision, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// ACL adapts a Filter to domain.CommandACL.
type ACL struct {
	name   string
	filter Filter
}

// NewACL names filter so it can be referenced from domain configuration.
func NewACL(name string, filter Filter) *ACL {
	return &ACL{name: name, filter: filter}
}

// Name implements domain.CommandACL.
func (a *ACL) Name() string {
	return a.name
}

// Allow implements domain.CommandACL.
func (a *ACL) Allow(ctx context.Context, req domain.CommandRequest) (bool, error) {
	decision, err := a.filter.Evaluate(ctx, InputFromRequest(req))
	if err != nil {
		return false, err
	}
	telemetry.RecordACLDecision(trace.SpanFromContext(ctx), a.name, req.Command, decision.Allowed)
	return decision.Allowed, nil
}

// CompileACLs builds one engine per named Rego source.
func CompileACLs(ctx context.Context, sources map[string]string, opts EngineOptions) (map[string]domain.CommandACL, error) {
	acls := make(map[string]domain.CommandACL, len(sources))
	for name, source := range sources {
		engineOpts := opts
		engineOpts.Modules = map[string]string{name + ".rego": source}
		engine, err := NewEngine(ctx, engineOpts)
		if err != nil {
			return nil, fmt.Errorf("acl %q: %w", name, err)
		}
		acls[name] = NewACL(name, engine)
	}
	return acls, nil
}
