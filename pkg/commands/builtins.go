package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-rest/pkg/audit"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/stanza"
)

const defaultTail = 10

// DomainLister lists served domains.
type DomainLister interface {
	Domains() []string
}

// StatsSource reports named counters.
type StatsSource interface {
	Stats() map[string]int64
}

// AuditLog returns recent routed stanzas.
type AuditLog interface {
	Tail(ctx context.Context, n int) ([]audit.Record, error)
}

// Deps are the collaborators of the built-in commands. Nil members disable the
// commands that need them.
type Deps struct {
	Version string
	Started time.Time
	Domains DomainLister
	Stats   []StatsSource
	Router  domain.Router
	Audit   AuditLog
}

// RegisterBuiltins adds status, domains, stats, send_message and audit_tail.
func RegisterBuiltins(e *Executor, deps Deps) {
	e.MustRegister(&Command{
		Name:        "status",
		Description: "Get status of the bridge",
		Public:      true,
		Handler: func(context.Context, Call) (string, int) {
			uptime := time.Since(deps.Started).Truncate(time.Second)
			return fmt.Sprintf("polis-rest %s is running (uptime %s)", deps.Version, uptime), domain.StatusSuccess
		},
	})

	if deps.Domains != nil {
		e.MustRegister(&Command{
			Name:        "domains",
			Description: "List served domains",
			Handler: func(context.Context, Call) (string, int) {
				return strings.Join(deps.Domains.Domains(), "\n"), domain.StatusSuccess
			},
		})
	}

	if len(deps.Stats) > 0 {
		e.MustRegister(&Command{
			Name:        "stats",
			Usage:       "[name]",
			Description: "Show bridge counters",
			MaxArgs:     1,
			Handler: func(_ context.Context, call Call) (string, int) {
				merged := make(map[string]int64)
				for _, src := range deps.Stats {
					maps.Copy(merged, src.Stats())
				}
				if len(call.Args) == 1 {
					v, ok := merged[call.Args[0]]
					if !ok {
						return fmt.Sprintf("Error: unknown counter %q", call.Args[0]), domain.StatusError
					}
					return strconv.FormatInt(v, 10), domain.StatusSuccess
				}
				var b strings.Builder
				for _, name := range slices.Sorted(maps.Keys(merged)) {
					fmt.Fprintf(&b, "%s %d\n", name, merged[name])
				}
				return strings.TrimRight(b.String(), "\n"), domain.StatusSuccess
			},
		})
	}

	if deps.Router != nil {
		e.MustRegister(&Command{
			Name:        "send_message",
			Usage:       "<from> <to> <body>",
			Description: "Send a chat message",
			MinArgs:     3,
			MaxArgs:     3,
			Handler: func(ctx context.Context, call Call) (string, int) {
				s, err := chatMessage(call.Args[0], call.Args[1], call.Args[2])
				if err != nil {
					return "Error: " + err.Error(), domain.StatusError
				}
				deps.Router.Route(ctx, s)
				return "", domain.StatusSuccess
			},
		})
	}

	if deps.Audit != nil {
		e.MustRegister(&Command{
			Name:        "audit_tail",
			Usage:       "[count]",
			Description: "Show the most recently routed stanzas",
			MaxArgs:     1,
			Handler: func(ctx context.Context, call Call) (string, int) {
				n := defaultTail
				if len(call.Args) == 1 {
					v, err := strconv.Atoi(call.Args[0])
					if err != nil || v < 1 {
						return "Usage: audit_tail [count]", domain.StatusUsage
					}
					n = v
				}
				records, err := deps.Audit.Tail(ctx, n)
				if err != nil {
					return "Error: " + err.Error(), domain.StatusError
				}
				lines := make([]string, len(records))
				for i, r := range records {
					lines[i] = r.String()
				}
				return strings.Join(lines, "\n"), domain.StatusSuccess
			},
		})
	}
}

func chatMessage(from, to, body string) (*domain.Stanza, error) {
	el := &domain.Element{
		Space: stanza.NSClient,
		Name:  string(domain.KindMessage),
		Attrs: []domain.Attr{
			{Name: "id", Value: uuid.NewString()},
			{Name: "type", Value: "chat"},
			{Name: "from", Value: from},
			{Name: "to", Value: to},
		},
		Children: []*domain.Element{{Space: stanza.NSClient, Name: "body", Text: body}},
	}
	return stanza.Decode(el)
}
