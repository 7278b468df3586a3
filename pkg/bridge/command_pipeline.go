package bridge

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/polisai/polis-rest/pkg/access"
	"github.com/polisai/polis-rest/pkg/argv"
	"github.com/polisai/polis-rest/pkg/commands"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/telemetry"
)

// CommandPipeline runs a textual administrative command line through the executor.
type CommandPipeline struct {
	Gate     *access.Gate
	Executor domain.CommandExecutor

	Log     *StructuredLogger
	Metrics *Metrics
	Tracing *TracingManager
}

// CommandCatalog is implemented by executors that know their registered commands.
// Command metrics are labelled by name only for commands the catalog knows.
type CommandCatalog interface {
	Lookup(name string) (*commands.Command, bool)
}

// NewCommandPipeline creates a command pipeline
func NewCommandPipeline(gate *access.Gate, executor domain.CommandExecutor) *CommandPipeline {
	return &CommandPipeline{Gate: gate, Executor: executor}
}

// Handle tokenizes body, ensures an --auth prefix, resolves the domain's command ACL
// and executes. Every executor result is answered with HTTP 200.
func (p *CommandPipeline) Handle(ctx context.Context, body []byte, servedDomain string) Outcome {
	start := time.Now()
	timer := p.Metrics.NewRequestTimer("command")

	ctx, span := p.Tracing.StartSpan(ctx, "rest.command", attribute.String("rest.domain", servedDomain))
	defer span.End()

	args := WithAuthPrefix(argv.Split(decodeUTF8(body)))
	name := commandName(args)
	p.Tracing.AddSpanAttributes(ctx, attribute.String("rest.command", name))

	policy, err := p.Gate.Policy(servedDomain)
	if err != nil {
		p.Tracing.RecordError(ctx, err)
		p.Tracing.SetSpanStatus(ctx, codes.Error, "policy lookup failed")
		outcome := errorOutcome(err)
		p.finish(ctx, timer, start, servedDomain, name, outcome, -1)
		return outcome
	}

	text, code := p.Executor.Execute(domain.WithServedDomain(ctx, servedDomain), args, policy.AccessCommands)

	outcome := Outcome{Status: http.StatusOK, Body: CommandResult(text, code), Reason: "command"}
	if code != domain.StatusSuccess {
		p.Tracing.SetSpanStatus(ctx, codes.Error, "status "+strconv.Itoa(code))
	} else {
		p.Tracing.SetSpanStatus(ctx, codes.Ok, "")
	}
	p.finish(ctx, timer, start, servedDomain, name, outcome, code)
	return outcome
}

func (p *CommandPipeline) finish(ctx context.Context, timer *RequestTimer, start time.Time, servedDomain, name string, outcome Outcome, code int) {
	duration := time.Since(start)
	timer.Done(outcome.Status)

	metrics := telemetry.OutcomeMetrics{
		Kind:     "command",
		Domain:   servedDomain,
		Status:   outcome.Status,
		Duration: duration,
	}
	if outcome.Status != http.StatusOK {
		metrics.Reason = outcome.Reason
	}
	telemetry.RecordOutcome(ctx, metrics)

	if code >= 0 {
		p.Metrics.RecordCommand(p.commandLabel(name), code)
		if p.Log != nil {
			p.Log.LogCommand(ctx, servedDomain, name, code, duration)
		}
	}
}

// CommandResult maps an executor result onto the response body: the text when there is
// any, otherwise the decimal status code.
func CommandResult(text string, code int) string {
	if text != "" {
		return text
	}
	return strconv.Itoa(code)
}

// WithAuthPrefix returns args unchanged when they start with "--auth" and three values,
// otherwise prepends an anonymous "--auth" triple.
func WithAuthPrefix(args []string) []string {
	if len(args) >= 4 && args[0] == commands.AuthFlag {
		return args
	}
	out := make([]string, 0, len(args)+4)
	out = append(out, commands.AuthFlag, "", "", "")
	return append(out, args...)
}

func commandName(args []string) string {
	if len(args) > 4 {
		return args[4]
	}
	return "-"
}

// commandLabel keeps the command metric cardinality bounded by the registry size.
func (p *CommandPipeline) commandLabel(name string) string {
	if name == "-" {
		return name
	}
	if catalog, ok := p.Executor.(CommandCatalog); ok {
		if _, known := catalog.Lookup(name); known {
			return name
		}
	}
	return "unknown"
}

func decodeUTF8(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}
