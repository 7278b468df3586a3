package commands

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/polisai/polis-rest/pkg/domain"
)

// Handler runs a command. args excludes the command name.
type Handler func(ctx context.Context, call Call) (string, int)

// Call carries the authorized request into a handler.
type Call struct {
	Request domain.CommandRequest
	Args    []string
}

// Command describes one administrative command.
type Command struct {
	Name        string
	Usage       string
	Description string
	// Public commands run without an ACL decision.
	Public  bool
	MinArgs int
	// MaxArgs < 0 means unbounded.
	MaxArgs int
	Handler Handler
}

func (c *Command) usage() string {
	if c.Usage == "" {
		return c.Name
	}
	return c.Name + " " + c.Usage
}

// Executor implements domain.CommandExecutor over a registry of commands.
type Executor struct {
	mu       sync.RWMutex
	commands map[string]*Command

	auth     Authenticator
	logger   *slog.Logger
	observer func(command string, code int)
}

// Option configures an Executor.
type Option func(*Executor)

// WithAuthenticator sets the credential verifier. Without one every caller is
// unauthenticated.
func WithAuthenticator(a Authenticator) Option {
	return func(e *Executor) { e.auth = a }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithObserver registers a callback invoked after every execution.
func WithObserver(fn func(command string, code int)) Option {
	return func(e *Executor) { e.observer = fn }
}

// NewExecutor creates an executor with the help command registered.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{commands: make(map[string]*Command)}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.MustRegister(&Command{
		Name:        "help",
		Usage:       "[command]",
		Description: "List commands or show the usage of one",
		Public:      true,
		MaxArgs:     1,
		Handler:     e.help,
	})
	return e
}

// Register adds a command. Names are unique.
func (e *Executor) Register(cmd *Command) error {
	if cmd == nil || cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("invalid command definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.commands[cmd.Name]; exists {
		return fmt.Errorf("command %q already registered", cmd.Name)
	}
	e.commands[cmd.Name] = cmd
	return nil
}

// MustRegister is Register that panics on error.
func (e *Executor) MustRegister(cmds ...*Command) {
	for _, cmd := range cmds {
		if err := e.Register(cmd); err != nil {
			panic(err)
		}
	}
}

// Lookup returns a registered command.
func (e *Executor) Lookup(name string) (*Command, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cmd, ok := e.commands[name]
	return cmd, ok
}

// Names returns the registered command names in sorted order.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.commands))
	for name := range e.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements domain.CommandExecutor.
func (e *Executor) Execute(ctx context.Context, args []string, acl domain.CommandACL) (text string, code int) {
	creds, rest := SplitAuth(args)
	name := "-"
	if len(rest) > 0 {
		name = rest[0]
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", slog.String("command", name), slog.Any("panic", r))
			text, code = "Error: internal error", domain.StatusBadRPC
		}
		e.logger.Info("command executed",
			slog.String("command", name),
			slog.String("user", creds.User),
			slog.String("server", creds.Server),
			slog.Int("code", code),
		)
		if e.observer != nil {
			e.observer(name, code)
		}
	}()

	if len(rest) == 0 {
		return "Usage: [--auth user server password] command [arguments]", domain.StatusUsage
	}

	cmd, ok := e.Lookup(name)
	if !ok {
		return fmt.Sprintf("Error: command %q not known.", name), domain.StatusError
	}

	authenticated := false
	if !creds.Anonymous() {
		if e.auth == nil || !e.auth.Authenticate(creds) {
			return "Error: invalid credentials", domain.StatusError
		}
		authenticated = true
	}

	req := domain.CommandRequest{
		Domain:        domain.ServedDomain(ctx),
		User:          creds.User,
		Server:        creds.Server,
		Authenticated: authenticated,
		Command:       name,
		Args:          slices.Clone(rest[1:]),
	}

	if !cmd.Public {
		if acl == nil {
			return fmt.Sprintf("Error: command %q is not allowed", name), domain.StatusError
		}
		allowed, err := acl.Allow(ctx, req)
		if err != nil {
			return fmt.Sprintf("Error: access check failed: %v", err), domain.StatusBadRPC
		}
		if !allowed {
			return fmt.Sprintf("Error: command %q is not allowed", name), domain.StatusError
		}
	}

	n := len(req.Args)
	if n < cmd.MinArgs || (cmd.MaxArgs >= 0 && n > cmd.MaxArgs) {
		return "Usage: " + cmd.usage(), domain.StatusUsage
	}

	return cmd.Handler(ctx, Call{Request: req, Args: req.Args})
}

func (e *Executor) help(_ context.Context, call Call) (string, int) {
	if len(call.Args) == 1 {
		cmd, ok := e.Lookup(call.Args[0])
		if !ok {
			return fmt.Sprintf("Error: command %q not known.", call.Args[0]), domain.StatusError
		}
		return fmt.Sprintf("Command Name: %s\n\n  %s\n\n  Usage: %s", cmd.Name, cmd.Description, cmd.usage()), domain.StatusSuccess
	}

	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range e.Names() {
		cmd, _ := e.Lookup(name)
		fmt.Fprintf(&b, "  %-14s %s\n", name, cmd.Description)
	}
	return strings.TrimRight(b.String(), "\n"), domain.StatusSuccess
}
