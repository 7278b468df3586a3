package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polisai/polis-rest/pkg/domain"
)

// NamedNotifier pairs a notifier with a label used in logs and metrics.
type NamedNotifier struct {
	Name     string
	Notifier domain.Notifier
}

// Notifiers fans a pre-send notification out to every registered notifier. Every
// notifier runs even when an earlier one fails; failures are joined.
type Notifiers struct {
	list    []NamedNotifier
	metrics *Metrics
}

// NewNotifiers creates a fan-out notifier
func NewNotifiers(metrics *Metrics, list ...NamedNotifier) *Notifiers {
	return &Notifiers{list: list, metrics: metrics}
}

// SetMetrics sets the metrics instance for recording notifier failures
func (n *Notifiers) SetMetrics(metrics *Metrics) {
	n.metrics = metrics
}

// Add registers another notifier
func (n *Notifiers) Add(name string, notifier domain.Notifier) {
	n.list = append(n.list, NamedNotifier{Name: name, Notifier: notifier})
}

// Len returns the number of registered notifiers
func (n *Notifiers) Len() int {
	return len(n.list)
}

// PreSend implements domain.Notifier.
func (n *Notifiers) PreSend(ctx context.Context, s *domain.Stanza, from domain.JID) error {
	var errs []error
	for _, entry := range n.list {
		if err := n.notify(ctx, entry, s, from); err != nil {
			n.metrics.RecordNotifierError(entry.Name)
			errs = append(errs, &NotifierError{Notifier: entry.Name, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (n *Notifiers) notify(ctx context.Context, entry NamedNotifier, s *domain.Stanza, from domain.JID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return entry.Notifier.PreSend(ctx, s, from)
}

// LogNotifier logs every stanza at debug level before it is routed.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// PreSend implements domain.Notifier.
func (l *LogNotifier) PreSend(ctx context.Context, s *domain.Stanza, from domain.JID) error {
	l.logger.DebugContext(ctx, "Routing stanza",
		slog.String("kind", string(s.Kind)),
		slog.String("id", s.ID),
		slog.String("type", s.Type),
		slog.String("from", from.String()),
		slog.String("to", s.To.String()),
	)
	return nil
}
