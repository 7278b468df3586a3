package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-rest/pkg/domain"
)

type panickingNotifier struct{}

func (panickingNotifier) PreSend(context.Context, *domain.Stanza, domain.JID) error {
	panic("notifier exploded")
}

func TestNotifiersRunEveryNotifier(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("disk full")}
	last := &recordingNotifier{}
	metrics := NewMetrics(EndpointPaths{REST: "/rest"})

	n := NewNotifiers(metrics, NamedNotifier{Name: "audit", Notifier: failing})
	n.Add("panics", panickingNotifier{})
	n.Add("log", last)
	require.Equal(t, 3, n.Len())

	from := domain.JID{Node: "bot", Domain: testDomain}
	err := n.PreSend(context.Background(), &domain.Stanza{Kind: domain.KindMessage}, from)
	require.Error(t, err)

	var notifierErr *NotifierError
	require.ErrorAs(t, err, &notifierErr)
	assert.Equal(t, "audit", notifierErr.Notifier)
	assert.Contains(t, err.Error(), "notifier panics: panic: notifier exploded")

	assert.Equal(t, []domain.JID{from}, last.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifierErrors.WithLabelValues("audit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifierErrors.WithLabelValues("panics")))
}

func TestNotifiersEmpty(t *testing.T) {
	n := NewNotifiers(nil)
	assert.NoError(t, n.PreSend(context.Background(), &domain.Stanza{}, domain.JID{}))
}
