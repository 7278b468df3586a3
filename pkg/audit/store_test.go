package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-rest/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testStanza(id string) *domain.Stanza {
	return &domain.Stanza{
		Kind: domain.KindMessage,
		ID:   id,
		Type: "chat",
		From: domain.JID{Node: "admin", Domain: "example.com", Resource: "cli"},
		To:   domain.JID{Node: "bot", Domain: "example.com"},
	}
}

func TestStorePreSendAndTail(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx := domain.WithServedDomain(context.Background(), "example.com")
	for _, id := range []string{"m1", "m2", "m3"} {
		s := testStanza(id)
		require.NoError(t, store.PreSend(ctx, s, s.From))
	}

	records, err := store.Tail(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "m3", records[0].StanzaID)
	assert.Equal(t, "m2", records[1].StanzaID)
	assert.Equal(t, domain.KindMessage, records[0].Kind)
	assert.Equal(t, "admin@example.com/cli", records[0].From)
	assert.Equal(t, "bot@example.com", records[0].To)
	assert.Equal(t, "example.com", records[0].Domain)
	assert.True(t, base.Add(3*time.Second).Equal(records[0].RoutedAt))

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	none, err := store.Tail(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreDomainFallsBackToRecipient(t *testing.T) {
	store := openTestStore(t)
	s := testStanza("x")
	s.To = domain.JID{Node: "bot", Domain: "other.org"}
	require.NoError(t, store.PreSend(context.Background(), s, s.From))

	records, err := store.Tail(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "other.org", records[0].Domain)
}

func TestStoreMemory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	s := testStanza("mem")
	require.NoError(t, store.PreSend(context.Background(), s, s.From))
	records, err := store.Tail(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStoreErrors(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
	_, err = nilStore.Tail(context.Background(), 1)
	assert.Error(t, err)

	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := testStanza("c")
	assert.ErrorIs(t, store.PreSend(ctx, s, s.From), context.Canceled)
}
