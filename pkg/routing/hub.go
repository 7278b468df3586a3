// Package routing is the default stanza router of the bridge. Stanzas are delivered to
// per-recipient mailboxes; each mailbox keeps a bounded backlog and fans out to live
// Server-Sent Events subscribers.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/stanza"
)

const (
	defaultSubscriberBuffer = 16
	defaultKeepAlive        = 30 * time.Second
	defaultMaxMailboxes     = 10000
)

// ErrHubFull is returned when every mailbox slot is held by a live subscriber.
var ErrHubFull = errors.New("routing: mailbox limit reached")

// Config controls hub sizing.
type Config struct {
	// Backlog is the number of stanzas kept per recipient.
	Backlog int
	// SubscriberBuffer is the channel depth per subscriber; a full subscriber drops.
	SubscriberBuffer int
	// KeepAlive is the interval between SSE comment frames.
	KeepAlive time.Duration
	// MaxMailboxes caps the recipients tracked at once. When the cap is reached the
	// least recently used mailbox without subscribers is evicted.
	MaxMailboxes int
}

type mailbox struct {
	ring        *Ring
	mu          sync.Mutex
	subscribers map[uint64]chan *Event
	lastUsed    uint64
	// removed is set once the mailbox left the hub map; holders must look it up again.
	removed bool
}

func (mb *mailbox) idle() bool {
	return len(mb.subscribers) == 0
}

// Hub implements domain.Router.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	mailboxes map[string]*mailbox

	sequence atomic.Uint64
	nextSub  atomic.Uint64
	clock    atomic.Uint64
	routed   atomic.Int64
	dropped  atomic.Int64
	evicted  atomic.Int64
}

// NewHub creates a hub.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if cfg.Backlog <= 0 {
		cfg.Backlog = defaultRingCapacity
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.MaxMailboxes <= 0 {
		cfg.MaxMailboxes = defaultMaxMailboxes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{cfg: cfg, logger: logger, mailboxes: make(map[string]*mailbox)}
}

func (h *Hub) mailbox(bare string) (*mailbox, error) {
	h.mu.RLock()
	mb, ok := h.mailboxes[bare]
	h.mu.RUnlock()
	if ok {
		return mb, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if mb, ok := h.mailboxes[bare]; ok {
		return mb, nil
	}
	if len(h.mailboxes) >= h.cfg.MaxMailboxes && !h.evictIdleLocked() {
		return nil, ErrHubFull
	}
	mb = &mailbox{
		ring:        NewRing(h.cfg.Backlog),
		subscribers: make(map[uint64]chan *Event),
		lastUsed:    h.clock.Add(1),
	}
	h.mailboxes[bare] = mb
	return mb, nil
}

// acquire returns the recipient's mailbox locked. A mailbox removed between the map
// lookup and the lock is looked up again.
func (h *Hub) acquire(bare string) (*mailbox, error) {
	for {
		mb, err := h.mailbox(bare)
		if err != nil {
			return nil, err
		}
		mb.mu.Lock()
		if !mb.removed {
			mb.lastUsed = h.clock.Add(1)
			return mb, nil
		}
		mb.mu.Unlock()
	}
}

// evictIdleLocked drops the least recently used mailbox without subscribers. h.mu must
// be held for writing.
func (h *Hub) evictIdleLocked() bool {
	var (
		victim     string
		victimBox  *mailbox
		victimUsed uint64
	)
	for bare, mb := range h.mailboxes {
		mb.mu.Lock()
		if mb.idle() && (victimBox == nil || mb.lastUsed < victimUsed) {
			victim, victimBox, victimUsed = bare, mb, mb.lastUsed
		}
		mb.mu.Unlock()
	}
	if victimBox == nil {
		return false
	}

	victimBox.mu.Lock()
	defer victimBox.mu.Unlock()
	if !victimBox.idle() {
		return false
	}
	victimBox.removed = true
	delete(h.mailboxes, victim)
	h.evicted.Add(1)
	h.logger.Debug("evicted idle mailbox",
		slog.String("jid", victim),
		slog.Int("backlog", victimBox.ring.Len()),
	)
	return true
}

// release removes a mailbox that has neither subscribers nor buffered stanzas.
func (h *Hub) release(bare string, mb *mailbox) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.removed || !mb.idle() || mb.ring.Len() > 0 || h.mailboxes[bare] != mb {
		return
	}
	mb.removed = true
	delete(h.mailboxes, bare)
}

// Route implements domain.Router. It never blocks on subscribers.
func (h *Hub) Route(_ context.Context, s *domain.Stanza) {
	event := &Event{
		ID:        uuid.NewString(),
		Sequence:  h.sequence.Add(1),
		Timestamp: time.Now(),
		Name:      string(s.Kind),
	}
	if s.Element != nil {
		event.Data = stanza.Marshal(s.Element)
	}

	bare := s.To.Bare().String()
	mb, err := h.acquire(bare)
	if err != nil {
		h.dropped.Add(1)
		h.logger.Warn("no mailbox available, dropping stanza",
			slog.String("to", bare),
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
		return
	}
	defer mb.mu.Unlock()
	h.routed.Add(1)

	mb.ring.Add(event)
	for id, ch := range mb.subscribers {
		select {
		case ch <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn("subscriber too slow, dropping stanza",
				slog.String("to", bare),
				slog.Uint64("subscriber", id),
				slog.String("event_id", event.ID),
			)
		}
	}
}

// Subscribe registers a live subscriber for a bare JID. The backlog holds events
// buffered after lastEventID (all of them when the ID is empty or unknown). Call cancel
// to unsubscribe; the mailbox is released once it has no subscribers and no backlog.
func (h *Hub) Subscribe(jid domain.JID, lastEventID string) (events <-chan *Event, backlog []*Event, cancel func(), err error) {
	bare := jid.Bare().String()
	mb, err := h.acquire(bare)
	if err != nil {
		return nil, nil, nil, err
	}
	ch := make(chan *Event, h.cfg.SubscriberBuffer)
	id := h.nextSub.Add(1)

	if lastEventID == "" {
		backlog = mb.ring.All()
	} else {
		backlog = mb.ring.After(lastEventID)
	}
	mb.subscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			mb.mu.Lock()
			delete(mb.subscribers, id)
			empty := mb.idle() && mb.ring.Len() == 0
			mb.mu.Unlock()
			if empty {
				h.release(bare, mb)
			}
		})
	}
	return ch, backlog, cancel, nil
}

// Backlog returns the buffered events of a recipient, oldest first.
func (h *Hub) Backlog(jid domain.JID) []*Event {
	h.mu.RLock()
	mb, ok := h.mailboxes[jid.Bare().String()]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return mb.ring.All()
}

// Stats reports hub counters.
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	mailboxes := len(h.mailboxes)
	var subscribers int
	for _, mb := range h.mailboxes {
		mb.mu.Lock()
		subscribers += len(mb.subscribers)
		mb.mu.Unlock()
	}
	h.mu.RUnlock()

	return map[string]int64{
		"stanzas_routed":  h.routed.Load(),
		"stanzas_dropped": h.dropped.Load(),
		"mailboxes":       int64(mailboxes),
		"evicted":         h.evicted.Load(),
		"subscribers":     int64(subscribers),
	}
}

// ServeHTTP streams a recipient's stanzas as Server-Sent Events: GET /events?jid=<jid>.
// A Last-Event-ID header resumes after that event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jid, err := domain.ParseJID(r.URL.Query().Get("jid"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid jid: %v", err), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, backlog, cancel, err := h.Subscribe(jid, r.Header.Get("Last-Event-ID"))
	if err != nil {
		h.logger.Warn("refusing event stream", slog.String("jid", jid.Bare().String()), slog.Any("error", err))
		http.Error(w, "Too many recipients", http.StatusServiceUnavailable)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, event := range backlog {
		if _, err := w.Write(SerializeSSE(event)); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			if _, err := w.Write(SerializeSSE(event)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var _ domain.Router = (*Hub)(nil)
