package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/polis-rest/pkg/access"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/storage"
)

const testDomain = "example.org"

const minimalMessage = `<message xmlns="jabber:client" from="bot@example.org" to="alice@example.org" type="chat"><body>hi</body></message>`

type recordingRouter struct {
	mu     sync.Mutex
	routed []*domain.Stanza
}

func (r *recordingRouter) Route(_ context.Context, s *domain.Stanza) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, s)
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routed)
}

type recordingNotifier struct {
	calls []domain.JID
	err   error
}

func (n *recordingNotifier) PreSend(_ context.Context, _ *domain.Stanza, from domain.JID) error {
	n.calls = append(n.calls, from)
	return n.err
}

type fakeExecutor struct {
	text   string
	code   int
	args   []string
	acl    domain.CommandACL
	domain string
}

func (e *fakeExecutor) Execute(ctx context.Context, args []string, acl domain.CommandACL) (string, int) {
	e.args = args
	e.acl = acl
	e.domain = domain.ServedDomain(ctx)
	return e.text, e.code
}

type namedACL string

func (n namedACL) Name() string { return string(n) }

func (namedACL) Allow(context.Context, domain.CommandRequest) (bool, error) { return true, nil }

func newGate(policy *domain.AccessPolicy) *access.Gate {
	policies := map[string]*domain.AccessPolicy{}
	if policy != nil {
		policies[testDomain] = policy
	}
	return access.NewGate(storage.NewMemoryPolicyStore(policies))
}

var loopback = netip.MustParseAddr("127.0.0.1")

func TestStanzaPipelineRoutesValidMessageOnce(t *testing.T) {
	router := &recordingRouter{}
	notifier := &recordingNotifier{}
	p := NewStanzaPipeline(newGate(&domain.AccessPolicy{}), router, notifier)

	out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, loopback)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, BodyOK, out.Body)
	require.Equal(t, 1, router.count())
	assert.Equal(t, domain.KindMessage, router.routed[0].Kind)
	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "bot@example.org", notifier.calls[0].String())
}

func TestStanzaPipelineNotifierFailureDoesNotChangeOutcome(t *testing.T) {
	router := &recordingRouter{}
	notifier := &recordingNotifier{err: errors.New("audit unavailable")}
	p := NewStanzaPipeline(newGate(&domain.AccessPolicy{}), router, notifier)

	out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, loopback)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, 1, router.count())
}

func TestStanzaPipelineRejects(t *testing.T) {
	tests := []struct {
		name   string
		policy *domain.AccessPolicy
		body   string
		source string
	}{
		{
			name:   "source outside allowed networks",
			policy: &domain.AccessPolicy{AllowedSourceIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}},
			body:   minimalMessage,
			source: "192.168.1.1",
		},
		{
			name:   "malformed body",
			policy: &domain.AccessPolicy{},
			body:   "<message",
			source: "127.0.0.1",
		},
		{
			name:   "unbalanced body",
			policy: &domain.AccessPolicy{},
			body:   "<message><body></message>",
			source: "127.0.0.1",
		},
		{
			name:   "destination not allowed",
			policy: &domain.AccessPolicy{AllowedDestinations: []string{"bob@example.org"}},
			body:   minimalMessage,
			source: "127.0.0.1",
		},
		{
			name:   "kind not allowed",
			policy: &domain.AccessPolicy{AllowedStanzaTypes: []domain.StanzaKind{domain.KindIQ}},
			body:   minimalMessage,
			source: "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := &recordingRouter{}
			p := NewStanzaPipeline(newGate(tt.policy), router, nil)

			out := p.Handle(context.Background(), []byte(tt.body), testDomain, netip.MustParseAddr(tt.source))

			assert.Equal(t, http.StatusNotAcceptable, out.Status)
			assert.Equal(t, "Error: REST request is rejected by service.", out.Body)
			assert.Zero(t, router.count())
		})
	}
}

func TestStanzaPipelineAllowedSourcePasses(t *testing.T) {
	router := &recordingRouter{}
	policy := &domain.AccessPolicy{
		AllowedSourceIPs:    []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
		AllowedDestinations: []string{"alice@example.org"},
		AllowedStanzaTypes:  []domain.StanzaKind{domain.KindMessage},
	}
	p := NewStanzaPipeline(newGate(policy), router, nil)

	out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, netip.MustParseAddr("10.1.2.3"))

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, 1, router.count())
}

func TestStanzaPipelineDecodeFailure(t *testing.T) {
	router := &recordingRouter{}
	p := NewStanzaPipeline(newGate(&domain.AccessPolicy{}), router, nil)

	out := p.Handle(context.Background(), []byte(`<message to="a@example.org"/>`), testDomain, loopback)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, "Error: missing attribute 'from' in tag <message/>", out.Body)
	assert.Zero(t, router.count())
}

type brokenDecoder struct{}

func (brokenDecoder) DecodeStanza(*domain.Element) (*domain.Stanza, error) {
	return nil, errors.New("boom")
}

func TestStanzaPipelineUnexpectedDecodeFailure(t *testing.T) {
	router := &recordingRouter{}
	p := NewStanzaPipeline(newGate(&domain.AccessPolicy{}), router, nil)
	p.Decoder = brokenDecoder{}

	out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, loopback)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Equal(t, BodyError, out.Body)
}

func TestStanzaPipelineUnknownDomain(t *testing.T) {
	router := &recordingRouter{}
	p := NewStanzaPipeline(newGate(nil), router, nil)

	out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, loopback)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.True(t, strings.HasPrefix(out.Body, "Error: "))
	assert.Contains(t, out.Body, "module not configured for domain")
	assert.Zero(t, router.count())
}

func TestCommandPipelinePrependsAnonymousAuth(t *testing.T) {
	exec := &fakeExecutor{text: "done"}
	acl := namedACL("admins")
	p := NewCommandPipeline(newGate(&domain.AccessPolicy{AccessCommands: acl}), exec)

	out := p.Handle(context.Background(), []byte(`status "a b" c`), testDomain)

	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, []string{"--auth", "", "", "", "status", "a b", "c"}, exec.args)
	assert.Equal(t, domain.CommandACL(acl), exec.acl)
	assert.Equal(t, testDomain, exec.domain)
}

func TestCommandPipelineKeepsExplicitAuth(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewCommandPipeline(newGate(&domain.AccessPolicy{}), exec)

	p.Handle(context.Background(), []byte(`--auth admin example.org secret domains`), testDomain)

	assert.Equal(t, []string{"--auth", "admin", "example.org", "secret", "domains"}, exec.args)
	assert.Nil(t, exec.acl)
}

func TestCommandPipelineIncompleteAuthIsPrefixed(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewCommandPipeline(newGate(&domain.AccessPolicy{}), exec)

	p.Handle(context.Background(), []byte(`--auth admin`), testDomain)

	assert.Equal(t, []string{"--auth", "", "", "", "--auth", "admin"}, exec.args)
}

func TestCommandPipelineResultMapping(t *testing.T) {
	tests := []struct {
		text string
		code int
		want string
	}{
		{"", domain.StatusSuccess, "0"},
		{"report", domain.StatusSuccess, "report"},
		{"", domain.StatusError, "1"},
		{"Error: nope", domain.StatusError, "Error: nope"},
		{"", domain.StatusBadRPC, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			exec := &fakeExecutor{text: tt.text, code: tt.code}
			p := NewCommandPipeline(newGate(&domain.AccessPolicy{}), exec)

			out := p.Handle(context.Background(), []byte("anything"), testDomain)

			assert.Equal(t, http.StatusOK, out.Status)
			assert.Equal(t, tt.want, out.Body)
		})
	}
}

func TestCommandPipelineUnknownDomain(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewCommandPipeline(newGate(nil), exec)

	out := p.Handle(context.Background(), []byte("status"), testDomain)

	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Contains(t, out.Body, "module not configured for domain")
	assert.Nil(t, exec.args)
}

func TestCommandPipelineRepairsInvalidUTF8(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewCommandPipeline(newGate(&domain.AccessPolicy{}), exec)

	p.Handle(context.Background(), []byte("echo caf\xe9"), testDomain)

	require.Len(t, exec.args, 6)
	assert.Equal(t, "caf\uFFFD", exec.args[5])
}

func TestCommandResultProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		code := rapid.IntRange(0, 3).Draw(t, "code")

		got := CommandResult(text, code)
		if text != "" {
			if got != text {
				t.Fatalf("CommandResult(%q, %d) = %q, want text", text, code, got)
			}
			return
		}
		if got != string(rune('0'+code)) {
			t.Fatalf("CommandResult(\"\", %d) = %q", code, got)
		}
	})
}

func TestWithAuthPrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		args := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,5}`)).Draw(t, "args")

		got := WithAuthPrefix(args)
		if len(got) < 4 || got[0] != "--auth" {
			t.Fatalf("missing auth prefix: %q", got)
		}
		if len(got) != len(args)+4 {
			t.Fatalf("expected four prefix tokens, got %q", got)
		}
		for i, a := range args {
			if got[i+4] != a {
				t.Fatalf("argument %d changed: %q", i, got)
			}
		}
	})
}

func TestStanzaPipelineConcurrentUse(t *testing.T) {
	router := &recordingRouter{}
	p := NewStanzaPipeline(newGate(&domain.AccessPolicy{}), router, nil)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := p.Handle(context.Background(), []byte(minimalMessage), testDomain, loopback)
			assert.Equal(t, http.StatusOK, out.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, router.count())
}
