package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/polisai/polis-rest/pkg/domain"
)

const testConfig = `
server:
  address: "127.0.0.1:0"
  default_domain: example.org
domains:
  example.org:
    allowed_ips: ["127.0.0.1"]
    allowed_stanza_types: [message]
    access_commands: admin
commands:
  acls:
    admin: |
      package commands.admin
      default allow := false
      allow if input.command == "domains"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func mustJID(t *testing.T, raw string) domain.JID {
	t.Helper()
	jid, err := domain.ParseJID(raw)
	require.NoError(t, err)
	return jid
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseCLIConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected *CLIConfig
	}{
		{
			name:     "default values",
			args:     []string{},
			expected: &CLIConfig{Watch: true},
		},
		{
			name: "all flags",
			args: []string{"--config", "c.yaml", "--listen", ":9000", "-l", "debug", "--pretty", "--watch=false"},
			expected: &CLIConfig{
				Config:   "c.yaml",
				Listen:   ":9000",
				LogLevel: "debug",
				Pretty:   true,
			},
		},
		{
			name:     "short config flag",
			args:     []string{"-c", "other.yaml"},
			expected: &CLIConfig{Config: "other.yaml", Watch: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))

			cli, err := parseCLIConfig(cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cli)
		})
	}
}

func TestBuildConfigOverrides(t *testing.T) {
	path := writeConfig(t, testConfig)

	cfg, err := buildConfig(&CLIConfig{Config: path, Listen: ":7000", LogLevel: "WARN", Pretty: true})
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
}

func TestBuildConfigRejectsBadOverride(t *testing.T) {
	path := writeConfig(t, testConfig)

	_, err := buildConfig(&CLIConfig{Config: path, LogLevel: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestSplitCommand(t *testing.T) {
	out, err := execute(t, "split", `status "a b" c`)
	require.NoError(t, err)
	assert.Equal(t, "\"status\"\n\"a b\"\n\"c\"\n", out)
}

func TestSplitCommandStdin(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("one two\n"))
	cmd.SetArgs([]string{"split"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "\"one\"\n\"two\"\n", out.String())
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := execute(t, "hash-password", "--cost", "4", "secret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))
}

func TestCheckCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok: 1 domain(s), 1 acl(s)")

	broken := writeConfig(t, `
commands:
  acls:
    admin: "package commands.admin\nallow if {"
`)
	_, err = execute(t, "check", "--config", broken)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "polis-rest dev\n", out)
}

func TestNewAppServesRequests(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := buildConfig(&CLIConfig{Config: path})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, path, nil, logger)
	require.NoError(t, err)
	defer a.Close()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rest", strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:40000"
		rec := httptest.NewRecorder()
		a.bridge.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := post(`<message from="bot@example.org" to="alice@example.org" type="chat"><body>hi</body></message>`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", rec.Body.String())

	backlog := a.hub.Backlog(mustJID(t, "alice@example.org"))
	require.Len(t, backlog, 1)

	rec = post(`<iq from="bot@example.org" to="alice@example.org" type="get" id="1"/>`)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	rec = post("domains")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "example.org", rec.Body.String())

	assert.Equal(t, uint64(2), a.store.Version())
}

func TestNewAppReload(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := buildConfig(&CLIConfig{Config: path})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, path, nil, logger)
	require.NoError(t, err)
	defer a.Close()

	updated := strings.Replace(testConfig, "  example.org:\n    allowed_ips", "  example.net:\n    allowed_ips: [\"::1\"]\n  example.org:\n    allowed_ips", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, a.reloader.ReloadConfig(path))

	assert.Equal(t, []string{"example.net", "example.org"}, a.store.Domains())
	assert.Equal(t, uint64(3), a.store.Version())
}

func TestNewAppWithAudit(t *testing.T) {
	path := writeConfig(t, testConfig)
	cfg, err := buildConfig(&CLIConfig{Config: path})
	require.NoError(t, err)
	cfg.Audit.Enabled = true
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, path, nil, logger)
	require.NoError(t, err)
	defer a.Close()

	req := httptest.NewRequest(http.MethodPost, "/rest", strings.NewReader(`<message from="bot@example.org" to="alice@example.org"><body>hi</body></message>`))
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	a.bridge.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	count, err := a.audit.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
