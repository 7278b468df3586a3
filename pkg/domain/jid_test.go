package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected JID
	}{
		{name: "domain only", input: "example.com", expected: JID{Domain: "example.com"}},
		{name: "bare", input: "Alice@Example.com", expected: JID{Node: "alice", Domain: "example.com"}},
		{name: "full", input: "alice@example.com/Phone", expected: JID{Node: "alice", Domain: "example.com", Resource: "Phone"}},
		{name: "resource with slash and at", input: "example.com/a/b@c", expected: JID{Domain: "example.com", Resource: "a/b@c"}},
		{name: "trailing dot", input: "bob@example.com.", expected: JID{Node: "bob", Domain: "example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := ParseJID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, jid)
		})
	}
}

func TestParseJIDRejectsInvalid(t *testing.T) {
	for _, input := range []string{"", "@example.com", "alice@", "alice@example.com/", "a b@example.com"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseJID(input)
			assert.Error(t, err)
		})
	}
}

func TestJIDStringAndBare(t *testing.T) {
	jid := JID{Node: "alice", Domain: "example.com", Resource: "home"}
	assert.Equal(t, "alice@example.com/home", jid.String())
	assert.Equal(t, "alice@example.com", jid.Bare().String())
	assert.True(t, JID{}.IsZero())
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &ConfigurationError{Domain: "example.com", Reason: "not loaded"}
	assert.True(t, IsConfigurationError(err))
	assert.False(t, IsAccessDenied(err))

	err = &AccessDeniedError{Check: "source_ip", Value: "10.0.0.1"}
	assert.True(t, IsAccessDenied(err))

	err = &ParseError{Err: errors.New("eof")}
	assert.ErrorIs(t, err, ErrMalformedStanza)

	err = NewDecodeError("unknown element %q", "foo")
	assert.ErrorIs(t, err, ErrInvalidStanza)
	assert.Equal(t, `unknown element "foo"`, err.Error())
}
