package commands

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthFlag prefixes the credential triple of a command line.
const AuthFlag = "--auth"

// Credentials are the caller identity extracted from a command line.
type Credentials struct {
	User     string
	Server   string
	Password string
}

// Anonymous reports whether no user was supplied.
func (c Credentials) Anonymous() bool {
	return c.User == ""
}

// SplitAuth separates a leading "--auth user server password" from the command
// arguments. Lines without a complete prefix are anonymous.
func SplitAuth(args []string) (Credentials, []string) {
	if len(args) >= 4 && args[0] == AuthFlag {
		return Credentials{User: args[1], Server: args[2], Password: args[3]}, args[4:]
	}
	return Credentials{}, args
}

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(c Credentials) bool
}

// BcryptAuthenticator checks passwords against bcrypt hashes keyed by bare JID
// ("user@server").
type BcryptAuthenticator struct {
	hashes map[string][]byte
}

// NewBcryptAuthenticator validates and indexes hashes.
func NewBcryptAuthenticator(hashes map[string]string) (*BcryptAuthenticator, error) {
	a := &BcryptAuthenticator{hashes: make(map[string][]byte, len(hashes))}
	for account, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("credential for %q: %w", account, err)
		}
		a.hashes[strings.ToLower(account)] = []byte(hash)
	}
	return a, nil
}

// Authenticate implements Authenticator.
func (a *BcryptAuthenticator) Authenticate(c Credentials) bool {
	if a == nil || c.Anonymous() {
		return false
	}
	hash, ok := a.hashes[strings.ToLower(c.User+"@"+c.Server)]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(c.Password)) == nil
}
