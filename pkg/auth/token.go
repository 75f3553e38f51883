package auth

import (
	"fmt"
	"sync"
)

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(token string) (*Principal, error)
}

// StaticAuthenticator is a fixed token-to-principal table, loaded from
// configuration. It stands in for the external identity provider in
// deployments that front this service with a gateway issuing service tokens.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Principal
}

// NewStaticAuthenticator creates an authenticator over a token table.
func NewStaticAuthenticator(tokens map[string]Principal) *StaticAuthenticator {
	if tokens == nil {
		tokens = make(map[string]Principal)
	}
	return &StaticAuthenticator{tokens: tokens}
}

// Authenticate resolves token to its principal.
func (a *StaticAuthenticator) Authenticate(token string) (*Principal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown token")
	}
	return &p, nil
}

// AddToken registers a token at runtime.
func (a *StaticAuthenticator) AddToken(token string, p Principal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = p
}
