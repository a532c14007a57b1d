// Package session holds the client's sign-in state. The provider is
// explicit instance state: the current user id is memoized after first
// resolution and invalidated on sign-out, never kept in a package
// variable.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated indicates no current user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBadCredentials indicates a rejected sign-in attempt.
	ErrBadCredentials = errors.New("invalid credentials")
)

// Authenticator is the sign-in collaborator, treated as a black box
// that exchanges credentials for a session token.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (token string, err error)
	SignOut(ctx context.Context, token string) error
}

// Provider wraps sign-in/out and exposes the current user id.
type Provider struct {
	auth    Authenticator
	keyfunc jwt.Keyfunc

	mu    sync.Mutex
	token string
	uid   string
}

// New builds a provider. keyfunc verifies session tokens; the token's
// subject claim is the user id.
func New(auth Authenticator, keyfunc jwt.Keyfunc) *Provider {
	return &Provider{auth: auth, keyfunc: keyfunc}
}

// SignIn exchanges credentials for a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	token, err := p.auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.token = token
	p.uid = ""
	p.mu.Unlock()
	return nil
}

// SignOut ends the session and invalidates the memoized identity.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.token = ""
	p.uid = ""
	p.mu.Unlock()
	if token == "" {
		return nil
	}
	return p.auth.SignOut(ctx, token)
}

// Restore installs an existing session token (e.g. loaded from disk).
func (p *Provider) Restore(token string) {
	p.mu.Lock()
	p.token = token
	p.uid = ""
	p.mu.Unlock()
}

// Token returns the raw session token, empty when signed out.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// CurrentUserID returns the signed-in user's id, resolving and
// memoizing it from the token on first call. Returns
// ErrUnauthenticated when no session is active.
func (p *Provider) CurrentUserID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uid != "" {
		return p.uid, nil
	}
	if p.token == "" {
		return "", ErrUnauthenticated
	}
	claims := jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(p.token, &claims, p.keyfunc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", ErrUnauthenticated
	}
	p.uid = claims.Subject
	return p.uid, nil
}
