package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = 24 * time.Hour

// CredentialLookup resolves an email to the stored user id and
// password hash.
type CredentialLookup func(ctx context.Context, email string) (uid, passwordHash string, err error)

// PasswordAuthenticator validates credentials against stored bcrypt
// hashes and issues HS256 session tokens. It stands in for the managed
// auth provider in local and test setups.
type PasswordAuthenticator struct {
	lookup CredentialLookup
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewPasswordAuthenticator builds a local authenticator.
func NewPasswordAuthenticator(lookup CredentialLookup, secret []byte, ttl time.Duration) *PasswordAuthenticator {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &PasswordAuthenticator{lookup: lookup, secret: secret, ttl: ttl, issuer: "chatsync"}
}

// SignIn checks the password and issues a token with the user id as
// subject.
func (a *PasswordAuthenticator) SignIn(ctx context.Context, email, password string) (string, error) {
	uid, hash, err := a.lookup(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCredentials, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return "", ErrBadCredentials
		}
		return "", fmt.Errorf("compare password: %w", err)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// SignOut is a no-op for stateless tokens.
func (a *PasswordAuthenticator) SignOut(ctx context.Context, token string) error {
	return nil
}

// Keyfunc returns the verification keyfunc matching issued tokens.
func (a *PasswordAuthenticator) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}
}

// HashPassword renders a password storable next to the profile
// document.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
