// Package auth defines the authentication provider the reconciler signs
// users in and out through.
package auth

import (
	"context"
	"errors"

	"github.com/xraph/credits/id"
)

var (
	ErrNotSignedIn        = errors.New("auth: not signed in")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
	ErrUserNotFound       = errors.New("auth: user not found")
)

// Identity is an authenticated principal. Anonymous identities back guest
// accounts.
type Identity struct {
	AccountID id.AccountID `json:"account_id"`
	Email     string       `json:"email,omitempty"`
	Anonymous bool         `json:"anonymous"`
	Token     string       `json:"-"`
}

// Provider is the remote authentication service. It holds at most one
// signed-in identity per device.
type Provider interface {
	// SignInAnonymously creates a new anonymous identity and signs it in.
	SignInAnonymously(ctx context.Context) (*Identity, error)

	// SignUp registers email and signs the new identity in, replacing any
	// anonymous session.
	SignUp(ctx context.Context, email, password string) (*Identity, error)

	// SignIn authenticates an existing registered identity.
	SignIn(ctx context.Context, email, password string) (*Identity, error)

	// SignOut discards the current identity.
	SignOut(ctx context.Context) error

	// Delete removes the identity for accountID and signs it out if current.
	Delete(ctx context.Context, accountID id.AccountID) error

	// Current returns the signed-in identity or ErrNotSignedIn.
	Current(ctx context.Context) (*Identity, error)
}
