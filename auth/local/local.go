// Package local is an in-process auth.Provider with bcrypt password hashes
// and HS256 session tokens.
package local

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xraph/credits/auth"
	"github.com/xraph/credits/id"
)

// DefaultTokenTTL is the lifetime of issued session tokens.
const DefaultTokenTTL = 24 * time.Hour

type user struct {
	accountID id.AccountID
	email     string
	hash      string
	anonymous bool
}

// Provider implements auth.Provider in memory.
type Provider struct {
	mu      sync.Mutex
	secret  []byte
	ttl     time.Duration
	cost    int
	users   map[string]*user // keyed by account id
	byEmail map[string]string
	current *auth.Identity
}

// Option configures a Provider.
type Option func(*Provider)

// WithTokenTTL sets the token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) { p.ttl = d }
}

// WithBcryptCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// New creates a provider signing tokens with secret.
func New(secret string, opts ...Option) *Provider {
	p := &Provider{
		secret:  []byte(secret),
		ttl:     DefaultTokenTTL,
		cost:    bcrypt.DefaultCost,
		users:   make(map[string]*user),
		byEmail: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) SignInAnonymously(_ context.Context) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	u := &user{accountID: id.NewAccountID(), anonymous: true}
	p.users[u.accountID.String()] = u
	return p.signIn(u)
}

func (p *Provider) SignUp(_ context.Context, email, password string) (*auth.Identity, error) {
	email = normalize(email)
	if email == "" || password == "" {
		return nil, auth.ErrInvalidCredentials
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.byEmail[email]; taken {
		return nil, auth.ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, err
	}

	u := &user{accountID: id.NewAccountID(), email: email, hash: string(hash)}
	p.users[u.accountID.String()] = u
	p.byEmail[email] = u.accountID.String()

	return p.signIn(u)
}

func (p *Provider) SignIn(_ context.Context, email, password string) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.byEmail[normalize(email)]
	if !ok {
		return nil, auth.ErrInvalidCredentials
	}
	u := p.users[key]
	if err := bcrypt.CompareHashAndPassword([]byte(u.hash), []byte(password)); err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	return p.signIn(u)
}

func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil
	return nil
}

func (p *Provider) Delete(_ context.Context, accountID id.AccountID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	u, ok := p.users[accountID.String()]
	if !ok {
		return auth.ErrUserNotFound
	}
	delete(p.users, accountID.String())
	if u.email != "" {
		delete(p.byEmail, u.email)
	}
	if p.current != nil && p.current.AccountID == accountID {
		p.current = nil
	}
	return nil
}

func (p *Provider) Current(_ context.Context) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, auth.ErrNotSignedIn
	}
	cp := *p.current
	return &cp, nil
}

// Validate parses a token issued by this provider and returns its account id.
func (p *Provider) Validate(tokenStr string) (id.AccountID, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return id.Nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return id.Nil, errors.New("invalid token")
	}
	sub, _ := claims["sub"].(string)
	return id.ParseAccountID(sub)
}

// signIn issues a token for u and makes it current. Callers hold p.mu.
func (p *Provider) signIn(u *user) (*auth.Identity, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.accountID.String(),
		"anon": u.anonymous,
		"exp":  time.Now().Add(p.ttl).Unix(),
	})
	token, err := t.SignedString(p.secret)
	if err != nil {
		return nil, err
	}

	p.current = &auth.Identity{
		AccountID: u.accountID,
		Email:     u.email,
		Anonymous: u.anonymous,
		Token:     token,
	}
	cp := *p.current
	return &cp, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ auth.Provider = (*Provider)(nil)
