// Package identity persists the per-installation identity: a durable
// installation id, the one-way free-credit latch and the local guest
// credit balance.
//
// The Store validates every value it reads. A missing backend, an I/O
// failure or an unparseable value is returned as an error; the Store never
// substitutes zero values, since a silent zero would hand out or swallow
// credits during reconciliation.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Backend keys.
const (
	KeyInstallationID = "installation_id"
	KeyFreeCredit     = "free_credit"
	KeyLocalCredits   = "local_credits"
)

// InitialLocalCredits is the free credit granted to a new installation.
const InitialLocalCredits int64 = 1

var (
	// ErrNoBackend is returned when the Store has no backend.
	ErrNoBackend = errors.New("identity: no backend configured")
	// ErrCorrupt is returned when a persisted value fails validation.
	ErrCorrupt = errors.New("identity: corrupt value")
	// ErrNegativeBalance is returned by SetLocalCredits for n < 0.
	ErrNegativeBalance = errors.New("identity: negative local balance")
)

// FreeCreditState is the one-way latch recording whether this
// installation's free credit has been carried into an account.
type FreeCreditState string

const (
	FreeCreditUnused   FreeCreditState = "unused"
	FreeCreditConsumed FreeCreditState = "consumed"
)

// ParseFreeCreditState validates a persisted latch value.
func ParseFreeCreditState(s string) (FreeCreditState, error) {
	switch FreeCreditState(s) {
	case FreeCreditUnused, FreeCreditConsumed:
		return FreeCreditState(s), nil
	default:
		return "", fmt.Errorf("%w: free credit state %q", ErrCorrupt, s)
	}
}

// Identity is a snapshot of the persisted installation identity.
type Identity struct {
	InstallationID     string          `json:"installation_id"`
	FreeCredit         FreeCreditState `json:"free_credit"`
	LocalCreditBalance int64           `json:"local_credit_balance"`
}

// Backend is a synchronous string key/value store local to the device.
type Backend interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Store is the Local Identity Store.
type Store struct {
	mu      sync.Mutex
	backend Backend
	newID   func() string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the installation id generator (UUIDv4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstallationID returns the installation id, creating and persisting the
// identity (latch unused, one local credit) on first call.
func (s *Store) InstallationID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensure()
}

// Snapshot returns the full identity, creating it if absent.
func (s *Store) Snapshot() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.ensure()
	if err != nil {
		return Identity{}, err
	}
	state, err := s.freeCredit()
	if err != nil {
		return Identity{}, err
	}
	balance, err := s.localCredits()
	if err != nil {
		return Identity{}, err
	}
	return Identity{InstallationID: inst, FreeCredit: state, LocalCreditBalance: balance}, nil
}

// LocalCredits returns the guest credit balance held on this installation.
func (s *Store) LocalCredits() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensure(); err != nil {
		return 0, err
	}
	return s.localCredits()
}

// SetLocalCredits overwrites the guest credit balance.
func (s *Store) SetLocalCredits(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeBalance, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensure(); err != nil {
		return err
	}
	return s.set(KeyLocalCredits, strconv.FormatInt(n, 10))
}

// FreeCredit returns the state of the free-credit latch.
func (s *Store) FreeCredit() (FreeCreditState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensure(); err != nil {
		return "", err
	}
	return s.freeCredit()
}

// HasConsumedFreeCredit reports whether the latch is set.
func (s *Store) HasConsumedFreeCredit() (bool, error) {
	state, err := s.FreeCredit()
	if err != nil {
		return false, err
	}
	return state == FreeCreditConsumed, nil
}

// MarkFreeCreditConsumed sets the latch. It never unsets.
func (s *Store) MarkFreeCreditConsumed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ensure(); err != nil {
		return err
	}
	return s.set(KeyFreeCredit, string(FreeCreditConsumed))
}

// FreeCreditsAvailableForNewAccount returns the grant a newly created
// account may receive: 1 while the latch is unused, 0 afterwards.
func (s *Store) FreeCreditsAvailableForNewAccount() (int64, error) {
	consumed, err := s.HasConsumedFreeCredit()
	if err != nil {
		return 0, err
	}
	if consumed {
		return 0, nil
	}
	return InitialLocalCredits, nil
}

// Reset removes the persisted identity. The next call to any accessor
// creates a fresh installation.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return ErrNoBackend
	}
	for _, key := range []string{KeyInstallationID, KeyFreeCredit, KeyLocalCredits} {
		if err := s.backend.Delete(key); err != nil {
			return fmt.Errorf("identity: delete %s: %w", key, err)
		}
	}
	return nil
}

// ensure must be called with mu held. The installation id is written last
// so an interrupted first launch is recreated rather than left half-built.
func (s *Store) ensure() (string, error) {
	if s.backend == nil {
		return "", ErrNoBackend
	}

	inst, ok, err := s.backend.Get(KeyInstallationID)
	if err != nil {
		return "", fmt.Errorf("identity: read %s: %w", KeyInstallationID, err)
	}
	if ok {
		if inst == "" {
			return "", fmt.Errorf("%w: empty installation id", ErrCorrupt)
		}
		return inst, nil
	}

	inst = s.newID()
	if err := s.set(KeyFreeCredit, string(FreeCreditUnused)); err != nil {
		return "", err
	}
	if err := s.set(KeyLocalCredits, strconv.FormatInt(InitialLocalCredits, 10)); err != nil {
		return "", err
	}
	if err := s.set(KeyInstallationID, inst); err != nil {
		return "", err
	}
	return inst, nil
}

func (s *Store) freeCredit() (FreeCreditState, error) {
	raw, err := s.require(KeyFreeCredit)
	if err != nil {
		return "", err
	}
	return ParseFreeCreditState(raw)
}

func (s *Store) localCredits() (int64, error) {
	raw, err := s.require(KeyLocalCredits)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: local credits %q", ErrCorrupt, raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: local credits %d", ErrCorrupt, n)
	}
	return n, nil
}

func (s *Store) require(key string) (string, error) {
	v, ok, err := s.backend.Get(key)
	if err != nil {
		return "", fmt.Errorf("identity: read %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrCorrupt, key)
	}
	return v, nil
}

func (s *Store) set(key, value string) error {
	if err := s.backend.Set(key, value); err != nil {
		return fmt.Errorf("identity: write %s: %w", key, err)
	}
	return nil
}
