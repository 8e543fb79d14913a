package identity

import (
	"errors"
	"path/filepath"
	"testing"
)

type failingBackend struct{ err error }

func (f failingBackend) Get(string) (string, bool, error) { return "", false, f.err }
func (f failingBackend) Set(string, string) error         { return f.err }
func (f failingBackend) Delete(string) error              { return f.err }

func TestInstallationIDCreatedOnce(t *testing.T) {
	calls := 0
	s := NewStore(NewMemoryBackend(), WithIDGenerator(func() string {
		calls++
		return "inst-1"
	}))

	first, err := s.InstallationID()
	if err != nil {
		t.Fatalf("InstallationID: %v", err)
	}
	second, err := s.InstallationID()
	if err != nil {
		t.Fatalf("InstallationID: %v", err)
	}
	if first != second {
		t.Errorf("installation id changed: %q != %q", first, second)
	}
	if calls != 1 {
		t.Errorf("generator calls: got %d, want 1", calls)
	}
}

func TestFreshIdentityDefaults(t *testing.T) {
	s := NewStore(NewMemoryBackend())

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.InstallationID == "" {
		t.Error("expected generated installation id")
	}
	if snap.FreeCredit != FreeCreditUnused {
		t.Errorf("FreeCredit: got %q, want %q", snap.FreeCredit, FreeCreditUnused)
	}
	if snap.LocalCreditBalance != 1 {
		t.Errorf("LocalCreditBalance: got %d, want 1", snap.LocalCreditBalance)
	}

	avail, err := s.FreeCreditsAvailableForNewAccount()
	if err != nil {
		t.Fatalf("FreeCreditsAvailableForNewAccount: %v", err)
	}
	if avail != 1 {
		t.Errorf("available: got %d, want 1", avail)
	}
}

func TestLatchIsOneWay(t *testing.T) {
	s := NewStore(NewMemoryBackend())

	if err := s.MarkFreeCreditConsumed(); err != nil {
		t.Fatalf("MarkFreeCreditConsumed: %v", err)
	}
	if err := s.MarkFreeCreditConsumed(); err != nil {
		t.Fatalf("second MarkFreeCreditConsumed: %v", err)
	}

	consumed, err := s.HasConsumedFreeCredit()
	if err != nil {
		t.Fatalf("HasConsumedFreeCredit: %v", err)
	}
	if !consumed {
		t.Error("latch should be set")
	}

	avail, err := s.FreeCreditsAvailableForNewAccount()
	if err != nil {
		t.Fatalf("FreeCreditsAvailableForNewAccount: %v", err)
	}
	if avail != 0 {
		t.Errorf("available after consume: got %d, want 0", avail)
	}
}

func TestSetLocalCredits(t *testing.T) {
	s := NewStore(NewMemoryBackend())

	if err := s.SetLocalCredits(7); err != nil {
		t.Fatalf("SetLocalCredits: %v", err)
	}
	got, err := s.LocalCredits()
	if err != nil {
		t.Fatalf("LocalCredits: %v", err)
	}
	if got != 7 {
		t.Errorf("LocalCredits: got %d, want 7", got)
	}

	if err := s.SetLocalCredits(-1); !errors.Is(err, ErrNegativeBalance) {
		t.Errorf("SetLocalCredits(-1): got %v, want ErrNegativeBalance", err)
	}
}

func TestCorruptValuesFailLoudly(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		read  func(*Store) error
	}{
		{"unknown latch", KeyFreeCredit, "maybe", func(s *Store) error {
			_, err := s.FreeCredit()
			return err
		}},
		{"non-integer balance", KeyLocalCredits, "one", func(s *Store) error {
			_, err := s.LocalCredits()
			return err
		}},
		{"negative balance", KeyLocalCredits, "-3", func(s *Store) error {
			_, err := s.LocalCredits()
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewMemoryBackend()
			s := NewStore(b)
			if _, err := s.InstallationID(); err != nil {
				t.Fatalf("InstallationID: %v", err)
			}
			_ = b.Set(tt.key, tt.value)

			if err := tt.read(s); !errors.Is(err, ErrCorrupt) {
				t.Errorf("got %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestBackendFailuresPropagate(t *testing.T) {
	boom := errors.New("disk gone")
	s := NewStore(failingBackend{err: boom})

	if _, err := s.InstallationID(); !errors.Is(err, boom) {
		t.Errorf("InstallationID: got %v, want %v", err, boom)
	}
	if _, err := s.LocalCredits(); !errors.Is(err, boom) {
		t.Errorf("LocalCredits: got %v, want %v", err, boom)
	}
	if _, err := s.FreeCreditsAvailableForNewAccount(); !errors.Is(err, boom) {
		t.Errorf("FreeCreditsAvailableForNewAccount: got %v, want %v", err, boom)
	}
}

func TestNilBackend(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.InstallationID(); !errors.Is(err, ErrNoBackend) {
		t.Errorf("got %v, want ErrNoBackend", err)
	}
}

func TestReset(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	first, _ := s.InstallationID()
	_ = s.MarkFreeCreditConsumed()

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	second, err := s.InstallationID()
	if err != nil {
		t.Fatalf("InstallationID: %v", err)
	}
	if first == second {
		t.Error("expected a new installation id after reset")
	}
	if consumed, _ := s.HasConsumedFreeCredit(); consumed {
		t.Error("latch should be unused after reset")
	}
}

func TestFileBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")

	s := NewStore(NewFileBackend(path))
	inst, err := s.InstallationID()
	if err != nil {
		t.Fatalf("InstallationID: %v", err)
	}
	if err := s.SetLocalCredits(4); err != nil {
		t.Fatalf("SetLocalCredits: %v", err)
	}
	if err := s.MarkFreeCreditConsumed(); err != nil {
		t.Fatalf("MarkFreeCreditConsumed: %v", err)
	}

	reopened := NewStore(NewFileBackend(path))
	snap, err := reopened.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.InstallationID != inst {
		t.Errorf("InstallationID: got %q, want %q", snap.InstallationID, inst)
	}
	if snap.LocalCreditBalance != 4 {
		t.Errorf("LocalCreditBalance: got %d, want 4", snap.LocalCreditBalance)
	}
	if snap.FreeCredit != FreeCreditConsumed {
		t.Errorf("FreeCredit: got %q, want %q", snap.FreeCredit, FreeCreditConsumed)
	}
}
