package account

// Phase is the lifecycle phase of the current session.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseFailed        Phase = "failed"
)

// State is the observable session state. Account is set only in
// PhaseReady and Err only in PhaseFailed.
type State struct {
	Phase   Phase    `json:"phase"`
	Account *Account `json:"account,omitempty"`
	Err     error    `json:"-"`
}

// Uninitialized returns the state before any account has been resolved.
func Uninitialized() State { return State{Phase: PhaseUninitialized} }

// Loading returns the state while an account is being resolved.
func Loading() State { return State{Phase: PhaseLoading} }

// Ready returns the state holding the resolved account.
func Ready(a *Account) State { return State{Phase: PhaseReady, Account: a.Clone()} }

// Failed returns the state after resolution failed.
func Failed(err error) State { return State{Phase: PhaseFailed, Err: err} }

// IsReady reports whether the state holds an account.
func (s State) IsReady() bool { return s.Phase == PhaseReady && s.Account != nil }

// Error returns the failure message, or "" outside PhaseFailed.
func (s State) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}
