package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

// State is where one operation kind stands within a session.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateResolvedSuccess
	StateResolvedFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in_flight"
	case StateResolvedSuccess:
		return "resolved_success"
	case StateResolvedFailure:
		return "resolved_failure"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is one caller's view of the gateway: at most one in-flight
// operation per kind, and a transaction log of every APDU it has seen.
// Different kinds run independently.
type Session struct {
	ID string

	mu     sync.Mutex
	states map[driver.Kind]State
	last   map[driver.Kind]State
	log    *TransactionLog
	now    func() time.Time
}

func NewSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		states: make(map[driver.Kind]State),
		last:   make(map[driver.Kind]State),
		log:    NewTransactionLog(),
		now:    time.Now,
	}
}

// Begin moves kind from Idle to InFlight. It reports false, changing nothing,
// if kind is already in flight.
func (s *Session) Begin(kind driver.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[kind] == StateInFlight {
		return false
	}
	s.states[kind] = StateInFlight
	return true
}

// Resolve finishes an in-flight kind: the result's trace goes into the
// transaction log, the outcome is remembered, and kind returns to Idle.
func (s *Session) Resolve(kind driver.Kind, res *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[kind] != StateInFlight {
		return
	}

	resolved := StateResolvedFailure
	if res != nil && res.Success {
		resolved = StateResolvedSuccess
	}
	s.states[kind] = resolved
	if res != nil && len(res.Trace) > 0 {
		s.log.AppendBatch(kind.Label(), res.Trace, s.now().UTC())
	}
	s.last[kind] = resolved
	s.states[kind] = StateIdle
}

// State returns the current state of kind.
func (s *Session) State(kind driver.Kind) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[kind]
}

// LastOutcome returns how kind last resolved, or Idle if it never ran.
func (s *Session) LastOutcome(kind driver.Kind) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[kind]
}

// KindState is one row of a session snapshot.
type KindState struct {
	State State `json:"state"`
	Last  State `json:"last"`
}

// Snapshot returns the state of every kind.
func (s *Session) Snapshot() map[driver.Kind]KindState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[driver.Kind]KindState, len(driver.Kinds))
	for _, k := range driver.Kinds {
		out[k] = KindState{State: s.states[k], Last: s.last[k]}
	}
	return out
}

// Log returns the session's transaction log.
func (s *Session) Log() *TransactionLog {
	return s.log
}

// Run executes req through d under the session's per-kind guard. A duplicate
// request for a kind that is already in flight fails with FailureBusy and
// never reaches the driver.
func (s *Session) Run(ctx context.Context, d *Dispatcher, req driver.Request) *Result {
	if !s.Begin(req.Kind) {
		return Failed(req.Kind, FailureBusy, req.Kind.Label()+" already in progress")
	}
	res := d.Execute(ctx, req)
	s.Resolve(req.Kind, res)
	return res
}
