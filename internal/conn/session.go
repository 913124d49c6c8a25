package conn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gateway-console/internal/gateway"
)

// PairingSession is the ephemeral state of one in-flight pairing attempt,
// scoped to exactly one instance and one pairing loop invocation. The code is
// opaque: either a raw code rendered as a scannable image by the dashboard or
// a pre-rendered image reference. It is never parsed here.
type PairingSession struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	// Attempt increases each time a replacement code is issued within the same
	// flow. Diagnostics only, never used for correctness.
	Attempt int `json:"attempt"`
}

// session is the per-instance handle both loops coordinate through. Every
// field below mu is read and written under it; the loops re-validate state
// through the handle after every suspension point, so a transition applied by
// the poll loop is always visible to the next pairing-loop action.
type session struct {
	name string

	mu         sync.Mutex
	machine    *machine
	pairing    *PairingSession
	pairingErr error
	lastErr    error
	updatedAt  time.Time
	// gen increments when the flow is cancelled or restarted. In-flight
	// fetches capture it before suspending and discard their result if it
	// moved, so a stale resolution has no observable effect.
	gen uint64

	cancel  context.CancelFunc
	regenCh chan struct{}
	wakeCh  chan struct{}
}

func newSession(name string, cancel context.CancelFunc) *session {
	return &session{
		name:    name,
		machine: newMachine(),
		cancel:  cancel,
		regenCh: make(chan struct{}, 1),
		wakeCh:  make(chan struct{}, 1),
	}
}

func (s *session) state() gateway.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.state
}

func (s *session) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// active reports whether a connection flow still owns the loops.
func (s *session) active() bool {
	switch s.state() {
	case gateway.StatusConnecting, gateway.StatusQRCode:
		return true
	default:
		return false
	}
}

// applyPairingCode installs a fresh code if the flow is still live and the
// generation matches the one captured before the fetch suspended.
func (s *session) applyPairingCode(gen uint64, code string, ttl time.Duration) (PairingSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return PairingSession{}, false
	}
	switch s.machine.state {
	case gateway.StatusConnecting:
		if err := s.machine.transition(gateway.StatusQRCode); err != nil {
			return PairingSession{}, false
		}
	case gateway.StatusQRCode:
	default:
		return PairingSession{}, false
	}

	issued := time.Now()
	attempt := 1
	if s.pairing != nil {
		attempt = s.pairing.Attempt + 1
	}
	s.pairing = &PairingSession{
		ID:        uuid.NewString(),
		Code:      code,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
		Attempt:   attempt,
	}
	s.pairingErr = nil
	s.updatedAt = issued
	return *s.pairing, true
}

func (s *session) setPairingErr(gen uint64, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.pairingErr = err
	return true
}

// touch refreshes updatedAt after a successful poll with no transition.
func (s *session) touch(gen uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.updatedAt = at
}

// regenerate wakes the pairing loop for an immediate refetch. Non-blocking: a
// pending signal already forces a refetch.
func (s *session) regenerate() {
	select {
	case s.regenCh <- struct{}{}:
	default:
	}
}

// wake nudges the status poll loop ahead of its next tick.
func (s *session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Snapshot is the read-only view UI surfaces render from.
type Snapshot struct {
	Name         string          `json:"name"`
	Status       gateway.Status  `json:"status"`
	Pairing      *PairingSession `json:"pairing,omitempty"`
	PairingError string          `json:"pairingError,omitempty"`
	LastError    string          `json:"lastError,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Name:      s.name,
		Status:    s.machine.state,
		UpdatedAt: s.updatedAt,
	}
	if s.pairing != nil {
		cp := *s.pairing
		snap.Pairing = &cp
	}
	if s.pairingErr != nil {
		snap.PairingError = s.pairingErr.Error()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
