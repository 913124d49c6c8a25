package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gateway-console/internal/gateway"
	"gateway-console/internal/metrics"
)

// ErrNoSession indicates no connection flow exists for the instance.
var ErrNoSession = errors.New("no active connection session")

// API is the slice of the gateway client the loops depend on.
type API interface {
	Connect(ctx context.Context, name string) error
	GetStatus(ctx context.Context, name string) (*gateway.StatusResult, error)
	GetPairingCode(ctx context.Context, name string) (string, error)
}

// AttemptRecorder persists pairing attempts for diagnostics. Recording
// failures are logged, never propagated into the flow.
type AttemptRecorder interface {
	RecordPairingAttempt(ctx context.Context, instance, sessionID string, attempt int, issuedAt, expiresAt time.Time) error
}

// Config tunes the per-instance loops.
type Config struct {
	// PairingTTL is the fixed lifetime of one pairing code.
	PairingTTL time.Duration
	// PollInterval is the status poll cadence while a flow is active.
	PollInterval time.Duration
	// PollFailureBudget is how many consecutive transient poll failures are
	// tolerated before the flow ends in error.
	PollFailureBudget int
}

// DefaultConfig returns the production loop timings.
func DefaultConfig() Config {
	return Config{
		PairingTTL:        60 * time.Second,
		PollInterval:      12 * time.Second,
		PollFailureBudget: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PairingTTL <= 0 {
		c.PairingTTL = d.PairingTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollFailureBudget <= 0 {
		c.PollFailureBudget = d.PollFailureBudget
	}
	return c
}

// Manager supervises one session per instance: the state machine plus two
// cancellable loops, coordinated only through the session handle.
type Manager struct {
	api      API
	recorder AttemptRecorder
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config

	rootCtx  context.Context
	rootStop context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager. recorder may be nil.
func NewManager(api API, recorder AttemptRecorder, logger *slog.Logger, metricRegistry *metrics.Metrics, cfg Config) *Manager {
	rootCtx, rootStop := context.WithCancel(context.Background())
	return &Manager{
		api:      api,
		recorder: recorder,
		logger:   logger.With("component", "conn"),
		metrics:  metricRegistry,
		cfg:      cfg.withDefaults(),
		rootCtx:  rootCtx,
		rootStop: rootStop,
		sessions: make(map[string]*session),
	}
}

// Connect starts a connection flow for the instance: issues the backend
// connect call and launches the pairing and status poll loops. Calling it
// while a flow is already active is a no-op returning the current snapshot.
func (m *Manager) Connect(ctx context.Context, name string) (Snapshot, error) {
	if err := gateway.ValidateName(name); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[name]; ok && existing.active() {
		m.mu.Unlock()
		return existing.snapshot(), nil
	}
	sessCtx, cancel := context.WithCancel(m.rootCtx)
	sess := newSession(name, cancel)
	if err := sess.machine.transition(gateway.StatusConnecting); err != nil {
		m.mu.Unlock()
		cancel()
		return Snapshot{}, err
	}
	m.sessions[name] = sess
	m.mu.Unlock()
	m.countTransition(gateway.StatusDisconnected, gateway.StatusConnecting)

	if err := m.api.Connect(ctx, name); err != nil {
		switch {
		case errors.Is(err, gateway.ErrConflict):
			// Backend says the instance is already connecting or connected;
			// the poll loop will observe whichever it is.
			m.logger.Info("connect reported conflict, polling for status", "instance", name)
		case errors.Is(err, gateway.ErrTransport):
			// Retryable; leave it to the poll loop's failure budget.
			m.logger.Warn("connect call failed in transport, continuing to poll", "instance", name, "error", err)
		default:
			m.failSession(sess, sess.generation(), err)
			return sess.snapshot(), err
		}
	}

	m.wg.Add(2)
	go m.runPairingLoop(sessCtx, sess)
	go m.runPollLoop(sessCtx, sess)

	m.logger.Info("connection flow started", "instance", name)
	return sess.snapshot(), nil
}

// Cancel aborts the instance's connection flow. Any fetch already in flight is
// discarded on resolution via the session generation.
func (m *Manager) Cancel(ctx context.Context, name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}

	sess.mu.Lock()
	from := sess.machine.state
	if from == gateway.StatusConnecting || from == gateway.StatusQRCode {
		sess.gen++
		_ = sess.machine.transition(gateway.StatusDisconnected)
		sess.pairing = nil
		sess.pairingErr = nil
		sess.updatedAt = time.Now()
	}
	cancel := sess.cancel
	sess.mu.Unlock()
	cancel()

	if from == gateway.StatusConnecting || from == gateway.StatusQRCode {
		m.countTransition(from, gateway.StatusDisconnected)
		m.logger.Info("connection flow cancelled", "instance", name)
	}
	return nil
}

// Regenerate forces an immediate pairing-code refetch regardless of remaining
// TTL. Also the manual retry path after a recoverable pairing fetch failure.
func (m *Manager) Regenerate(ctx context.Context, name string) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, name)
	}

	sess.mu.Lock()
	state := sess.machine.state
	retriable := sess.pairingErr != nil
	sess.mu.Unlock()

	if state != gateway.StatusQRCode && !(state == gateway.StatusConnecting && retriable) {
		return fmt.Errorf("%w: %s is %s", ErrNoSession, name, state)
	}
	sess.regenerate()
	return nil
}

// Snapshot returns the current view of the instance's flow.
func (m *Manager) Snapshot(name string) (Snapshot, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Snapshots returns the view of every known flow.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// HandleGatewayEvent implements gateway.WebhookProcessor. A webhook for an
// instance with an active flow wakes its poll loop early; it never transitions
// state itself, the poll remains the sole authority.
func (m *Manager) HandleGatewayEvent(ctx context.Context, event gateway.WebhookEvent) error {
	if event.Instance == "" {
		return nil
	}
	m.mu.Lock()
	sess, ok := m.sessions[event.Instance]
	m.mu.Unlock()
	if !ok || !sess.active() {
		return nil
	}
	m.logger.Debug("webhook hint, waking poll loop", "instance", event.Instance, "event", event.Type)
	sess.wake()
	return nil
}

// Shutdown cancels every flow and waits for the loops to drain.
func (m *Manager) Shutdown() {
	m.rootStop()
	m.wg.Wait()
}

// completeSession applies a poll-observed success and stops both loops.
func (m *Manager) completeSession(sess *session, gen uint64) bool {
	sess.mu.Lock()
	if sess.gen != gen {
		sess.mu.Unlock()
		return false
	}
	from := sess.machine.state
	if err := sess.machine.observeConnected(); err != nil {
		sess.mu.Unlock()
		return false
	}
	sess.gen++
	sess.pairing = nil
	sess.pairingErr = nil
	sess.lastErr = nil
	sess.updatedAt = time.Now()
	cancel := sess.cancel
	sess.mu.Unlock()
	cancel()

	m.countTransition(from, gateway.StatusConnected)
	m.logger.Info("instance connected", "instance", sess.name)
	return true
}

// failSession drives the flow to error and stops both loops.
func (m *Manager) failSession(sess *session, gen uint64, cause error) {
	sess.mu.Lock()
	if sess.gen != gen {
		sess.mu.Unlock()
		return
	}
	from := sess.machine.state
	if from == gateway.StatusError {
		sess.mu.Unlock()
		return
	}
	sess.gen++
	_ = sess.machine.transition(gateway.StatusError)
	sess.pairing = nil
	sess.lastErr = cause
	sess.updatedAt = time.Now()
	cancel := sess.cancel
	sess.mu.Unlock()
	cancel()

	m.countTransition(from, gateway.StatusError)
	if m.metrics != nil {
		m.metrics.Errors.WithLabelValues("conn").Inc()
	}
	m.logger.Error("connection flow failed", "instance", sess.name, "error", cause)
}

func (m *Manager) countTransition(from, to gateway.Status) {
	if m.metrics == nil {
		return
	}
	m.metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
}
