package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateway-console/internal/gateway"
)

// runPollLoop periodically re-checks the authoritative status from the backend
// while the flow is active. It is the only code path that can declare the
// instance connected: the pairing code's presence says nothing about whether
// it was actually scanned. Transient failures are tolerated up to the
// configured budget of consecutive ticks.
func (m *Manager) runPollLoop(ctx context.Context, sess *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sess.wakeCh:
			// Webhook hint; check ahead of the next tick.
		}
		if !sess.active() {
			return
		}
		gen := sess.generation()

		res, err := m.api.GetStatus(ctx, sess.name)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if gateway.IsRetryable(err) {
				failures++
				if m.metrics != nil {
					m.metrics.PollTicks.WithLabelValues("transient_error").Inc()
				}
				if failures < m.cfg.PollFailureBudget {
					m.logger.Warn("status poll failed, retrying", "instance", sess.name, "consecutive", failures, "error", err)
					continue
				}
				err = fmt.Errorf("status poll failed %d consecutive times: %w", failures, err)
			}
			m.failSession(sess, gen, err)
			return
		}

		failures = 0
		switch {
		case res.Status == gateway.StatusConnected:
			if m.metrics != nil {
				m.metrics.PollTicks.WithLabelValues("connected").Inc()
			}
			m.completeSession(sess, gen)
			return
		case gateway.IsTerminalFailure(res.Raw):
			if m.metrics != nil {
				m.metrics.PollTicks.WithLabelValues("failed").Inc()
			}
			m.failSession(sess, gen, fmt.Errorf("%w: gateway reported %q", gateway.ErrBackendFatal, res.Raw))
			return
		default:
			// Still connecting or awaiting scan; no transition, only an
			// updatedAt refresh.
			if m.metrics != nil {
				m.metrics.PollTicks.WithLabelValues("pending").Inc()
			}
			sess.touch(gen, res.CheckedAt)
		}
	}
}
