package conn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateway-console/internal/gateway"
)

// runPairingLoop keeps exactly one live pairing code for the session while its
// flow is active: fetch, count down the TTL, replace on expiry. A user
// "regenerate" forces an immediate refetch regardless of remaining time. The
// loop ends the instant the session leaves connecting/qrcode; the generation
// check after every fetch guarantees a stale resolution changes nothing.
func (m *Manager) runPairingLoop(ctx context.Context, sess *session) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil || !sess.active() {
			return
		}
		gen := sess.generation()

		code, err := m.api.GetPairingCode(ctx, sess.name)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if m.metrics != nil {
				m.metrics.PairingAttempts.WithLabelValues("error").Inc()
			}
			if !errors.Is(err, gateway.ErrPairingFetch) {
				err = fmt.Errorf("%w: %v", gateway.ErrPairingFetch, err)
			}
			if !sess.setPairingErr(gen, err) {
				return
			}
			// Pairing-code endpoints are flaky under load: a single failed
			// fetch stays recoverable and waits for a manual retry instead of
			// ending the flow in error.
			m.logger.Warn("pairing code fetch failed, awaiting retry", "instance", sess.name, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-sess.regenCh:
				continue
			}
		}

		wasConnecting := sess.state() == gateway.StatusConnecting
		issued, ok := sess.applyPairingCode(gen, code, m.cfg.PairingTTL)
		if !ok {
			return
		}
		if wasConnecting {
			m.countTransition(gateway.StatusConnecting, gateway.StatusQRCode)
		}
		if m.metrics != nil {
			m.metrics.PairingAttempts.WithLabelValues("issued").Inc()
		}
		m.logger.Info("pairing code issued", "instance", sess.name, "attempt", issued.Attempt, "expires_at", issued.ExpiresAt)

		if m.recorder != nil {
			if err := m.recorder.RecordPairingAttempt(ctx, sess.name, issued.ID, issued.Attempt, issued.IssuedAt, issued.ExpiresAt); err != nil {
				m.logger.Warn("record pairing attempt failed", "instance", sess.name, "error", err)
			}
		}

		timer := time.NewTimer(m.cfg.PairingTTL)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-sess.regenCh:
			timer.Stop()
		case <-timer.C:
			// TTL elapsed without a poll-detected success; loop around and
			// issue a replacement code.
		}
	}
}
