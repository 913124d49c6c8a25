package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gateway-console/internal/metrics"
)

type captureProcessor struct {
	mu     sync.Mutex
	events []WebhookEvent
}

func (p *captureProcessor) HandleGatewayEvent(ctx context.Context, event WebhookEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *captureProcessor) last() (WebhookEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return WebhookEvent{}, false
	}
	return p.events[len(p.events)-1], true
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	proc := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "topsecret", proc)

	body := `{"event":"connection.update","instance":"demo"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, ok := proc.last(); ok {
		t.Fatal("rejected delivery must not reach the processor")
	}
}

func TestWebhookAcceptsValidSignature(t *testing.T) {
	proc := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "topsecret", proc)

	body := `{"event":"connection.update","instance":"demo"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign("topsecret", []byte(body)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	event, ok := proc.last()
	if !ok {
		t.Fatal("processor did not receive the event")
	}
	if event.Type != "connection.update" || event.Instance != "demo" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestWebhookEmptySecretSkipsVerification(t *testing.T) {
	proc := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "", proc)

	body := `{"type":"qrcode.updated","instanceName":"demo"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	event, _ := proc.last()
	if event.Type != "qrcode.updated" || event.Instance != "demo" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "", nil)
	req := httptest.NewRequest(http.MethodGet, "/webhook/gateway", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookEventTypeFromHeader(t *testing.T) {
	proc := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "", proc)

	req := httptest.NewRequest(http.MethodPost, "/webhook/gateway", strings.NewReader(`{"instance":"demo"}`))
	req.Header.Set("X-Gateway-Event", "instance.deleted")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	event, _ := proc.last()
	if event.Type != "instance.deleted" {
		t.Fatalf("header event type must win, got %q", event.Type)
	}
}
