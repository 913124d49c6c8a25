package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gateway-console/internal/metrics"
)

// WebhookEvent contains metadata and payload from a gateway webhook delivery.
type WebhookEvent struct {
	Type       string
	Instance   string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// WebhookProcessor handles gateway events. Processors treat events as hints
// only; the status poll loop remains the sole authority for connection state.
type WebhookProcessor interface {
	HandleGatewayEvent(ctx context.Context, event WebhookEvent) error
}

// WebhookHandler verifies gateway webhook signatures and forwards events.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor WebhookProcessor
}

// NewWebhookHandler creates a webhook handler. An empty secret disables
// signature verification (local development only).
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, secret string, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "gateway_webhook"),
		metrics:   metricRegistry,
		secret:    secret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.Errors.WithLabelValues("gateway_webhook").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.validateSignature(r, body) {
		h.metrics.Errors.WithLabelValues("gateway_webhook_auth").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	event := WebhookEvent{
		Type:       detectEventType(r.Header, body),
		Instance:   detectInstance(body),
		Payload:    body,
		ReceivedAt: time.Now(),
	}
	h.metrics.WebhookEvents.WithLabelValues(event.Type).Inc()

	if h.processor != nil {
		if err := h.processor.HandleGatewayEvent(r.Context(), event); err != nil {
			h.logger.Error("failed processing webhook", "error", err, "event", event.Type, "instance", event.Instance)
			h.metrics.Errors.WithLabelValues("gateway_webhook_process").Inc()
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *WebhookHandler) validateSignature(r *http.Request, body []byte) bool {
	if h.secret == "" {
		return true
	}
	signature := strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
	if signature == "" {
		signature = strings.TrimSpace(r.Header.Get("X-Signature"))
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func detectEventType(header http.Header, body []byte) string {
	for _, key := range []string{"X-Gateway-Event", "X-Event-Type", "X-Event"} {
		if val := header.Get(key); val != "" {
			return val
		}
	}

	var generic struct {
		Type      string `json:"type"`
		Event     string `json:"event"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(body, &generic); err == nil {
		if generic.EventType != "" {
			return generic.EventType
		}
		if generic.Type != "" {
			return generic.Type
		}
		if generic.Event != "" {
			return generic.Event
		}
	}
	return "unknown"
}

func detectInstance(body []byte) string {
	data, err := decodeMap(body)
	if err != nil {
		return ""
	}
	return firstString(data, "instance", "instanceName", "instance_name", "name")
}
