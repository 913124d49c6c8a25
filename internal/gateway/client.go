package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gateway-console/internal/cache"
	"gateway-console/internal/metrics"
	"gateway-console/internal/resolver"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultListCacheTTL = 30 * time.Second
	listCacheKey        = "gateway:instances"
)

var instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,}$`)

// EndpointResolver supplies the {baseUrl, credential} pair per request.
type EndpointResolver interface {
	Resolve(ctx context.Context) (resolver.Endpoint, error)
}

// Client provides typed access to the gateway's instance resource. It is the
// only layer that sees the backend's payload shape variance; every exported
// method returns canonical records.
type Client struct {
	logger   *slog.Logger
	resolver EndpointResolver
	timeout  time.Duration
	http     *http.Client
	metrics  *metrics.Metrics
	cache    *cache.Redis
	listTTL  time.Duration
}

// Config holds gateway client configuration.
type Config struct {
	Timeout time.Duration
}

// New creates a gateway client. cache may be nil; list caching is then skipped.
func New(cfg Config, res EndpointResolver, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		logger:   logger.With("component", "gateway"),
		resolver: res,
		timeout:  timeout,
		http:     &http.Client{Timeout: timeout},
		metrics:  metricRegistry,
		cache:    redis,
		listTTL:  defaultListCacheTTL,
	}
}

// ValidateName checks an instance name against the allowed slug shape without
// touching the network.
func ValidateName(name string) error {
	if !instanceNameRe.MatchString(name) {
		return fmt.Errorf("%w: instance name %q must match [A-Za-z0-9_-] and be at least 3 characters", ErrValidation, name)
	}
	return nil
}

// Create registers a new instance under the given name.
func (c *Client) Create(ctx context.Context, name string) (*Instance, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	payload := map[string]any{"instanceName": name}
	body, err := c.do(ctx, http.MethodPost, "/instance/create", payload)
	if err != nil {
		return nil, err
	}
	c.invalidateListCache(ctx)

	data, err := decodeMap(body)
	if err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	inst := normalizeInstance(data)
	if inst.Name == "" {
		inst.Name = name
	}
	return &inst, nil
}

// List returns all instances visible to the credential. Transport failures
// surface as ErrTransport; the API layer serves the persisted snapshot cache
// in that case rather than failing the list view.
func (c *Client) List(ctx context.Context) ([]Instance, error) {
	if c.cache != nil {
		var cached []Instance
		ok, err := c.cache.GetJSON(ctx, listCacheKey, &cached)
		if err != nil {
			c.logger.Warn("read instance list cache failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	body, err := c.do(ctx, http.MethodGet, "/instance/list", nil)
	if err != nil {
		return nil, err
	}

	rows, err := decodeInstanceRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode instance list: %w", err)
	}
	instances := make([]Instance, 0, len(rows))
	for _, row := range rows {
		instances = append(instances, normalizeInstance(row))
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, listCacheKey, instances, c.listTTL); err != nil {
			c.logger.Warn("set instance list cache failed", "error", err)
		}
	}
	return instances, nil
}

// Get fetches the canonical record for one instance.
func (c *Client) Get(ctx context.Context, name string) (*Instance, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "/instance/"+name, nil)
	if err != nil {
		return nil, err
	}
	data, err := decodeMap(body)
	if err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s returned no instance payload", ErrNotFound, name)
	}
	inst := normalizeInstance(data)
	if inst.Name == "" {
		inst.Name = name
	}
	return &inst, nil
}

// StatusResult is one authoritative status observation from the backend.
type StatusResult struct {
	Status    Status
	Raw       string
	CheckedAt time.Time
}

// GetStatus fetches just the status sub-document for one instance.
func (c *Client) GetStatus(ctx context.Context, name string) (*StatusResult, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "/instance/"+name+"/status", nil)
	if err != nil {
		return nil, err
	}
	data, err := decodeMap(body)
	if err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	data = unwrapInstance(data)
	raw := firstString(data, "status", "connectionStatus", "connection_status", "state")
	return &StatusResult{
		Status:    NormalizeStatus(raw),
		Raw:       raw,
		CheckedAt: time.Now(),
	}, nil
}

// GetPairingCode fetches a fresh opaque pairing payload. Each call is expected
// to return a new code; idempotency is not assumed.
func (c *Client) GetPairingCode(ctx context.Context, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	body, err := c.do(ctx, http.MethodGet, "/instance/"+name+"/qrcode", nil)
	if err != nil {
		return "", err
	}
	data, err := decodeMap(body)
	if err != nil {
		return "", fmt.Errorf("decode pairing code: %w", err)
	}
	data = unwrapInstance(data)
	code := firstString(data, "code", "qr_code", "qrcode", "base64", "pairingCode")
	if code == "" {
		return "", fmt.Errorf("%w: %s returned no code", ErrPairingFetch, name)
	}
	return code, nil
}

// Connect asks the backend to start connecting the instance. The cached record
// is not mutated locally; the backend is the only source of truth for status.
func (c *Client) Connect(ctx context.Context, name string) error {
	return c.mutate(ctx, http.MethodPost, name, "/connect")
}

// Restart restarts the instance's backend worker.
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.mutate(ctx, http.MethodPut, name, "/restart")
}

// Logout unlinks the instance from the messaging network.
func (c *Client) Logout(ctx context.Context, name string) error {
	return c.mutate(ctx, http.MethodPost, name, "/logout")
}

// Delete removes the instance entirely.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.mutate(ctx, http.MethodDelete, name, "")
}

// mutate validates the name before it is interpolated into the request path,
// so a name carrying path or query metacharacters can never reach another
// gateway route.
func (c *Client) mutate(ctx context.Context, method, name, action string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := c.do(ctx, method, "/instance/"+name+action, nil); err != nil {
		return err
	}
	c.invalidateListCache(ctx)
	return nil
}

func (c *Client) invalidateListCache(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, listCacheKey); err != nil {
		c.logger.Warn("invalidate instance list cache failed", "error", err)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	endpointCfg, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway endpoint: %w", err)
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointCfg.BaseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gateway-console/client")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if endpointCfg.Credential != "" {
		req.Header.Set("X-API-Key", endpointCfg.Credential)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.GatewayRequests.WithLabelValues(endpoint, "error").Inc()
		}
		return nil, classifyTransportError(endpoint, err)
	}
	defer res.Body.Close()

	duration := time.Since(start).Seconds()
	statusLabel := fmt.Sprintf("%d", res.StatusCode)
	if c.metrics != nil {
		c.metrics.GatewayRequests.WithLabelValues(endpoint, statusLabel).Inc()
		c.metrics.GatewayLatency.WithLabelValues(endpoint, statusLabel).Observe(duration)
	}

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return nil, classifyHTTPError(endpoint, res.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

func decodeMap(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "" || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeInstanceRows accepts a bare array, {instances:[...]} or {data:[...]}.
func decodeInstanceRows(raw []byte) ([]map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var direct []map[string]any
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	for _, key := range []string{"instances", "data"} {
		if nested, ok := wrapped[key]; ok {
			var rows []map[string]any
			if err := json.Unmarshal(nested, &rows); err == nil {
				return rows, nil
			}
		}
	}
	return nil, nil
}
