package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrUnknownRegion      = errors.New("unknown provider region")
	ErrRegionUnavailable  = errors.New("provider region circuit open")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrUnformattablePhone = errors.New("phone number cannot be formatted")
)

// Region identifies which WaChap instance carries a message.
type Region string

const (
	RegionMali  Region = "mali"
	RegionChine Region = "chine"
)

// SendRequest is one outbound WhatsApp message.
type SendRequest struct {
	Phone          string
	Message        string
	SenderRole     string
	RegionOverride string
}

// SendResponse is the provider acknowledgement for an accepted message.
type SendResponse struct {
	ProviderMessageID string
	Region            Region
	RawBody           []byte
}

// SendError carries the provider failure detail the caller persists on the
// attempt record.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("wachap send failed (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("wachap send failed: %s", e.Message)
}

// wachapPayload is the wire format the WaChap API expects. The number field
// carries no leading plus sign.
type wachapPayload struct {
	Number      string `json:"number"`
	Type        string `json:"type"`
	Message     string `json:"message"`
	InstanceID  string `json:"instance_id"`
	AccessToken string `json:"access_token"`
}

type wachapResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// RegionConfig holds the credentials of one WaChap instance.
type RegionConfig struct {
	BaseURL     string
	AccessToken string
	InstanceID  string
}

type Config struct {
	Regions map[Region]RegionConfig

	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int

	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// regionMetrics tracks per-instance outcomes for monitoring and the circuit
// breaker.
type regionMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64
}

func (m *regionMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())
}

func (m *regionMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *regionMetrics) AvgLatencyMs() int64 {
	total := m.SuccessfulReqs.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

func (m *regionMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

type regionInstance struct {
	region           Region
	config           RegionConfig
	metrics          *regionMetrics
	circuitOpenUntil atomic.Int64
}

func (r *regionInstance) available() bool {
	return time.Now().Unix() > r.circuitOpenUntil.Load()
}

// Client routes messages to the WaChap instance serving the recipient's
// region.
type Client struct {
	config    *Config
	client    *fasthttp.Client
	instances map[Region]*regionInstance
	mu        sync.RWMutex
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Regions) == 0 {
		return nil, errors.New("at least one region is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}
	if config.CircuitBreakerTimeout <= 0 {
		config.CircuitBreakerTimeout = time.Minute
	}

	c := &Client{
		config: config,
		client: &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			ReadBufferSize:      config.ReadBufferSize,
			WriteBufferSize:     config.WriteBufferSize,
		},
		instances: make(map[Region]*regionInstance, len(config.Regions)),
	}

	for region, rc := range config.Regions {
		c.instances[region] = &regionInstance{
			region:  region,
			config:  rc,
			metrics: &regionMetrics{},
		}
		logger.Info("WaChap region initialized", "region", string(region), "url", rc.BaseURL)
	}

	return c, nil
}

// ResolveRegion picks the WaChap instance for a message. An explicit override
// wins, then the sender's role, then the phone prefix. Mali is the fallback.
func ResolveRegion(phone, senderRole, override string) Region {
	switch strings.ToLower(strings.TrimSpace(override)) {
	case string(RegionMali):
		return RegionMali
	case string(RegionChine):
		return RegionChine
	}

	switch strings.ToLower(strings.TrimSpace(senderRole)) {
	case "agent_chine", "admin_chine":
		return RegionChine
	case "agent_mali", "admin_mali", "system":
		return RegionMali
	}

	formatted, err := FormatPhone(phone)
	if err == nil {
		if strings.HasPrefix(formatted, "+86") {
			return RegionChine
		}
	}
	return RegionMali
}

// FormatPhone normalizes a raw phone number to international form. Numbers
// without a country code are assumed to be Malian.
func FormatPhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", ErrUnformattablePhone
	}

	if strings.HasPrefix(cleaned, "+") {
		digits := cleaned[1:]
		if digits == "" || !isDigits(digits) {
			return "", ErrUnformattablePhone
		}
		return cleaned, nil
	}

	if !isDigits(cleaned) {
		return "", ErrUnformattablePhone
	}

	switch {
	case strings.HasPrefix(cleaned, "00"):
		return "+" + cleaned[2:], nil
	case strings.HasPrefix(cleaned, "223") && len(cleaned) > 8:
		return "+" + cleaned, nil
	case strings.HasPrefix(cleaned, "0"):
		return "+223" + cleaned[1:], nil
	default:
		return "+223" + cleaned, nil
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Send delivers one message through the resolved region's WaChap instance.
// The returned SendResponse carries the provider message id used later to
// match delivery webhooks.
func (c *Client) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	phone, err := FormatPhone(req.Phone)
	if err != nil {
		return nil, &SendError{Code: "invalid_phone", Message: fmt.Sprintf("cannot format %q", req.Phone)}
	}

	region := ResolveRegion(phone, req.SenderRole, req.RegionOverride)
	instance, ok := c.instances[region]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}

	if !instance.available() {
		return nil, fmt.Errorf("%w: %s", ErrRegionUnavailable, region)
	}

	payload := wachapPayload{
		Number:      strings.TrimPrefix(phone, "+"),
		Type:        "text",
		Message:     req.Message,
		InstanceID:  instance.config.InstanceID,
		AccessToken: instance.config.AccessToken,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	startTime := time.Now()
	respBody, statusCode, err := c.doRequest(ctx, instance, body)
	latency := time.Since(startTime).Milliseconds()

	if err != nil {
		instance.metrics.RecordFailure()
		c.checkCircuitBreaker(instance)

		logger.Warn("WaChap request failed", "region", string(region), "error", err)

		return nil, &SendError{Code: "provider_unreachable", Message: err.Error()}
	}

	var parsed wachapResponse
	if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil {
		parsed = wachapResponse{}
	}

	if statusCode != fasthttp.StatusOK || strings.EqualFold(parsed.Status, "error") {
		instance.metrics.RecordFailure()
		c.checkCircuitBreaker(instance)

		msg := parsed.Error
		if msg == "" {
			msg = parsed.Message
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status code %d", statusCode)
		}

		logger.Warn("WaChap rejected message", "region", string(region), "status_code", statusCode, "error", msg)

		return nil, &SendError{Code: fmt.Sprintf("http_%d", statusCode), Message: msg}
	}

	instance.metrics.RecordSuccess(latency)

	providerMessageID := parsed.ID
	if providerMessageID == "" {
		providerMessageID = parsed.MessageID
	}

	logger.Info("WhatsApp message accepted",
		"region", string(region),
		"provider_message_id", providerMessageID,
		"latency_ms", latency)

	return &SendResponse{
		ProviderMessageID: providerMessageID,
		Region:            region,
		RawBody:           respBody,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, instance *regionInstance, body []byte) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimSuffix(instance.config.BaseURL, "/") + "/send")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, resp.StatusCode(), nil
}

func (c *Client) checkCircuitBreaker(instance *regionInstance) {
	consecutiveFails := instance.metrics.ConsecutiveFails.Load()
	if consecutiveFails >= int32(c.config.CircuitBreakerThreshold) {
		openUntil := time.Now().Add(c.config.CircuitBreakerTimeout).Unix()
		instance.circuitOpenUntil.Store(openUntil)

		logger.Warn("Circuit breaker opened",
			"region", string(instance.region),
			"consecutive_fails", consecutiveFails,
			"timeout", c.config.CircuitBreakerTimeout)
	}
}

// RegionStats is the monitoring view of one WaChap instance.
type RegionStats struct {
	Region           string  `json:"region"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessfulReqs   int64   `json:"successful_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	LastLatencyMs    int64   `json:"last_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
	CircuitOpen      bool    `json:"circuit_open"`
}

// GetRegionStats returns per-region request statistics.
func (c *Client) GetRegionStats() []RegionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]RegionStats, 0, len(c.instances))
	for _, instance := range c.instances {
		stats = append(stats, RegionStats{
			Region:           string(instance.region),
			TotalRequests:    instance.metrics.TotalRequests.Load(),
			SuccessfulReqs:   instance.metrics.SuccessfulReqs.Load(),
			FailedReqs:       instance.metrics.FailedReqs.Load(),
			SuccessRate:      instance.metrics.SuccessRate(),
			AvgLatencyMs:     instance.metrics.AvgLatencyMs(),
			LastLatencyMs:    instance.metrics.LastLatencyMs.Load(),
			ConsecutiveFails: instance.metrics.ConsecutiveFails.Load(),
			CircuitOpen:      !instance.available(),
		})
	}
	return stats
}
