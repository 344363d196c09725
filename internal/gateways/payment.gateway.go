package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nimasrn/number-market/internal/model"
	"github.com/nimasrn/number-market/pkg/logger"
	"github.com/nimasrn/number-market/pkg/prom"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

var (
	ErrCircuitOpen = errors.New("payment provider circuit is open")
	ErrRejected    = errors.New("payment provider rejected the request")
)

type InvoiceRequest struct {
	PaymentID   string    `json:"payment_id"`
	UserID      int64     `json:"user_id"`
	Currency    string    `json:"currency"`
	Amount      string    `json:"amount"`
	ExpiresAt   time.Time `json:"expires_at"`
	CallbackURL string    `json:"callback_url,omitempty"`
}

type InvoiceResponse struct {
	PaymentID  string `json:"payment_id"`
	InvoiceURL string `json:"invoice_url"`
	InvoiceRef string `json:"invoice_ref"`
}

type StatusResponse struct {
	PaymentID  string               `json:"payment_id"`
	Status     model.ProviderStatus `json:"status"`
	ProviderID string               `json:"provider_id"`
	Reason     string               `json:"reason,omitempty"`
}

type Config struct {
	Name                    string
	URL                     string
	CallbackURL             string
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	RateLimit               float64
	Burst                   int
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// Dial replaces the network dialer; tests use it for in-memory listeners.
	Dial fasthttp.DialFunc
}

func DefaultConfig(name, url string) *Config {
	return &Config{
		Name:                    name,
		URL:                     url,
		Timeout:                 30 * time.Second,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		RateLimit:               10,
		Burst:                   5,
		MaxConns:                64,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// Client talks to one external payment provider. It implements the order
// engine's provider seam.
type Client struct {
	config  *Config
	http    *fasthttp.Client
	limiter *rate.Limiter
	metrics *ProviderMetrics
	breaker *breaker
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.URL == "" {
		return nil, errors.New("provider url is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("invalid provider url: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			Name:                config.Name,
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		metrics: NewProviderMetrics(),
		breaker: &breaker{
			threshold: int32(config.CircuitBreakerThreshold),
			timeout:   config.CircuitBreakerTimeout,
		},
		stopCh: make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}

	logger.Info("Payment provider client initialized", "name", config.Name, "url", config.URL, "timeout", config.Timeout)
	return c, nil
}

func (c *Client) CreateInvoice(ctx context.Context, p *model.Payment) (model.Invoice, error) {
	body, err := json.Marshal(InvoiceRequest{
		PaymentID:   p.ID,
		UserID:      p.UserID,
		Currency:    string(p.Currency),
		Amount:      p.Amount().String(),
		ExpiresAt:   p.ExpiresAt,
		CallbackURL: c.config.CallbackURL,
	})
	if err != nil {
		return model.Invoice{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	raw, err := c.call(ctx, "create_invoice", fasthttp.MethodPost, "/api/v1/invoices", body)
	if err != nil {
		return model.Invoice{}, err
	}
	var resp InvoiceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.Invoice{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	logger.Info("invoice created", "payment_id", p.ID, "provider", c.config.Name, "ref", resp.InvoiceRef)
	return model.Invoice{URL: resp.InvoiceURL, Ref: resp.InvoiceRef}, nil
}

func (c *Client) GetStatus(ctx context.Context, p *model.Payment) (model.ProviderCallback, error) {
	raw, err := c.call(ctx, "get_status", fasthttp.MethodGet, "/api/v1/invoices/"+url.PathEscape(p.ID), nil)
	if err != nil {
		return model.ProviderCallback{}, err
	}
	var resp StatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.ProviderCallback{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return model.ProviderCallback{
		PaymentID:  p.ID,
		Status:     resp.Status,
		ProviderID: resp.ProviderID,
		Reason:     resp.Reason,
	}, nil
}

// call runs one logical request with retries. Backoff doubles from
// RetryDelay; rejected requests (4xx) are not retried.
func (c *Client) call(ctx context.Context, operation, method, path string, body []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if !c.breaker.Allow(time.Now()) {
			prom.ObserveProviderRequest(operation, "circuit_open", 0)
			return nil, ErrCircuitOpen
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		raw, err := c.doRequest(ctx, method, path, body)
		elapsed := time.Since(start)

		if err == nil {
			c.metrics.RecordSuccess(elapsed.Milliseconds())
			if c.breaker.State() == StateDegraded {
				c.breaker.set(StateHealthy)
			}
			prom.ObserveProviderRequest(operation, "ok", elapsed.Seconds())
			return raw, nil
		}

		if errors.Is(err, ErrRejected) {
			prom.ObserveProviderRequest(operation, "rejected", elapsed.Seconds())
			return nil, err
		}

		c.metrics.RecordFailure()
		prom.ObserveProviderRequest(operation, "error", elapsed.Seconds())
		if c.breaker.Observe(c.metrics.ConsecutiveFails.Load(), time.Now()) {
			logger.Warn("Circuit breaker opened", "provider", c.config.Name, "timeout", c.config.CircuitBreakerTimeout)
		}
		logger.Warn("provider request failed", "provider", c.config.Name, "operation", operation, "attempt", attempt+1, "error", err)
		lastErr = err
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.URL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status == fasthttp.StatusOK || status == fasthttp.StatusCreated || status == fasthttp.StatusAccepted:
	case status >= 400 && status < 500 && status != fasthttp.StatusRequestTimeout && status != fasthttp.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrRejected, status, resp.Body())
	default:
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", status, resp.Body())
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkHealth()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) checkHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	old := c.breaker.State()
	if old == StateCircuitOpen {
		return
	}
	healthy := c.Healthy(ctx)
	next := old
	switch {
	case healthy && old != StateHealthy:
		next = StateHealthy
	case !healthy:
		next = StateUnhealthy
	}
	if next != old {
		c.breaker.set(next)
		logger.Info("Provider state changed", "provider", c.config.Name, "old_state", old.String(), "new_state", next.String())
	}
}

// Healthy asks the provider's /health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	raw, err := c.doRequest(ctx, fasthttp.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

type ProviderStats struct {
	Name             string
	URL              string
	State            string
	TotalRequests    int64
	SuccessfulReqs   int64
	FailedReqs       int64
	SuccessRate      float64
	AvgLatencyMs     int64
	P95LatencyMs     int64
	ConsecutiveFails int32
}

func (c *Client) Stats() ProviderStats {
	m := c.metrics
	return ProviderStats{
		Name:             c.config.Name,
		URL:              c.config.URL,
		State:            c.breaker.State().String(),
		TotalRequests:    m.TotalRequests.Load(),
		SuccessfulReqs:   m.SuccessfulReqs.Load(),
		FailedReqs:       m.FailedReqs.Load(),
		SuccessRate:      m.SuccessRate(),
		AvgLatencyMs:     m.AvgLatencyMs(),
		P95LatencyMs:     m.P95LatencyMs(),
		ConsecutiveFails: m.ConsecutiveFails.Load(),
	}
}

func (c *Client) Close() error {
	c.stop.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}
