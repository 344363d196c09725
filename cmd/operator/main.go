package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimasrn/number-market/internal/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "pending"
	StatusSucceeded InvoiceStatus = "succeeded"
	StatusFailed    InvoiceStatus = "failed"
)

type CreateInvoiceRequest struct {
	PaymentID   string    `json:"payment_id" binding:"required"`
	UserID      int64     `json:"user_id"`
	Currency    string    `json:"currency" binding:"required"`
	Amount      string    `json:"amount" binding:"required"`
	ExpiresAt   time.Time `json:"expires_at"`
	CallbackURL string    `json:"callback_url"`
}

type CreateInvoiceResponse struct {
	PaymentID  string `json:"payment_id"`
	InvoiceURL string `json:"invoice_url"`
	InvoiceRef string `json:"invoice_ref"`
}

// StatusResponse doubles as the callback body posted to the shop.
type StatusResponse struct {
	PaymentID  string        `json:"payment_id"`
	Status     InvoiceStatus `json:"status"`
	ProviderID string        `json:"provider_id"`
	Reason     string        `json:"reason,omitempty"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	ProviderID  string    `json:"provider_id"`
	Timestamp   time.Time `json:"timestamp"`
	SuccessRate float64   `json:"success_rate"`
}

type invoice struct {
	req    CreateInvoiceRequest
	ref    string
	status InvoiceStatus
	reason string
}

// MockProvider simulates a card payment provider: it issues invoices,
// settles them after a random delay and posts the outcome back.
type MockProvider struct {
	mu          sync.Mutex
	invoices    map[string]*invoice
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
	providerID  string
	secret      []byte
	rng         *rand.Rand
	client      *http.Client
}

// NewMockProvider signs every callback it posts with secret.
func NewMockProvider(secret string, successRate float64, minDelay, maxDelay time.Duration) *MockProvider {
	return &MockProvider{
		invoices:    make(map[string]*invoice),
		secret:      []byte(secret),
		successRate: successRate,
		minDelay:    minDelay,
		maxDelay:    maxDelay,
		providerID:  "MOCK_PROVIDER_" + uuid.New().String()[:8],
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// open registers an invoice. Re-opening the same payment returns the
// existing invoice.
func (m *MockProvider) open(req CreateInvoiceRequest) (*invoice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invoices[req.PaymentID]; ok {
		return inv, false
	}
	inv := &invoice{req: req, ref: "INV-" + uuid.New().String()[:12], status: StatusPending}
	m.invoices[req.PaymentID] = inv
	return inv, true
}

func (m *MockProvider) status(paymentID string) (StatusResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[paymentID]
	if !ok {
		return StatusResponse{}, false
	}
	return StatusResponse{PaymentID: paymentID, Status: inv.status, ProviderID: inv.ref, Reason: inv.reason}, true
}

// settle decides the outcome once the simulated payer is done and posts
// the callback.
func (m *MockProvider) settle(paymentID string) {
	time.Sleep(m.randomDelay())

	m.mu.Lock()
	inv, ok := m.invoices[paymentID]
	if !ok || inv.status != StatusPending {
		m.mu.Unlock()
		return
	}
	switch {
	case !inv.req.ExpiresAt.IsZero() && time.Now().After(inv.req.ExpiresAt):
		inv.status, inv.reason = StatusFailed, "invoice expired"
	case m.rng.Float64() < m.successRate:
		inv.status = StatusSucceeded
	default:
		inv.status, inv.reason = StatusFailed, m.randomDecline()
	}
	body := StatusResponse{PaymentID: paymentID, Status: inv.status, ProviderID: inv.ref, Reason: inv.reason}
	callbackURL := inv.req.CallbackURL
	m.mu.Unlock()

	log.Info().
		Str("payment_id", paymentID).
		Str("status", string(body.Status)).
		Str("reason", body.Reason).
		Msg("Invoice settled")

	if callbackURL != "" {
		m.postCallback(callbackURL, body)
	}
}

func (m *MockProvider) postCallback(url string, body StatusResponse) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode callback")
		return
	}
	signature := handlers.SignCallback(m.secret, payload)
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("Failed to build callback request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(handlers.SignatureHeader, signature)

		resp, err := m.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				return
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		log.Warn().
			Err(err).
			Str("payment_id", body.PaymentID).
			Int("attempt", attempt).
			Msg("Callback delivery failed")
		time.Sleep(time.Duration(attempt) * time.Second)
	}
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) randomDecline() string {
	reasons := []string{
		"card declined",
		"insufficient funds on card",
		"3ds authentication failed",
		"issuer unavailable",
	}
	return reasons[m.rng.Intn(len(reasons))]
}

type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

func (h *Handler) CreateInvoice(c *gin.Context) {
	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	inv, created := h.provider.open(req)
	log.Info().
		Str("payment_id", req.PaymentID).
		Str("amount", req.Amount).
		Str("currency", req.Currency).
		Bool("created", created).
		Msg("Invoice requested")

	if created {
		go h.provider.settle(req.PaymentID)
	}

	c.JSON(http.StatusOK, CreateInvoiceResponse{
		PaymentID:  req.PaymentID,
		InvoiceURL: "https://pay.example.invalid/i/" + inv.ref,
		InvoiceRef: inv.ref,
	})
}

func (h *Handler) GetStatus(c *gin.Context) {
	resp, ok := h.provider.status(c.Param("payment_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		ProviderID:  h.provider.providerID,
		Timestamp:   time.Now(),
		SuccessRate: h.provider.successRate,
	})
}

func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		SuccessRate *float64 `json:"success_rate"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.provider.mu.Lock()
	if config.SuccessRate != nil && *config.SuccessRate >= 0 && *config.SuccessRate <= 1.0 {
		h.provider.successRate = *config.SuccessRate
		log.Info().Float64("rate", *config.SuccessRate).Msg("Updated success rate")
	}
	rate := h.provider.successRate
	h.provider.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"success_rate": rate})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/invoices", handler.CreateInvoice)
		v1.GET("/invoices/:payment_id", handler.GetStatus)
		v1.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	successRate := getEnvFloat("SUCCESS_RATE", 0.9)
	minDelay := getEnvDuration("MIN_DELAY", 2*time.Second)
	maxDelay := getEnvDuration("MAX_DELAY", 10*time.Second)
	secret := os.Getenv("CALLBACK_SECRET")
	if secret == "" {
		log.Fatal().Msg("CALLBACK_SECRET is required")
	}

	log.Info().
		Str("port", port).
		Float64("success_rate", successRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting mock payment provider")

	router := SetupRouter(NewHandler(NewMockProvider(secret, successRate, minDelay, maxDelay)))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
