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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendRequest is the payload a WaChap instance accepts. The number carries no
// leading plus sign.
type SendRequest struct {
	Number      string `json:"number" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Message     string `json:"message" binding:"required"`
	InstanceID  string `json:"instance_id" binding:"required"`
	AccessToken string `json:"access_token" binding:"required"`
}

// SendResponse mirrors the WaChap success and failure bodies.
type SendResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusCallback is the webhook WaChap posts when a message moves through
// delivered and read.
type StatusCallback struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Phone     string `json:"phone"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status       string    `json:"status"`
	InstanceID   string    `json:"instance_id"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
}

// MockInstance simulates one WaChap WhatsApp instance.
type MockInstance struct {
	instanceID   string
	accessToken  string
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	callbackURL  string
	rng          *rand.Rand
}

// NewMockInstance creates a new mock WaChap instance
func NewMockInstance(instanceID, accessToken, callbackURL string, deliveryRate float64, minDelay, maxDelay time.Duration) *MockInstance {
	return &MockInstance{
		instanceID:   instanceID,
		accessToken:  accessToken,
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		callbackURL:  callbackURL,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// accept simulates taking one message and returns its provider id, or an
// error code when the instance "fails" the send.
func (m *MockInstance) accept(req *SendRequest) (string, string) {
	time.Sleep(m.randomDelay())

	if !m.shouldSucceed() {
		code := m.randomErrorCode()
		log.Warn().
			Str("phone", req.Number).
			Str("error_code", code).
			Msg("message rejected")
		return "", code
	}

	id := "wamid." + uuid.New().String()
	log.Info().
		Str("phone", req.Number).
		Str("message_id", id).
		Msg("message accepted")
	return id, ""
}

// emitStatusCallbacks pushes a delivery callback and, usually, a read
// callback for an accepted message. WaChap sends these minutes later in
// production; the mock compresses the timeline to seconds.
func (m *MockInstance) emitStatusCallbacks(messageID, phone string) {
	if m.callbackURL == "" {
		return
	}

	post := func(webhookType, status string) {
		body, _ := json.Marshal(StatusCallback{
			Type:      webhookType,
			Status:    status,
			ID:        messageID,
			MessageID: messageID,
			Phone:     phone,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		resp, err := http.Post(m.callbackURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Str("message_id", messageID).Msg("callback delivery failed")
			return
		}
		defer resp.Body.Close()
		log.Info().
			Str("message_id", messageID).
			Str("type", webhookType).
			Int("status_code", resp.StatusCode).
			Msg("callback posted")
	}

	time.Sleep(m.randomDelay())
	post("delivery", "delivered")

	// Most recipients open the message; some never do.
	if m.rng.Float64() < 0.8 {
		time.Sleep(m.randomDelay())
		post("read", "read")
	}
}

func (m *MockInstance) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockInstance) shouldSucceed() bool {
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockInstance) randomErrorCode() string {
	errorCodes := []string{
		"invalid_number",
		"not_on_whatsapp",
		"instance_disconnected",
		"rate_limited",
		"timeout",
	}
	return errorCodes[m.rng.Intn(len(errorCodes))]
}

func errorMessage(code string) string {
	messages := map[string]string{
		"invalid_number":        "The phone number is invalid or not in service",
		"not_on_whatsapp":       "The number has no WhatsApp account",
		"instance_disconnected": "The WhatsApp instance lost its session",
		"rate_limited":          "Too many messages, slow down",
		"timeout":               "Message send timed out",
	}
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Unknown error occurred"
}

// Handler struct holds the mock instance and routes
type Handler struct {
	instance *MockInstance
}

func NewHandler(instance *MockInstance) *Handler {
	return &Handler{instance: instance}
}

// Send handles message send requests the way a WaChap instance does.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, SendResponse{
			Status: "error",
			Error:  "invalid request: " + err.Error(),
		})
		return
	}

	if req.InstanceID != h.instance.instanceID || req.AccessToken != h.instance.accessToken {
		c.JSON(http.StatusUnauthorized, SendResponse{
			Status: "error",
			Error:  "invalid instance credentials",
		})
		return
	}

	if req.Type != "text" {
		c.JSON(http.StatusBadRequest, SendResponse{
			Status: "error",
			Error:  "unsupported message type " + req.Type,
		})
		return
	}

	log.Info().
		Str("phone", req.Number).
		Int("length", len(req.Message)).
		Msg("received send request")

	id, errCode := h.instance.accept(&req)
	if errCode != "" {
		c.JSON(http.StatusUnprocessableEntity, SendResponse{
			Status:  "error",
			Error:   errCode,
			Message: errorMessage(errCode),
		})
		return
	}

	go h.instance.emitStatusCallbacks(id, req.Number)

	c.JSON(http.StatusOK, SendResponse{
		Status:    "success",
		ID:        id,
		MessageID: id,
		Message:   "Message queued for sending",
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		InstanceID:   h.instance.instanceID,
		Timestamp:    time.Now(),
		DeliveryRate: h.instance.deliveryRate,
	})
}

// UpdateConfig allows changing instance behaviour at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
		CallbackURL  *string  `json:"callback_url"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.DeliveryRate != nil {
		if *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
			h.instance.deliveryRate = *config.DeliveryRate
			log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
		}
	}
	if config.CallbackURL != nil {
		h.instance.callbackURL = *config.CallbackURL
		log.Info().Str("callback_url", *config.CallbackURL).Msg("Updated callback url")
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Configuration updated",
		"delivery_rate": h.instance.deliveryRate,
		"callback_url":  h.instance.callbackURL,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	// Add request logging middleware
	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	router.POST("/send", handler.Send)
	router.GET("/health", handler.HealthCheck)
	router.PUT("/config", handler.UpdateConfig)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Get configuration from environment
	port := getEnv("PORT", "8081")
	instanceID := getEnv("INSTANCE_ID", "mock-instance")
	accessToken := getEnv("ACCESS_TOKEN", "mock-token")
	callbackURL := getEnv("CALLBACK_URL", "")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 200*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 2*time.Second)

	log.Info().
		Str("port", port).
		Str("instance_id", instanceID).
		Str("callback_url", callbackURL).
		Float64("delivery_rate", deliveryRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock WaChap Instance")

	instance := NewMockInstance(instanceID, accessToken, callbackURL, deliveryRate, minDelay, maxDelay)
	handler := NewHandler(instance)
	router := SetupRouter(handler)

	// Setup HTTP server
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
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
