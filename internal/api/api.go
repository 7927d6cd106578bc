// Package api provides the HTTP server for the chatbot.
//
// It exposes the inbound Twilio webhook, a QR code deep link to start a chat with the
// bot, a health check, and prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/twiliowhatsapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":5000"
	// DefaultGreeting pre-fills the chat opened by the QR code
	DefaultGreeting = "Hi"
	// WebhookPath receives inbound Twilio messages
	WebhookPath = "/api/chatbot/message"
	// WebhookAck is the body returned to the transport for every accepted webhook
	WebhookAck = "Message processed"
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout = 10 * time.Second
	// ReadHeaderTimeout bounds slow clients
	ReadHeaderTimeout = 10 * time.Second
)

// Processor runs one conversation turn for an inbound message.
type Processor interface {
	ProcessResponse(ctx context.Context, msg models.InboundMessage) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	BotNumber   string
	Greeting    string
	Validator   *twiliowhatsapp.SignatureValidator
	WebhookURL  string
	Gatherer    prometheus.Gatherer
	HealthCheck func(ctx context.Context) error
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBotNumber sets the bot's phone number encoded by GET /qr.
func WithBotNumber(number string) Option {
	return func(o *Opts) { o.BotNumber = number }
}

// WithGreeting sets the text pre-filled by the QR deep link.
func WithGreeting(greeting string) Option {
	return func(o *Opts) { o.Greeting = greeting }
}

// WithSignatureValidation rejects webhooks whose X-Twilio-Signature does not match
// publicURL, the externally visible URL of the webhook.
func WithSignatureValidation(v *twiliowhatsapp.SignatureValidator, publicURL string) Option {
	return func(o *Opts) {
		o.Validator = v
		o.WebhookURL = publicURL
	}
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// WithHealthCheck reports degraded health when check fails.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(o *Opts) { o.HealthCheck = check }
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	processor   Processor
	addr        string
	botNumber   string
	greeting    string
	validator   *twiliowhatsapp.SignatureValidator
	webhookURL  string
	gatherer    prometheus.Gatherer
	healthCheck func(ctx context.Context) error
	router      chi.Router
}

// NewServer creates a Server routing webhooks to processor.
func NewServer(processor Processor, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		processor:   processor,
		addr:        cfg.Addr,
		botNumber:   cfg.BotNumber,
		greeting:    cfg.Greeting,
		validator:   cfg.Validator,
		webhookURL:  cfg.WebhookURL,
		gatherer:    cfg.Gatherer,
		healthCheck: cfg.HealthCheck,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post(WebhookPath, s.webhookHandler)
	r.Get("/qr", s.qrHandler)
	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.NotFound(notFoundHandler)
	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
