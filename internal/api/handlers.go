package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/messaging"
	"rsc.io/qr"
)

// webhookHandler handles POST /api/chatbot/message from Twilio. Every accepted
// message is answered 200, including turns that failed.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	msg, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		slog.Warn("Server.webhookHandler: malformed webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "Bad request"})
		return
	}

	if s.validator != nil {
		signature := r.Header.Get("X-Twilio-Signature")
		if !s.validator.Validate(s.webhookURL, messaging.FormParams(r), signature) {
			slog.Warn("Server.webhookHandler: invalid signature", "from", msg.From)
			writeJSONResponse(w, http.StatusForbidden, errorResponse{Error: "Forbidden"})
			return
		}
	}

	slog.Debug("Server.webhookHandler: inbound message", "from", msg.From, "message_id", msg.MessageID)

	// The turn runs to completion even if the transport drops the connection.
	ctx := context.WithoutCancel(r.Context())
	if err := s.processor.ProcessResponse(ctx, msg); err != nil {
		slog.Error("Server.webhookHandler: turn failed", "from", msg.From, "error", err)
	}
	writeTextResponse(w, http.StatusOK, WebhookAck)
}

// DeepLink returns the wa.me link that opens a chat with number pre-filled with greeting.
func DeepLink(number, greeting string) (string, error) {
	identity, err := messaging.CanonicalizeIdentity(number)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://wa.me/%s?text=%s", identity[1:], url.QueryEscape(greeting)), nil
}

// qrHandler serves GET /qr, a PNG QR code of the bot's deep link.
func (s *Server) qrHandler(w http.ResponseWriter, r *http.Request) {
	link, err := DeepLink(s.botNumber, s.greeting)
	if err != nil {
		slog.Error("Server.qrHandler: bot number not configured", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, errorResponse{Error: "QR code unavailable"})
		return
	}

	code, err := qr.Encode(link, qr.M)
	if err != nil {
		slog.Error("Server.qrHandler: encode failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(code.PNG()); err != nil {
		slog.Error("Server.qrHandler: write failed", "error", err)
	}
}

// Health status values reported by GET /healthz.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    HealthOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	statusCode := http.StatusOK
	if s.healthCheck != nil {
		if err := s.healthCheck(ctx); err != nil {
			slog.Warn("Health check failed", "error", err)
			healthData["status"] = HealthDegraded
			healthData["error"] = "Dependency check failed"
			statusCode = http.StatusServiceUnavailable
		}
	}

	writeJSONResponse(w, statusCode, healthData)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusNotFound, errorResponse{Error: "Not Found"})
}
