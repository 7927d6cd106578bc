package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API.
// Inbound Twilio messages arrive through the HTTP webhook, so Responses only
// carries messages pushed with Deliver.
type TwilioService struct {
	client    twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	responses chan models.InboundMessage
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService around client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+1...", "+1..." or bare digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := CanonicalizeIdentity(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the responses channel and rejects further sends.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	return nil
}

// SendMessage sends a message via Twilio to the recipient's WhatsApp address.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, twiliowhatsapp.Address(canonicalTo), body)
}

// Responses returns the channel for messages pushed with Deliver.
func (s *TwilioService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// Deliver queues an inbound message for the response handler loop. Messages are
// dropped when the service is stopped or the channel stays full.
func (s *TwilioService) Deliver(msg models.InboundMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound message (service stopped)", "from", msg.From)
		return
	}

	select {
	case s.responses <- msg:
		slog.Debug("TwilioService emitted inbound message", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", msg.From)
	}
}

// ParseTwilioWebhook extracts the inbound message from a Twilio webhook request.
// From keeps its transport address; canonicalization happens in the handler.
func ParseTwilioWebhook(r *http.Request) (models.InboundMessage, error) {
	if err := r.ParseForm(); err != nil {
		return models.InboundMessage{}, fmt.Errorf("failed to parse webhook form: %w", err)
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" {
		return models.InboundMessage{}, fmt.Errorf("missing required field From")
	}

	return models.InboundMessage{
		MessageID: r.FormValue("MessageSid"),
		From:      from,
		Body:      body,
		Time:      time.Now().Unix(),
	}, nil
}

// FormParams flattens the parsed POST form for signature validation.
func FormParams(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
