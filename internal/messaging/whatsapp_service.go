package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppClient is the slice of the whatsmeow client the service needs.
type WhatsAppClient interface {
	whatsapp.Sender
	whatsapp.MessageSource
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    WhatsAppClient
	responses chan models.InboundMessage
	mu        sync.RWMutex
	started   bool
	stopped   bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given client.
func NewWhatsAppService(client WhatsAppClient) *WhatsAppService {
	return &WhatsAppService{
		client:    client,
		responses: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient returns the "+digits" identity for recipient.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeIdentity(recipient)
}

// Start registers the inbound message handler. Calling it twice is a no-op.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	s.client.OnMessage(s.handleIncomingMessage)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop closes the responses channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message through the linked device.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// Responses returns a channel of incoming messages.
func (s *WhatsAppService) Responses() <-chan models.InboundMessage {
	return s.responses
}

// handleIncomingMessage forwards direct text messages from other users.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt == nil || evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	sender, ok := phoneNumberSender(evt.Info.MessageSource)
	if !ok {
		slog.Warn("WhatsAppService sender has no phone number, dropping message", "sender", evt.Info.Sender.String(), "message_id", evt.Info.ID)
		return
	}

	msg := models.InboundMessage{
		MessageID: string(evt.Info.ID),
		From:      "+" + sender.User,
		Body:      messageText,
		Time:      evt.Info.Timestamp.Unix(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.responses <- msg:
		slog.Debug("WhatsAppService incoming message forwarded", "from", msg.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}

// phoneNumberSender returns the phone-number JID of the sender. Chats addressed by
// LID carry the phone number in SenderAlt when the server shares it.
func phoneNumberSender(src types.MessageSource) (types.JID, bool) {
	if src.Sender.Server == types.DefaultUserServer && src.Sender.User != "" {
		return src.Sender, true
	}
	if src.SenderAlt.Server == types.DefaultUserServer && src.SenderAlt.User != "" {
		return src.SenderAlt, true
	}
	return types.JID{}, false
}
