package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// LogService is a Service that writes outbound messages to the log instead of a
// transport. Used for local development.
type LogService struct {
	responses chan models.InboundMessage
	once      sync.Once
}

// NewLogService creates a LogService.
func NewLogService() *LogService {
	return &LogService{responses: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (s *LogService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeIdentity(recipient)
}

func (s *LogService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Info("LogService.SendMessage", "to", to, "body", body)
	return nil
}

func (s *LogService) Start(ctx context.Context) error {
	return nil
}

func (s *LogService) Stop() error {
	s.once.Do(func() { close(s.responses) })
	return nil
}

func (s *LogService) Responses() <-chan models.InboundMessage {
	return s.responses
}
