package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/dispatch"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/flow"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/metrics"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/store"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/turn"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/util"
)

// DefaultLaneIdleTimeout is how long a per-identity lane waits for more messages
// before its goroutine exits.
const DefaultLaneIdleTimeout = 30 * time.Second

// TurnExecutor runs the effects of one transition.
type TurnExecutor interface {
	Execute(ctx context.Context, effects []flow.Effect) dispatch.Result
}

// Opts holds configuration options for the ResponseHandler.
type Opts struct {
	Dedup       store.DedupRepo
	Metrics     *metrics.Metrics
	Coordinator *turn.Coordinator
	LaneIdle    time.Duration
	LaneBuffer  int
}

// Option defines a configuration option for the ResponseHandler.
type Option func(*Opts)

// WithDedup enables redelivery dedup for messages that carry a MessageID.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = d }
}

// WithMetrics records turn metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithCoordinator sets the coordinator that serializes turns per identity.
func WithCoordinator(c *turn.Coordinator) Option {
	return func(o *Opts) { o.Coordinator = c }
}

// WithLaneIdleTimeout overrides DefaultLaneIdleTimeout.
func WithLaneIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LaneIdle = d }
}

// WithLaneBufferSize sets how many messages may queue for one identity before new
// ones are dropped. Defaults to DefaultChannelBufferSize.
func WithLaneBufferSize(n int) Option {
	return func(o *Opts) { o.LaneBuffer = n }
}

// ResponseHandler turns inbound messages into conversation turns: load the record,
// compute the transition, execute its effects. Turns for one identity never overlap.
type ResponseHandler struct {
	msgService  Service
	records     store.IdentityRecordStore
	engine      *flow.Engine
	executor    TurnExecutor
	dedup       store.DedupRepo
	metrics     *metrics.Metrics
	coordinator *turn.Coordinator
	laneIdle    time.Duration
	laneBuffer  int

	mu    sync.Mutex
	lanes map[string]chan models.InboundMessage
	wg    sync.WaitGroup
}

// NewResponseHandler wires the turn pipeline. Without WithCoordinator an in-process
// coordinator is used.
func NewResponseHandler(msgService Service, records store.IdentityRecordStore, engine *flow.Engine, executor TurnExecutor, opts ...Option) *ResponseHandler {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = turn.NewCoordinator()
	}
	if cfg.LaneIdle <= 0 {
		cfg.LaneIdle = DefaultLaneIdleTimeout
	}
	if cfg.LaneBuffer <= 0 {
		cfg.LaneBuffer = DefaultChannelBufferSize
	}
	return &ResponseHandler{
		msgService:  msgService,
		records:     records,
		engine:      engine,
		executor:    executor,
		dedup:       cfg.Dedup,
		metrics:     cfg.Metrics,
		coordinator: cfg.Coordinator,
		laneIdle:    cfg.LaneIdle,
		laneBuffer:  cfg.LaneBuffer,
		lanes:       make(map[string]chan models.InboundMessage),
	}
}

// ProcessResponse runs one turn for msg and blocks until it finished. An error means
// the turn failed and nothing was persisted for it.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.InboundMessage) error {
	start := time.Now()
	defer rh.metrics.ObserveTurn(start)
	turnID := util.GenerateTurnID()

	identity, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		rh.metrics.IncrementTurn(metrics.OutcomeFailed)
		slog.Warn("ResponseHandler.ProcessResponse: invalid sender", "error", err, "from", msg.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	var outcome string
	err = rh.coordinator.Do(ctx, identity, func(ctx context.Context) error {
		var turnErr error
		outcome, turnErr = rh.runTurn(ctx, turnID, identity, msg)
		return turnErr
	})
	if err != nil {
		rh.metrics.IncrementTurn(metrics.OutcomeFailed)
		slog.Error("ResponseHandler.ProcessResponse: turn failed", "turn_id", turnID, "identity", identity, "error", err)
		return err
	}

	rh.metrics.IncrementTurn(outcome)
	slog.Info("ResponseHandler.ProcessResponse: turn completed", "turn_id", turnID, "identity", identity, "outcome", outcome, "duration", time.Since(start))
	return nil
}

// runTurn executes inside the identity's critical section.
func (rh *ResponseHandler) runTurn(ctx context.Context, turnID, identity string, msg models.InboundMessage) (string, error) {
	tracked := msg.MessageID != "" && rh.dedup != nil
	if tracked {
		processed, err := rh.dedup.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return "", fmt.Errorf("dedup lookup for %s: %w", msg.MessageID, err)
		}
		if processed {
			slog.Info("ResponseHandler.runTurn: duplicate delivery ignored", "turn_id", turnID, "identity", identity, "message_id", msg.MessageID)
			return metrics.OutcomeDuplicate, nil
		}
		if _, err := rh.dedup.RecordInbound(ctx, msg.MessageID, identity); err != nil {
			return "", fmt.Errorf("record inbound %s: %w", msg.MessageID, err)
		}
	}

	record, err := rh.records.FindIdentityRecord(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("load record for %s: %w", identity, err)
	}

	tr, err := rh.engine.ComputeTransition(ctx, identity, record, msg.Body)
	if err != nil {
		return "", fmt.Errorf("compute transition for %s: %w", identity, err)
	}
	slog.Debug("ResponseHandler.runTurn: transition computed", "turn_id", turnID, "identity", identity, "outcome", tr.Outcome, "effects", len(tr.Effects))

	res := rh.executor.Execute(ctx, tr.Effects)
	if res.NotificationErr != nil {
		slog.Warn("ResponseHandler.runTurn: notification failed", "turn_id", turnID, "identity", identity, "outcome", tr.Outcome, "error", res.NotificationErr)
	}
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("persist turn for %s: %w", identity, err)
	}
	if flow.IssuesCode(tr.Outcome) {
		rh.metrics.IncrementOTPIssued(tr.Outcome)
	}

	if tracked {
		if err := rh.dedup.MarkProcessed(ctx, msg.MessageID); err != nil {
			// The turn is durable; a redelivery would be reprocessed.
			slog.Warn("ResponseHandler.runTurn: mark processed failed", "message_id", msg.MessageID, "error", err)
		}
	}
	return tr.Outcome, nil
}

// SendDailyUpdates messages every verified, subscribed identity. Each send runs in
// the identity's critical section so it never interleaves with a live turn.
func (rh *ResponseHandler) SendDailyUpdates(ctx context.Context) (int, error) {
	subscribers, err := rh.records.ListSubscribedIdentities(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribers: %w", err)
	}

	sent := 0
	var errs []error
	for _, sub := range subscribers {
		err := rh.coordinator.Do(ctx, sub.Identity, func(ctx context.Context) error {
			return rh.msgService.SendMessage(ctx, sub.Identity, flow.DailyUpdate(sub.DisplayName))
		})
		if err != nil {
			rh.metrics.IncrementEffectFailure(string(flow.EffectSendMessage))
			slog.Error("ResponseHandler.SendDailyUpdates: send failed", "identity", sub.Identity, "error", err)
			errs = append(errs, err)
			continue
		}
		sent++
	}
	slog.Info("ResponseHandler.SendDailyUpdates: completed", "subscribers", len(subscribers), "sent", sent)
	return sent, errors.Join(errs...)
}

// Start begins processing messages from the messaging service's Responses channel.
// Messages for one identity are processed in arrival order on a lane goroutine;
// different identities proceed concurrently.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer slog.Info("ResponseHandler stopped response processing")

		for {
			select {
			case msg, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				rh.enqueue(ctx, msg)
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until the Start loop and every lane have exited.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) enqueue(ctx context.Context, msg models.InboundMessage) {
	rh.mu.Lock()
	defer rh.mu.Unlock()

	lane, ok := rh.lanes[msg.From]
	if !ok {
		lane = make(chan models.InboundMessage, rh.laneBuffer)
		rh.lanes[msg.From] = lane
		rh.wg.Add(1)
		go rh.runLane(ctx, msg.From, lane)
	}

	select {
	case lane <- msg:
	default:
		slog.Warn("ResponseHandler lane full, dropping message", "from", msg.From, "message_id", msg.MessageID)
		rh.metrics.IncrementTurn(metrics.OutcomeDropped)
	}
}

func (rh *ResponseHandler) runLane(ctx context.Context, key string, lane chan models.InboundMessage) {
	defer rh.wg.Done()
	idle := time.NewTimer(rh.laneIdle)
	defer idle.Stop()

	for {
		select {
		case msg := <-lane:
			if err := rh.ProcessResponse(ctx, msg); err != nil {
				slog.Error("ResponseHandler failed to process response", "error", err, "from", msg.From)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(rh.laneIdle)
		case <-idle.C:
			rh.mu.Lock()
			if len(lane) > 0 {
				rh.mu.Unlock()
				idle.Reset(rh.laneIdle)
				continue
			}
			delete(rh.lanes, key)
			rh.mu.Unlock()
			return
		case <-ctx.Done():
			rh.mu.Lock()
			delete(rh.lanes, key)
			rh.mu.Unlock()
			return
		}
	}
}
