package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/dispatch"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/email"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/flow"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/metrics"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/otp"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/store"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/testutil"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/turn"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/twiliowhatsapp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

const testFrom = "whatsapp:+15550001111"
const testIdentity = "+15550001111"

// recordingService is a Service that records outbound chat messages.
type recordingService struct {
	mu        sync.Mutex
	sent      []sentChat
	responses chan models.InboundMessage
	err       error
}

type sentChat struct {
	To   string
	Body string
}

func newRecordingService() *recordingService {
	return &recordingService{responses: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (s *recordingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeIdentity(recipient)
}

func (s *recordingService) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentChat{To: to, Body: body})
	return nil
}

func (s *recordingService) Start(ctx context.Context) error { return nil }
func (s *recordingService) Stop() error                     { return nil }
func (s *recordingService) Responses() <-chan models.InboundMessage {
	return s.responses
}

func (s *recordingService) bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.Body
	}
	return out
}

// failingCreateStore fails every create to simulate a persistence outage.
type failingCreateStore struct {
	*store.InMemoryStore
}

func (s failingCreateStore) CreateIdentityRecord(ctx context.Context, r *models.IdentityRecord) error {
	return errors.New("disk full")
}

type pipeline struct {
	handler *ResponseHandler
	chat    *recordingService
	mail    *email.MockSender
	store   *store.InMemoryStore
	metrics *metrics.Metrics
}

func newPipeline(t *testing.T, records store.IdentityRecordStore, mem *store.InMemoryStore) *pipeline {
	t.Helper()
	if _, err := mem.SeedFAQs(context.Background(), testutil.SampleFAQs()); err != nil {
		t.Fatal(err)
	}
	chat := newRecordingService()
	mail := email.NewMockSender()
	m := metrics.New(prometheus.NewRegistry())
	policy := otp.NewPolicy(otp.WithSource(testutil.NewSequenceSource(234, 4321)))
	engine := flow.NewEngine(mem, flow.WithPolicy(policy), flow.WithHasher(testutil.PlainHasher{}))
	dispatcher := dispatch.New(chat, mail, records, dispatch.WithMetrics(m))
	h := NewResponseHandler(chat, records, engine, dispatcher, WithDedup(mem), WithMetrics(m))
	return &pipeline{handler: h, chat: chat, mail: mail, store: mem, metrics: m}
}

func newMemoryPipeline(t *testing.T) *pipeline {
	mem := store.NewInMemoryStore()
	return newPipeline(t, mem, mem)
}

func (p *pipeline) send(t *testing.T, body string) {
	t.Helper()
	if err := p.handler.ProcessResponse(context.Background(), models.InboundMessage{From: testFrom, Body: body}); err != nil {
		t.Fatalf("ProcessResponse(%q) error: %v", body, err)
	}
}

func TestProcessResponse_Registration(t *testing.T) {
	p := newMemoryPipeline(t)
	for _, body := range []string{"hi", "Alice", "Abc123!", "alice@example.com", "1234"} {
		p.send(t, body)
	}

	rec, err := p.store.FindIdentityRecord(context.Background(), testIdentity)
	if err != nil || rec == nil {
		t.Fatalf("record not stored: %v", err)
	}
	if !rec.Verified || rec.Phase != models.PhaseVerified {
		t.Errorf("record = %+v, want verified", rec)
	}
	if rec.ContactEmail != "alice@example.com" || rec.DisplayName != "Alice" {
		t.Errorf("record fields = %q %q", rec.DisplayName, rec.ContactEmail)
	}

	mails := p.mail.Messages()
	if len(mails) != 1 || !strings.Contains(mails[0].Body, "1234") {
		t.Errorf("emails = %+v", mails)
	}
	bodies := p.chat.bodies()
	if bodies[0] != flow.MsgWelcome || bodies[len(bodies)-1] != flow.MsgVerified {
		t.Errorf("replies = %q", bodies)
	}
	for _, m := range p.chat.sent {
		if m.To != testIdentity {
			t.Errorf("reply sent to %q, want %q", m.To, testIdentity)
		}
	}

	if got := promtest.ToFloat64(p.metrics.TurnsTotal.WithLabelValues(flow.OutcomeVerified)); got != 1 {
		t.Errorf("verified turns = %v, want 1", got)
	}
	if got := promtest.ToFloat64(p.metrics.OTPIssued.WithLabelValues(flow.OutcomeCodeIssued)); got != 1 {
		t.Errorf("otp issued = %v, want 1", got)
	}
}

func TestProcessResponse_DuplicateDelivery(t *testing.T) {
	p := newMemoryPipeline(t)
	msg := models.InboundMessage{MessageID: "SM1", From: testFrom, Body: "hi"}

	for i := 0; i < 2; i++ {
		if err := p.handler.ProcessResponse(context.Background(), msg); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(p.chat.bodies()); got != 1 {
		t.Errorf("replies = %d, want 1", got)
	}
	if got := promtest.ToFloat64(p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeDuplicate)); got != 1 {
		t.Errorf("duplicate turns = %v, want 1", got)
	}

	// A new MessageID advances the conversation.
	msg.MessageID, msg.Body = "SM2", "Alice"
	if err := p.handler.ProcessResponse(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	rec, _ := p.store.FindIdentityRecord(context.Background(), testIdentity)
	testutil.AssertEqual(t, rec.Phase, models.PhaseAwaitingCredential, "phase")
}

func TestProcessResponse_PersistFailure(t *testing.T) {
	mem := store.NewInMemoryStore()
	p := newPipeline(t, failingCreateStore{mem}, mem)

	msg := models.InboundMessage{MessageID: "SM1", From: testFrom, Body: "hi"}
	if err := p.handler.ProcessResponse(context.Background(), msg); err == nil {
		t.Fatal("expected error when persistence fails")
	}
	if got := promtest.ToFloat64(p.metrics.TurnsTotal.WithLabelValues(metrics.OutcomeFailed)); got != 1 {
		t.Errorf("failed turns = %v, want 1", got)
	}
	// The message was recorded but not processed, so a redelivery runs again.
	processed, err := mem.IsProcessed(context.Background(), "SM1")
	if err != nil || processed {
		t.Errorf("IsProcessed = %v, %v; want false", processed, err)
	}
}

func TestProcessResponse_NotificationFailureStillPersists(t *testing.T) {
	p := newMemoryPipeline(t)
	p.chat.err = errors.New("twilio down")

	p.send(t, "hi")
	rec, _ := p.store.FindIdentityRecord(context.Background(), testIdentity)
	if rec == nil {
		t.Fatal("record should persist despite notification failure")
	}
}

func TestProcessResponse_InvalidSender(t *testing.T) {
	p := newMemoryPipeline(t)
	err := p.handler.ProcessResponse(context.Background(), models.InboundMessage{From: "whatsapp:", Body: "hi"})
	if err == nil {
		t.Fatal("expected error for empty sender")
	}
}

func TestProcessResponse_ConcurrentSameIdentity(t *testing.T) {
	p := newMemoryPipeline(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- p.handler.ProcessResponse(context.Background(), models.InboundMessage{From: testFrom, Body: fmt.Sprintf("msg %d", i)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("turn failed: %v", err)
		}
	}

	welcomes := 0
	for _, b := range p.chat.bodies() {
		if b == flow.MsgWelcome {
			welcomes++
		}
	}
	testutil.AssertEqual(t, welcomes, 1, "welcome count")
}

func TestResponseHandler_StartPreservesOrder(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	engine := flow.NewEngine(mem, flow.WithHasher(testutil.PlainHasher{}))
	h := NewResponseHandler(svc, mem, engine, dispatch.New(svc, email.NewMockSender(), mem), WithLaneIdleTimeout(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	svc.Deliver(models.InboundMessage{From: testFrom, Body: "hi"})
	svc.Deliver(models.InboundMessage{From: testFrom, Body: "Alice"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := mem.FindIdentityRecord(context.Background(), testIdentity)
		if rec != nil && rec.Phase == models.PhaseAwaitingCredential {
			testutil.AssertEqual(t, rec.DisplayName, "Alice", "display name")
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("record not advanced: %+v", rec)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	h.Wait()
}

func TestResponseHandler_FullLaneCountsDrop(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	m := metrics.New(prometheus.NewRegistry())
	coord := turn.NewCoordinator()
	engine := flow.NewEngine(mem, flow.WithHasher(testutil.PlainHasher{}))
	h := NewResponseHandler(svc, mem, engine, dispatch.New(svc, email.NewMockSender(), mem),
		WithMetrics(m),
		WithCoordinator(coord),
		WithLaneBufferSize(1),
		WithLaneIdleTimeout(20*time.Millisecond))

	// Hold the identity so the lane goroutine parks inside its first turn.
	entered := make(chan struct{})
	release := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- coord.Do(context.Background(), testIdentity, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx := context.Background()
	h.enqueue(ctx, models.InboundMessage{From: testFrom, Body: "hi", MessageID: "m1"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		drained := len(h.lanes[testFrom]) == 0
		h.mu.Unlock()
		if drained {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lane never picked up the first message")
		}
		time.Sleep(time.Millisecond)
	}

	h.enqueue(ctx, models.InboundMessage{From: testFrom, Body: "Alice", MessageID: "m2"})
	h.enqueue(ctx, models.InboundMessage{From: testFrom, Body: "Bob", MessageID: "m3"})
	testutil.AssertEqual(t, promtest.ToFloat64(m.TurnsTotal.WithLabelValues(metrics.OutcomeDropped)), 1.0, "dropped turns")

	close(release)
	if err := <-blocked; err != nil {
		t.Fatal(err)
	}
	h.Wait()

	rec, err := mem.FindIdentityRecord(ctx, testIdentity)
	if err != nil || rec == nil {
		t.Fatalf("record not stored: %v", err)
	}
	testutil.AssertEqual(t, rec.DisplayName, "Alice", "display name")
	testutil.AssertEqual(t, rec.Phase, models.PhaseAwaitingCredential, "phase")
}

func TestResponseHandler_StartStopsOnClosedChannel(t *testing.T) {
	mem := store.NewInMemoryStore()
	svc := NewLogService()
	h := NewResponseHandler(svc, mem, flow.NewEngine(mem), dispatch.New(svc, email.LogSender{}, mem))
	h.Start(context.Background())
	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	h.Wait()
}

func TestSendDailyUpdates(t *testing.T) {
	p := newMemoryPipeline(t)
	ctx := context.Background()
	now := time.Now()
	for i, sub := range []bool{true, false, true} {
		r := models.NewIdentityRecord(fmt.Sprintf("+1555000000%d", i), now)
		r.DisplayName = fmt.Sprintf("user%d", i)
		r.Phase = models.PhaseVerified
		r.Verified = true
		r.Subscribed = sub
		if err := p.store.CreateIdentityRecord(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	sent, err := p.handler.SendDailyUpdates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, sent, 2, "sent")
	bodies := p.chat.bodies()
	if len(bodies) != 2 || bodies[0] != flow.DailyUpdate("user0") || bodies[1] != flow.DailyUpdate("user2") {
		t.Errorf("daily updates = %q", bodies)
	}

	p.chat.err = errors.New("down")
	if _, err := p.handler.SendDailyUpdates(ctx); err == nil {
		t.Error("expected joined send errors")
	}
}
