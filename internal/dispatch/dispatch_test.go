package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/flow"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/metrics"
	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

// recorder captures every call in order across all collaborators.
type recorder struct {
	calls     []string
	chatErr   error
	emailErr  error
	createErr error
	saveErr   error
}

func (r *recorder) SendMessage(ctx context.Context, to, body string) error {
	r.calls = append(r.calls, "chat:"+to+":"+body)
	return r.chatErr
}

func (r *recorder) SendEmail(ctx context.Context, to, subject, body string) error {
	r.calls = append(r.calls, "email:"+to)
	return r.emailErr
}

func (r *recorder) CreateIdentityRecord(ctx context.Context, rec *models.IdentityRecord) error {
	r.calls = append(r.calls, "create:"+rec.Identity)
	return r.createErr
}

func (r *recorder) SaveIdentityRecord(ctx context.Context, rec *models.IdentityRecord) error {
	r.calls = append(r.calls, "save:"+rec.Identity)
	return r.saveErr
}

func (r *recorder) DeleteIdentityRecord(ctx context.Context, identity string) error {
	r.calls = append(r.calls, "delete:"+identity)
	return nil
}

func record(id string) *models.IdentityRecord {
	return models.NewIdentityRecord(id, time.Unix(1700000000, 0))
}

func TestExecuteOrdersPersistenceLast(t *testing.T) {
	r := &recorder{}
	d := New(r, r, r)

	effects := []flow.Effect{
		flow.PersistRecord(record("+1"), false),
		flow.SendEmail("+1", "a@b.co", "s", "b"),
		flow.SendMessage("+1", "hello"),
	}
	res := d.Execute(context.Background(), effects)
	if res.Err() != nil || res.NotificationErr != nil {
		t.Fatalf("unexpected errors: %+v", res)
	}
	want := []string{"email:a@b.co", "chat:+1:hello", "save:+1"}
	if strings.Join(r.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", r.calls, want)
	}
	if !res.Persisted {
		t.Error("Persisted should be true")
	}
}

func TestNotificationFailureStillPersists(t *testing.T) {
	r := &recorder{chatErr: errors.New("twilio down"), emailErr: errors.New("smtp down")}
	m := metrics.New(prometheus.NewRegistry())
	d := New(r, r, r, WithMetrics(m))

	res := d.Execute(context.Background(), []flow.Effect{
		flow.SendEmail("+1", "a@b.co", "s", "b"),
		flow.SendMessage("+1", "hi"),
		flow.PersistRecord(record("+1"), true),
	})
	if res.Err() != nil {
		t.Fatalf("turn should not fail on notification errors: %v", res.Err())
	}
	if res.NotificationErr == nil || !strings.Contains(res.NotificationErr.Error(), "twilio down") || !strings.Contains(res.NotificationErr.Error(), "smtp down") {
		t.Errorf("NotificationErr = %v, want both failures joined", res.NotificationErr)
	}
	if r.calls[len(r.calls)-1] != "create:+1" {
		t.Errorf("record not created: %v", r.calls)
	}
	if got := promtest.ToFloat64(m.EffectFailures.WithLabelValues(string(flow.EffectSendMessage))); got != 1 {
		t.Errorf("send_message failures = %v", got)
	}
}

func TestPersistFailureFailsTurn(t *testing.T) {
	r := &recorder{saveErr: errors.New("disk full")}
	d := New(r, r, r)

	res := d.Execute(context.Background(), []flow.Effect{
		flow.SendMessage("+1", "hi"),
		flow.PersistRecord(record("+1"), false),
	})
	if res.Err() == nil || res.Persisted {
		t.Fatalf("expected persist failure, got %+v", res)
	}
}

func TestCreateConflictIsNotFatal(t *testing.T) {
	r := &recorder{createErr: models.ErrConflict}
	d := New(r, r, r)

	res := d.Execute(context.Background(), []flow.Effect{flow.PersistRecord(record("+1"), true)})
	if res.Err() != nil {
		t.Errorf("conflict on create should be absorbed, got %v", res.Err())
	}
}

func TestInvalidRecordRejected(t *testing.T) {
	r := &recorder{}
	d := New(r, r, r)
	bad := record("+1")
	bad.PendingCode = "1234" // no issue time

	res := d.Execute(context.Background(), []flow.Effect{flow.PersistRecord(bad, false)})
	if res.Err() == nil {
		t.Fatal("expected validation error")
	}
	if len(r.calls) != 0 {
		t.Errorf("store should not be called: %v", r.calls)
	}
}

func TestDeleteEffect(t *testing.T) {
	r := &recorder{}
	d := New(r, r, r)

	res := d.Execute(context.Background(), []flow.Effect{flow.SendMessage("+1", "bye"), flow.DeleteRecord("+1")})
	if res.Err() != nil {
		t.Fatal(res.Err())
	}
	if r.calls[1] != "delete:+1" {
		t.Errorf("calls = %v", r.calls)
	}
}

func TestMissingSenders(t *testing.T) {
	r := &recorder{}
	d := New(nil, nil, r)

	res := d.Execute(context.Background(), []flow.Effect{
		flow.SendMessage("+1", "hi"),
		flow.SendEmail("+1", "a@b.co", "s", "b"),
		flow.PersistRecord(record("+1"), false),
	})
	if res.NotificationErr == nil {
		t.Error("expected notification error without senders")
	}
	if res.Err() != nil {
		t.Errorf("persist should still succeed: %v", res.Err())
	}
}
