package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestMockClient_Err(t *testing.T) {
	mock := NewMockClient()
	mock.Err = errors.New("down")
	if err := mock.SendMessage(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected configured error")
	}
	if len(mock.Messages()) != 0 {
		t.Error("failed send should not be recorded")
	}
}

func TestClient_SendMessageAddsPrefix(t *testing.T) {
	api := &fakeAPI{}
	c := &Client{api: api, fromWhats: Address("+14155238886")}

	if err := c.SendMessage(context.Background(), "+15551234567", "hi"); err != nil {
		t.Fatal(err)
	}
	if err := c.SendMessage(context.Background(), "whatsapp:+15551234567", "again"); err != nil {
		t.Fatal(err)
	}
	for _, p := range api.params {
		if *p.To != "whatsapp:+15551234567" {
			t.Errorf("To = %q", *p.To)
		}
		if *p.From != "whatsapp:+14155238886" {
			t.Errorf("From = %q", *p.From)
		}
	}
	if *api.params[0].Body != "hi" {
		t.Errorf("Body = %q", *api.params[0].Body)
	}
}

func TestClient_SendMessageError(t *testing.T) {
	c := &Client{api: &fakeAPI{err: errors.New("20003 auth")}, fromWhats: "whatsapp:+1"}
	if err := c.SendMessage(context.Background(), "+2", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_CancelledContext(t *testing.T) {
	api := &fakeAPI{}
	c := &Client{api: api, fromWhats: "whatsapp:+1"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SendMessage(ctx, "+2", "x"); err == nil {
		t.Fatal("expected context error")
	}
	if len(api.params) != 0 {
		t.Error("API called with cancelled context")
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_WHATSAPP_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+14155238886"))
	if err != nil {
		t.Fatal(err)
	}
	if c.From() != "whatsapp:+14155238886" {
		t.Errorf("From = %q", c.From())
	}
}

func TestAddressHelpers(t *testing.T) {
	if got := Address("+1"); got != "whatsapp:+1" {
		t.Errorf("Address = %q", got)
	}
	if got := Address("whatsapp:+1"); got != "whatsapp:+1" {
		t.Errorf("Address idempotent = %q", got)
	}
	if got := StripAddress(" whatsapp:+1 "); got != "+1" {
		t.Errorf("StripAddress = %q", got)
	}
}

func TestSignatureValidator(t *testing.T) {
	v := NewSignatureValidator("12345")
	params := map[string]string{"From": "whatsapp:+1", "Body": "hi"}
	if v.Validate("https://example.com/api/chatbot/message", params, "bogus") {
		t.Error("bogus signature accepted")
	}
}
