package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/footcare-clinic/intakebot/internal/flow"
	"github.com/footcare-clinic/intakebot/internal/models"
	"github.com/footcare-clinic/intakebot/internal/store"
)

// mockService records sent messages and feeds inbound ones through a channel.
type mockService struct {
	sent     []models.OutboundMessage
	messages chan models.InboundMessage
}

func newMockService() *mockService {
	return &mockService{messages: make(chan models.InboundMessage, DefaultChannelBufferSize)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (m *mockService) SendMessage(ctx context.Context, to, body string) error {
	m.sent = append(m.sent, models.OutboundMessage{To: to, Text: body})
	return nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { return nil }

func (m *mockService) Messages() <-chan models.InboundMessage { return m.messages }

func (m *mockService) sentTexts() []string {
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Text)
	}
	return out
}

func newTestResponder(t *testing.T) (*Responder, *mockService, *flow.StoreBasedSessionManager) {
	t.Helper()
	graph, err := flow.NewIntakeGraph()
	if err != nil {
		t.Fatalf("NewIntakeGraph() error: %v", err)
	}
	engine := flow.NewEngine(graph, nil, nil, nil)
	sessions := flow.NewStoreBasedSessionManager(store.NewInMemoryStore())
	svc := newMockService()
	return NewResponder(svc, engine, graph, sessions), svc, sessions
}

func TestHandleInboundStartsNewConversation(t *testing.T) {
	r, svc, sessions := newTestResponder(t)

	err := r.HandleInbound(context.Background(), models.InboundMessage{
		From: "+353 89 967 8596",
		Text: "hi",
	})
	if err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}

	texts := svc.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want welcome plus name prompt", len(texts))
	}
	if !strings.Contains(texts[0], "Fiona") {
		t.Errorf("first message = %q, want the welcome text", texts[0])
	}
	if texts[1] != "What's your name?" {
		t.Errorf("second message = %q, want the name prompt", texts[1])
	}
	if svc.sent[0].To != "353899678596" {
		t.Errorf("messages sent to %q, want the canonicalized number", svc.sent[0].To)
	}

	sess, err := sessions.Load("353899678596")
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: sess=%v err=%v", sess, err)
	}
	if sess.CurrentStep != flow.StepName {
		t.Errorf("persisted step = %q, want %q", sess.CurrentStep, flow.StepName)
	}
}

func TestHandleInboundAdvancesExistingConversation(t *testing.T) {
	r, svc, sessions := newTestResponder(t)
	ctx := context.Background()

	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "hi"}); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}
	svc.sent = nil

	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "Alice", MessageID: "wamid.1"}); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}

	texts := svc.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("sent %d messages, want the clinic prompt", len(texts))
	}
	if !strings.Contains(texts[0], "Hi Alice!") {
		t.Errorf("clinic prompt = %q, want it personalized", texts[0])
	}
	if !strings.Contains(texts[0], "1. Donnycarney") {
		t.Errorf("clinic prompt = %q, want numbered options appended", texts[0])
	}

	sess, err := sessions.Load("353899678596")
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: sess=%v err=%v", sess, err)
	}
	if sess.Collected[flow.FieldName] != "Alice" {
		t.Errorf("persisted name = %q, want %q", sess.Collected[flow.FieldName], "Alice")
	}
}

func TestHandleInboundDuplicateDeliverySendsNothing(t *testing.T) {
	r, svc, _ := newTestResponder(t)
	ctx := context.Background()

	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "hi"}); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}
	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "Alice", MessageID: "wamid.1"}); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}
	svc.sent = nil

	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "Alice", MessageID: "wamid.1"}); err != nil {
		t.Fatalf("HandleInbound() redelivery error: %v", err)
	}
	if len(svc.sent) != 0 {
		t.Errorf("redelivery sent %d messages, want none", len(svc.sent))
	}
}

func TestHandleInboundRestartsFinishedConversation(t *testing.T) {
	r, svc, sessions := newTestResponder(t)
	ctx := context.Background()

	// Persist a finished session: terminal step, no prompt pending.
	done := flow.NewSession(flow.StepHelpfulTips)
	done.ExternalID = "353899678596"
	if err := sessions.Save(done); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := r.HandleInbound(ctx, models.InboundMessage{From: "353899678596", Text: "hello again"}); err != nil {
		t.Fatalf("HandleInbound() error: %v", err)
	}

	texts := svc.sentTexts()
	if len(texts) == 0 || !strings.Contains(texts[0], "Fiona") {
		t.Fatalf("expected a fresh welcome, sent = %v", texts)
	}

	sess, err := sessions.Load("353899678596")
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: sess=%v err=%v", sess, err)
	}
	if sess.ID == done.ID {
		t.Error("finished conversation was not replaced with a fresh session")
	}
	if sess.CurrentStep != flow.StepName {
		t.Errorf("restarted step = %q, want %q", sess.CurrentStep, flow.StepName)
	}
}

func TestHandleInboundRejectsUnusableSender(t *testing.T) {
	r, _, _ := newTestResponder(t)
	err := r.HandleInbound(context.Background(), models.InboundMessage{From: "not-a-number", Text: "hi"})
	if err == nil {
		t.Error("HandleInbound() with an unusable sender should error")
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain digits", "353899678596", "353899678596", false},
		{"formatted", "+353 (89) 967-8596", "353899678596", false},
		{"whatsapp prefix", "whatsapp:+353899678596", "353899678596", false},
		{"empty", "", "", true},
		{"no digits", "abc", "", true},
		{"too short", "12345", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalizePhone(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("canonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatReply(t *testing.T) {
	plain := flow.Reply{Text: "What's your name?"}
	if got := FormatReply(plain); got != "What's your name?" {
		t.Errorf("FormatReply(plain) = %q", got)
	}

	withOptions := flow.Reply{
		Text: "Which location?",
		Options: []flow.Option{
			{Label: "Donnycarney", Value: "donnycarney"},
			{Label: "Palmerstown", Value: "palmerstown"},
		},
	}
	got := FormatReply(withOptions)
	want := "Which location?\n1. Donnycarney\n2. Palmerstown"
	if got != want {
		t.Errorf("FormatReply(options) = %q, want %q", got, want)
	}
}
