package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/footcare-clinic/intakebot/internal/flow"
	"github.com/footcare-clinic/intakebot/internal/models"
)

// maxReplyDelay caps the per-message pacing delay so a slow flow definition
// cannot stall the responder loop.
const maxReplyDelay = 2 * time.Second

// Responder consumes inbound WhatsApp messages and drives them through the
// conversation engine, persisting the session between deliveries and sending
// the engine's replies back through the messaging service.
type Responder struct {
	svc      Service
	engine   *flow.Engine
	graph    *flow.Graph
	sessions *flow.StoreBasedSessionManager
}

// NewResponder creates a responder over the given service, engine and session
// manager.
func NewResponder(svc Service, engine *flow.Engine, graph *flow.Graph, sessions *flow.StoreBasedSessionManager) *Responder {
	return &Responder{svc: svc, engine: engine, graph: graph, sessions: sessions}
}

// Start launches the background loop consuming the service's inbound messages.
// It returns immediately; the loop runs until the context is cancelled or the
// channel closes.
func (r *Responder) Start(ctx context.Context) {
	slog.Debug("Responder Start invoked")
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Debug("Responder stopping due to context cancellation")
				return
			case msg, ok := <-r.svc.Messages():
				if !ok {
					slog.Debug("Responder stopping, messages channel closed")
					return
				}
				if err := r.HandleInbound(ctx, msg); err != nil {
					slog.Error("Responder failed to handle inbound message", "error", err, "from", msg.From)
				}
			}
		}
	}()
}

// HandleInbound processes one inbound message: it loads or creates the
// patient's session, advances the conversation and sends the replies.
// A message arriving after a conversation finished starts a fresh one.
func (r *Responder) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	from, err := r.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return fmt.Errorf("inbound message has unusable sender: %w", err)
	}

	sess, err := r.sessions.Load(from)
	if err != nil {
		return err
	}

	var replies []flow.Reply
	if sess == nil {
		sess = r.newSession(from)
		replies, err = r.engine.Start(ctx, sess)
	} else {
		replies, err = r.engine.Advance(ctx, sess, flow.Input{Text: msg.Text, DeliveryID: msg.MessageID})
		if errors.Is(err, flow.ErrNoPromptPending) {
			slog.Info("Responder restarting finished conversation", "from", from)
			sess = r.newSession(from)
			replies, err = r.engine.Start(ctx, sess)
		} else if errors.Is(err, flow.ErrProcessing) {
			slog.Warn("Responder dropping message received while processing", "from", from)
			return nil
		}
	}
	if err != nil {
		return err
	}

	if saveErr := r.sessions.Save(sess); saveErr != nil {
		slog.Error("Responder failed to persist session", "error", saveErr, "from", from)
	}

	return r.sendReplies(ctx, from, replies)
}

// sendReplies delivers the engine's replies in order, honoring per-step pacing
// delays up to maxReplyDelay.
func (r *Responder) sendReplies(ctx context.Context, to string, replies []flow.Reply) error {
	for _, reply := range replies {
		if reply.Text == "" {
			continue
		}
		if reply.DelayMs > 0 {
			delay := time.Duration(reply.DelayMs) * time.Millisecond
			if delay > maxReplyDelay {
				delay = maxReplyDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := r.svc.SendMessage(ctx, to, FormatReply(reply)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Responder) newSession(from string) *flow.Session {
	sess := flow.NewSession(r.graph.Entry())
	sess.ExternalID = from
	return sess
}

// FormatReply renders a reply as plain WhatsApp text, appending numbered
// options so patients can answer with a number or the option label.
func FormatReply(reply flow.Reply) string {
	if len(reply.Options) == 0 {
		return reply.Text
	}
	var b strings.Builder
	b.WriteString(reply.Text)
	for i, opt := range reply.Options {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
	}
	return b.String()
}
