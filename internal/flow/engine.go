package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// Engine behavior constants.
const (
	// DefaultSideEffectTimeout bounds each enrichment adapter call. Calls are
	// fire-once: on timeout the engine takes the fallback path, no retry.
	DefaultSideEffectTimeout = 30 * time.Second
	// maxAutoAdvance caps zero-input step chains and monotonicity skips so a
	// miswired graph cannot loop the engine forever.
	maxAutoAdvance = 32
)

// User-facing texts for the failure taxonomy. Configuration faults and adapter
// failures degrade to these instead of surfacing internals.
const (
	apologyMessage = "I'm sorry, something went wrong on our side. Please call us at 089 9678596 and we'll take care of you directly."

	imageDegradedMessage   = "Our automated image check is temporarily unavailable, so we'll skip it for now. Our podiatrists will examine your foot in person during your consultation."
	symptomDegradedMessage = "I couldn't run the automated symptom check just now, but your description has been saved for our specialists to review."
)

// imageUploadPlaceholder stands in for raw image payloads in the transcript and
// the conversation log, keeping multi-megabyte blobs out of the persisted
// session and consultation records.
const imageUploadPlaceholder = "[image uploaded]"

// Errors returned by Advance for inputs the engine refuses to process.
var (
	// ErrNoPromptPending is returned when input arrives while no prompt is
	// awaiting an answer (the illegal-transition case).
	ErrNoPromptPending = errors.New("no prompt is awaiting input for this session")
	// ErrProcessing is returned when input arrives while a side effect is in
	// flight for the session.
	ErrProcessing = errors.New("session is processing a previous input")
)

// ImageAnalyzer analyzes a base64-encoded foot image. Implementations always
// return a usable result; a non-nil error marks the result as the degraded
// fallback so the engine can emit a soft notice and skip the merge.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageBase64 string) (models.ImageAnalysis, error)
}

// SymptomAnalyzer analyzes a free-text symptom description under the same
// uniform-shape-with-degraded-fallback contract as ImageAnalyzer.
type SymptomAnalyzer interface {
	AnalyzeSymptoms(ctx context.Context, description string) (models.SymptomAnalysis, error)
}

// ConsultationSink receives consultation snapshots at checkpoint steps.
// Writes are best-effort: failures are logged and never block the conversation.
type ConsultationSink interface {
	SaveConsultation(ctx context.Context, c *models.Consultation) error
}

// Input is one user submission, with the transport's delivery id when the
// transport provides one (used for at-least-once deduplication).
type Input struct {
	Text       string
	DeliveryID string
}

// Reply is one message emitted by the engine, annotated with the prompt
// metadata the widget needs to render the input affordance.
type Reply struct {
	StepKey  string          `json:"stepKey"`
	Text     string          `json:"text"`
	Input    InputKind       `json:"input"`
	Options  []Option        `json:"options,omitempty"`
	DelayMs  int64           `json:"delayMs,omitempty"`
	Terminal bool            `json:"terminal,omitempty"`
	Speaker  models.Speaker  `json:"speaker"`
}

// Engine interprets a flow Graph against Session values. It serializes
// concurrent Advance calls per session id; distinct sessions advance freely in
// parallel. While an enrichment adapter is in flight the session lock is
// released and the session is marked Processing, so concurrent inputs are
// rejected with ErrProcessing instead of queueing behind the adapter deadline.
type Engine struct {
	graph    *Graph
	images   ImageAnalyzer
	symptoms SymptomAnalyzer
	sink     ConsultationSink
	timeout  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSideEffectTimeout overrides the enrichment adapter deadline.
func WithSideEffectTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

// NewEngine creates an engine over a validated graph. Any adapter may be nil;
// the corresponding side effect then takes the degraded path.
func NewEngine(graph *Graph, images ImageAnalyzer, symptoms SymptomAnalyzer, sink ConsultationSink, opts ...EngineOption) *Engine {
	e := &Engine{
		graph:    graph,
		images:   images,
		symptoms: symptoms,
		sink:     sink,
		timeout:  DefaultSideEffectTimeout,
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockFor returns the serialization mutex for a session id.
func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sessionID] = l
	}
	return l
}

// releaseLock drops a session's serialization mutex once the conversation can
// no longer advance, so the lock map does not grow with every finished
// conversation.
func (e *Engine) releaseLock(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, sessionID)
}

// Start enters the graph's entry step for a fresh session, emitting the
// opening messages and auto-advancing to the first interactive step.
func (e *Engine) Start(ctx context.Context, sess *Session) ([]Reply, error) {
	lock := e.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	slog.Debug("Engine.Start: starting session", "sessionID", sess.ID, "entry", e.graph.Entry())
	replies := e.enterStep(ctx, lock, sess, e.graph.Entry())
	sess.UpdatedAt = time.Now()
	if !sess.AwaitingInput {
		e.releaseLock(sess.ID)
	}
	return replies, nil
}

// Advance processes one user input against the session's current step.
// It implements the guard, validate, collect, branch, side-effect, emit cycle;
// validation failures re-prompt without advancing, duplicate deliveries are
// no-ops, and configuration faults end the session with an apology.
func (e *Engine) Advance(ctx context.Context, sess *Session, input Input) ([]Reply, error) {
	lock := e.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	if input.DeliveryID != "" && sess.hasSeenDelivery(input.DeliveryID) {
		slog.Info("Engine.Advance: duplicate delivery ignored", "sessionID", sess.ID, "deliveryID", input.DeliveryID)
		return nil, nil
	}
	if sess.Processing {
		slog.Warn("Engine.Advance: input rejected while processing side effect", "sessionID", sess.ID, "step", sess.CurrentStep)
		return nil, ErrProcessing
	}
	if !sess.AwaitingInput {
		slog.Warn("Engine.Advance: input rejected, no prompt pending", "sessionID", sess.ID, "step", sess.CurrentStep)
		e.releaseLock(sess.ID)
		return nil, ErrNoPromptPending
	}

	step, ok := e.graph.Lookup(sess.CurrentStep)
	if !ok {
		slog.Error("Engine.Advance: session positioned at unknown step", "sessionID", sess.ID, "step", sess.CurrentStep)
		return e.failSession(sess), nil
	}

	value := normalizeOptionInput(step, input.Text)
	field, _ := e.graph.FieldFor(sess.CurrentStep)

	if ok, errText := e.validateInput(step, field, value); !ok {
		slog.Debug("Engine.Advance: validation failed, re-prompting", "sessionID", sess.ID, "step", sess.CurrentStep)
		return e.reprompt(sess, step, errText), nil
	}

	if input.DeliveryID != "" {
		sess.markDelivery(input.DeliveryID)
	}

	recorded := input.Text
	logged := value
	if step.kind() == InputImage {
		// The raw payload travels only under its collected field, until the
		// analysis side effect consumes it.
		recorded = imageUploadPlaceholder
		logged = imageUploadPlaceholder
	}

	sess.Transcript = append(sess.Transcript, models.TranscriptEntry{Speaker: models.SpeakerUser, Text: recorded})
	if field != "" {
		sess.Collected[field] = value
	}
	sess.Log = append(sess.Log, models.LogEntry{Step: sess.CurrentStep, Response: logged})
	sess.AwaitingInput = false

	if step.Checkpoint {
		e.syncConsultation(ctx, sess)
	}

	next, err := e.graph.ResolveNext(sess.CurrentStep, value)
	if err != nil {
		slog.Error("Engine.Advance: branch resolution failed", "error", err, "sessionID", sess.ID, "step", sess.CurrentStep)
		return e.failSession(sess), nil
	}

	replies := e.enterStep(ctx, lock, sess, next)
	sess.UpdatedAt = time.Now()
	if !sess.AwaitingInput {
		// Terminal or failed: the session can no longer advance, so its lock
		// map entry is dropped here, after the last session write.
		e.releaseLock(sess.ID)
	}
	slog.Debug("Engine.Advance: advanced", "sessionID", sess.ID, "step", sess.CurrentStep, "emitted", len(replies))
	return replies, nil
}

// validateInput applies the step's own predicate (for non-empty values) and
// the global field-shape rule implied by the input kind. It returns ok plus
// the error text to re-prompt with.
func (e *Engine) validateInput(step Step, field, value string) (bool, string) {
	if step.Validate != nil && strings.TrimSpace(value) != "" && !step.Validate(value) {
		errText := step.ErrorMessage
		if errText == "" {
			errText = "Please provide a valid response."
		}
		return false, errText
	}
	return checkShape(step.kind(), field, value)
}

// reprompt re-emits the current step's prompt plus the error text. This retry
// path deliberately bypasses duplicate suppression: repeated failures must
// re-emit so the user sees the error each time.
func (e *Engine) reprompt(sess *Session, step Step, errText string) []Reply {
	prompt := step.Message.Render(sess.Collected)
	sess.Transcript = append(sess.Transcript,
		models.TranscriptEntry{Speaker: models.SpeakerSystem, Text: errText},
		models.TranscriptEntry{Speaker: models.SpeakerSystem, Text: prompt},
	)
	return []Reply{
		{StepKey: sess.CurrentStep, Text: errText, Speaker: models.SpeakerSystem},
		{StepKey: sess.CurrentStep, Text: prompt, Input: step.kind(), Options: step.Options, Speaker: models.SpeakerSystem},
	}
}

// enterStep positions the session at a step and runs the emit cycle: apply the
// monotonicity guard, invoke side effects, emit the step message, and keep
// auto-advancing while the step needs no input. The caller holds the session
// lock; side effects release it around their adapter calls.
func (e *Engine) enterStep(ctx context.Context, lock *sync.Mutex, sess *Session, key string) []Reply {
	var replies []Reply
	for hops := 0; ; hops++ {
		if hops > maxAutoAdvance {
			slog.Error("Engine.enterStep: auto-advance limit exceeded, halting session", "sessionID", sess.ID, "step", key)
			return append(replies, e.failSession(sess)...)
		}

		key = e.skipCollectedIdentity(sess, key)
		step, ok := e.graph.Lookup(key)
		if !ok {
			slog.Error("Engine.enterStep: unknown step, halting session", "sessionID", sess.ID, "step", key)
			return append(replies, e.failSession(sess)...)
		}
		sess.CurrentStep = key

		if notice := e.runSideEffect(ctx, lock, sess, step); notice != "" {
			replies = e.emit(sess, replies, Reply{StepKey: key, Text: notice, Speaker: models.SpeakerSystem})
		}

		if text := step.Message.Render(sess.Collected); text != "" {
			replies = e.emit(sess, replies, Reply{
				StepKey:  key,
				Text:     text,
				Input:    step.kind(),
				Options:  step.Options,
				DelayMs:  step.ResponseDelay.Milliseconds(),
				Terminal: step.Terminal,
				Speaker:  models.SpeakerSystem,
			})
		}

		if step.Terminal {
			sess.AwaitingInput = false
			slog.Info("Engine.enterStep: session reached terminal step", "sessionID", sess.ID, "step", key)
			return replies
		}
		if step.Interactive() {
			sess.AwaitingInput = true
			return replies
		}

		next, err := e.graph.ResolveNext(key, "")
		if err != nil {
			slog.Error("Engine.enterStep: auto-advance branch failed", "error", err, "sessionID", sess.ID, "step", key)
			return append(replies, e.failSession(sess)...)
		}
		key = next
	}
}

// skipCollectedIdentity applies the monotonicity guard: when routing would
// land on a step whose mapped identity field is already populated, skip
// forward to the step after that field's natural position instead of
// re-prompting for it.
func (e *Engine) skipCollectedIdentity(sess *Session, key string) string {
	for hops := 0; hops < maxAutoAdvance; hops++ {
		field, ok := e.graph.FieldFor(key)
		if !ok || !e.graph.IsIdentityField(field) || sess.Collected[field] == "" {
			return key
		}
		next, err := e.graph.ResolveNext(key, sess.Collected[field])
		if err != nil {
			return key
		}
		slog.Debug("Engine.skipCollectedIdentity: skipping already-collected step", "sessionID", sess.ID, "step", key, "field", field, "next", next)
		key = next
	}
	return key
}

// runSideEffect invokes the adapter a step is tagged with. On success the
// structured result is merged into collected under its reserved key; on
// failure it returns the degraded notice to emit. The conversation proceeds
// either way.
func (e *Engine) runSideEffect(ctx context.Context, lock *sync.Mutex, sess *Session, step Step) string {
	switch step.SideEffect {
	case SideEffectImageAnalysis:
		return e.runImageAnalysis(ctx, lock, sess)
	case SideEffectSymptomAnalysis:
		return e.runSymptomAnalysis(ctx, lock, sess)
	case SideEffectSyncPortal:
		e.syncConsultation(ctx, sess)
	}
	return ""
}

// callUnlocked runs an adapter invocation with the session lock released. The
// session is marked Processing for the duration, so concurrent Advance calls
// acquire the lock, observe the flag and return ErrProcessing instead of
// queueing behind the adapter deadline.
func (e *Engine) callUnlocked(lock *sync.Mutex, sess *Session, call func()) {
	sess.Processing = true
	lock.Unlock()
	defer func() {
		lock.Lock()
		sess.Processing = false
	}()
	call()
}

func (e *Engine) runImageAnalysis(ctx context.Context, lock *sync.Mutex, sess *Session) string {
	imageData := sess.Collected[FieldImageData]
	if imageData == "" {
		slog.Warn("Engine.runImageAnalysis: no image data collected", "sessionID", sess.ID)
		return imageDegradedMessage
	}
	// The payload is only needed for this one call; keep the blob out of the
	// persisted session.
	delete(sess.Collected, FieldImageData)

	if e.images == nil {
		slog.Warn("Engine.runImageAnalysis: no image analyzer configured", "sessionID", sess.ID)
		return imageDegradedMessage
	}

	var result models.ImageAnalysis
	var err error
	e.callUnlocked(lock, sess, func() {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		result, err = e.images.AnalyzeImage(callCtx, imageData)
	})
	if err != nil {
		slog.Warn("Engine.runImageAnalysis: analysis degraded", "error", err, "sessionID", sess.ID)
		return imageDegradedMessage
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		slog.Error("Engine.runImageAnalysis: result marshal failed", "error", err, "sessionID", sess.ID)
		return imageDegradedMessage
	}
	sess.Collected[CollectedKeyImageAnalysis] = string(resultJSON)
	slog.Info("Engine.runImageAnalysis: analysis merged", "sessionID", sess.ID, "condition", result.Condition, "severity", result.Severity)
	return ""
}

func (e *Engine) runSymptomAnalysis(ctx context.Context, lock *sync.Mutex, sess *Session) string {
	if e.symptoms == nil {
		slog.Warn("Engine.runSymptomAnalysis: no symptom analyzer configured", "sessionID", sess.ID)
		return symptomDegradedMessage
	}
	description := sess.Collected[FieldSymptomDescription]
	if strings.TrimSpace(description) == "" {
		// Nothing to analyze; the step was reached without a description.
		return ""
	}

	var result models.SymptomAnalysis
	var err error
	e.callUnlocked(lock, sess, func() {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		result, err = e.symptoms.AnalyzeSymptoms(callCtx, description)
	})
	if err != nil {
		slog.Warn("Engine.runSymptomAnalysis: analysis degraded", "error", err, "sessionID", sess.ID)
		return symptomDegradedMessage
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		slog.Error("Engine.runSymptomAnalysis: result marshal failed", "error", err, "sessionID", sess.ID)
		return symptomDegradedMessage
	}
	sess.Collected[CollectedKeySymptomAnalysis] = string(resultJSON)
	slog.Info("Engine.runSymptomAnalysis: analysis merged", "sessionID", sess.ID, "severity", result.Severity, "urgency", result.Urgency)
	return ""
}

// syncConsultation projects the session into a consultation record and hands
// it to the sink. Failures are logged and accepted; the conversation never
// blocks on persistence.
func (e *Engine) syncConsultation(ctx context.Context, sess *Session) {
	if e.sink == nil {
		return
	}
	consultation := BuildConsultation(sess)
	if err := e.sink.SaveConsultation(ctx, consultation); err != nil {
		slog.Error("Engine.syncConsultation: consultation save failed", "error", err, "sessionID", sess.ID)
		return
	}
	slog.Info("Engine.syncConsultation: consultation saved", "sessionID", sess.ID, "name", consultation.Name)
}

// emit appends a system message to the transcript and the reply list unless an
// identical message is already the most recent system entry. This suppresses
// duplicate emissions from re-entrant calls triggering the same step twice.
func (e *Engine) emit(sess *Session, replies []Reply, reply Reply) []Reply {
	if last, ok := sess.lastEntryOfKind(models.SpeakerSystem); ok && last.Text == reply.Text {
		slog.Debug("Engine.emit: duplicate emission suppressed", "sessionID", sess.ID, "step", reply.StepKey)
		return replies
	}
	sess.Transcript = append(sess.Transcript, models.TranscriptEntry{Speaker: models.SpeakerSystem, Text: reply.Text})
	return append(replies, reply)
}

// failSession halts a session on a configuration fault: the user gets the
// generic apology as a terminal message, the fault stays in the logs.
func (e *Engine) failSession(sess *Session) []Reply {
	sess.AwaitingInput = false
	sess.Transcript = append(sess.Transcript, models.TranscriptEntry{Speaker: models.SpeakerSystem, Text: apologyMessage})
	return []Reply{{StepKey: sess.CurrentStep, Text: apologyMessage, Terminal: true, Speaker: models.SpeakerSystem}}
}

// normalizeOptionInput maps numbered and labeled replies on option steps to
// the option value, so "1" or "Donnycarney" select the first option the same
// way a widget button press would.
func normalizeOptionInput(step Step, input string) string {
	if step.kind() != InputOptions {
		return input
	}
	trimmed := strings.TrimSpace(input)
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(step.Options) {
		return step.Options[n-1].Value
	}
	for _, opt := range step.Options {
		if strings.EqualFold(trimmed, opt.Label) || strings.EqualFold(trimmed, opt.Value) {
			return opt.Value
		}
	}
	return trimmed
}

// DescribeStep exposes prompt metadata for a step so transports can rebuild UI
// state after reloading a session.
func (e *Engine) DescribeStep(key string, collected map[string]string) (Reply, error) {
	step, ok := e.graph.Lookup(key)
	if !ok {
		return Reply{}, fmt.Errorf("step %q not found in flow graph", key)
	}
	return Reply{
		StepKey:  key,
		Text:     step.Message.Render(collected),
		Input:    step.kind(),
		Options:  step.Options,
		Terminal: step.Terminal,
		Speaker:  models.SpeakerSystem,
	}, nil
}
