package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/footcare-clinic/intakebot/internal/models"
)

// stubImageAnalyzer returns a canned result or error.
type stubImageAnalyzer struct {
	result models.ImageAnalysis
	err    error
	calls  int
}

func (s *stubImageAnalyzer) AnalyzeImage(ctx context.Context, imageBase64 string) (models.ImageAnalysis, error) {
	s.calls++
	return s.result, s.err
}

// stubSymptomAnalyzer returns a canned result or error.
type stubSymptomAnalyzer struct {
	result models.SymptomAnalysis
	err    error
	calls  int
}

func (s *stubSymptomAnalyzer) AnalyzeSymptoms(ctx context.Context, description string) (models.SymptomAnalysis, error) {
	s.calls++
	return s.result, s.err
}

// memorySink records consultations handed over at checkpoints.
type memorySink struct {
	saved []*models.Consultation
	err   error
}

func (m *memorySink) SaveConsultation(ctx context.Context, c *models.Consultation) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, c)
	return nil
}

func newIntakeEngine(t *testing.T, sink ConsultationSink) *Engine {
	t.Helper()
	graph, err := NewIntakeGraph()
	if err != nil {
		t.Fatalf("NewIntakeGraph() error: %v", err)
	}
	return NewEngine(graph, nil, nil, sink)
}

func mustAdvance(t *testing.T, e *Engine, sess *Session, text string) []Reply {
	t.Helper()
	replies, err := e.Advance(context.Background(), sess, Input{Text: text})
	if err != nil {
		t.Fatalf("Advance(%q) error: %v", text, err)
	}
	return replies
}

func repliesContain(replies []Reply, substr string) bool {
	for _, r := range replies {
		if strings.Contains(r.Text, substr) {
			return true
		}
	}
	return false
}

func TestStartEmitsWelcomeAndFirstPrompt(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)

	replies, err := e.Start(context.Background(), sess)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("Start() emitted %d replies, want 2", len(replies))
	}
	if !strings.Contains(replies[0].Text, "Fiona") {
		t.Errorf("first reply = %q, want the welcome message", replies[0].Text)
	}
	if replies[1].Text != "What's your name?" {
		t.Errorf("second reply = %q, want the name prompt", replies[1].Text)
	}
	if replies[1].Input != InputText {
		t.Errorf("second reply input = %q, want %q", replies[1].Input, InputText)
	}
	if sess.CurrentStep != StepName {
		t.Errorf("CurrentStep = %q, want %q", sess.CurrentStep, StepName)
	}
	if !sess.AwaitingInput {
		t.Error("session should be awaiting input after Start")
	}
}

func TestAdvanceValidationFailureReprompts(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "A")
	if len(replies) != 2 {
		t.Fatalf("re-prompt emitted %d replies, want 2 (error + prompt)", len(replies))
	}
	if replies[0].Text != nameShapeError {
		t.Errorf("error reply = %q, want %q", replies[0].Text, nameShapeError)
	}
	if replies[1].Text != "What's your name?" {
		t.Errorf("prompt reply = %q, want the name prompt", replies[1].Text)
	}
	if sess.CurrentStep != StepName {
		t.Errorf("CurrentStep = %q, session advanced despite invalid input", sess.CurrentStep)
	}
	if !sess.AwaitingInput {
		t.Error("session should still await input after a validation failure")
	}
	if sess.Collected[FieldName] != "" {
		t.Errorf("Collected[%q] = %q, invalid input was stored", FieldName, sess.Collected[FieldName])
	}

	// The retry path re-emits even when the messages repeat.
	again := mustAdvance(t, e, sess, "A")
	if len(again) != 2 {
		t.Errorf("second re-prompt emitted %d replies, want 2", len(again))
	}
}

func TestAdvanceCollectsAndPersonalizes(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "Alice")
	if sess.Collected[FieldName] != "Alice" {
		t.Errorf("Collected[%q] = %q, want %q", FieldName, sess.Collected[FieldName], "Alice")
	}
	if sess.CurrentStep != StepClinicLocation {
		t.Errorf("CurrentStep = %q, want %q", sess.CurrentStep, StepClinicLocation)
	}
	if !repliesContain(replies, "Hi Alice!") {
		t.Errorf("clinic prompt missing personalization, replies = %+v", replies)
	}
	if len(replies) != 1 || len(replies[0].Options) != 4 {
		t.Errorf("clinic prompt should carry 4 options, replies = %+v", replies)
	}
}

func TestAdvanceNumberedOptionSelectsValue(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	mustAdvance(t, e, sess, "Alice")

	replies := mustAdvance(t, e, sess, "1")
	if sess.Collected[FieldPreferredClinic] != "donnycarney" {
		t.Errorf("Collected[%q] = %q, want %q", FieldPreferredClinic, sess.Collected[FieldPreferredClinic], "donnycarney")
	}
	if !repliesContain(replies, "Donnycarney clinic") {
		t.Errorf("expected the Donnycarney clinic info, replies = %+v", replies)
	}
	if sess.CurrentStep != StepUploadPrompt {
		t.Errorf("CurrentStep = %q, want %q (auto-advance through clinic info)", sess.CurrentStep, StepUploadPrompt)
	}
	if !sess.AwaitingInput {
		t.Error("session should await input at the upload prompt")
	}
}

func TestAdvanceDuplicateDeliveryIsNoOp(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if _, err := e.Advance(context.Background(), sess, Input{Text: "Alice", DeliveryID: "wamid.1"}); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	replies, err := e.Advance(context.Background(), sess, Input{Text: "Bob", DeliveryID: "wamid.1"})
	if err != nil {
		t.Fatalf("redelivery error: %v", err)
	}
	if replies != nil {
		t.Errorf("redelivery emitted %d replies, want none", len(replies))
	}
	if sess.Collected[FieldName] != "Alice" {
		t.Errorf("Collected[%q] = %q, redelivery mutated state", FieldName, sess.Collected[FieldName])
	}
	if sess.CurrentStep != StepClinicLocation {
		t.Errorf("CurrentStep = %q, redelivery moved the session", sess.CurrentStep)
	}
}

func TestAdvanceRejectsWhenNoPromptPending(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)

	_, err := e.Advance(context.Background(), sess, Input{Text: "hello"})
	if !errors.Is(err, ErrNoPromptPending) {
		t.Errorf("Advance() error = %v, want ErrNoPromptPending", err)
	}
}

func TestAdvanceRejectsWhileProcessing(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	sess.Processing = true

	_, err := e.Advance(context.Background(), sess, Input{Text: "Alice"})
	if !errors.Is(err, ErrProcessing) {
		t.Errorf("Advance() error = %v, want ErrProcessing", err)
	}
}

// blockingImageAnalyzer signals when a call starts and holds it until released,
// so tests can observe the engine mid-analysis without timing sleeps.
type blockingImageAnalyzer struct {
	started chan struct{}
	release chan struct{}
	result  models.ImageAnalysis
}

func (b *blockingImageAnalyzer) AnalyzeImage(ctx context.Context, imageBase64 string) (models.ImageAnalysis, error) {
	close(b.started)
	<-b.release
	return b.result, nil
}

func TestAdvanceRejectsWhileAnalysisInFlight(t *testing.T) {
	analyzer := &blockingImageAnalyzer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  models.ImageAnalysis{Condition: "callus", Severity: "mild"},
	}
	e := NewEngine(imageTestGraph(t), analyzer, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan []Reply, 1)
	go func() {
		replies, err := e.Advance(context.Background(), sess, Input{Text: "base64-image-bytes"})
		if err != nil {
			t.Errorf("first Advance() error: %v", err)
		}
		done <- replies
	}()

	// Once the adapter call is in flight, a second input must be rejected
	// immediately instead of queueing behind the adapter deadline.
	<-analyzer.started
	if _, err := e.Advance(context.Background(), sess, Input{Text: "are you still there?"}); !errors.Is(err, ErrProcessing) {
		t.Errorf("concurrent Advance() error = %v, want ErrProcessing", err)
	}

	close(analyzer.release)
	replies := <-done
	if sess.Collected[CollectedKeyImageAnalysis] == "" {
		t.Error("analysis result was not merged after the adapter returned")
	}
	if !repliesContain(replies, "All set") {
		t.Errorf("conversation did not finish after the adapter returned: %+v", replies)
	}
	if sess.Processing {
		t.Error("processing flag left set after side effect")
	}
}

func TestAdvanceUnknownStepFailsSession(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	sess.CurrentStep = "ghost_step"
	sess.AwaitingInput = true

	replies, err := e.Advance(context.Background(), sess, Input{Text: "hello"})
	if err != nil {
		t.Fatalf("Advance() error: %v", err)
	}
	if len(replies) != 1 || !replies[0].Terminal {
		t.Fatalf("expected a single terminal apology, got %+v", replies)
	}
	if replies[0].Text != apologyMessage {
		t.Errorf("apology text = %q, want %q", replies[0].Text, apologyMessage)
	}
	if sess.AwaitingInput {
		t.Error("failed session should not await input")
	}
}

func imageTestGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := NewGraph(GraphConfig{
		Steps: map[string]Step{
			"photo": {
				Message: Text("Please send a photo:"),
				Input:   InputImage,
				Next:    NextStep("analysis"),
			},
			"analysis": {
				Message:    TextFunc(imageAnalysisSummary),
				SideEffect: SideEffectImageAnalysis,
				Next:       NextStep("done"),
			},
			"done": {
				Message:  Text("All set, see you soon."),
				Terminal: true,
			},
		},
		Entry:    "photo",
		Fallback: "done",
		Fields:   map[string]string{"photo": FieldImageData},
	})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}
	return graph
}

func TestImageAnalysisMergesResult(t *testing.T) {
	analyzer := &stubImageAnalyzer{result: models.ImageAnalysis{
		Condition:       "possible fungal infection",
		Severity:        "mild",
		Recommendations: []string{"Keep the area dry"},
	}}
	e := NewEngine(imageTestGraph(t), analyzer, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "base64-image-bytes")
	if analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", analyzer.calls)
	}
	if sess.Collected[CollectedKeyImageAnalysis] == "" {
		t.Error("analysis result was not merged into collected data")
	}
	if !repliesContain(replies, "possible fungal infection") {
		t.Errorf("analysis summary missing from replies: %+v", replies)
	}
	if !repliesContain(replies, "All set") {
		t.Errorf("conversation did not reach the terminal step: %+v", replies)
	}
	if sess.Processing {
		t.Error("processing flag left set after side effect")
	}
	if _, ok := sess.Collected[FieldImageData]; ok {
		t.Error("raw image payload retained in collected data after analysis")
	}
}

func TestImagePayloadKeptOutOfRecords(t *testing.T) {
	analyzer := &stubImageAnalyzer{result: models.ImageAnalysis{Condition: "callus", Severity: "mild"}}
	e := NewEngine(imageTestGraph(t), analyzer, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	blob := strings.Repeat("iVBORw0KGgoAAAANSUhEUg=", 256)
	mustAdvance(t, e, sess, blob)

	if _, ok := sess.Collected[FieldImageData]; ok {
		t.Error("raw image payload retained in collected data")
	}
	var placeholderSeen bool
	for _, entry := range sess.Transcript {
		if strings.Contains(entry.Text, blob[:24]) {
			t.Fatal("raw image payload leaked into the transcript")
		}
		if entry.Speaker == models.SpeakerUser && entry.Text == imageUploadPlaceholder {
			placeholderSeen = true
		}
	}
	if !placeholderSeen {
		t.Errorf("transcript missing the %q placeholder", imageUploadPlaceholder)
	}
	for _, entry := range sess.Log {
		if strings.Contains(entry.Response, blob[:24]) {
			t.Fatal("raw image payload leaked into the conversation log")
		}
	}
}

func TestImageAnalysisDegradesOnAdapterError(t *testing.T) {
	analyzer := &stubImageAnalyzer{err: errors.New("model unavailable")}
	e := NewEngine(imageTestGraph(t), analyzer, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "base64-image-bytes")
	if !repliesContain(replies, imageDegradedMessage) {
		t.Errorf("degraded notice missing from replies: %+v", replies)
	}
	if sess.Collected[CollectedKeyImageAnalysis] != "" {
		t.Error("degraded result must not be merged into collected data")
	}
	if !repliesContain(replies, "All set") {
		t.Errorf("conversation must continue past a degraded adapter: %+v", replies)
	}
}

func TestImageAnalysisDegradesWithoutAnalyzer(t *testing.T) {
	e := NewEngine(imageTestGraph(t), nil, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "base64-image-bytes")
	if !repliesContain(replies, imageDegradedMessage) {
		t.Errorf("degraded notice missing from replies: %+v", replies)
	}
	if _, ok := sess.Collected[FieldImageData]; ok {
		t.Error("raw image payload retained in collected data on the degraded path")
	}
}

func TestLockMapDropsFinishedSessions(t *testing.T) {
	e := NewEngine(imageTestGraph(t), &stubImageAnalyzer{}, nil, nil)
	sess := NewSession("photo")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	e.mu.Lock()
	_, live := e.locks[sess.ID]
	e.mu.Unlock()
	if !live {
		t.Fatal("lock map should hold an entry while the session is active")
	}

	mustAdvance(t, e, sess, "base64-image-bytes")

	e.mu.Lock()
	_, kept := e.locks[sess.ID]
	e.mu.Unlock()
	if kept {
		t.Error("lock map still holds an entry for a finished session")
	}
}

func symptomTestGraph(t *testing.T) *Graph {
	t.Helper()
	graph, err := NewGraph(GraphConfig{
		Steps: map[string]Step{
			"describe": {
				Message: Text("Describe your symptoms:"),
				Input:   InputTextarea,
				Next:    NextStep("analysis"),
			},
			"analysis": {
				Message:    TextFunc(symptomAnalysisSummary),
				SideEffect: SideEffectSymptomAnalysis,
				Next:       NextStep("done"),
			},
			"done": {
				Message:  Text("Thanks, we have what we need."),
				Terminal: true,
			},
		},
		Entry:    "describe",
		Fallback: "done",
		Fields:   map[string]string{"describe": FieldSymptomDescription},
	})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}
	return graph
}

func TestSymptomAnalysisMergesResult(t *testing.T) {
	analyzer := &stubSymptomAnalyzer{result: models.SymptomAnalysis{
		PotentialConditions: []string{"plantar fasciitis"},
		Severity:            "moderate",
		Urgency:             "routine",
		Recommendation:      "Book a biomechanical assessment.",
	}}
	e := NewEngine(symptomTestGraph(t), nil, analyzer, nil)
	sess := NewSession("describe")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "Sharp heel pain every morning for the past month")
	if analyzer.calls != 1 {
		t.Errorf("analyzer called %d times, want 1", analyzer.calls)
	}
	if sess.Collected[CollectedKeySymptomAnalysis] == "" {
		t.Error("analysis result was not merged into collected data")
	}
	if !repliesContain(replies, "plantar fasciitis") {
		t.Errorf("analysis summary missing from replies: %+v", replies)
	}
}

func TestSymptomAnalysisDegradesOnAdapterError(t *testing.T) {
	analyzer := &stubSymptomAnalyzer{err: errors.New("timeout")}
	e := NewEngine(symptomTestGraph(t), nil, analyzer, nil)
	sess := NewSession("describe")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	replies := mustAdvance(t, e, sess, "Sharp heel pain every morning for the past month")
	if !repliesContain(replies, symptomDegradedMessage) {
		t.Errorf("degraded notice missing from replies: %+v", replies)
	}
	if sess.Collected[CollectedKeySymptomAnalysis] != "" {
		t.Error("degraded result must not be merged into collected data")
	}
	if !repliesContain(replies, "Thanks, we have what we need.") {
		t.Errorf("conversation must continue past a degraded adapter: %+v", replies)
	}
}

func TestCheckpointSavesConsultation(t *testing.T) {
	sink := &memorySink{}
	graph, err := NewGraph(GraphConfig{
		Steps: map[string]Step{
			"treated": {
				Message:    Text("Have you tried any treatments before?"),
				Options:    yesNoOptions(),
				Checkpoint: true,
				Next:       NextStep("done"),
			},
			"done": {
				Message:  Text("Noted, thank you."),
				Terminal: true,
			},
		},
		Entry:    "treated",
		Fallback: "done",
		Fields:   map[string]string{"treated": FieldPreviousTreatment},
	})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}
	e := NewEngine(graph, nil, nil, sink)
	sess := NewSession("treated")
	sess.Collected[FieldName] = "Alice"
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	mustAdvance(t, e, sess, "yes")
	if len(sink.saved) != 1 {
		t.Fatalf("sink received %d consultations, want 1", len(sink.saved))
	}
	got := sink.saved[0]
	if got.Name != "Alice" {
		t.Errorf("consultation name = %q, want %q", got.Name, "Alice")
	}
	if got.PreviousTreatment != "yes" {
		t.Errorf("consultation previousTreatment = %q, want %q", got.PreviousTreatment, "yes")
	}
	if got.SessionID != sess.ID {
		t.Errorf("consultation sessionID = %q, want %q", got.SessionID, sess.ID)
	}
}

func TestCheckpointSinkFailureDoesNotBlock(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	e := newIntakeEngine(t, sink)
	sess := NewSession(StepWelcome)
	sess.CurrentStep = StepPhone
	sess.AwaitingInput = true
	sess.Collected[FieldName] = "Alice"

	replies := mustAdvance(t, e, sess, "0899678596")
	if sess.Collected[FieldPhone] != "0899678596" {
		t.Errorf("Collected[%q] = %q, want the submitted phone", FieldPhone, sess.Collected[FieldPhone])
	}
	if len(replies) == 0 {
		t.Error("conversation must continue when the sink fails")
	}
}

func TestMonotonicityGuardSkipsCollectedIdentity(t *testing.T) {
	graph, err := NewGraph(GraphConfig{
		Steps: map[string]Step{
			"name": {
				Message: Text("What's your name?"),
				Input:   InputText,
				Next:    NextStep("choice"),
			},
			"choice": {
				Message: Text("Go over your details again?"),
				Options: yesNoOptions(),
				Next: NextFunc(func(value string) string {
					if value == "yes" {
						return "name"
					}
					return "done"
				}),
			},
			"done": {
				Message:  Text("All done."),
				Terminal: true,
			},
		},
		Entry:          "name",
		Fallback:       "done",
		Fields:         map[string]string{"name": FieldName},
		IdentityFields: []string{FieldName},
	})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}
	e := NewEngine(graph, nil, nil, nil)
	sess := NewSession("name")
	if _, err := e.Start(context.Background(), sess); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	mustAdvance(t, e, sess, "Alice")
	if sess.CurrentStep != "choice" {
		t.Fatalf("CurrentStep = %q, want %q", sess.CurrentStep, "choice")
	}

	// Routing back to the name step must skip it, not re-prompt for the name.
	mustAdvance(t, e, sess, "yes")
	if sess.CurrentStep != "choice" {
		t.Errorf("CurrentStep = %q, want %q (guard skips collected identity)", sess.CurrentStep, "choice")
	}
	if sess.Collected[FieldName] != "Alice" {
		t.Errorf("Collected[%q] = %q, guard must not alter collected data", FieldName, sess.Collected[FieldName])
	}
	if !sess.AwaitingInput {
		t.Error("session should await input after the guard skip")
	}
}

func TestDuplicateSystemMessageSuppressed(t *testing.T) {
	graph, err := NewGraph(GraphConfig{
		Steps: map[string]Step{
			"a": {Message: Text("One moment please..."), Next: NextStep("b")},
			"b": {Message: Text("One moment please..."), Next: NextStep("c")},
			"c": {Message: Text("What's your name?"), Input: InputText, Next: NextStep("end")},
			"end": {
				Message:  Text("Done."),
				Terminal: true,
			},
		},
		Entry:    "a",
		Fallback: "c",
	})
	if err != nil {
		t.Fatalf("NewGraph() error: %v", err)
	}
	e := NewEngine(graph, nil, nil, nil)
	sess := NewSession("a")

	replies, err := e.Start(context.Background(), sess)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("Start() emitted %d replies, want 2 (duplicate suppressed)", len(replies))
	}
	if replies[0].Text != "One moment please..." || replies[1].Text != "What's your name?" {
		t.Errorf("unexpected replies: %+v", replies)
	}
}

func TestTerminalStepStopsAdvancing(t *testing.T) {
	e := newIntakeEngine(t, nil)
	sess := NewSession(StepWelcome)
	sess.CurrentStep = "survey_response"
	sess.Collected["surveyRating"] = "excellent"

	lock := e.lockFor(sess.ID)
	lock.Lock()
	replies := e.enterStep(context.Background(), lock, sess, "survey_response")
	lock.Unlock()
	if sess.CurrentStep != StepHelpfulTips {
		t.Errorf("CurrentStep = %q, want %q", sess.CurrentStep, StepHelpfulTips)
	}
	if sess.AwaitingInput {
		t.Error("terminal session must not await input")
	}
	last := replies[len(replies)-1]
	if !last.Terminal {
		t.Errorf("final reply not marked terminal: %+v", last)
	}
}

func TestNormalizeOptionInput(t *testing.T) {
	step := Step{Options: []Option{
		{Label: "Donnycarney", Value: "donnycarney"},
		{Label: "Palmerstown", Value: "palmerstown"},
	}}
	textStep := Step{Input: InputText}

	tests := []struct {
		name  string
		step  Step
		input string
		want  string
	}{
		{"first numbered option", step, "1", "donnycarney"},
		{"second numbered option", step, "2", "palmerstown"},
		{"label case insensitive", step, "DONNYCARNEY", "donnycarney"},
		{"value passthrough", step, "palmerstown", "palmerstown"},
		{"whitespace trimmed", step, "  1  ", "donnycarney"},
		{"out of range number passthrough", step, "9", "9"},
		{"unknown text passthrough", step, "somewhere else", "somewhere else"},
		{"non-option step untouched", textStep, "  raw text  ", "  raw text  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeOptionInput(tt.step, tt.input); got != tt.want {
				t.Errorf("normalizeOptionInput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDescribeStep(t *testing.T) {
	e := newIntakeEngine(t, nil)

	reply, err := e.DescribeStep(StepClinicLocation, map[string]string{FieldName: "Alice"})
	if err != nil {
		t.Fatalf("DescribeStep() error: %v", err)
	}
	if !strings.Contains(reply.Text, "Hi Alice!") {
		t.Errorf("prompt = %q, want personalized clinic prompt", reply.Text)
	}
	if reply.Input != InputOptions || len(reply.Options) != 4 {
		t.Errorf("prompt metadata = %+v, want options prompt with 4 choices", reply)
	}

	if _, err := e.DescribeStep("ghost_step", nil); err == nil {
		t.Error("DescribeStep() on unknown step should error")
	}
}
