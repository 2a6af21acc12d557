// Package flow implements the conversation flow engine for the intake bot.
//
// A flow is a directed graph of steps. Each step carries a prompt, an expected
// input kind, optional validation, a branching rule, and optional side effects.
// The engine in this package interprets the graph against a per-conversation
// session, one user input at a time.
package flow

import "time"

// InputKind describes what kind of input a step expects from the user.
type InputKind string

const (
	// InputNone marks a purely informational step. The engine auto-advances
	// through it without waiting for input.
	InputNone InputKind = "none"
	// InputText expects a short free-text reply.
	InputText InputKind = "text"
	// InputPhone expects a phone number.
	InputPhone InputKind = "phone"
	// InputEmail expects an email address.
	InputEmail InputKind = "email"
	// InputTextarea expects a longer free-text reply.
	InputTextarea InputKind = "textarea"
	// InputImage expects base64-encoded image data.
	InputImage InputKind = "image"
	// InputOptions expects one of the step's listed option values.
	InputOptions InputKind = "options"
)

// SideEffect tags a step with an external integration the engine must invoke
// before emitting the step's message.
type SideEffect string

const (
	SideEffectNone            SideEffect = ""
	SideEffectImageAnalysis   SideEffect = "ai-image-analysis"
	SideEffectSymptomAnalysis SideEffect = "ai-symptom-analysis"
	SideEffectSyncPortal      SideEffect = "sync-external-portal"
)

// Option is one selectable choice on a step with InputOptions.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Message is a step prompt: either a literal string or a function of the
// collected data, which enables personalization ("Hi Alice!").
type Message struct {
	text string
	fn   func(collected map[string]string) string
}

// Text creates a literal message.
func Text(s string) Message {
	return Message{text: s}
}

// TextFunc creates a message computed from collected data.
func TextFunc(fn func(collected map[string]string) string) Message {
	return Message{fn: fn}
}

// Render evaluates the message against the collected data.
func (m Message) Render(collected map[string]string) string {
	if m.fn != nil {
		return m.fn(collected)
	}
	return m.text
}

// Next is the branching rule of a step: either a fixed target step key or a
// function of the submitted value. Exactly one form is set; representing the
// two forms explicitly keeps the graph closed and checkable at load time.
type Next struct {
	to string
	fn func(value string) string
}

// NextStep creates a fixed-key branching rule.
func NextStep(key string) Next {
	return Next{to: key}
}

// NextFunc creates a value-dependent branching rule.
func NextFunc(fn func(value string) string) Next {
	return Next{fn: fn}
}

// IsZero reports whether no branching rule was configured.
func (n Next) IsZero() bool {
	return n.to == "" && n.fn == nil
}

// IsFixed reports whether the rule is the fixed-key form.
func (n Next) IsFixed() bool {
	return n.fn == nil
}

// Resolve evaluates the rule for the submitted value.
func (n Next) Resolve(value string) string {
	if n.fn != nil {
		return n.fn(value)
	}
	return n.to
}

// Step is one node in the conversation graph.
type Step struct {
	// Message is the prompt shown when the engine enters the step.
	Message Message
	// Input declares the expected input kind. Zero value means InputNone.
	Input InputKind
	// Options lists the selectable choices when Input is InputOptions.
	Options []Option
	// Validate, when set, must accept the raw input before the engine advances.
	Validate func(value string) bool
	// ErrorMessage is re-prompted alongside the step message when validation fails.
	ErrorMessage string
	// Next is the branching rule. Required unless Terminal is set.
	Next Next
	// Terminal marks an end state: the engine stops advancing.
	Terminal bool
	// SideEffect names the external integration to invoke on entering the step.
	SideEffect SideEffect
	// Checkpoint marks a step whose successful submission persists the
	// consultation collected so far.
	Checkpoint bool
	// ResponseDelay is cosmetic typing-indicator pacing for the widget.
	ResponseDelay time.Duration
}

// kind returns the effective input kind, mapping the zero value and the
// presence of options to the right variant.
func (s Step) kind() InputKind {
	if s.Input != "" {
		return s.Input
	}
	if len(s.Options) > 0 {
		return InputOptions
	}
	return InputNone
}

// Interactive reports whether the step waits for user input.
func (s Step) Interactive() bool {
	return s.kind() != InputNone
}
