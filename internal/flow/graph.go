package flow

import (
	"fmt"
	"log/slog"
)

// Graph is an immutable conversation flow definition: a mapping from step key
// to step descriptor plus the entry step, the fallback step for unmapped branch
// values, and the step-to-field projection used for persistence.
type Graph struct {
	steps    map[string]Step
	entry    string
	fallback string
	fields   map[string]string
	identity map[string]bool
}

// GraphConfig assembles a Graph. All referenced keys are checked by Validate.
type GraphConfig struct {
	Steps map[string]Step
	// Entry is the step the conversation starts at.
	Entry string
	// Fallback is the step a branching function routes to when it returns a
	// key not present in the graph, so unexpected input never dead-ends.
	Fallback string
	// Fields maps step keys to logical consultation field names. Steps without
	// a mapping are informational.
	Fields map[string]string
	// IdentityFields are collected once and never re-prompted (monotonicity
	// guard): routing back to a step whose identity field is already populated
	// skips forward instead.
	IdentityFields []string
}

// NewGraph builds and validates a Graph from its configuration.
func NewGraph(cfg GraphConfig) (*Graph, error) {
	g := &Graph{
		steps:    cfg.Steps,
		entry:    cfg.Entry,
		fallback: cfg.Fallback,
		fields:   cfg.Fields,
		identity: make(map[string]bool, len(cfg.IdentityFields)),
	}
	for _, f := range cfg.IdentityFields {
		g.identity[f] = true
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	slog.Debug("flow.NewGraph: graph validated", "steps", len(g.steps), "entry", g.entry, "fallback", g.fallback)
	return g, nil
}

// validate enforces the static invariants: the entry and fallback steps exist,
// every non-terminal step has a branching rule, and every fixed-key rule
// resolves to a known step. Function-form rules are checked at runtime against
// the fallback step instead.
func (g *Graph) validate() error {
	if len(g.steps) == 0 {
		return fmt.Errorf("flow graph has no steps")
	}
	if _, ok := g.steps[g.entry]; !ok {
		return fmt.Errorf("entry step %q not found in flow graph", g.entry)
	}
	if _, ok := g.steps[g.fallback]; !ok {
		return fmt.Errorf("fallback step %q not found in flow graph", g.fallback)
	}
	for key, step := range g.steps {
		if step.Next.IsZero() && !step.Terminal {
			return fmt.Errorf("step %q is non-terminal but has no next rule", key)
		}
		if !step.Next.IsZero() && step.Next.IsFixed() {
			target := step.Next.Resolve("")
			if _, ok := g.steps[target]; !ok {
				return fmt.Errorf("step %q routes to unknown step %q", key, target)
			}
		}
	}
	for stepKey := range g.fields {
		if _, ok := g.steps[stepKey]; !ok {
			return fmt.Errorf("field mapping references unknown step %q", stepKey)
		}
	}
	return nil
}

// Entry returns the entry step key.
func (g *Graph) Entry() string {
	return g.entry
}

// Lookup returns the step descriptor for a key.
func (g *Graph) Lookup(key string) (Step, bool) {
	s, ok := g.steps[key]
	return s, ok
}

// ResolveNext evaluates the branching rule of a step for the submitted value.
// A function-form rule that produces an unknown key is routed to the fallback
// step rather than failing.
func (g *Graph) ResolveNext(key, value string) (string, error) {
	step, ok := g.steps[key]
	if !ok {
		return "", fmt.Errorf("step %q not found in flow graph", key)
	}
	if step.Next.IsZero() {
		return "", fmt.Errorf("step %q has no next rule", key)
	}
	target := step.Next.Resolve(value)
	if _, ok := g.steps[target]; !ok {
		slog.Warn("flow.ResolveNext: branch produced unmapped step, using fallback", "step", key, "value", value, "target", target, "fallback", g.fallback)
		return g.fallback, nil
	}
	return target, nil
}

// ResolveMessage renders the message of a step against collected data.
func (g *Graph) ResolveMessage(key string, collected map[string]string) (string, error) {
	step, ok := g.steps[key]
	if !ok {
		return "", fmt.Errorf("step %q not found in flow graph", key)
	}
	return step.Message.Render(collected), nil
}

// FieldFor returns the logical field name a step's input is stored under.
func (g *Graph) FieldFor(stepKey string) (string, bool) {
	f, ok := g.fields[stepKey]
	return f, ok
}

// IsIdentityField reports whether a field is collected once and guarded
// against re-prompting.
func (g *Graph) IsIdentityField(field string) bool {
	return g.identity[field]
}
