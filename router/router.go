// Package router classifies one raw user input (plus trailing history) into
// zero or more structured intents using a single model invocation per pass.
// Intent types outside the registered vocabulary are dropped; greeting is
// mutually exclusive with substantive intents; an empty result degrades to a
// clarification question rather than a failure.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/internal/jsonschema"
	"github.com/hupe1980/intentmesh/logging"
	"github.com/hupe1980/intentmesh/model"
)

// DefaultQuestion is asked when classification yields no usable intent.
const DefaultQuestion = "I'm not sure what you'd like me to do. Could you rephrase your request?"

// Options configures a Router.
type Options struct {
	// Logger receives dropped-intent and classification diagnostics.
	Logger logging.Logger
	// DefaultQuestion overrides the fallback clarification question.
	DefaultQuestion string
	// HistoryWindow caps how many trailing messages are included in the
	// classification context.
	HistoryWindow int
}

// Router turns raw input into a routing decision. It is stateless between
// calls and safe for concurrent use.
type Router struct {
	provider        model.Provider
	logger          logging.Logger
	defaultQuestion string
	historyWindow   int
}

// New constructs a Router over the given provider.
func New(provider model.Provider, optFns ...func(o *Options)) *Router {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		DefaultQuestion: DefaultQuestion,
		HistoryWindow:   12,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		provider:        provider,
		logger:          opts.Logger,
		defaultQuestion: opts.DefaultQuestion,
		historyWindow:   opts.HistoryWindow,
	}
}

// classification mirrors the JSON shape the provider is asked to produce.
type classification struct {
	Intents []struct {
		Type  string            `json:"type" description:"one intent tag from the allowed list"`
		Slots map[string]string `json:"slots,omitempty" description:"extracted parameters as string key-value pairs"`
	} `json:"intents"`
	NeedsClarification bool     `json:"needs_clarification"`
	Question           string   `json:"question,omitempty"`
	Options            []string `json:"options,omitempty"`
}

// classificationSchema is the structured-output contract handed to providers.
var classificationSchema = jsonschema.FromStruct(classification{})

// Classify performs the single classification call for a pass and returns the
// state delta to merge: either a validated intent set or a clarification. A
// returned error means the classification provider itself failed.
func (r *Router) Classify(ctx context.Context, input string, history []core.Message, vocabulary []string) (core.Delta, error) {
	resp, err := r.provider.Complete(ctx, model.Request{
		System: r.systemPrompt(vocabulary),
		Prompt: r.userPrompt(input, history),
		Schema: classificationSchema,
	})
	if err != nil {
		return core.Delta{}, &core.RoutingError{Err: err}
	}

	var cls classification
	if err := json.Unmarshal([]byte(extractJSON(resp.Text)), &cls); err != nil {
		return core.Delta{}, &core.RoutingError{Err: fmt.Errorf("unparseable classification: %w", err)}
	}

	intents := r.filter(cls, vocabulary)

	if cls.NeedsClarification || len(intents) == 0 {
		question := cls.Question
		if question == "" {
			question = r.defaultQuestion
		}
		return core.Delta{Clarification: &core.Clarification{Question: question, Options: cls.Options}}, nil
	}

	return core.Delta{Intents: intents}, nil
}

// filter restricts the reported intents to the registered vocabulary (plus
// greeting), drops duplicates, and applies the greeting tie-break: a
// substantive request implies more than a greeting, so greeting is discarded
// when any capability intent is present.
func (r *Router) filter(cls classification, vocabulary []string) []core.Intent {
	known := make(map[string]struct{}, len(vocabulary))
	for _, tag := range vocabulary {
		known[tag] = struct{}{}
	}

	var intents []core.Intent
	seen := make(map[string]struct{})
	greeting := false

	for _, in := range cls.Intents {
		if _, dup := seen[in.Type]; dup {
			continue
		}
		seen[in.Type] = struct{}{}

		if in.Type == core.TagGreeting {
			greeting = true
			continue
		}
		if _, ok := known[in.Type]; !ok {
			r.logger.Warn("router dropped out-of-vocabulary intent", "intent", in.Type)
			continue
		}
		intents = append(intents, core.Intent{Type: in.Type, Slots: in.Slots})
	}

	if greeting {
		if len(intents) == 0 {
			return []core.Intent{{Type: core.TagGreeting}}
		}
		r.logger.Debug("router discarded greeting alongside substantive intents")
	}

	return intents
}

func (r *Router) systemPrompt(vocabulary []string) string {
	var sb strings.Builder
	sb.WriteString("You classify a user request into intents for an assistant.\n")
	sb.WriteString("Valid intent types, in priority order:\n")
	for _, tag := range vocabulary {
		fmt.Fprintf(&sb, "- %s\n", tag)
	}
	sb.WriteString("- greeting (only when the message is nothing but a greeting)\n\n")
	sb.WriteString("Extract slot values mentioned in the request into the intent's slots map.\n")
	sb.WriteString("If the request is ambiguous, set needs_clarification to true and propose a short question plus options.")
	return sb.String()
}

// userPrompt assembles the classification context: the history after the last
// user turn (full history when no user turn exists), capped to the window,
// then the new input.
func (r *Router) userPrompt(input string, history []core.Message) string {
	var sb strings.Builder
	trailing := core.Tail(core.SinceLastUser(history), r.historyWindow)
	if len(trailing) > 0 {
		sb.WriteString("Recent context:\n")
		for _, m := range trailing {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User request: %s", input)
	return sb.String()
}

// extractJSON strips code fences and surrounding prose, returning the first
// top-level JSON object found in the completion.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
