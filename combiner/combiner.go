// Package combiner synthesizes the single natural-language response for a
// pass from the accumulated handler results, using at most one model
// invocation. A synthesis failure never fails the pass: the combiner degrades
// to concatenating the raw handler messages.
package combiner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/logging"
	"github.com/hupe1980/intentmesh/model"
)

// FallbackGreeting is used when the provider fails on a greeting-only pass.
const FallbackGreeting = "Hello! How can I help you today?"

// fallbackApology replaces a failed handler's share of the response when the
// provider is unavailable for phrasing.
const fallbackApology = "I'm sorry, part of your request could not be completed right now. Please try again in a moment."

// Options configures a Combiner.
type Options struct {
	Logger logging.Logger
	// FallbackGreeting overrides the canned greeting used when synthesis fails.
	FallbackGreeting string
}

// Combiner phrases the accumulated handler results as one reply. It is
// stateless between calls and safe for concurrent use.
type Combiner struct {
	provider         model.Provider
	logger           logging.Logger
	fallbackGreeting string
}

// New constructs a Combiner over the given provider.
func New(provider model.Provider, optFns ...func(o *Options)) *Combiner {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		FallbackGreeting: FallbackGreeting,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Combiner{provider: provider, logger: opts.Logger, fallbackGreeting: opts.FallbackGreeting}
}

// Combine produces the final response for the pass. Every present handler
// result is summarized, handler errors become plain-language apologies with
// an offered alternative, and the reply is in the language of the input. On
// provider failure Combine falls back deterministically instead of erroring.
func (c *Combiner) Combine(ctx context.Context, st *core.State) string {
	resp, err := c.provider.Complete(ctx, model.Request{
		System: c.systemPrompt(st),
		Prompt: c.userPrompt(st),
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		cerr := &core.CombinerError{Err: err}
		c.logger.Warn("combiner fell back to concatenation", "error", cerr.Error())
		return c.fallback(st)
	}
	return strings.TrimSpace(resp.Text)
}

func (c *Combiner) systemPrompt(st *core.State) string {
	var sb strings.Builder
	sb.WriteString("You phrase the final reply of an assistant.\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Reply in the same language as the user's message.\n")
	sb.WriteString("- Cover every listed result; omit nothing.\n")
	sb.WriteString("- Never mention internal details: no error codes, raw JSON, identifiers or stack traces.\n")
	sb.WriteString("- For a failed part, apologize plainly and offer an alternative or retry.\n")
	if c.greetingOnly(st) {
		sb.WriteString("- The user only greeted you: reply with a brief, friendly greeting and an offer to help.\n")
	}
	return sb.String()
}

func (c *Combiner) userPrompt(st *core.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User message: %s\n", st.Input)
	if c.greetingOnly(st) {
		return sb.String()
	}
	sb.WriteString("\nResults to cover:\n")
	for _, name := range st.CompletedHandlers {
		res, ok := st.HandlerResults[name]
		if !ok {
			continue
		}
		sb.WriteString(describe(name, res))
	}
	return sb.String()
}

// greetingOnly reports whether this pass produced no handler results beyond
// the greeting marker.
func (c *Combiner) greetingOnly(st *core.State) bool {
	return len(st.HandlerResults) == 0
}

// describe renders one handler result for the synthesis prompt. Data keys are
// sorted so prompts are deterministic across passes.
func describe(name string, res core.HandlerResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s", name)
	if res.Operation != "" {
		fmt.Fprintf(&sb, " (%s)", res.Operation)
	}
	sb.WriteString(":")
	if res.Error != "" {
		sb.WriteString(" this part failed; apologize and offer an alternative\n")
		return sb.String()
	}
	if res.Message != "" {
		fmt.Fprintf(&sb, " %s", res.Message)
	}
	if res.Count != nil {
		fmt.Fprintf(&sb, " (count: %d)", *res.Count)
	}
	if len(res.Data) > 0 {
		keys := make([]string, 0, len(res.Data))
		for k := range res.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\n  %s: %v", k, res.Data[k])
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// fallback concatenates the raw handler messages in completion order,
// substituting a plain apology for failed parts. Greeting-only passes get the
// canned greeting.
func (c *Combiner) fallback(st *core.State) string {
	if c.greetingOnly(st) {
		return c.fallbackGreeting
	}
	var parts []string
	for _, name := range st.CompletedHandlers {
		res, ok := st.HandlerResults[name]
		if !ok {
			continue
		}
		switch {
		case res.Error != "":
			parts = append(parts, fallbackApology)
		case res.Message != "":
			parts = append(parts, res.Message)
		}
	}
	if len(parts) == 0 {
		return fallbackApology
	}
	return strings.Join(parts, " ")
}
