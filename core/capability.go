package core

import "context"

// Handler is a pluggable unit of domain logic invoked when its capability's
// intent is detected. It receives a read-only view of the orchestration state
// (input, request context, history, earlier handlers' results) and returns a
// partial result that the dispatcher merges into the state.
//
// A returned error aborts the pass fail-fast: remaining chained handlers are
// skipped and the pass terminates through the error node. A soft domain
// failure that should still be phrased to the user belongs in
// HandlerResult.Error instead.
type Handler func(ctx context.Context, view *StateView) (HandlerResult, error)

// Capability binds an intent tag to a handler under a unique name. Values are
// immutable once registered; registration order is semantically significant
// as the dispatch tie-break.
type Capability struct {
	Name      string
	IntentTag string
	Handler   Handler
}

// HandlerResult is the partial outcome produced by one capability during a
// pass. Data is an opaque payload whose shape is owned by the capability and
// versioned through SchemaVersion so downstream consumers can evolve with it;
// Message is the human-oriented summary the combiner may fall back to.
type HandlerResult struct {
	Success       bool           `json:"success"`
	Operation     string         `json:"operation,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	SchemaVersion string         `json:"schema_version,omitempty"`
	Count         *int           `json:"count,omitempty"`
	Message       string         `json:"message,omitempty"`
	Error         string         `json:"error,omitempty"`
}
