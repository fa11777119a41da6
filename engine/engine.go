package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/intentmesh/combiner"
	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/graph"
	"github.com/hupe1980/intentmesh/logging"
	"github.com/hupe1980/intentmesh/model"
	"github.com/hupe1980/intentmesh/registry"
	"github.com/hupe1980/intentmesh/router"
	"github.com/hupe1980/intentmesh/session"
)

// Config contains operational parameters for engine behavior.
type Config struct {
	// Timeout bounds a single invocation end to end. Once exceeded the pass
	// is redirected through the error node; the caller still receives a
	// well-formed response. Set per call via InvokeOptions to override.
	Timeout time.Duration

	// HistoryWindow caps the number of trailing session messages handed to
	// the routing and synthesis prompts.
	HistoryWindow int
}

// DefaultConfig provides the default engine configuration:
//   - Timeout: 30s, enough for two model calls plus handlers
//   - HistoryWindow: 50, matching the session sliding window
var DefaultConfig = Config{
	Timeout:       30 * time.Second,
	HistoryWindow: 50,
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// SessionStore manages conversation history persistence.
	// Defaults to an in-memory implementation if not provided.
	SessionStore core.SessionStore

	// Logger provides structured logging for debugging and monitoring.
	// Defaults to NoOp logger if nil.
	Logger logging.Logger

	// Apology overrides the user-facing text returned when a pass fails.
	Apology string
}

// Engine runs the classify/dispatch/synthesize pipeline for one capability
// set. Capabilities are registered up front; the dispatch graph is compiled
// once on the first invocation and the registry is frozen from then on, so a
// running engine is safe for concurrent Invoke calls.
type Engine struct {
	provider model.Provider
	registry *registry.Registry
	store    core.SessionStore
	logger   logging.Logger
	config   Config
	apology  string

	compileOnce sync.Once
	compiled    atomic.Bool
	graph       *graph.Graph
}

// New creates an Engine around the given model provider. Any unset service
// is initialized with an in-memory implementation.
func New(provider model.Provider, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:       DefaultConfig,
		SessionStore: session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
		Apology:      graph.DefaultApology,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.Timeout <= 0 {
		opts.Config.Timeout = DefaultConfig.Timeout
	}
	if opts.Config.HistoryWindow <= 0 {
		opts.Config.HistoryWindow = DefaultConfig.HistoryWindow
	}

	return &Engine{
		provider: provider,
		registry: registry.New(),
		store:    opts.SessionStore,
		logger:   opts.Logger,
		config:   opts.Config,
		apology:  opts.Apology,
	}
}

// RegisterCapability adds a capability to the registry. It fails once the
// dispatch graph has been compiled: the capability set is part of the
// routing vocabulary and cannot change under a running engine.
func (e *Engine) RegisterCapability(c core.Capability) error {
	if e.compiled.Load() {
		return &core.ConfigurationError{
			Name:   c.Name,
			Reason: "registry is frozen after the first invocation",
		}
	}
	return e.registry.Register(c)
}

// SessionStore exposes the engine's session store for session management
// operations (list, rename, pin, delete).
func (e *Engine) SessionStore() core.SessionStore { return e.store }

// InvokeOptions tunes a single invocation.
type InvokeOptions struct {
	// Timeout overrides the configured per-pass deadline.
	Timeout time.Duration
	// TraceID overrides the request context's trace id. When both are empty
	// a fresh id is generated.
	TraceID string
	// History seeds the routing context instead of loading it from the
	// session store. Nil means load; an empty non-nil slice means none.
	History []core.Message
}

// Result is the outcome of one invocation. FinalResponse is never empty.
type Result struct {
	// FinalResponse is the single user-facing reply for the pass.
	FinalResponse string
	// Intents are the classified intents, post vocabulary filtering.
	Intents []core.Intent
	// CompletedHandlers lists capability names in execution order, including
	// the greeting pseudo-handler.
	CompletedHandlers []string
	// Err is the terminal error of a degraded pass, nil on success. The
	// FinalResponse is already phrased for the user either way.
	Err *core.StateError
}

// Invoke runs one complete pass: classify the input, dispatch matched
// capability handlers in registration order, synthesize a single response
// and append the exchange to the session. It never returns an empty
// response; failures degrade to an apology recorded in Result.Err.
func (e *Engine) Invoke(ctx context.Context, input, sessionID string, reqCtx core.RequestContext, optFns ...func(o *InvokeOptions)) Result {
	e.compileOnce.Do(e.compile)

	invokeOpts := InvokeOptions{Timeout: e.config.Timeout}
	for _, fn := range optFns {
		fn(&invokeOpts)
	}
	if invokeOpts.Timeout <= 0 {
		invokeOpts.Timeout = e.config.Timeout
	}
	if invokeOpts.TraceID != "" {
		reqCtx.TraceID = invokeOpts.TraceID
	}
	if reqCtx.TraceID == "" {
		reqCtx.TraceID = uuid.NewString()
	}

	scope := reqCtx.Scope()
	logger := logging.WithTrace(e.logger, reqCtx.TraceID)

	history := invokeOpts.History
	if history == nil {
		loaded, err := e.store.Load(ctx, scope, sessionID)
		if err != nil {
			// Routing context is best effort; a pass without history is
			// still a valid pass.
			logger.Warn("failed to load session history",
				"session_id", sessionID, "error", err.Error())
		} else {
			history = loaded
		}
	}
	history = core.Tail(history, e.config.HistoryWindow)

	passCtx, cancel := context.WithTimeout(ctx, invokeOpts.Timeout)
	defer cancel()

	st := core.NewState(input, sessionID, reqCtx, history)
	e.run(passCtx, st, logger)

	final, ok := st.FinalResponse()
	if !ok || final == "" {
		final = e.apology
		if st.Err == nil {
			st.Err = &core.StateError{Code: core.CodeInternal, Message: "pass produced no response"}
		}
	}

	// The deadline may already be spent; the exchange is persisted anyway so
	// the next pass sees what the user was told.
	persistCtx := context.WithoutCancel(ctx)
	if err := e.store.Append(persistCtx, scope, sessionID,
		core.NewUserMessage(input),
		core.NewAssistantMessage(final),
	); err != nil {
		logger.Error("failed to persist exchange",
			"session_id", sessionID, "error", err.Error())
		if st.Err == nil {
			code := core.CodeInternal
			var limitErr *core.LimitExceededError
			if errors.As(err, &limitErr) {
				code = core.CodeLimit
			}
			st.Err = &core.StateError{Code: code, Message: err.Error()}
		}
	}

	logger.Info("pass completed",
		"session_id", sessionID,
		"intents", len(st.Intents),
		"completed", st.CompletedHandlers,
		"degraded", st.Err != nil)

	return Result{
		FinalResponse:     final,
		Intents:           st.Intents,
		CompletedHandlers: st.CompletedHandlers,
		Err:               st.Err,
	}
}

// compile builds the dispatch graph from the current registry snapshot and
// freezes the registry.
func (e *Engine) compile() {
	cls := router.New(e.provider, func(o *router.Options) {
		o.Logger = e.logger
	})
	syn := combiner.New(e.provider, func(o *combiner.Options) {
		o.Logger = e.logger
	})
	e.graph = graph.Build(e.registry, cls, syn, func(o *graph.Options) {
		o.Logger = e.logger
		o.Apology = e.apology
	})
	e.compiled.Store(true)

	e.logger.Info("dispatch graph compiled",
		"capabilities", e.registry.Len(),
		"provider", e.provider.Info().Name)
}

// run executes the graph with a last-resort recover. Handler panics are
// already contained per node; this guards the pass itself.
func (e *Engine) run(ctx context.Context, st *core.State, logger logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pass panicked", "panic", fmt.Sprintf("%v", r))
			if st.Err == nil {
				st.Err = &core.StateError{Code: core.CodeInternal, Message: fmt.Sprintf("panic: %v", r)}
			}
		}
	}()
	e.graph.Run(ctx, st)
}
