// Package intentmesh provides a high-level façade over the core engine and
// service abstractions (routing, dispatch, sessions & logging) for building
// intent-routed assistants. Most applications interact with this package by:
//  1. Creating an IntentMesh via New() with a model provider
//  2. Registering one or more capabilities (an intent tag plus a handler)
//  3. Invoking it with raw user input and a session id
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable session
// store and a structured logger.
package intentmesh

import (
	"context"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/engine"
	"github.com/hupe1980/intentmesh/logging"
	"github.com/hupe1980/intentmesh/model"
	"github.com/hupe1980/intentmesh/session"
)

// Options configures the IntentMesh instance.
type Options struct {
	// EngineConfig carries the per-pass timeout and history window.
	EngineConfig engine.Config

	// SessionStore persists conversation history (defaults to in-memory).
	SessionStore core.SessionStore

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Apology overrides the user-facing text returned when a pass fails.
	Apology string
}

// IntentMesh is the high-level façade aggregating the underlying engine and
// services.
type IntentMesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new IntentMesh instance over the given model provider,
// with optional overrides. Any unset service is initialized with an
// in-memory implementation.
func New(provider model.Provider, optFns ...func(o *Options)) *IntentMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		SessionStore: session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	e := engine.New(provider, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.SessionStore = opts.SessionStore
		o.Logger = opts.Logger
		if opts.Apology != "" {
			o.Apology = opts.Apology
		}
	})

	return &IntentMesh{opts: opts, engine: e}
}

// RegisterCapability adds a capability to the underlying engine. It fails on
// duplicate or reserved names and once the first invocation has compiled the
// dispatch graph.
func (m *IntentMesh) RegisterCapability(c core.Capability) error {
	return m.engine.RegisterCapability(c)
}

// Invoke runs one complete pass over the input and returns a result whose
// FinalResponse is never empty.
func (m *IntentMesh) Invoke(ctx context.Context, input, sessionID string, reqCtx core.RequestContext, optFns ...func(o *engine.InvokeOptions)) engine.Result {
	return m.engine.Invoke(ctx, input, sessionID, reqCtx, optFns...)
}

// Sessions exposes the session store for management operations (list,
// rename, pin, delete).
func (m *IntentMesh) Sessions() core.SessionStore { return m.engine.SessionStore() }
