package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/graph"
	"github.com/hupe1980/intentmesh/model"
	"github.com/hupe1980/intentmesh/session"
)

var testRequest = core.RequestContext{UserID: "u1", TeamID: "t1"}

func intPtr(n int) *int { return &n }

func taskCapability(t *testing.T) core.Capability {
	t.Helper()
	return core.Capability{
		Name:      "tasks",
		IntentTag: "task_query",
		Handler: func(_ context.Context, _ *core.StateView) (core.HandlerResult, error) {
			return core.HandlerResult{
				Success:   true,
				Operation: "list",
				Message:   "3 open tasks",
				Count:     intPtr(3),
			}, nil
		},
	}
}

func TestGreetingPass(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"greeting"}],"needs_clarification":false}`)
	provider.AddResponse("User message:", "¡Hola! ¿En qué puedo ayudarte hoy?")

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(context.Background(), "Hola!", "s1", testRequest)

	assert.Nil(t, result.Err)
	assert.Equal(t, "¡Hola! ¿En qué puedo ayudarte hoy?", result.FinalResponse)
	assert.Equal(t, []string{core.TagGreeting}, result.CompletedHandlers)

	messages, err := e.SessionStore().Load(context.Background(), testRequest.Scope(), "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, core.RoleUser, messages[0].Role)
	assert.Equal(t, "Hola!", messages[0].Text)
	assert.Equal(t, core.RoleAssistant, messages[1].Role)
	assert.Equal(t, result.FinalResponse, messages[1].Text)
}

func TestCapabilityPass(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"task_query","slots":{"status":"open"}}],"needs_clarification":false}`)
	provider.AddResponse("Results to cover:", "You have 3 open tasks.")

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(context.Background(), "how many tasks are open?", "s1", testRequest)

	assert.Nil(t, result.Err)
	assert.Equal(t, "You have 3 open tasks.", result.FinalResponse)
	assert.Equal(t, []string{"tasks"}, result.CompletedHandlers)
	require.Len(t, result.Intents, 1)
	assert.Equal(t, "task_query", result.Intents[0].Type)
	assert.Equal(t, "open", result.Intents[0].Slots["status"])
}

func TestHandlerFailureNeverLeaksDetail(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"task_query"}],"needs_clarification":false}`)

	e := New(provider)
	require.NoError(t, e.RegisterCapability(core.Capability{
		Name:      "tasks",
		IntentTag: "task_query",
		Handler: func(_ context.Context, _ *core.StateView) (core.HandlerResult, error) {
			return core.HandlerResult{}, errors.New("DB unavailable at 10.0.0.5")
		},
	}))

	result := e.Invoke(context.Background(), "show my tasks", "s1", testRequest)

	require.NotNil(t, result.Err)
	assert.Equal(t, core.CodeHandler, result.Err.Code)
	assert.Equal(t, "tasks", result.Err.Capability)
	assert.Equal(t, graph.DefaultApology, result.FinalResponse)
	assert.NotContains(t, result.FinalResponse, "DB unavailable")
	assert.NotContains(t, result.FinalResponse, "10.0.0.5")

	// The apology, not the raw error, is what the session records.
	messages, err := e.SessionStore().Load(context.Background(), testRequest.Scope(), "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, graph.DefaultApology, messages[1].Text)
}

func TestProviderFailureStillResponds(t *testing.T) {
	provider := model.NewMockProvider()
	provider.FailWith(errors.New("model down"))

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(context.Background(), "anything", "s1", testRequest)

	require.NotNil(t, result.Err)
	assert.Equal(t, core.CodeRouting, result.Err.Code)
	assert.NotEmpty(t, result.FinalResponse)
	assert.NotContains(t, result.FinalResponse, "model down")
}

func TestClarificationPass(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[],"needs_clarification":true,"question":"Which project do you mean?","options":["alpha","beta"]}`)

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(context.Background(), "do the thing", "s1", testRequest)

	assert.Nil(t, result.Err)
	assert.Contains(t, result.FinalResponse, "Which project do you mean?")
	assert.Contains(t, result.FinalResponse, "alpha, beta")
	assert.Empty(t, result.CompletedHandlers)
}

func TestEachPassAppendsOneExchange(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"greeting"}],"needs_clarification":false}`)
	provider.AddResponse("User message:", "Hello!")

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	e.Invoke(context.Background(), "hi", "s1", testRequest)
	e.Invoke(context.Background(), "hi", "s1", testRequest)

	messages, err := e.SessionStore().Load(context.Background(), testRequest.Scope(), "s1")
	require.NoError(t, err)
	require.Len(t, messages, 4)
	assert.Equal(t, core.RoleUser, messages[0].Role)
	assert.Equal(t, core.RoleAssistant, messages[1].Role)
	assert.Equal(t, core.RoleUser, messages[2].Role)
	assert.Equal(t, core.RoleAssistant, messages[3].Role)
}

func TestTimeoutDegradesToApology(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"task_query"}],"needs_clarification":false}`)

	e := New(provider)
	require.NoError(t, e.RegisterCapability(core.Capability{
		Name:      "slow",
		IntentTag: "task_query",
		Handler: func(_ context.Context, _ *core.StateView) (core.HandlerResult, error) {
			time.Sleep(50 * time.Millisecond)
			return core.HandlerResult{Success: true, Message: "done"}, nil
		},
	}))

	result := e.Invoke(context.Background(), "show my tasks", "s1", testRequest, func(o *InvokeOptions) {
		o.Timeout = 5 * time.Millisecond
	})

	require.NotNil(t, result.Err)
	assert.Equal(t, core.CodeTimeout, result.Err.Code)
	assert.Equal(t, graph.DefaultApology, result.FinalResponse)

	// Persistence survives the expired deadline.
	messages, err := e.SessionStore().Load(context.Background(), testRequest.Scope(), "s1")
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestHandlerPanicIsContained(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"task_query"}],"needs_clarification":false}`)

	e := New(provider)
	require.NoError(t, e.RegisterCapability(core.Capability{
		Name:      "tasks",
		IntentTag: "task_query",
		Handler: func(_ context.Context, _ *core.StateView) (core.HandlerResult, error) {
			panic("boom")
		},
	}))

	result := e.Invoke(context.Background(), "show my tasks", "s1", testRequest)

	require.NotNil(t, result.Err)
	assert.Equal(t, core.CodeHandler, result.Err.Code)
	assert.NotEmpty(t, result.FinalResponse)
	assert.NotContains(t, result.FinalResponse, "boom")
}

func TestRegistryFrozenAfterFirstInvocation(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"greeting"}],"needs_clarification":false}`)
	provider.SetDefault("hello")

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	e.Invoke(context.Background(), "hi", "s1", testRequest)

	err := e.RegisterCapability(core.Capability{
		Name:      "late",
		IntentTag: "late_intent",
		Handler: func(_ context.Context, _ *core.StateView) (core.HandlerResult, error) {
			return core.HandlerResult{}, nil
		},
	})
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPersistenceQuotaSurfacesInResult(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"greeting"}],"needs_clarification":false}`)
	provider.AddResponse("User message:", "Hello!")

	// One pinned session exhausts the cap, so persisting a new session fails.
	store := session.NewInMemoryStore(func(o *session.Options) {
		o.Config = core.SessionConfig{WindowSize: 10, MaxSessions: 1}
	})
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, testRequest.Scope(), "only", core.NewUserMessage("seed")))
	require.NoError(t, store.Pin(ctx, testRequest.Scope(), "only", true))

	e := New(provider, func(o *Options) {
		o.SessionStore = store
	})
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(ctx, "hi", "blocked", testRequest)

	require.NotNil(t, result.Err)
	assert.Equal(t, core.CodeLimit, result.Err.Code)
	assert.Equal(t, "Hello!", result.FinalResponse)
}

func TestCustomApology(t *testing.T) {
	provider := model.NewMockProvider()
	provider.FailWith(errors.New("model down"))

	e := New(provider, func(o *Options) {
		o.Apology = "Entschuldigung, da ist etwas schiefgelaufen."
	})
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	result := e.Invoke(context.Background(), "anything", "s1", testRequest)
	assert.Equal(t, "Entschuldigung, da ist etwas schiefgelaufen.", result.FinalResponse)
}

func TestSuppliedHistorySkipsStoreLoad(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("User request:", `{"intents":[{"type":"greeting"}],"needs_clarification":false}`)
	provider.SetDefault("hello")

	e := New(provider)
	require.NoError(t, e.RegisterCapability(taskCapability(t)))

	history := []core.Message{core.NewUserMessage("earlier"), core.NewAssistantMessage("noted")}
	result := e.Invoke(context.Background(), "hi", "s1", testRequest, func(o *InvokeOptions) {
		o.History = history
	})
	assert.Nil(t, result.Err)
	assert.NotEmpty(t, result.FinalResponse)
}
