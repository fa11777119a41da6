package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/model"
)

var vocabulary = []string{"task", "customer"}

func classify(t *testing.T, provider *model.MockProvider, input string) (core.Delta, error) {
	t.Helper()
	r := New(provider)
	return r.Classify(context.Background(), input, nil, vocabulary)
}

func TestRouter_SingleIntentWithSlots(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("show my open tasks",
		`{"intents":[{"type":"task","slots":{"filter":"open"}}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "show my open tasks")
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.Equal(t, "task", delta.Intents[0].Type)
	assert.Equal(t, "open", delta.Intents[0].Slots["filter"])
	assert.Nil(t, delta.Clarification)
	assert.Equal(t, 1, provider.Calls())
}

func TestRouter_DropsOutOfVocabularyIntent(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("weather",
		`{"intents":[{"type":"weather"},{"type":"task"}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "weather and tasks")
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.Equal(t, "task", delta.Intents[0].Type)
}

func TestRouter_GreetingDiscardedAlongsideSubstantiveIntent(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("hello",
		`{"intents":[{"type":"greeting"},{"type":"task"}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "hello, list my tasks")
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.Equal(t, "task", delta.Intents[0].Type)
}

func TestRouter_GreetingOnlySurvives(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("Hola",
		`{"intents":[{"type":"greeting"}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "Hola!")
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.True(t, delta.Intents[0].IsGreeting())
}

func TestRouter_NoValidIntentsBecomesClarification(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("gibberish",
		`{"intents":[{"type":"weather"}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "gibberish")
	require.NoError(t, err)
	require.NotNil(t, delta.Clarification)
	assert.Equal(t, DefaultQuestion, delta.Clarification.Question)
	assert.Empty(t, delta.Intents)
}

func TestRouter_ExplicitClarificationWithOptions(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("it",
		`{"intents":[],"needs_clarification":true,"question":"Which one do you mean?","options":["tasks","customers"]}`)

	delta, err := classify(t, provider, "update it")
	require.NoError(t, err)
	require.NotNil(t, delta.Clarification)
	assert.Equal(t, "Which one do you mean?", delta.Clarification.Question)
	assert.Equal(t, []string{"tasks", "customers"}, delta.Clarification.Options)
}

func TestRouter_ProviderFailureIsRoutingError(t *testing.T) {
	provider := model.NewMockProvider()
	provider.FailWith(errors.New("upstream down"))

	_, err := classify(t, provider, "anything")
	var routingErr *core.RoutingError
	require.ErrorAs(t, err, &routingErr)
}

func TestRouter_UnparseableCompletionIsRoutingError(t *testing.T) {
	provider := model.NewMockProvider()
	provider.SetDefault("sorry, I can't classify that")

	_, err := classify(t, provider, "anything")
	var routingErr *core.RoutingError
	require.ErrorAs(t, err, &routingErr)
}

func TestRouter_StripsCodeFences(t *testing.T) {
	provider := model.NewMockProvider()
	provider.SetDefault("```json\n{\"intents\":[{\"type\":\"task\"}],\"needs_clarification\":false}\n```")

	delta, err := classify(t, provider, "tasks please")
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.Equal(t, "task", delta.Intents[0].Type)
}

func TestRouter_DeduplicatesIntents(t *testing.T) {
	provider := model.NewMockProvider()
	provider.SetDefault(`{"intents":[{"type":"task"},{"type":"task"}],"needs_clarification":false}`)

	delta, err := classify(t, provider, "tasks twice")
	require.NoError(t, err)
	assert.Len(t, delta.Intents, 1)
}

func TestRouter_RoutingContextAfterLastUserTurn(t *testing.T) {
	provider := model.NewMockProvider()
	// The prompt must contain the post-user artifact but not the stale turn:
	// if the stale turn leaked into the context, the first rule would win.
	provider.AddResponse("stale request",
		`{"intents":[{"type":"customer"}],"needs_clarification":false}`)
	provider.AddResponse("fresh artifact",
		`{"intents":[{"type":"task"}],"needs_clarification":false}`)
	provider.SetDefault(`{"intents":[],"needs_clarification":true}`)

	history := []core.Message{
		core.NewUserMessage("stale request about customers"),
		core.NewAssistantMessage("fresh artifact"),
	}

	r := New(provider)
	delta, err := r.Classify(context.Background(), "continue", history, vocabulary)
	require.NoError(t, err)
	require.Len(t, delta.Intents, 1)
	assert.Equal(t, "task", delta.Intents[0].Type)
}
