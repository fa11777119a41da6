package core

import "fmt"

// RequestContext carries the caller identity and free-form extras for one
// pass. UserID and TeamID scope every session-store operation.
type RequestContext struct {
	UserID  string
	TeamID  string
	TraceID string
	Extras  map[string]string
}

// Scope returns the multi-tenancy scope for session-store operations.
func (c RequestContext) Scope() Scope { return Scope{UserID: c.UserID, TeamID: c.TeamID} }

// State is the per-pass aggregate owned by the engine for the lifetime of a
// single Invoke call. It is allocated at call start and discarded at call
// end; it is never persisted and never shared between passes.
//
// All mutation goes through Apply, which enforces the deterministic merge
// rules of the state-channel model:
//
//   - Intents: set at most once (by the router node)
//   - HandlerResults: insert-only, at most one result per capability
//   - CompletedHandlers: append-only, no duplicates
//   - final response: write-once, immutable thereafter
//   - Err: first write wins, later writes are ignored
//
// State is not safe for concurrent use; a pass executes strictly
// sequentially by design.
type State struct {
	Input     string
	SessionID string
	Request   RequestContext
	History   []Message

	Intents               []Intent
	NeedsClarification    bool
	ClarificationQuestion string
	ClarificationOptions  []string

	HandlerResults    map[string]HandlerResult
	CompletedHandlers []string

	Err *StateError

	finalResponse string
	finalSet      bool
	intentsSet    bool
}

// NewState allocates the per-pass state for one orchestration pass.
func NewState(input, sessionID string, req RequestContext, history []Message) *State {
	return &State{
		Input:          input,
		SessionID:      sessionID,
		Request:        req,
		History:        history,
		HandlerResults: make(map[string]HandlerResult),
	}
}

// Clarification asks the user a follow-up question instead of dispatching.
type Clarification struct {
	Question string
	Options  []string
}

// NamedResult pairs a capability name with the result it produced.
type NamedResult struct {
	Name   string
	Result HandlerResult
}

// Delta is a partial state update produced by one graph node. Zero-valued
// fields are no-ops; Apply merges the rest under the channel rules above.
type Delta struct {
	Intents       []Intent
	Clarification *Clarification
	Result        *NamedResult
	Completed     []string
	FinalResponse *string
	Err           *StateError
}

// Apply merges a node's partial update into the state. It returns an error
// only when a merge rule is violated (duplicate handler result, second final
// response, second intent set) -- conditions the dispatcher is built to make
// impossible, so a non-nil return indicates a wiring bug.
func (s *State) Apply(d Delta) error {
	if d.Intents != nil {
		if s.intentsSet {
			return fmt.Errorf("intents already set for this pass")
		}
		s.Intents = d.Intents
		s.intentsSet = true
	}

	if d.Clarification != nil {
		s.NeedsClarification = true
		s.ClarificationQuestion = d.Clarification.Question
		s.ClarificationOptions = d.Clarification.Options
	}

	if d.Result != nil {
		if _, exists := s.HandlerResults[d.Result.Name]; exists {
			return fmt.Errorf("handler %q already produced a result", d.Result.Name)
		}
		s.HandlerResults[d.Result.Name] = d.Result.Result
		s.CompletedHandlers = append(s.CompletedHandlers, d.Result.Name)
	}

	for _, name := range d.Completed {
		if s.Completed(name) {
			return fmt.Errorf("handler %q already completed", name)
		}
		s.CompletedHandlers = append(s.CompletedHandlers, name)
	}

	if d.FinalResponse != nil {
		if s.finalSet {
			return fmt.Errorf("final response already set")
		}
		s.finalResponse = *d.FinalResponse
		s.finalSet = true
	}

	if d.Err != nil && s.Err == nil {
		s.Err = d.Err
	}

	return nil
}

// FinalResponse returns the final response and whether it has been set.
func (s *State) FinalResponse() (string, bool) { return s.finalResponse, s.finalSet }

// Completed reports whether the named handler already ran during this pass.
func (s *State) Completed(name string) bool {
	for _, n := range s.CompletedHandlers {
		if n == name {
			return true
		}
	}
	return false
}

// HasIntent reports whether an intent with the given type was detected.
func (s *State) HasIntent(tag string) bool {
	for _, in := range s.Intents {
		if in.Type == tag {
			return true
		}
	}
	return false
}

// GreetingOnly reports whether the detected intents consist of exactly the
// greeting intent.
func (s *State) GreetingOnly() bool {
	return len(s.Intents) == 1 && s.Intents[0].IsGreeting()
}

// View returns the read-only accessor handed to capability handlers.
func (s *State) View() *StateView { return &StateView{s: s} }

// StateView is the read-only window a capability handler receives. It exposes
// the pass input, caller identity, trimmed history, detected intents and the
// results of earlier handlers in the chain, without permitting mutation.
type StateView struct {
	s *State
}

// Input returns the raw user input for this pass.
func (v *StateView) Input() string { return v.s.Input }

// SessionID returns the parent session id for this pass.
func (v *StateView) SessionID() string { return v.s.SessionID }

// UserID returns the calling user's id.
func (v *StateView) UserID() string { return v.s.Request.UserID }

// TeamID returns the calling user's team id.
func (v *StateView) TeamID() string { return v.s.Request.TeamID }

// TraceID returns the trace id correlating log events for this pass.
func (v *StateView) TraceID() string { return v.s.Request.TraceID }

// Extra returns a free-form request extra by key.
func (v *StateView) Extra(key string) (string, bool) {
	val, ok := v.s.Request.Extras[key]
	return val, ok
}

// History returns a copy of the trailing conversation history.
func (v *StateView) History() []Message {
	out := make([]Message, len(v.s.History))
	copy(out, v.s.History)
	return out
}

// Intent returns the detected intent with the given type, if any. Handlers
// use it to read the slots the router extracted for their capability.
func (v *StateView) Intent(tag string) (Intent, bool) {
	for _, in := range v.s.Intents {
		if in.Type == tag {
			return in, true
		}
	}
	return Intent{}, false
}

// Result returns the result an earlier handler in the chain produced.
func (v *StateView) Result(name string) (HandlerResult, bool) {
	r, ok := v.s.HandlerResults[name]
	return r, ok
}

// SubSessionID derives the session id scoping the named capability's private
// conversational memory under this pass's parent session.
func (v *StateView) SubSessionID(capability string) string {
	return SubSessionID(v.s.SessionID, capability)
}
