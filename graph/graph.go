// Package graph compiles the capability registry into the dispatch graph and
// executes it. The graph is built once at configuration time: one router
// node, one node per capability, three system nodes (greeting, clarification,
// error) and a combiner node. Execution is strictly sequential -- later
// registered handlers may rely on earlier handlers' partial results -- and
// visits exactly the matched capabilities, so a pass costs O(matched
// intents), never O(all capabilities).
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/intentmesh/core"
	"github.com/hupe1980/intentmesh/logging"
	"github.com/hupe1980/intentmesh/registry"
)

// Node names of the fixed (non-capability) graph nodes.
const (
	NodeRouter        = "router"
	NodeGreeting      = core.TagGreeting
	NodeClarification = core.TagClarification
	NodeError         = core.TagError
	NodeCombiner      = "combiner"
	nodeEnd           = "__end__"
)

// DefaultApology terminates error passes when no override is configured. It
// deliberately carries no detail about what went wrong.
const DefaultApology = "I'm sorry, something went wrong while handling your request. Please try again, or rephrase what you need."

// defaultQuestion guards the clarification node against a missing question.
const defaultQuestion = "Could you tell me a bit more about what you'd like me to do?"

// Classifier produces the routing delta for a pass. Implemented by router.Router.
type Classifier interface {
	Classify(ctx context.Context, input string, history []core.Message, vocabulary []string) (core.Delta, error)
}

// Synthesizer phrases the final response for a pass. Implemented by
// combiner.Combiner; it must not fail (degrading internally instead).
type Synthesizer interface {
	Combine(ctx context.Context, st *core.State) string
}

// Options configures graph compilation.
type Options struct {
	Logger logging.Logger
	// Apology overrides the user-facing text of the error node.
	Apology string
}

// node pairs a state transition with a conditional edge selector. run mutates
// state exclusively through State.Apply; next inspects the merged state to
// pick the following node.
type node struct {
	run  func(ctx context.Context, st *core.State)
	next func(st *core.State) string
}

// Graph is the compiled dispatch graph for one capability set. It is
// immutable after Build and safe for concurrent passes: all per-pass data
// lives in the State threaded through Run.
type Graph struct {
	nodes      map[string]node
	caps       []core.Capability
	vocabulary []string
	logger     logging.Logger
	apology    string
}

// Build compiles the graph from a snapshot of the registry. Later registry
// mutations do not affect a built graph.
func Build(reg *registry.Registry, cls Classifier, syn Synthesizer, optFns ...func(o *Options)) *Graph {
	opts := Options{
		Logger:  logging.NoOpLogger{},
		Apology: DefaultApology,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	g := &Graph{
		nodes:      make(map[string]node),
		caps:       reg.List(),
		vocabulary: reg.Tags(),
		logger:     opts.Logger,
		apology:    opts.Apology,
	}

	g.nodes[NodeRouter] = g.routerNode(cls)
	for _, c := range g.caps {
		g.nodes[c.Name] = g.capabilityNode(c)
	}
	g.nodes[NodeGreeting] = g.greetingNode()
	g.nodes[NodeClarification] = g.clarificationNode()
	g.nodes[NodeError] = g.errorNode()
	g.nodes[NodeCombiner] = g.combinerNode(syn)

	return g
}

// Run executes one pass over the graph. The deadline is checked before every
// node; once exceeded, execution is redirected through the error node so the
// caller still receives a well-formed response. Run itself never returns an
// error: failures are recorded in st.Err and phrased by the error node.
func (g *Graph) Run(ctx context.Context, st *core.State) {
	cur := NodeRouter
	for cur != nodeEnd {
		if cur != NodeError && cur != NodeClarification && ctx.Err() != nil {
			g.apply(st, core.Delta{Err: &core.StateError{
				Code:    core.CodeTimeout,
				Message: (&core.TimeoutError{Stage: cur}).Error(),
			}})
			cur = NodeError
			continue
		}

		n, ok := g.nodes[cur]
		if !ok {
			// Unknown node means a wiring bug; terminate through error.
			g.apply(st, core.Delta{Err: &core.StateError{
				Code:    core.CodeInternal,
				Message: fmt.Sprintf("unknown graph node %q", cur),
			}})
			cur = NodeError
			continue
		}

		n.run(ctx, st)
		cur = n.next(st)
	}
}

// apply funnels every node delta through the state-channel merge; a merge
// violation is a dispatcher bug and is downgraded to a logged internal error
// rather than a panic.
func (g *Graph) apply(st *core.State, d core.Delta) {
	if err := st.Apply(d); err != nil {
		g.logger.Error("state merge rejected", "error", err.Error())
		_ = st.Apply(core.Delta{Err: &core.StateError{Code: core.CodeInternal, Message: err.Error()}})
	}
}

func (g *Graph) routerNode(cls Classifier) node {
	return node{
		run: func(ctx context.Context, st *core.State) {
			delta, err := cls.Classify(ctx, st.Input, st.History, g.vocabulary)
			if err != nil {
				g.logger.Error("intent classification failed", "trace_id", st.Request.TraceID, "error", err.Error())
				g.apply(st, core.Delta{Err: &core.StateError{Code: core.CodeRouting, Message: err.Error()}})
				return
			}
			g.apply(st, delta)
			g.logger.Debug("intents classified",
				"trace_id", st.Request.TraceID,
				"intents", len(st.Intents),
				"needs_clarification", st.NeedsClarification)
		},
		next: func(st *core.State) string {
			switch {
			case st.Err != nil:
				return NodeError
			case st.NeedsClarification:
				return NodeClarification
			case st.GreetingOnly():
				return NodeGreeting
			}
			if name := g.nextCapability(st); name != "" {
				return name
			}
			return NodeClarification
		},
	}
}

func (g *Graph) capabilityNode(c core.Capability) node {
	return node{
		run: func(ctx context.Context, st *core.State) {
			if st.Completed(c.Name) {
				return
			}
			res, err := g.safeCall(ctx, c, st.View())
			if err != nil {
				herr := &core.HandlerError{Capability: c.Name, Err: err}
				g.logger.Error("handler failed", "trace_id", st.Request.TraceID, "capability", c.Name, "error", herr.Error())
				g.apply(st, core.Delta{Err: &core.StateError{
					Code:       core.CodeHandler,
					Capability: c.Name,
					Message:    herr.Error(),
				}})
				return
			}
			g.apply(st, core.Delta{Result: &core.NamedResult{Name: c.Name, Result: res}})
			g.logger.Debug("handler completed", "trace_id", st.Request.TraceID, "capability", c.Name, "success", res.Success)
		},
		next: func(st *core.State) string {
			if st.Err != nil {
				return NodeError
			}
			if name := g.nextCapability(st); name != "" {
				return name
			}
			return NodeCombiner
		},
	}
}

// greetingNode marks itself completed and proceeds to the combiner so the
// greeting can be phrased naturally in the user's language.
func (g *Graph) greetingNode() node {
	return node{
		run: func(_ context.Context, st *core.State) {
			g.apply(st, core.Delta{Completed: []string{core.TagGreeting}})
		},
		next: func(*core.State) string { return NodeCombiner },
	}
}

// clarificationNode sets the final response directly and terminates without
// further model calls.
func (g *Graph) clarificationNode() node {
	return node{
		run: func(_ context.Context, st *core.State) {
			question := st.ClarificationQuestion
			if question == "" {
				question = defaultQuestion
			}
			if len(st.ClarificationOptions) > 0 {
				question = fmt.Sprintf("%s For example: %s.", question, strings.Join(st.ClarificationOptions, ", "))
			}
			g.apply(st, core.Delta{FinalResponse: &question})
		},
		next: func(*core.State) string { return nodeEnd },
	}
}

// errorNode translates whatever failure reached it into a plain apology. The
// machine-readable detail stays in st.Err; none of it leaks into the reply.
func (g *Graph) errorNode() node {
	return node{
		run: func(_ context.Context, st *core.State) {
			if _, set := st.FinalResponse(); set {
				return
			}
			apology := g.apology
			g.apply(st, core.Delta{FinalResponse: &apology})
		},
		next: func(*core.State) string { return nodeEnd },
	}
}

func (g *Graph) combinerNode(syn Synthesizer) node {
	return node{
		run: func(ctx context.Context, st *core.State) {
			text := syn.Combine(ctx, st)
			g.apply(st, core.Delta{FinalResponse: &text})
		},
		next: func(*core.State) string { return nodeEnd },
	}
}

// nextCapability returns the first capability in registration order whose
// intent was detected and whose handler has not completed yet. Registration
// order is the tie-break regardless of the order the router emitted intents.
func (g *Graph) nextCapability(st *core.State) string {
	for _, c := range g.caps {
		if st.HasIntent(c.IntentTag) && !st.Completed(c.Name) {
			return c.Name
		}
	}
	return ""
}

// safeCall invokes a handler, converting a panic into an ordinary error so a
// throwing handler fails the pass instead of the process.
func (g *Graph) safeCall(ctx context.Context, c core.Capability, view *core.StateView) (res core.HandlerResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Handler(ctx, view)
}
