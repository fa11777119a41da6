// Package core defines the shared vocabulary of the intentmesh framework:
// conversation messages, intents, capabilities, the per-pass orchestration
// state with its deterministic merge rules, session records and the
// SessionStore contract, plus the error taxonomy used across packages.
//
// Higher-level packages (registry, router, graph, combiner, engine) depend on
// core; core depends on nothing but the standard library. This keeps the
// dependency graph acyclic and lets embedders implement their own stores and
// handlers against a small, stable surface.
package core
