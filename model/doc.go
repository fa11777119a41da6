// Package model defines the minimal model-provider interface the router and
// combiner consume, plus a deterministic MockProvider for tests and examples.
// Concrete vendor adapters live in the openai and anthropic subpackages; the
// engine is never bound to a specific vendor.
package model
