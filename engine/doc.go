// Package engine orchestrates a complete request pass. It owns the
// capability registry, compiles the dispatch graph on first use, loads and
// persists session history and guarantees that every invocation produces a
// well-formed result regardless of what fails along the way.
package engine
