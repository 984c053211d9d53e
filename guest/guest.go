// Package guest defines the contract between the host runtime and an
// embedded script engine.
package guest

import (
	"context"

	"github.com/deepnoodle-ai/scriptenv/scope"
)

// Unit is an opaque compiled script. Units carry no mutable state and may
// be executed concurrently in different scopes.
type Unit interface {
	// Path is the path the unit was compiled under.
	Path() string

	// Level is the optimization level the unit was compiled at.
	Level() int
}

// Engine is an embedded script engine.
type Engine interface {
	// Name of the engine, e.g. "goja".
	Name() string

	// Levels returns the lowest and highest optimization level the engine
	// accepts. Compilation failover walks down from the configured level to
	// the floor.
	Levels() (floor, ceiling int)

	// Compile compiles source at the given optimization level.
	Compile(source, path string, level int) (Unit, error)

	// Execute runs a unit in a scope and returns the result as a
	// guest-neutral Go value. Running a unit in a scope that is already
	// executing continues in the same guest runtime.
	Execute(ctx context.Context, unit Unit, s *scope.Scope) (any, error)

	// Global reads a top-level binding from the guest runtime attached to
	// the scope, as a guest-neutral Go value.
	Global(s *scope.Scope, name string) (any, bool)
}

// Func is a host function bound into a scope. Engines call it with the
// context of the execution that invoked it, so nested executions started
// from inside a Func continue the same call tree.
type Func func(ctx context.Context, args ...any) (any, error)
