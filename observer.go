package scriptenv

import "time"

// Observer is an interface for observing engine events. Implementations can
// be used for metrics, tracing or tests without modifying the engine.
//
// All methods are optional - implementations can embed NoOpObserver to
// provide default no-op implementations for methods they don't need.
//
// Observer methods are called synchronously, possibly from many goroutines
// at once. Implementations should be fast and safe for concurrent use.
type Observer interface {
	// OnCompile is called after every compile attempt, including failed
	// attempts that lead to a retry at a lower optimization level.
	OnCompile(event CompileEvent)

	// OnCacheHit is called when a compiled unit is served from a cache.
	OnCacheHit(event CacheEvent)

	// OnExecuteStart is called before a unit runs.
	OnExecuteStart(event ExecuteEvent)

	// OnExecuteEnd is called after a unit ran, whether or not it failed.
	OnExecuteEnd(event ExecuteEvent)
}

// CompileEvent describes one compile attempt.
type CompileEvent struct {
	// Script is the name of the script being compiled.
	Script string

	// Level is the optimization level of the attempt.
	Level int

	// Duration is the time the attempt took.
	Duration time.Duration

	// Err is the compile error, or nil on success.
	Err error
}

// CacheEvent describes a cache hit.
type CacheEvent struct {
	Script  string
	Key     string
	Dynamic bool
}

// ExecuteEvent describes the execution of one unit.
type ExecuteEvent struct {
	// Script is the name of the executing script.
	Script string

	// Depth is the length of the call chain including the script.
	Depth int

	// Duration is zero for OnExecuteStart.
	Duration time.Duration

	// Err is the execution error, only set for OnExecuteEnd.
	Err error
}

// NoOpObserver implements Observer with no-op methods. Embed it to
// implement only the methods you need.
type NoOpObserver struct{}

func (NoOpObserver) OnCompile(CompileEvent)      {}
func (NoOpObserver) OnCacheHit(CacheEvent)       {}
func (NoOpObserver) OnExecuteStart(ExecuteEvent) {}
func (NoOpObserver) OnExecuteEnd(ExecuteEvent)   {}
