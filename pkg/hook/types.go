// Package hook runs user-provided Tengo scripts at sync lifecycle points.
// Scripts are the notification surface: they see the run summary and per-file
// outcomes and can call out however they like.
package hook

// Type represents the lifecycle point a script is attached to.
type Type string

// Supported hook types.
const (
	// PostFile runs after each finished download task, successful or not.
	PostFile Type = "post_file"
	// PostRun runs once after the whole run committed.
	PostRun Type = "post_run"
	// OnFail runs once when a run ends with failed tasks.
	OnFail Type = "on_fail"
)

// Hook represents a hook script with its type and content.
type Hook struct {
	Type    Type
	Content string
}

// Context contains the variables passed to a script.
type Context struct {
	RunID    string
	Course   string
	FilePath string
	Status   string
	Vars     map[string]interface{}
}

// Manager defines the interface for managing hooks.
type Manager interface {
	// Execute runs the script for the given type, if one is loaded.
	Execute(hookType Type, ctx Context) error

	// AddHook adds a new hook.
	AddHook(hook Hook) error

	// HasHook checks whether a script exists for the given type.
	HasHook(hookType Type) bool
}
