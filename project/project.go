// Package project defines the data model the hot-reload engine operates on:
// the resolved Project, its per-target OutputState, and the tagged Status
// union each target's compile cycle moves through.
//
// A Project is assembled by an external loader (out of scope here) and
// handed to the engine fully resolved; this package only owns the shape and
// the small mutation helpers the compile engine and orchestrator need.
package project

import (
	"sort"
	"sync"
)

// CompilationMode is the per-target build mode.
type CompilationMode string

const (
	ModeStandard CompilationMode = "standard"
	ModeDebug    CompilationMode = "debug"
	ModeOptimize CompilationMode = "optimize"
)

// RunMode distinguishes a one-shot make from a watching hot run.
type RunMode string

const (
	RunModeMake RunMode = "make"
	RunModeHot  RunMode = "hot"
)

// OutputPath is either a real file path (with the original user-written
// form preserved for display) or the null sink for typecheck-only targets.
type OutputPath struct {
	// Original is the path exactly as written in the configuration file.
	// Empty when this is the null sink.
	Original string
	// Absolute is the resolved absolute path. Empty when this is the null sink.
	Absolute string
	// IsNull is true for a typecheck-only target (no artifact written).
	IsNull bool
}

// NullOutputPath is the canonical null-sink value.
func NullOutputPath() OutputPath {
	return OutputPath{IsNull: true}
}

// String renders the path for diagnostics and map keys.
func (p OutputPath) String() string {
	if p.IsNull {
		return "(typecheck only)"
	}
	return p.Original
}

// ConfigError is a configuration-level error attached to a specific output
// rather than to any one target's Status (the target may not exist yet).
type ConfigError struct {
	Output  OutputPath
	Message string
}

// Project is the fully resolved, immutable-for-the-run input to the engine.
type Project struct {
	// WatchRoot is the directory the filesystem watcher observes.
	WatchRoot string
	// ConfigPath is the absolute path to the configuration file that
	// produced this Project (elm-watch.json), used to detect self-edits.
	ConfigPath string
	// ElmJsons maps each project-manifest path (elm.json) to the set of
	// outputs it governs, preserving declaration order for priority
	// tie-breaks (see DESIGN.md's Open Question resolution).
	ElmJsons []ElmJsonEntry
	// ElmJsonsErrors are configuration-level errors not tied to a live
	// target, reprinted every compile cycle until the config is fixed.
	ElmJsonsErrors []ConfigError
	// Disabled is the set of output names excluded by CLI target filtering.
	Disabled map[string]struct{}
}

// ElmJsonEntry pairs one elm.json with its ordered outputs.
type ElmJsonEntry struct {
	ElmJsonPath string
	Outputs     []*TargetEntry
}

// TargetEntry names an output within an elm.json and owns its mutable state.
type TargetEntry struct {
	Name  string // the configuration key, e.g. "main"
	State *OutputState
}

// AllTargets returns every target across every elm.json, in declaration
// order. Declaration order is the tie-break for equal connection priority
// when priorities tie.
func (p *Project) AllTargets() []*TargetEntry {
	var out []*TargetEntry
	for _, ej := range p.ElmJsons {
		out = append(out, ej.Outputs...)
	}
	return out
}

// EnabledTargetNames and DisabledTargetNames are used to build
// OutputNotFound/OutputDisabled diagnostics for the WebSocket server.
func (p *Project) EnabledTargetNames() []string {
	var names []string
	for _, t := range p.AllTargets() {
		if _, disabled := p.Disabled[t.Name]; !disabled {
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (p *Project) DisabledTargetNames() []string {
	names := make([]string, 0, len(p.Disabled))
	for name := range p.Disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindTarget looks up a target by its configuration name across all
// elm.json entries.
func (p *Project) FindTarget(name string) *TargetEntry {
	for _, t := range p.AllTargets() {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// PostprocessCommand is a non-empty argv. The first token is either the
// literal "elm-watch-node" (worker-pool form) or an external executable.
type PostprocessCommand []string

// IsWorkerScript reports whether this command runs in the worker pool.
func (c PostprocessCommand) IsWorkerScript() bool {
	return len(c) > 0 && c[0] == "elm-watch-node"
}

// OutputState is the mutable, per-target record the engine owns for the
// duration of one run. It is created by the loader and discarded on
// restart.
type OutputState struct {
	mu sync.Mutex

	// Output identifies where (or whether) this target writes an artifact.
	Output OutputPath

	// Inputs is the non-empty ordered list of entry-point file paths.
	Inputs []string

	// CompilationMode is mutated live by WebSocket ChangeCompilationMode.
	CompilationMode CompilationMode

	// Postprocess is nil when the target has no postprocess step.
	Postprocess PostprocessCommand

	// AllRelatedElmFilePaths is the set of absolute paths considered
	// related to this target, used to decide whether a watcher event
	// should mark it dirty.
	AllRelatedElmFilePaths map[string]struct{}

	// Dirty means the artifact is known stale and must be rebuilt.
	Dirty bool

	// Status is the current terminal or in-progress result.
	Status Status

	// pendingCode holds the freshly compiled bytes between the compile
	// and postprocess phases. The compiler writes to a temporary file;
	// the engine reads it once into this buffer, deletes the temporary,
	// and this buffer is the source of truth until postprocess replaces
	// it with the transformed result.
	pendingCode []byte
}

// NewOutputState constructs a target in its initial not-written state.
func NewOutputState(output OutputPath, inputs []string, mode CompilationMode, postprocess PostprocessCommand, related map[string]struct{}) *OutputState {
	if related == nil {
		related = make(map[string]struct{})
	}
	return &OutputState{
		Output:                 output,
		Inputs:                 inputs,
		CompilationMode:        mode,
		Postprocess:            postprocess,
		AllRelatedElmFilePaths: related,
		Dirty:                  true,
		Status:                 StatusNotWrittenToDisk{},
	}
}

// MarkDirty sets Dirty and returns whether it changed from false to true.
func (o *OutputState) MarkDirty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	changed := !o.Dirty
	o.Dirty = true
	return changed
}

// ClearDirty clears the dirty flag; called exactly when the target enters
// ElmMake, not at completion.
func (o *OutputState) ClearDirty() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Dirty = false
}

// IsDirty reads the dirty flag under the lock.
func (o *OutputState) IsDirty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Dirty
}

// SetStatus installs a new status under the lock.
func (o *OutputState) SetStatus(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Status = s
}

// GetStatus reads the current status under the lock.
func (o *OutputState) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Status
}

// SetCompilationMode changes the mode and marks the target dirty, as
// driven by a WebSocket ChangeCompilationMode message.
func (o *OutputState) SetCompilationMode(mode CompilationMode) {
	o.mu.Lock()
	o.CompilationMode = mode
	o.Dirty = true
	o.mu.Unlock()
}

// SetPendingCode stashes freshly compiled bytes for the postprocess phase.
func (o *OutputState) SetPendingCode(code []byte) {
	o.mu.Lock()
	o.pendingCode = code
	o.mu.Unlock()
}

// TakePendingCode returns and clears the stashed compiled bytes.
func (o *OutputState) TakePendingCode() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	code := o.pendingCode
	o.pendingCode = nil
	return code
}

// IsRelated reports whether an absolute path is considered related to
// this target.
func (o *OutputState) IsRelated(absPath string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.AllRelatedElmFilePaths[absPath]
	return ok
}

// HasInput reports whether absPath is one of this target's entry points.
func (o *OutputState) HasInput(absPath string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, in := range o.Inputs {
		if in == absPath {
			return true
		}
	}
	return false
}
