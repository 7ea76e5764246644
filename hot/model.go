// Package hot is the watch-mode orchestrator: it fuses filesystem events
// from package watch, browser connections from package wsserver, and
// compile-cycle progress from package compile into one state machine and
// drives the effects (debounce timers, compile cycles, restarts) that
// follow from it.
package hot

import (
	"time"

	"github.com/elm-watch-go/elmwatch/project"
)

// EventReason classifies why a filesystem or client event matters, and
// whether it forces a full restart rather than an incremental recompile.
type EventReason int

const (
	ReasonElmFileChanged EventReason = iota
	ReasonElmFileRemoved
	ReasonElmJSONChanged
	ReasonElmJSONRemoved
	ReasonElmToolingJSONChanged
	ReasonConfigChanged
	ReasonClientConnected
	ReasonCompilationModeChanged
	ReasonUnrelated
)

func (r EventReason) String() string {
	switch r {
	case ReasonElmFileChanged:
		return "elm file changed"
	case ReasonElmFileRemoved:
		return "elm file removed"
	case ReasonElmJSONChanged:
		return "elm.json changed"
	case ReasonElmJSONRemoved:
		return "elm.json removed"
	case ReasonElmToolingJSONChanged:
		return "elm-tooling.json changed"
	case ReasonConfigChanged:
		return "configuration changed"
	case ReasonClientConnected:
		return "client connected"
	case ReasonCompilationModeChanged:
		return "compilation mode changed"
	default:
		return "unrelated file changed"
	}
}

// RequiresRestart reports whether this reason invalidates the resolved
// Project itself (elm.json/elm-tooling.json/config), as opposed to just
// marking existing targets dirty.
func (r EventReason) RequiresRestart() bool {
	switch r {
	case ReasonElmJSONChanged, ReasonElmJSONRemoved, ReasonElmToolingJSONChanged, ReasonConfigChanged:
		return true
	default:
		return false
	}
}

// ClassifiedEvent is a watcher or client event after classify has decided
// what it means and which targets it touches.
type ClassifiedEvent struct {
	Reason  EventReason
	Path    string
	Date    time.Time
	Targets []*project.TargetEntry
}

// NextActionKind ranks the four things the orchestrator can do once the
// debounce window closes. Higher-ranked actions supersede lower ones.
type NextActionKind int

const (
	NoAction NextActionKind = iota
	PrintNonInterestingEvents
	Compile
	Restart
)

// NextAction accumulates events during the debounce window and resolves
// to the highest-ranked kind among them.
type NextAction struct {
	Kind   NextActionKind
	Events []ClassifiedEvent
}

// HotStateKind is the orchestrator's current activity.
type HotStateKind int

const (
	StateIdle HotStateKind = iota
	StateDependencies
	StateCompiling
	StateRestarting
)

func (k HotStateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateDependencies:
		return "installing dependencies"
	case StateCompiling:
		return "compiling"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// HotState is what the orchestrator is doing right now, plus the events
// that led to it (for the eventual status line / restart log message).
type HotState struct {
	Kind   HotStateKind
	Start  time.Time
	Events []ClassifiedEvent
}

// Busy reports whether a connected client should be told Busy rather than
// a terminal status.
func (s HotState) Busy() bool { return s.Kind != StateIdle }

// Model is the orchestrator's entire state: what will happen once the
// debounce window closes, and what is happening right now.
type Model struct {
	NextAction NextAction
	State      HotState
	debouncing bool
}

// NewModel returns the orchestrator's initial, idle state.
func NewModel() Model {
	return Model{State: HotState{Kind: StateIdle}}
}

// Msg is the event union update reacts to.
type Msg interface{ isMsg() }

// MsgEvent carries one already-classified filesystem or client event.
type MsgEvent struct{ Event ClassifiedEvent }

// MsgSleepBeforeNextActionDone fires once the debounce timer elapses.
type MsgSleepBeforeNextActionDone struct{}

// MsgCompileCycleIdle fires when a full pass over every target's actions
// leaves nothing executing and nothing scheduled.
type MsgCompileCycleIdle struct{}

func (MsgEvent) isMsg()                     {}
func (MsgSleepBeforeNextActionDone) isMsg() {}
func (MsgCompileCycleIdle) isMsg()          {}
