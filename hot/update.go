package hot

// CmdKind discriminates the effects update asks the orchestrator to run.
// update itself never touches a watcher, socket, or compiler — it only
// decides what should happen next.
type CmdKind int

const (
	CmdScheduleDebounce CmdKind = iota
	CmdPrintEvents
	CmdStartCompileCycle
	CmdStartRestart
	CmdLogRestartDeferred
)

// Cmd is one effect update asked for, alongside the events that justify it.
type Cmd struct {
	Kind   CmdKind
	Events []ClassifiedEvent
}

// update is the orchestrator's reducer: given the current Model and one
// Msg, it returns the next Model and the Cmds the caller must run. It has
// no side effects and touches nothing outside its two arguments.
func update(msg Msg, model Model) (Model, []Cmd) {
	switch m := msg.(type) {
	case MsgEvent:
		return onEvent(model, m.Event)
	case MsgSleepBeforeNextActionDone:
		return onDebounceDone(model)
	case MsgCompileCycleIdle:
		return onCompileCycleIdle(model)
	default:
		return model, nil
	}
}

func onEvent(model Model, evt ClassifiedEvent) (Model, []Cmd) {
	kind := Compile
	if evt.Reason == ReasonUnrelated {
		kind = NoAction
		if model.NextAction.Kind == NoAction {
			kind = PrintNonInterestingEvents
		}
	} else if evt.Reason.RequiresRestart() {
		kind = Restart
	}

	if kind != NoAction {
		model.NextAction = mergeNextAction(model.NextAction, kind, evt)
	}

	if model.debouncing {
		return model, nil
	}
	model.debouncing = true
	return model, []Cmd{{Kind: CmdScheduleDebounce}}
}

// mergeNextAction keeps the highest-ranked kind seen during the debounce
// window (Restart beats Compile beats PrintNonInterestingEvents) and
// accumulates every event that contributed to it.
func mergeNextAction(cur NextAction, kind NextActionKind, evt ClassifiedEvent) NextAction {
	if rank(kind) > rank(cur.Kind) {
		cur.Kind = kind
	}
	cur.Events = append(cur.Events, evt)
	return cur
}

func rank(k NextActionKind) int {
	switch k {
	case NoAction:
		return 0
	case PrintNonInterestingEvents:
		return 1
	case Compile:
		return 2
	case Restart:
		return 3
	default:
		return 0
	}
}

func onDebounceDone(model Model) (Model, []Cmd) {
	model.debouncing = false
	action := model.NextAction
	model.NextAction = NextAction{}

	switch action.Kind {
	case NoAction:
		return model, nil

	case PrintNonInterestingEvents:
		return model, []Cmd{{Kind: CmdPrintEvents, Events: action.Events}}

	case Compile:
		if model.State.Kind == StateIdle {
			model.State = HotState{Kind: StateCompiling, Start: action.Events[0].Date, Events: action.Events}
			return model, []Cmd{{Kind: CmdStartCompileCycle, Events: action.Events}}
		}
		// Busy: the targets are already marked dirty; the running cycle
		// will pick them up the next time it polls for actions.
		model.State.Events = append(model.State.Events, action.Events...)
		return model, nil

	case Restart:
		if model.State.Kind == StateIdle {
			model.State = HotState{Kind: StateRestarting, Start: action.Events[0].Date, Events: action.Events}
			return model, []Cmd{{Kind: CmdStartRestart, Events: action.Events}}
		}
		model.State.Kind = StateRestarting
		model.State.Events = append(model.State.Events, action.Events...)
		return model, []Cmd{{Kind: CmdLogRestartDeferred, Events: action.Events}}

	default:
		return model, nil
	}
}

func onCompileCycleIdle(model Model) (Model, []Cmd) {
	if model.State.Kind == StateRestarting {
		events := model.State.Events
		model.State = HotState{Kind: StateIdle}
		return model, []Cmd{{Kind: CmdStartRestart, Events: events}}
	}
	model.State = HotState{Kind: StateIdle}
	return model, nil
}
