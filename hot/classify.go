package hot

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/watch"
)

// classify decides what a raw filesystem event means for proj: which
// targets it touches, and whether it's interesting at all. Config,
// elm.json, and elm-tooling.json changes are always interesting and
// always force a restart; .elm files are interesting only when they
// belong to at least one target's input or dependency set.
func classify(proj *project.Project, evt watch.Event, now time.Time) ClassifiedEvent {
	base := filepath.Base(evt.Path)

	if evt.Path == proj.ConfigPath {
		return ClassifiedEvent{Reason: ReasonConfigChanged, Path: evt.Path, Date: now}
	}
	if base == "elm-tooling.json" {
		return ClassifiedEvent{Reason: ReasonElmToolingJSONChanged, Path: evt.Path, Date: now}
	}
	if base == "elm.json" {
		reason := ReasonElmJSONChanged
		if evt.Kind == watch.Removed {
			reason = ReasonElmJSONRemoved
		}
		return ClassifiedEvent{Reason: reason, Path: evt.Path, Date: now, Targets: targetsForElmJSON(proj, evt.Path)}
	}
	if strings.HasSuffix(base, ".elm") {
		targets := targetsRelatedTo(proj, evt.Path)
		if len(targets) == 0 {
			return ClassifiedEvent{Reason: ReasonUnrelated, Path: evt.Path, Date: now}
		}
		reason := ReasonElmFileChanged
		if evt.Kind == watch.Removed {
			reason = ReasonElmFileRemoved
		}
		return ClassifiedEvent{Reason: reason, Path: evt.Path, Date: now, Targets: targets}
	}
	return ClassifiedEvent{Reason: ReasonUnrelated, Path: evt.Path, Date: now}
}

func targetsForElmJSON(proj *project.Project, elmJSONPath string) []*project.TargetEntry {
	for _, ej := range proj.ElmJsons {
		if ej.ElmJsonPath == elmJSONPath {
			return ej.Outputs
		}
	}
	return nil
}

func targetsRelatedTo(proj *project.Project, absPath string) []*project.TargetEntry {
	var out []*project.TargetEntry
	for _, t := range proj.AllTargets() {
		if t.State.IsRelated(absPath) || t.State.HasInput(absPath) {
			out = append(out, t)
		}
	}
	return out
}
