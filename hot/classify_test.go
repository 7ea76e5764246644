package hot

import (
	"testing"
	"time"

	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/watch"
)

func TestClassify_ConfigPathForcesRestart(t *testing.T) {
	proj := &project.Project{ConfigPath: "/app/elm-watch.json"}
	evt := classify(proj, watch.Event{Kind: watch.Changed, Path: "/app/elm-watch.json"}, time.Now())

	if evt.Reason != ReasonConfigChanged || !evt.Reason.RequiresRestart() {
		t.Fatalf("expected ReasonConfigChanged requiring restart, got %v", evt.Reason)
	}
}

func TestClassify_ElmToolingJSONForcesRestart(t *testing.T) {
	proj := &project.Project{}
	evt := classify(proj, watch.Event{Kind: watch.Changed, Path: "/app/elm-tooling.json"}, time.Now())

	if evt.Reason != ReasonElmToolingJSONChanged || !evt.Reason.RequiresRestart() {
		t.Fatalf("expected ReasonElmToolingJSONChanged requiring restart, got %v", evt.Reason)
	}
}

func TestClassify_RelatedElmFileIsCompileNotRestart(t *testing.T) {
	target := newTarget("main")
	target.State.AllRelatedElmFilePaths["/app/src/Dep.elm"] = struct{}{}
	proj := &project.Project{ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{target}}}}

	evt := classify(proj, watch.Event{Kind: watch.Changed, Path: "/app/src/Dep.elm"}, time.Now())

	if evt.Reason != ReasonElmFileChanged || evt.Reason.RequiresRestart() {
		t.Fatalf("expected ReasonElmFileChanged not requiring restart, got %v", evt.Reason)
	}
	if len(evt.Targets) != 1 || evt.Targets[0] != target {
		t.Fatalf("expected the related target, got %v", evt.Targets)
	}
}

func TestClassify_UnrelatedElmFileIsNotInteresting(t *testing.T) {
	target := newTarget("main")
	proj := &project.Project{ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{target}}}}

	evt := classify(proj, watch.Event{Kind: watch.Changed, Path: "/app/src/Unrelated.elm"}, time.Now())

	if evt.Reason != ReasonUnrelated {
		t.Fatalf("expected ReasonUnrelated, got %v", evt.Reason)
	}
}

func TestClassify_ElmJSONChangeTargetsItsOutputs(t *testing.T) {
	target := newTarget("main")
	proj := &project.Project{ElmJsons: []project.ElmJsonEntry{{ElmJsonPath: "/app/elm.json", Outputs: []*project.TargetEntry{target}}}}

	evt := classify(proj, watch.Event{Kind: watch.Changed, Path: "/app/elm.json"}, time.Now())

	if evt.Reason != ReasonElmJSONChanged {
		t.Fatalf("expected ReasonElmJSONChanged, got %v", evt.Reason)
	}
	if len(evt.Targets) != 1 || evt.Targets[0] != target {
		t.Fatalf("expected the elm.json's own outputs, got %v", evt.Targets)
	}
}

func TestClassify_RemovedEntryPointFile(t *testing.T) {
	target := newTarget("main")
	proj := &project.Project{ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{target}}}}

	evt := classify(proj, watch.Event{Kind: watch.Removed, Path: "src/main.elm"}, time.Now())

	if evt.Reason != ReasonElmFileRemoved {
		t.Fatalf("expected ReasonElmFileRemoved, got %v", evt.Reason)
	}
}
