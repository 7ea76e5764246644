package compile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elm-watch-go/elmwatch/project"
)

// fakeCompiler lets tests script Make/Install outcomes per call without a
// real compiler executable.
type fakeCompiler struct {
	mu          sync.Mutex
	installs    []string
	makeResults map[string][]MakeResult // target name -> queued results, consumed in order
	makeCalls   []string
	blockMake   chan struct{} // if non-nil, Make blocks on this before returning
}

func (f *fakeCompiler) Install(ctx context.Context, elmJSONPath string) InstallResult {
	f.mu.Lock()
	f.installs = append(f.installs, elmJSONPath)
	f.mu.Unlock()
	return InstallResult{Kind: InstallSuccess}
}

func (f *fakeCompiler) Make(ctx context.Context, target *project.TargetEntry, mode project.CompilationMode, runMode project.RunMode, typecheckOnly bool) MakeResult {
	f.mu.Lock()
	f.makeCalls = append(f.makeCalls, target.Name)
	queue := f.makeResults[target.Name]
	var result MakeResult
	if len(queue) > 0 {
		result = queue[0]
		f.makeResults[target.Name] = queue[1:]
	} else {
		result = MakeResult{Kind: MakeSuccess, Code: []byte("compiled")}
	}
	f.mu.Unlock()

	if f.blockMake != nil {
		<-f.blockMake
	}
	return result
}

func newTarget(name string, postprocess project.PostprocessCommand) *project.TargetEntry {
	return &project.TargetEntry{
		Name:  name,
		State: project.NewOutputState(project.OutputPath{Original: name + ".js", Absolute: "/tmp/" + name + ".js"}, []string{"src/" + name + ".elm"}, project.ModeStandard, postprocess, nil),
	}
}

func TestEngine_InstallDependencies_RunsSequentially(t *testing.T) {
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{}}
	e := &Engine{Compiler: fc}

	proj := &project.Project{
		ElmJsons: []project.ElmJsonEntry{
			{ElmJsonPath: "a/elm.json"},
			{ElmJsonPath: "b/elm.json"},
		},
	}

	if err := e.InstallDependencies(context.Background(), proj, nil, nil); err != nil {
		t.Fatalf("InstallDependencies: %v", err)
	}
	if len(fc.installs) != 2 || fc.installs[0] != "a/elm.json" || fc.installs[1] != "b/elm.json" {
		t.Fatalf("expected sequential installs in declaration order, got %v", fc.installs)
	}
}

func TestEngine_InstallDependencies_SlowCallback(t *testing.T) {
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{}}
	e := &Engine{Compiler: fc, LoadingDelay: 10 * time.Millisecond}

	proj := &project.Project{
		ElmJsons: []project.ElmJsonEntry{{ElmJsonPath: "elm.json"}},
	}

	var sawSlow, sawDone bool
	onSlow := func(string) { sawSlow = true }
	onSlowDone := func(string) { sawDone = true }

	// Fast install: the 10ms timer should not fire before Install returns,
	// since the fake compiler returns immediately.
	if err := e.InstallDependencies(context.Background(), proj, onSlow, onSlowDone); err != nil {
		t.Fatalf("InstallDependencies: %v", err)
	}
	if sawSlow || sawDone {
		t.Fatal("expected no slow-install callbacks for a fast install")
	}
}

func TestEngine_GetOutputActions_PrioritizesConnectedClient(t *testing.T) {
	main := newTarget("main", nil)
	admin := newTarget("admin", nil)
	e := &Engine{}

	proj := &project.Project{
		ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{main, admin}}},
	}

	result := e.GetOutputActions(proj, false, map[string]int64{"admin": 100})
	if len(result.Actions) != 2 {
		t.Fatalf("expected both targets scheduled, got %d", len(result.Actions))
	}
	if result.Actions[0].Target.Name != "admin" {
		t.Fatalf("expected prioritized target first, got %s", result.Actions[0].Target.Name)
	}
	if result.Actions[0].TypecheckOnly {
		t.Fatal("admin has a connected client, should not be typecheck-only")
	}
	if !result.Actions[1].TypecheckOnly {
		t.Fatal("main has no connected client, should be typecheck-only")
	}
}

func TestEngine_GetOutputActions_DeclarationOrderTiesBreak(t *testing.T) {
	a := newTarget("a", nil)
	b := newTarget("b", nil)
	e := &Engine{}

	proj := &project.Project{
		ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{a, b}}},
	}

	result := e.GetOutputActions(proj, false, nil)
	if result.Actions[0].Target.Name != "a" || result.Actions[1].Target.Name != "b" {
		t.Fatalf("expected declaration order a, b; got %s, %s", result.Actions[0].Target.Name, result.Actions[1].Target.Name)
	}
}

func TestEngine_GetOutputActions_SkipsNotDirty(t *testing.T) {
	main := newTarget("main", nil)
	main.State.ClearDirty()
	e := &Engine{}

	proj := &project.Project{ElmJsons: []project.ElmJsonEntry{{Outputs: []*project.TargetEntry{main}}}}

	result := e.GetOutputActions(proj, false, nil)
	if len(result.Actions) != 0 {
		t.Fatalf("expected no actions for a clean target, got %d", len(result.Actions))
	}
}

func TestEngine_RunCompile_SuccessNoPostprocess(t *testing.T) {
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{
		"main": {{Kind: MakeSuccess, Code: []byte("var x = 1;")}},
	}}
	e := &Engine{Compiler: fc}
	target := newTarget("main", nil)

	e.runCompile(context.Background(), target, false)

	status := target.State.GetStatus()
	success, ok := status.(project.StatusSuccess)
	if !ok {
		t.Fatalf("expected StatusSuccess, got %T", status)
	}
	if string(success.Code) != "var x = 1;" {
		t.Fatalf("unexpected code: %s", success.Code)
	}
}

func TestEngine_RunCompile_QueuesPostprocessWhenConfigured(t *testing.T) {
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{
		"main": {{Kind: MakeSuccess, Code: []byte("var x = 1;")}},
	}}
	e := &Engine{Compiler: fc}
	target := newTarget("main", project.PostprocessCommand{"./postprocess.sh"})

	e.runCompile(context.Background(), target, false)

	status := target.State.GetStatus()
	if status.Kind() != project.KindQueuedForPostprocess {
		t.Fatalf("expected QueuedForPostprocess, got %v", status.Kind())
	}
	if code := target.State.TakePendingCode(); string(code) != "var x = 1;" {
		t.Fatalf("expected pending code to carry the compiled bytes, got %q", code)
	}
}

func TestEngine_RunCompile_DirtyDuringCompileBecomesInterrupted(t *testing.T) {
	block := make(chan struct{})
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{}, blockMake: block}
	e := &Engine{Compiler: fc}
	target := newTarget("main", nil)

	done := make(chan struct{})
	go func() {
		e.runCompile(context.Background(), target, false)
		close(done)
	}()

	// Wait until the compile has entered ElmMake and cleared dirty, then
	// mark it dirty again before the compiler "finishes".
	for target.State.GetStatus().Kind() != project.KindElmMake {
		time.Sleep(time.Millisecond)
	}
	target.State.MarkDirty()
	close(block)
	<-done

	if got := target.State.GetStatus().Kind(); got != project.KindInterrupted {
		t.Fatalf("expected Interrupted, got %v", got)
	}
}

func TestEngine_RunCompile_CompileErrors(t *testing.T) {
	problems := []project.CompileProblem{{Title: "TYPE MISMATCH", Message: "boom"}}
	fc := &fakeCompiler{makeResults: map[string][]MakeResult{
		"main": {{Kind: MakeCompileErrors, Problems: problems}},
	}}
	e := &Engine{Compiler: fc}
	target := newTarget("main", nil)

	e.runCompile(context.Background(), target, false)

	status, ok := target.State.GetStatus().(project.StatusCompileErrors)
	if !ok {
		t.Fatalf("expected StatusCompileErrors, got %T", target.State.GetStatus())
	}
	if len(status.Problems) != 1 || status.Problems[0].Title != "TYPE MISMATCH" {
		t.Fatalf("unexpected problems: %+v", status.Problems)
	}
}
