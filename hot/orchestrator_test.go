package hot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/elm-watch-go/elmwatch/applog"
	"github.com/elm-watch-go/elmwatch/compile"
	"github.com/elm-watch-go/elmwatch/project"
	"github.com/elm-watch-go/elmwatch/termlog"
	"github.com/elm-watch-go/elmwatch/watch"
	"github.com/elm-watch-go/elmwatch/wsserver"
	gws "github.com/gorilla/websocket"
)

// fakeCompiler always succeeds immediately, recording every Make call.
type fakeCompiler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCompiler) Install(ctx context.Context, elmJSONPath string) compile.InstallResult {
	return compile.InstallResult{Kind: compile.InstallSuccess}
}

func (f *fakeCompiler) Make(ctx context.Context, target *project.TargetEntry, mode project.CompilationMode, runMode project.RunMode, typecheckOnly bool) compile.MakeResult {
	f.mu.Lock()
	f.calls = append(f.calls, target.Name)
	f.mu.Unlock()
	return compile.MakeResult{Kind: compile.MakeSuccess, Code: []byte("compiled")}
}

func (f *fakeCompiler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func startWSServer(t *testing.T) (*wsserver.Server, string, func()) {
	t.Helper()
	ln, port, err := wsserver.Listen(wsserver.PortStrategy{Kind: wsserver.NoPort})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := wsserver.NewServer(ln)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Serve(ctx)
		close(done)
	}()

	url := fmt.Sprintf("ws://127.0.0.1:%d/?elmWatchVersion=1.0.0&output=main.js&compiledTimestamp=0", port)
	cleanup := func() {
		cancel()
		<-done
	}
	return s, url, cleanup
}

func newTestOrchestrator(t *testing.T, fc *fakeCompiler) (*Orchestrator, *project.Project, string, func()) {
	t.Helper()

	dir := t.TempDir()
	mainPath := filepath.Join(dir, "src", "Main.elm")
	if err := os.MkdirAll(filepath.Dir(mainPath), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte("module Main exposing (main)\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	target := &project.TargetEntry{
		Name: "main.js",
		State: project.NewOutputState(
			project.OutputPath{Original: "main.js", Absolute: filepath.Join(dir, "main.js")},
			[]string{mainPath},
			project.ModeStandard,
			nil,
			nil,
		),
	}
	proj := &project.Project{
		WatchRoot: dir,
		ElmJsons:  []project.ElmJsonEntry{{ElmJsonPath: filepath.Join(dir, "elm.json"), Outputs: []*project.TargetEntry{target}}},
		Disabled:  map[string]struct{}{},
	}

	w, err := watch.New(dir, nil)
	if err != nil {
		t.Fatalf("watch.New: %v", err)
	}

	ws, url, wsCleanup := startWSServer(t)

	term := termlog.New(io.Discard, false)
	app := applog.New().WithOutput(io.Discard)

	engine := &compile.Engine{Compiler: fc}

	o := NewOrchestrator(proj, engine, ws, w, term, app, "1.0.0")
	o.DebounceDelay = 5 * time.Millisecond

	cleanup := func() {
		wsCleanup()
		_ = w.Close()
	}
	return o, proj, url, cleanup
}

func TestOrchestrator_InitialRunCompilesDirtyTarget(t *testing.T) {
	fc := &fakeCompiler{}
	o, proj, _, cleanup := newTestOrchestrator(t, fc)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc.callCount() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fc.callCount() == 0 {
		t.Fatal("expected the initially dirty target to be compiled")
	}
	if proj.AllTargets()[0].State.GetStatus().Kind() != project.KindSuccess {
		t.Fatalf("expected KindSuccess, got %v", proj.AllTargets()[0].State.GetStatus().Kind())
	}
}

func TestOrchestrator_FileChangeTriggersRecompile(t *testing.T) {
	fc := &fakeCompiler{}
	o, proj, _, cleanup := newTestOrchestrator(t, fc)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fc.callCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	initialCalls := fc.callCount()

	mainPath := proj.AllTargets()[0].State.Inputs[0]
	if err := os.WriteFile(mainPath, []byte("module Main exposing (main)\n-- changed\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fc.callCount() > initialCalls {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a recompile after the watched file changed")
}

func TestOrchestrator_ClientConnectReceivesStatus(t *testing.T) {
	fc := &fakeCompiler{}
	o, _, url, cleanup := newTestOrchestrator(t, fc)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fc.callCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected a non-empty StatusChanged frame")
	}
}
