package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/elm-watch-go/elmwatch/ipc"
)

// TestMain lets this test binary also act as the worker sub-process: when
// invoked with GO_WANT_HELPER_WORKER=1 it runs helperWorkerMain instead of
// the test suite (the standard os/exec self-exec test pattern).
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_WORKER") == "1" {
		helperWorkerMain()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// helperWorkerMain echoes back one PostprocessDone per StartPostprocess it
// reads, uppercasing the code, until stdin closes.
func helperWorkerMain() {
	dec := ipc.NewFrameDecoder(os.Stdin)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			return
		}
		msg, err := ipc.DecodeStartPostprocess(payload)
		if err != nil {
			return
		}

		var reply ipc.PostprocessDoneMessage
		if msg.Args.Code == "FAIL" {
			reply = ipc.PostprocessDoneMessage{
				Tag:    ipc.TagPostprocessDone,
				Reject: &ipc.PostprocessError{Kind: ipc.ErrRuntimeError, Detail: "boom"},
			}
		} else {
			reply = ipc.PostprocessDoneMessage{
				Tag:     ipc.TagPostprocessDone,
				Resolve: &ipc.PostprocessResult{Code: msg.Args.Code + "!"},
			}
		}

		frame, err := ipc.EncodePostprocessDone(&reply)
		if err != nil {
			return
		}
		if _, err := os.Stdout.Write(frame); err != nil {
			return
		}
	}
}

func testRunner(t *testing.T) RunnerCommand {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return RunnerCommand{self}
}

func testPool(t *testing.T) *Pool {
	p := NewPool(testRunner(t))
	p.SetMax(2)
	return p
}

func TestPool_RunPostprocess_Success(t *testing.T) {
	p := testPool(t)
	defer p.Terminate()

	patchSpawnEnv(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, rejected, err := p.RunPostprocess(ctx, "script.js", ipc.StartPostprocessArgs{Code: "hi"})
	if err != nil {
		t.Fatalf("RunPostprocess: %v", err)
	}
	if rejected != nil {
		t.Fatalf("unexpected reject: %+v", rejected)
	}
	if result.Code != "hi!" {
		t.Fatalf("got %q", result.Code)
	}
}

func TestPool_RunPostprocess_WorkerReused(t *testing.T) {
	p := testPool(t)
	defer p.Terminate()
	patchSpawnEnv(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := p.RunPostprocess(ctx, "script.js", ipc.StartPostprocessArgs{Code: "a"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, _, err := p.RunPostprocess(ctx, "script.js", ipc.StartPostprocessArgs{Code: "b"}); err != nil {
		t.Fatalf("second call: %v", err)
	}

	idle, busy := p.Counts()
	if idle != 1 || busy != 0 {
		t.Fatalf("expected one reused idle worker, got idle=%d busy=%d", idle, busy)
	}
}

func TestPool_RunPostprocess_Reject(t *testing.T) {
	p := testPool(t)
	defer p.Terminate()
	patchSpawnEnv(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, rejected, err := p.RunPostprocess(ctx, "script.js", ipc.StartPostprocessArgs{Code: "FAIL"})
	if err != nil {
		t.Fatalf("RunPostprocess: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
	if rejected == nil || rejected.Kind != ipc.ErrRuntimeError {
		t.Fatalf("expected ErrRuntimeError, got %+v", rejected)
	}
}

// patchSpawnEnv is a test seam: the pool's spawn always uses exec.Command
// under the hood, so the helper-process env var is injected by wrapping
// the runner invocation through a shell-free indirection. Since Pool.spawn
// builds the *exec.Cmd internally, tests rely on GO_WANT_HELPER_WORKER
// being set in this test binary's own environment instead.
func patchSpawnEnv(t *testing.T, p *Pool) {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_WORKER", "1")
}
