// Package worker runs untrusted elm-watch-node postprocess scripts in a
// bounded pool of long-lived sub-process workers. Each worker offers a
// single request/response operation (StartPostprocess -> PostprocessDone)
// over the framed protocol in package ipc. Scripts are loaded dynamically
// in an in-process JS runtime in the original tool this engine emulates;
// here every script instead runs in an out-of-process sub-process that
// speaks that framed protocol.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/elm-watch-go/elmwatch/ipc"
)

// State is a worker's lifecycle stage.
type State int

const (
	Idle State = iota
	Busy
	Terminated
)

// RunnerCommand is the argv prefix used to launch a worker's sub-process.
// The script path is appended as the final argument. In a real deployment
// this points at a small JS harness that imports the named script and
// speaks the framed protocol on stdin/stdout; any executable honoring that
// contract is acceptable.
type RunnerCommand []string

// worker is one long-lived sub-process dedicated to a single script path.
type worker struct {
	mu         sync.Mutex
	scriptPath string
	state      State
	idleSince  time.Time // valid when state == Idle; used by limit()'s eviction order

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	dec    *ipc.FrameDecoder
}

func (w *worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	if s == Idle {
		w.idleSince = time.Now()
	}
	w.mu.Unlock()
}

func (w *worker) getState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// idleDuration reports how long this worker has been idle. Meaningless
// unless the caller already knows the worker is currently Idle.
func (w *worker) idleDuration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.idleSince)
}

func (w *worker) kill() {
	w.setState(Terminated)
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// Pool manages, per script path, a set of workers bounded by max. Workers
// are created on demand and reused across postprocess calls for the same
// run; idle workers beyond max are killed once the limit tightens.
type Pool struct {
	mu      sync.Mutex
	workers map[string][]*worker // keyed by script path
	max     int
	runner  RunnerCommand
}

// NewPool builds a pool whose initial cap is max(1, runtime.NumCPU()),
// matching the compile engine's global concurrency cap.
func NewPool(runner RunnerCommand) *Pool {
	return &Pool{
		workers: make(map[string][]*worker),
		max:     calculateMax(),
		runner:  runner,
	}
}

func calculateMax() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

// SetMax overrides the pool's worker cap; it does not forcibly trim
// already-busy workers.
func (p *Pool) SetMax(max int) {
	if max < 1 {
		max = 1
	}
	p.mu.Lock()
	p.max = max
	p.mu.Unlock()
	p.limit()
}

// limit kills idle workers, across all script paths, down to the current
// max. Eviction order favors workers that went idle most recently (they
// just ran a job and are "warmed up"); the longest-idle workers are killed
// first. Called after SetMax and after every worker returns to Idle.
func (p *Pool) limit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	var idle []*worker
	for _, ws := range p.workers {
		total += len(ws)
		for _, w := range ws {
			if w.getState() == Idle {
				idle = append(idle, w)
			}
		}
	}
	if total <= p.max {
		return
	}

	sort.Slice(idle, func(i, j int) bool {
		return idle[i].idleDuration() > idle[j].idleDuration()
	})

	excess := total - p.max
	toKill := make(map[*worker]struct{})
	for _, w := range idle {
		if excess <= 0 {
			break
		}
		toKill[w] = struct{}{}
		excess--
	}
	if len(toKill) == 0 {
		return
	}

	for script, ws := range p.workers {
		kept := make([]*worker, 0, len(ws))
		for _, w := range ws {
			if _, dead := toKill[w]; dead {
				w.kill()
				continue
			}
			kept = append(kept, w)
		}
		p.workers[script] = kept
	}
}

// getOrCreateAvailableWorker returns an Idle worker for scriptPath,
// flipping it to Busy, or spawns a new one if none is idle.
func (p *Pool) getOrCreateAvailableWorker(ctx context.Context, scriptPath string) (*worker, error) {
	p.mu.Lock()
	for _, w := range p.workers[scriptPath] {
		if w.getState() == Idle {
			w.setState(Busy)
			p.mu.Unlock()
			return w, nil
		}
	}
	p.mu.Unlock()

	w, err := p.spawn(ctx, scriptPath)
	if err != nil {
		return nil, err
	}
	w.setState(Busy)

	p.mu.Lock()
	p.workers[scriptPath] = append(p.workers[scriptPath], w)
	p.mu.Unlock()

	return w, nil
}

func (p *Pool) spawn(ctx context.Context, scriptPath string) (*worker, error) {
	if len(p.runner) == 0 {
		return nil, errors.New("worker: no runner command configured")
	}

	argv := append([]string{}, p.runner[1:]...)
	argv = append(argv, scriptPath)
	cmd := exec.CommandContext(ctx, p.runner[0], argv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifySpawnError(scriptPath, err)
	}

	br := bufio.NewReader(stdout)
	return &worker{
		scriptPath: scriptPath,
		state:      Idle,
		cmd:        cmd,
		stdin:      stdin,
		stdout:     br,
		dec:        ipc.NewFrameDecoder(br),
	}, nil
}

// ImportError reports that a worker's process failed to start or import
// the target script, surfaced by the caller as project.StatusWorkerImportFailure.
type ImportError struct {
	ScriptPath     string
	ModuleNotFound bool
	Err            error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("worker: import %s: %v", e.ScriptPath, e.Err)
}
func (e *ImportError) Unwrap() error { return e.Err }

func classifySpawnError(scriptPath string, err error) error {
	moduleNotFound := errors.Is(err, exec.ErrNotFound)
	return &ImportError{ScriptPath: scriptPath, ModuleNotFound: moduleNotFound, Err: err}
}

// RunPostprocess sends one StartPostprocess call to a worker dedicated to
// scriptPath and blocks for its PostprocessDone reply. The worker is
// returned to Idle on success; a fatal framing error or a dead process
// instead terminates it so the next call spawns a replacement.
func (p *Pool) RunPostprocess(ctx context.Context, scriptPath string, args ipc.StartPostprocessArgs) (*ipc.PostprocessResult, *ipc.PostprocessError, error) {
	w, err := p.getOrCreateAvailableWorker(ctx, scriptPath)
	if err != nil {
		return nil, nil, err
	}

	frame, err := ipc.EncodeStartPostprocess(&ipc.StartPostprocessMessage{
		Tag:  ipc.TagStartPostprocess,
		Args: args,
	})
	if err != nil {
		w.kill()
		return nil, nil, fmt.Errorf("worker: encode start-postprocess: %w", err)
	}

	if _, err := w.stdin.Write(frame); err != nil {
		w.kill()
		return nil, nil, fmt.Errorf("worker: write stdin: %w", err)
	}

	payload, err := w.dec.ReadFrame()
	if err != nil {
		w.kill()
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("worker: process exited before replying: %w", err)
		}
		return nil, nil, fmt.Errorf("worker: read reply: %w", err)
	}

	done, err := ipc.DecodePostprocessDone(payload)
	if err != nil {
		w.kill()
		return nil, nil, err
	}

	w.setState(Idle)
	p.limit()

	return done.Resolve, done.Reject, nil
}

// Terminate kills every worker across every script path.
func (p *Pool) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.workers {
		for _, w := range ws {
			w.kill()
		}
	}
	p.workers = make(map[string][]*worker)
}

// Counts reports idle/busy/terminated workers for diagnostics and tests.
func (p *Pool) Counts() (idle, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ws := range p.workers {
		for _, w := range ws {
			switch w.getState() {
			case Idle:
				idle++
			case Busy:
				busy++
			}
		}
	}
	return idle, busy
}
