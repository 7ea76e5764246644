package project

import "time"

// StatusKind discriminates the Status tagged union.
type StatusKind string

const (
	KindNotWrittenToDisk       StatusKind = "NotWrittenToDisk"
	KindQueuedForElmMake       StatusKind = "QueuedForElmMake"
	KindElmMake                StatusKind = "ElmMake"
	KindQueuedForPostprocess   StatusKind = "QueuedForPostprocess"
	KindPostprocess            StatusKind = "Postprocess"
	KindInterrupted            StatusKind = "Interrupted"
	KindSuccess                StatusKind = "Success"
	KindCompilerNotFound       StatusKind = "CompilerNotFound"
	KindOtherSpawnError        StatusKind = "OtherSpawnError"
	KindNonZeroExit            StatusKind = "NonZeroExit"
	KindJSONParseError         StatusKind = "JSONParseError"
	KindCompileErrors          StatusKind = "CompileErrors"
	KindWorkerImportFailure    StatusKind = "WorkerImportFailure"
	KindWorkerMissingScript    StatusKind = "WorkerMissingScript"
	KindWorkerNotFunction      StatusKind = "WorkerNotFunction"
	KindWorkerRuntimeException StatusKind = "WorkerRuntimeException"
	KindWorkerBadReturnValue   StatusKind = "WorkerBadReturnValue"
	KindDecodeFailure          StatusKind = "DecodeFailure"
)

// Status is the tagged union a target's Status field holds. Only Success
// carries compiled bytes; every other variant carries just enough context
// to render a diagnostic.
type Status interface {
	Kind() StatusKind
	// IsError reports whether this status represents a terminal failure
	// (used for the end-of-cycle "N errors found" count and exit code 1).
	IsError() bool
}

type StatusNotWrittenToDisk struct{}

func (StatusNotWrittenToDisk) Kind() StatusKind { return KindNotWrittenToDisk }
func (StatusNotWrittenToDisk) IsError() bool    { return false }

type StatusQueuedForElmMake struct{}

func (StatusQueuedForElmMake) Kind() StatusKind { return KindQueuedForElmMake }
func (StatusQueuedForElmMake) IsError() bool    { return false }

type StatusElmMake struct{}

func (StatusElmMake) Kind() StatusKind { return KindElmMake }
func (StatusElmMake) IsError() bool    { return false }

type StatusQueuedForPostprocess struct{}

func (StatusQueuedForPostprocess) Kind() StatusKind { return KindQueuedForPostprocess }
func (StatusQueuedForPostprocess) IsError() bool    { return false }

type StatusPostprocess struct{}

func (StatusPostprocess) Kind() StatusKind { return KindPostprocess }
func (StatusPostprocess) IsError() bool    { return false }

// StatusInterrupted means a compile started but a new dirty flag superseded
// it before completion; the prior result (if any) is discarded.
type StatusInterrupted struct{}

func (StatusInterrupted) Kind() StatusKind { return KindInterrupted }
func (StatusInterrupted) IsError() bool    { return false }

// StatusSuccess is the only variant carrying compiled bytes.
type StatusSuccess struct {
	Code              []byte
	CompiledTimestamp time.Time
}

func (StatusSuccess) Kind() StatusKind { return KindSuccess }
func (StatusSuccess) IsError() bool    { return false }

// --- Compile-launch errors ---

type StatusCompilerNotFound struct{ ExecutableName string }

func (StatusCompilerNotFound) Kind() StatusKind { return KindCompilerNotFound }
func (StatusCompilerNotFound) IsError() bool    { return true }

type StatusOtherSpawnError struct{ Err error }

func (StatusOtherSpawnError) Kind() StatusKind { return KindOtherSpawnError }
func (StatusOtherSpawnError) IsError() bool    { return true }

// --- Compile-result errors ---

type StatusNonZeroExit struct {
	ExitCode int
	Stderr   string
}

func (StatusNonZeroExit) Kind() StatusKind { return KindNonZeroExit }
func (StatusNonZeroExit) IsError() bool    { return true }

type StatusJSONParseError struct{ Err error }

func (StatusJSONParseError) Kind() StatusKind { return KindJSONParseError }
func (StatusJSONParseError) IsError() bool    { return true }

// CompileErrorLocation identifies where a compile error was reported.
type CompileErrorLocation struct {
	Path   string
	Region string // "line:col-line:col", rendering detail owned by the (out-of-scope) formatter
}

// CompileProblem is one structured diagnostic from the compiler's error
// report. Rendering to terminal-ready text is an external concern; this
// only carries enough to deduplicate and count.
type CompileProblem struct {
	Title    string
	Message  string
	Location CompileErrorLocation
}

type StatusCompileErrors struct {
	Problems []CompileProblem
}

func (StatusCompileErrors) Kind() StatusKind { return KindCompileErrors }
func (StatusCompileErrors) IsError() bool    { return true }

// --- Postprocess / worker errors ---

type StatusWorkerImportFailure struct {
	ScriptPath string
	ModuleNotFound bool
	Detail         string
}

func (StatusWorkerImportFailure) Kind() StatusKind { return KindWorkerImportFailure }
func (StatusWorkerImportFailure) IsError() bool    { return true }

type StatusWorkerMissingScript struct{}

func (StatusWorkerMissingScript) Kind() StatusKind { return KindWorkerMissingScript }
func (StatusWorkerMissingScript) IsError() bool    { return true }

type StatusWorkerNotFunction struct {
	ScriptPath string
	ActualType string
}

func (StatusWorkerNotFunction) Kind() StatusKind { return KindWorkerNotFunction }
func (StatusWorkerNotFunction) IsError() bool    { return true }

type StatusWorkerRuntimeException struct {
	ScriptPath string
	Args       []string
	Err        string
}

func (StatusWorkerRuntimeException) Kind() StatusKind { return KindWorkerRuntimeException }
func (StatusWorkerRuntimeException) IsError() bool    { return true }

type StatusWorkerBadReturnValue struct {
	ScriptPath string
	ActualType string
}

func (StatusWorkerBadReturnValue) Kind() StatusKind { return KindWorkerBadReturnValue }
func (StatusWorkerBadReturnValue) IsError() bool    { return true }

type StatusDecodeFailure struct{ Err error }

func (StatusDecodeFailure) Kind() StatusKind { return KindDecodeFailure }
func (StatusDecodeFailure) IsError() bool    { return true }
