package wsserver

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/elm-watch-go/elmwatch/project"
)

// ConnectParams is the decoded query string of a client's connect URL.
type ConnectParams struct {
	ElmWatchVersion   string
	Output            string
	CompiledTimestamp int64
}

// ConnectErrorKind discriminates why a connect attempt was rejected.
type ConnectErrorKind int

const (
	ErrBadURL ConnectErrorKind = iota
	ErrParamsDecode
	ErrWrongVersion
	ErrOutputNotFound
	ErrOutputDisabled
)

// ConnectError carries enough context to render the matching diagnostic.
type ConnectError struct {
	Kind ConnectErrorKind

	// WrongVersion
	GotVersion  string
	WantVersion string

	// OutputNotFound / OutputDisabled
	Output          string
	EnabledOutputs  []string
	DisabledOutputs []string
}

func (e *ConnectError) Error() string {
	switch e.Kind {
	case ErrBadURL:
		return "connect URL must start with \"/?\""
	case ErrParamsDecode:
		return "failed to decode connect URL query parameters"
	case ErrWrongVersion:
		return fmt.Sprintf("client version %q does not match server version %q", e.GotVersion, e.WantVersion)
	case ErrOutputNotFound:
		return fmt.Sprintf("output %q is not one of the enabled targets: %v", e.Output, e.EnabledOutputs)
	case ErrOutputDisabled:
		return fmt.Sprintf("output %q is disabled", e.Output)
	default:
		return "unknown connect error"
	}
}

// ParseConnectURL parses and validates the raw request URI against the
// engine's own build-time version token and the resolved project.
func ParseConnectURL(rawURI string, buildVersion string, proj *project.Project) (ConnectParams, *ConnectError) {
	if len(rawURI) < 2 || rawURI[0] != '/' || rawURI[1] != '?' {
		return ConnectParams{}, &ConnectError{Kind: ErrBadURL}
	}

	query, err := url.ParseQuery(rawURI[2:])
	if err != nil {
		return ConnectParams{}, &ConnectError{Kind: ErrParamsDecode}
	}

	version := query.Get("elmWatchVersion")
	output := query.Get("output")
	timestampStr := query.Get("compiledTimestamp")
	if version == "" || output == "" || timestampStr == "" {
		return ConnectParams{}, &ConnectError{Kind: ErrParamsDecode}
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ConnectParams{}, &ConnectError{Kind: ErrParamsDecode}
	}

	params := ConnectParams{ElmWatchVersion: version, Output: output, CompiledTimestamp: timestamp}

	if version != buildVersion {
		return params, &ConnectError{Kind: ErrWrongVersion, GotVersion: version, WantVersion: buildVersion}
	}

	if _, disabled := proj.Disabled[output]; disabled {
		return params, &ConnectError{Kind: ErrOutputDisabled, Output: output}
	}

	if proj.FindTarget(output) == nil {
		return params, &ConnectError{
			Kind:            ErrOutputNotFound,
			Output:          output,
			EnabledOutputs:  proj.EnabledTargetNames(),
			DisabledOutputs: proj.DisabledTargetNames(),
		}
	}

	return params, nil
}

// ClientMessageKind discriminates the inbound client-message union.
// Currently the protocol has exactly one variant.
type ClientMessageKind string

const ClientChangeCompilationMode ClientMessageKind = "ChangeCompilationMode"

// ClientMessage is a JSON text frame sent by a connected browser client.
type ClientMessage struct {
	Tag             ClientMessageKind      `json:"tag"`
	CompilationMode project.CompilationMode `json:"compilationMode"`
}

// ServerStatusKind is the `status` field of a StatusChanged message.
type ServerStatusKind string

const (
	StatusBusy                 ServerStatusKind = "Busy"
	StatusSuccessfullyCompiled ServerStatusKind = "SuccessfullyCompiled"
	StatusCompileError         ServerStatusKind = "CompileError"
	StatusClientError          ServerStatusKind = "ClientError"
)

// ServerMessage is a StatusChanged push to one connected client.
// Interrupted compiles are not a distinct wire status: the orchestrator
// reports them to clients as Busy.
type ServerMessage struct {
	Tag    string           `json:"tag"` // always "StatusChanged"
	Status ServerStatusKind `json:"status"`
	// Message is populated only when Status == StatusClientError.
	Message string `json:"message,omitempty"`
}

func NewStatusChanged(status ServerStatusKind) ServerMessage {
	return ServerMessage{Tag: "StatusChanged", Status: status}
}

func NewClientError(message string) ServerMessage {
	return ServerMessage{Tag: "StatusChanged", Status: StatusClientError, Message: message}
}
