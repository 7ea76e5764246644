package wsserver

import (
	"testing"

	"github.com/elm-watch-go/elmwatch/project"
)

func testProject() *project.Project {
	main := &project.TargetEntry{Name: "main", State: project.NewOutputState(project.OutputPath{Original: "main.js"}, []string{"src/Main.elm"}, project.ModeStandard, nil, nil)}
	return &project.Project{
		ElmJsons: []project.ElmJsonEntry{{ElmJsonPath: "elm.json", Outputs: []*project.TargetEntry{main}}},
		Disabled: map[string]struct{}{"admin": {}},
	}
}

func TestParseConnectURL_BadURL(t *testing.T) {
	_, err := ParseConnectURL("/main", "1.0.0", testProject())
	if err == nil || err.Kind != ErrBadURL {
		t.Fatalf("expected ErrBadURL, got %+v", err)
	}
}

func TestParseConnectURL_ParamsDecodeError(t *testing.T) {
	_, err := ParseConnectURL("/?output=main", "1.0.0", testProject())
	if err == nil || err.Kind != ErrParamsDecode {
		t.Fatalf("expected ErrParamsDecode, got %+v", err)
	}
}

func TestParseConnectURL_WrongVersion(t *testing.T) {
	_, err := ParseConnectURL("/?elmWatchVersion=0.9.0&output=main&compiledTimestamp=1", "1.0.0", testProject())
	if err == nil || err.Kind != ErrWrongVersion {
		t.Fatalf("expected ErrWrongVersion, got %+v", err)
	}
}

func TestParseConnectURL_OutputDisabled(t *testing.T) {
	_, err := ParseConnectURL("/?elmWatchVersion=1.0.0&output=admin&compiledTimestamp=1", "1.0.0", testProject())
	if err == nil || err.Kind != ErrOutputDisabled {
		t.Fatalf("expected ErrOutputDisabled, got %+v", err)
	}
}

func TestParseConnectURL_OutputNotFound(t *testing.T) {
	_, err := ParseConnectURL("/?elmWatchVersion=1.0.0&output=missing&compiledTimestamp=1", "1.0.0", testProject())
	if err == nil || err.Kind != ErrOutputNotFound {
		t.Fatalf("expected ErrOutputNotFound, got %+v", err)
	}
	if len(err.EnabledOutputs) != 1 || err.EnabledOutputs[0] != "main" {
		t.Fatalf("expected enabled outputs [main], got %v", err.EnabledOutputs)
	}
}

func TestParseConnectURL_Success(t *testing.T) {
	params, err := ParseConnectURL("/?elmWatchVersion=1.0.0&output=main&compiledTimestamp=42", "1.0.0", testProject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.Output != "main" || params.CompiledTimestamp != 42 {
		t.Fatalf("unexpected params: %+v", params)
	}
}
