package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "elm-watch.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoad_RejectsEmptyTargets(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"targets":{}}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a config with no targets")
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"targets":{"main":{"inputs":["src/Main.elm"],"output":"build/main.js"}},"typo":true}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestResolve_BuildsProjectWithSortedTargets(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"targets": {
			"zeta": {"inputs": ["src/Zeta.elm"], "output": "build/zeta.js"},
			"alpha": {"inputs": ["src/Alpha.elm"], "output": null}
		}
	}`)

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	proj, err := Resolve(path, file, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	targets := proj.AllTargets()
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Name != "alpha" || targets[1].Name != "zeta" {
		t.Fatalf("expected sorted declaration order alpha,zeta; got %s,%s", targets[0].Name, targets[1].Name)
	}
	if !targets[0].State.Output.IsNull {
		t.Fatal("expected alpha's null output to resolve to the null sink")
	}
	if targets[1].State.Output.IsNull {
		t.Fatal("expected zeta to have a real output path")
	}
	if !targets[1].State.HasInput(filepath.Join(dir, "src/Zeta.elm")) {
		t.Fatal("expected zeta's input to be resolved to an absolute path")
	}
}

func TestResolve_RejectsTargetWithNoInputs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"targets":{"main":{"inputs":[],"output":"build/main.js"}}}`)

	file, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Resolve(path, file, nil); err == nil {
		t.Fatal("expected an error for a target with no inputs")
	}
}
