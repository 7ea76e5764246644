// Package config loads elm-watch.json, the project configuration file
// naming each target's inputs, output, and optional postprocess command.
// Resolving the module graph and finding which files are "related" to a
// target (for watcher dirty-marking) is the real input resolver's job;
// this loader treats a target's own inputs as trivially related to
// themselves, which is enough to exercise the rest of the engine without
// a full dependency index.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/elm-watch-go/elmwatch/project"
)

// FileTarget is one entry of the configuration file's "targets" map.
type FileTarget struct {
	Inputs      []string `json:"inputs"`
	Output      *string  `json:"output"`
	Postprocess []string `json:"postprocess,omitempty"`
}

// File is the decoded shape of elm-watch.json.
type File struct {
	Targets map[string]FileTarget `json:"targets"`
}

// Load reads and strictly decodes path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("config: %s declares no targets", path)
	}
	return &f, nil
}

// Resolve builds a project.Project from a loaded File. Every enabled target
// is placed under one synthetic elm.json entry rooted next to the config
// file; targets named in disabled are left out of it and only recorded in
// the project's disabled set. A real multi-elm.json project is the input
// resolver's concern.
func Resolve(configPath string, f *File, disabled map[string]struct{}) (*project.Project, error) {
	root := filepath.Dir(configPath)
	elmJSONPath := filepath.Join(root, "elm.json")

	names := make([]string, 0, len(f.Targets))
	for name := range f.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make([]*project.TargetEntry, 0, len(names))
	for _, name := range names {
		ft := f.Targets[name]
		if len(ft.Inputs) == 0 {
			return nil, fmt.Errorf("config: target %q declares no inputs", name)
		}
		if _, off := disabled[name]; off {
			continue
		}

		output := project.NullOutputPath()
		if ft.Output != nil {
			output = project.OutputPath{Original: *ft.Output, Absolute: resolvePath(root, *ft.Output)}
		}

		var postprocess project.PostprocessCommand
		if len(ft.Postprocess) > 0 {
			postprocess = project.PostprocessCommand(ft.Postprocess)
		}

		related := make(map[string]struct{}, len(ft.Inputs))
		inputs := make([]string, 0, len(ft.Inputs))
		for _, in := range ft.Inputs {
			abs := resolvePath(root, in)
			inputs = append(inputs, abs)
			related[abs] = struct{}{}
		}

		outputs = append(outputs, &project.TargetEntry{
			Name:  name,
			State: project.NewOutputState(output, inputs, project.ModeStandard, postprocess, related),
		})
	}

	if disabled == nil {
		disabled = map[string]struct{}{}
	}

	return &project.Project{
		WatchRoot:  root,
		ConfigPath: configPath,
		ElmJsons:   []project.ElmJsonEntry{{ElmJsonPath: elmJSONPath, Outputs: outputs}},
		Disabled:   disabled,
	}, nil
}

func resolvePath(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
