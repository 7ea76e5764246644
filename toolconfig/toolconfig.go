// Package toolconfig loads .elm-watch-tool.yaml, the tool-preference file
// read alongside the project's elm-watch.json: debounce and loading-delay
// timing, color mode, and the worker pool cap. No CLI flag overrides these
// values. The make and hot commands apply the debounce and loading delay;
// color and worker_pool_max are validated and loaded but not consulted by
// them. The file itself is optional and every field has a default matching
// spec.md's stated defaults.
package toolconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDebounceMillis        = 10
	DefaultLoadingMessageDelayMs = 100
	DefaultColor                 = "auto"
)

// ColorMode is the resolved, validated form of Preferences.Color.
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

// Preferences is the decoded shape of .elm-watch-tool.yaml.
type Preferences struct {
	DebounceMillis        int    `yaml:"debounce_ms"`
	LoadingMessageDelayMs int    `yaml:"loading_message_delay_ms"`
	Color                 string `yaml:"color"`
	WorkerPoolMax         int    `yaml:"worker_pool_max"`
}

// Defaults returns Preferences populated with spec.md's stated defaults.
func Defaults() Preferences {
	return Preferences{
		DebounceMillis:        DefaultDebounceMillis,
		LoadingMessageDelayMs: DefaultLoadingMessageDelayMs,
		Color:                 DefaultColor,
		WorkerPoolMax:         max(1, runtime.NumCPU()),
	}
}

// Load reads and decodes path, expanding ${VAR} references first. Fields
// absent from the file keep their Defaults() value. A missing file is not
// an error: Load returns Defaults() unchanged.
func Load(path string) (Preferences, error) {
	prefs := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("toolconfig: read %s: %w", path, err)
	}

	expanded := expandEnv(string(data))

	var onDisk struct {
		DebounceMillis        *int    `yaml:"debounce_ms"`
		LoadingMessageDelayMs *int    `yaml:"loading_message_delay_ms"`
		Color                 *string `yaml:"color"`
		WorkerPoolMax         *int    `yaml:"worker_pool_max"`
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&onDisk); err != nil && !errors.Is(err, io.EOF) {
		return prefs, fmt.Errorf("toolconfig: invalid YAML in %s: %w", path, err)
	}

	if onDisk.DebounceMillis != nil {
		prefs.DebounceMillis = *onDisk.DebounceMillis
	}
	if onDisk.LoadingMessageDelayMs != nil {
		prefs.LoadingMessageDelayMs = *onDisk.LoadingMessageDelayMs
	}
	if onDisk.Color != nil {
		prefs.Color = *onDisk.Color
	}
	if onDisk.WorkerPoolMax != nil {
		prefs.WorkerPoolMax = *onDisk.WorkerPoolMax
	}

	if _, err := prefs.ResolvedColor(); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// ResolvedColor validates Color against the three known modes.
func (p Preferences) ResolvedColor() (ColorMode, error) {
	switch ColorMode(p.Color) {
	case ColorAuto, ColorAlways, ColorNever:
		return ColorMode(p.Color), nil
	default:
		return "", fmt.Errorf("toolconfig: invalid color mode %q (want auto, always, or never)", p.Color)
	}
}
