package bench

import (
	"fmt"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"

	"violet_go/pkg/gc"
)

// ByteAmount is a byte count that unmarshals from human-readable YAML
// strings such as "8KB" or "64MB".
type ByteAmount bytesize.ByteSize

func (b *ByteAmount) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*b = 0
		return nil
	}
	v, err := bytesize.Parse(s)
	if err != nil {
		return fmt.Errorf("parse byte amount %q: %w", s, err)
	}
	*b = ByteAmount(v)
	return nil
}

// TaskSpec describes one mutator behavior in a workload. Weight is
// the number of copies scheduled; the remaining fields are knobs
// individual task kinds read.
type TaskSpec struct {
	Kind    string `yaml:"kind"`
	Weight  int    `yaml:"weight"`
	Depth   int    `yaml:"depth"`
	Fanout  int    `yaml:"fanout"`
	Entries int    `yaml:"entries"`
	Slots   int    `yaml:"slots"`
}

// GCSpec is the collector tuning section of a workload file.
type GCSpec struct {
	PauseMultiplier   float64    `yaml:"pause_multiplier"`
	StepMultiplier    float64    `yaml:"step_multiplier"`
	StepSize          ByteAmount `yaml:"step_size"`
	SweepChunk        int        `yaml:"sweep_chunk"`
	FinalizersPerStep int        `yaml:"finalizers_per_step"`
	HeapLimit         ByteAmount `yaml:"heap_limit"`
	Resurrect         bool       `yaml:"resurrect"`
	DebugChecks       bool       `yaml:"debug_checks"`
}

// Config converts the tuning section to a collector configuration.
func (g GCSpec) Config() gc.Config {
	return gc.Config{
		PauseMultiplier:    g.PauseMultiplier,
		StepMultiplier:     g.StepMultiplier,
		StepSize:           int64(g.StepSize),
		SweepChunkSize:     g.SweepChunk,
		FinalizersPerStep:  g.FinalizersPerStep,
		HeapLimit:          bytesize.ByteSize(g.HeapLimit),
		ResurrectFinalized: g.Resurrect,
		DebugChecks:        g.DebugChecks,
	}
}

// Workload is a declarative mutator scenario: a task mix, a step
// count, and collector tuning.
type Workload struct {
	Name  string     `yaml:"name"`
	Seed  int64      `yaml:"seed"`
	Steps int        `yaml:"steps"`
	Tasks []TaskSpec `yaml:"tasks"`
	GC    GCSpec     `yaml:"gc"`
}

var taskKinds = map[string]bool{
	"churn":    true,
	"tree":     true,
	"cache":    true,
	"registry": true,
	"stack":    true,
	"finalize": true,
}

// Validate rejects empty and unknown task mixes.
func (w Workload) Validate() error {
	if w.Steps <= 0 {
		return fmt.Errorf("workload %q: steps must be positive", w.Name)
	}
	if len(w.Tasks) == 0 {
		return fmt.Errorf("workload %q: no tasks", w.Name)
	}
	for _, t := range w.Tasks {
		if !taskKinds[t.Kind] {
			return fmt.Errorf("workload %q: unknown task kind %q", w.Name, t.Kind)
		}
	}
	return nil
}

// Load reads a workload from a YAML file.
func Load(path string) (Workload, error) {
	var w Workload
	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("read workload: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &w); err != nil {
		return w, fmt.Errorf("parse workload %s: %w", path, err)
	}
	if err := w.Validate(); err != nil {
		return w, err
	}
	return w, nil
}

// Default is a balanced mix touching every collector feature.
func Default() Workload {
	return Workload{
		Name:  "default",
		Seed:  1,
		Steps: 50000,
		Tasks: []TaskSpec{
			{Kind: "churn", Weight: 3, Depth: 16},
			{Kind: "tree", Weight: 2, Fanout: 4, Depth: 4},
			{Kind: "cache", Weight: 1, Entries: 256},
			{Kind: "registry", Weight: 1, Entries: 128},
			{Kind: "stack", Weight: 2, Slots: 64},
			{Kind: "finalize", Weight: 1, Entries: 32},
		},
	}
}
