// Package config reads the JSON5 run-parameter file for an optimization run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	json "github.com/KevinWang15/go-json5"
	"github.com/joho/godotenv"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

// Environment variables that override the parameter file.
const (
	EnvExpanderDir = "EXPANDERHOLO_EXPANDER_DIR"
	EnvDatabase    = "EXPANDERHOLO_DB"
)

// Run holds every parameter of one optimization run.
type Run struct {
	Title             string
	ImagePath         string
	Channel           string // w, r, g or b
	ExpanderPreset    string
	ExpanderDir       string
	CountsPerMeter    float64
	WrapExpanderPhase bool
	Rows              int
	Cols              int
	Upsample          int
	Batch             int
	Iterations        int
	LearningRate      float64
	PassFraction      float64
	FilterOrder       int
	Seed              int64
	ProgressEvery     int
	DetectDivergence  bool
	OutputDir         string
	DatabasePath      string // empty disables run history
	ShowInput         bool
}

// Load reads and validates the parameter file at path. Any envFiles are read
// with godotenv; variables already set in the process take precedence over
// them. Missing env files are ignored.
func Load(path string, envFiles ...string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	run, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	env, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	run.applyEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return env[key]
	})
	return run, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read env file %s: %w", f, err)
		}
		for k, v := range m {
			if _, seen := env[k]; !seen {
				env[k] = v
			}
		}
	}
	return env, nil
}

func (r *Run) applyEnv(lookup func(string) string) {
	if v := lookup(EnvExpanderDir); v != "" {
		r.ExpanderDir = v
	}
	if v := lookup(EnvDatabase); v != "" {
		r.DatabasePath = v
	}
}

// Parse decodes JSON5 parameter text into a validated Run.
func Parse(data []byte) (*Run, error) {
	// Parse json(5) data into a generic container
	var jsonTable map[string]interface{}
	if err := json.Unmarshal(data, &jsonTable); err != nil {
		return nil, fmt.Errorf("%w: %v", holo.ErrConfiguration, err)
	}
	run := &Run{}
	if msg, ok := validateJsonTableAndFillRun(jsonTable, run); !ok {
		return nil, fmt.Errorf("%w: %s", holo.ErrConfiguration, msg)
	}
	return run, nil
}

func getLeafValue(jsonTable map[string]interface{}, path ...string) (interface{}, bool) {
	var cur interface{} = jsonTable
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// The field helpers fill dst from key and return a message on failure. With
// required false a missing key leaves dst untouched.

func stringField(t map[string]interface{}, key string, required bool, dst *string) (string, bool) {
	v, ok := getLeafValue(t, key)
	if !ok {
		if required {
			return key + ": not found", false
		}
		return "", true
	}
	s, ok := v.(string)
	if !ok {
		return key + ": is not a string", false
	}
	*dst = s
	return "", true
}

func floatField(t map[string]interface{}, key string, required bool, dst *float64) (string, bool) {
	v, ok := getLeafValue(t, key)
	if !ok {
		if required {
			return key + ": not found", false
		}
		return "", true
	}
	f, ok := v.(float64)
	if !ok {
		return key + ": is not a float64", false
	}
	*dst = f
	return "", true
}

func intField(t map[string]interface{}, key string, required bool, dst *int) (string, bool) {
	var f float64
	if msg, ok := floatField(t, key, required, &f); !ok {
		return msg, false
	}
	if _, present := getLeafValue(t, key); !present {
		return "", true
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return key + ": is not an integer", false
	}
	*dst = int(f)
	return "", true
}

func boolField(t map[string]interface{}, key string, dst *bool) (string, bool) {
	v, ok := getLeafValue(t, key)
	if !ok {
		return "", true
	}
	b, ok := v.(bool)
	if !ok {
		return key + ": is not a bool", false
	}
	*dst = b
	return "", true
}

func validateJsonTableAndFillRun(jsonTable map[string]interface{}, run *Run) (string, bool) {
	// Defaults for the optional entries
	run.Channel = "b"
	run.ExpanderDir = "expanders"
	run.CountsPerMeter = 1e10
	run.Upsample = 1
	run.Batch = 1
	run.Iterations = 1000
	run.LearningRate = 0.1
	run.PassFraction = 2
	run.FilterOrder = holo.DefaultFilterOrder
	run.ProgressEvery = holo.DefaultProgressEvery
	run.OutputDir = "."

	checks := []func() (string, bool){
		func() (string, bool) { return stringField(jsonTable, "title", false, &run.Title) },
		func() (string, bool) { return stringField(jsonTable, "image_path", true, &run.ImagePath) },
		func() (string, bool) { return stringField(jsonTable, "channel", false, &run.Channel) },
		func() (string, bool) { return stringField(jsonTable, "expander_preset", true, &run.ExpanderPreset) },
		func() (string, bool) { return stringField(jsonTable, "expander_dir", false, &run.ExpanderDir) },
		func() (string, bool) { return floatField(jsonTable, "counts_per_meter", false, &run.CountsPerMeter) },
		func() (string, bool) { return boolField(jsonTable, "wrap_expander_phase_bool", &run.WrapExpanderPhase) },
		func() (string, bool) { return intField(jsonTable, "rows", true, &run.Rows) },
		func() (string, bool) { return intField(jsonTable, "cols", true, &run.Cols) },
		func() (string, bool) { return intField(jsonTable, "upsample_factor", false, &run.Upsample) },
		func() (string, bool) { return intField(jsonTable, "batch_size", false, &run.Batch) },
		func() (string, bool) { return intField(jsonTable, "iterations", false, &run.Iterations) },
		func() (string, bool) { return floatField(jsonTable, "learning_rate", false, &run.LearningRate) },
		func() (string, bool) { return floatField(jsonTable, "pass_fraction", false, &run.PassFraction) },
		func() (string, bool) { return intField(jsonTable, "filter_order", false, &run.FilterOrder) },
		func() (string, bool) { return intField(jsonTable, "progress_every", false, &run.ProgressEvery) },
		func() (string, bool) { return boolField(jsonTable, "detect_divergence_bool", &run.DetectDivergence) },
		func() (string, bool) { return stringField(jsonTable, "output_dir", false, &run.OutputDir) },
		func() (string, bool) { return stringField(jsonTable, "database_path", false, &run.DatabasePath) },
		func() (string, bool) { return boolField(jsonTable, "show_input_bool", &run.ShowInput) },
	}
	for _, check := range checks {
		if msg, ok := check(); !ok {
			return msg, false
		}
	}

	seed := 0
	if msg, ok := intField(jsonTable, "seed", false, &seed); !ok {
		return msg, false
	}
	run.Seed = int64(seed)

	switch run.Channel {
	case "w", "r", "g", "b":
	default:
		return fmt.Sprintf("channel: %q is not one of w, r, g, b", run.Channel), false
	}
	positive := []struct {
		name string
		v    int
	}{
		{"rows", run.Rows},
		{"cols", run.Cols},
		{"upsample_factor", run.Upsample},
		{"batch_size", run.Batch},
		{"filter_order", run.FilterOrder},
		{"progress_every", run.ProgressEvery},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Sprintf("%s: must be > 0, got %d", p.name, p.v), false
		}
	}
	if run.Iterations < 0 {
		return fmt.Sprintf("iterations: must be >= 0, got %d", run.Iterations), false
	}
	if !(run.LearningRate > 0) || math.IsInf(run.LearningRate, 0) {
		return fmt.Sprintf("learning_rate: must be a positive finite number, got %g", run.LearningRate), false
	}
	if !(run.PassFraction > 0) {
		return fmt.Sprintf("pass_fraction: must be > 0, got %g", run.PassFraction), false
	}
	if !(run.CountsPerMeter > 0) {
		return fmt.Sprintf("counts_per_meter: must be > 0, got %g", run.CountsPerMeter), false
	}

	return "No problem found in json file", true
}

// Print writes the parameters in a form suitable for a run log.
func (r *Run) Print() {
	fmt.Printf("\nRun parameters:\n")
	fmt.Printf("  title: %s\n", r.Title)
	fmt.Printf("  image: %s (channel %s)\n", r.ImagePath, r.Channel)
	fmt.Printf("  expander: %s from %s (wrap %v)\n", r.ExpanderPreset, r.ExpanderDir, r.WrapExpanderPhase)
	fmt.Printf("  modulator: %d x %d, upsample %d\n", r.Rows, r.Cols, r.Upsample)
	fmt.Printf("  batch %d, iterations %d, learning rate %g, seed %d\n", r.Batch, r.Iterations, r.LearningRate, r.Seed)
	fmt.Printf("  filter: pass fraction %g, order %d\n\n", r.PassFraction, r.FilterOrder)
}
