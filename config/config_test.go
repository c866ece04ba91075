package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bob-anderson-ok/expanderholo/holo"
)

const minimal = `{
	// required entries only
	"image_path": "cat.png",
	"expander_preset": "random_16x",
	"rows": 64,
	"cols": 48
}`

func TestParseDefaults(t *testing.T) {
	run, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if run.ImagePath != "cat.png" || run.ExpanderPreset != "random_16x" || run.Rows != 64 || run.Cols != 48 {
		t.Errorf("required entries not filled: %+v", run)
	}
	if run.Channel != "b" || run.Upsample != 1 || run.Batch != 1 || run.Iterations != 1000 {
		t.Errorf("unexpected defaults: %+v", run)
	}
	if run.FilterOrder != holo.DefaultFilterOrder || run.ProgressEvery != holo.DefaultProgressEvery {
		t.Errorf("filter order %d, progress every %d", run.FilterOrder, run.ProgressEvery)
	}
	if run.WrapExpanderPhase || run.DetectDivergence || run.DatabasePath != "" {
		t.Errorf("optional switches should default off: %+v", run)
	}
}

func TestParseFullFile(t *testing.T) {
	data := `{
		"title": "red test",
		"image_path": "img.png",
		"channel": "r",
		"expander_preset": "neural_tri_64x",
		"wrap_expander_phase_bool": true,
		"rows": 32,
		"cols": 32,
		"upsample_factor": 4,
		"batch_size": 8,
		"iterations": 250,
		"learning_rate": 0.05,
		"pass_fraction": 4,
		"filter_order": 3,
		"seed": 17,
		"detect_divergence_bool": true,
		"database_path": "runs.db"
	}`
	run, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if run.Channel != "r" || run.Upsample != 4 || run.Batch != 8 || run.Iterations != 250 {
		t.Errorf("entries not filled: %+v", run)
	}
	if run.LearningRate != 0.05 || run.PassFraction != 4 || run.FilterOrder != 3 || run.Seed != 17 {
		t.Errorf("numeric entries not filled: %+v", run)
	}
	if !run.WrapExpanderPhase || !run.DetectDivergence || run.DatabasePath != "runs.db" {
		t.Errorf("switches not filled: %+v", run)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		edit func(string) string
		msg  string
	}{
		{"missing image", func(s string) string { return strings.Replace(s, `"image_path": "cat.png",`, "", 1) }, "image_path: not found"},
		{"rows type", func(s string) string { return strings.Replace(s, `"rows": 64`, `"rows": "64"`, 1) }, "rows: is not a float64"},
		{"fractional cols", func(s string) string { return strings.Replace(s, `"cols": 48`, `"cols": 48.5`, 1) }, "cols: is not an integer"},
		{"zero rows", func(s string) string { return strings.Replace(s, `"rows": 64`, `"rows": 0`, 1) }, "rows: must be > 0"},
		{"bad channel", func(s string) string { return strings.Replace(s, `"rows": 64`, `"rows": 64, "channel": "x"`, 1) }, "channel:"},
		{"negative rate", func(s string) string { return strings.Replace(s, `"rows": 64`, `"rows": 64, "learning_rate": -1`, 1) }, "learning_rate:"},
		{"bool type", func(s string) string { return strings.Replace(s, `"rows": 64`, `"rows": 64, "show_input_bool": 1`, 1) }, "show_input_bool: is not a bool"},
	}
	for _, c := range cases {
		_, err := Parse([]byte(c.edit(minimal)))
		if !errors.Is(err, holo.ErrConfiguration) {
			t.Errorf("%s: %v, want ErrConfiguration", c.name, err)
			continue
		}
		if !strings.Contains(err.Error(), c.msg) {
			t.Errorf("%s: message %q does not mention %q", c.name, err, c.msg)
		}
	}
	if _, err := Parse([]byte("{ not json")); !errors.Is(err, holo.ErrConfiguration) {
		t.Errorf("malformed file: %v, want ErrConfiguration", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	params := filepath.Join(dir, "run.json5")
	if err := os.WriteFile(params, []byte(minimal), 0o644); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, ".env")
	env := EnvExpanderDir + "=/from/dotenv\n" + EnvDatabase + "=/from/dotenv.db\n"
	if err := os.WriteFile(envFile, []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvDatabase, "/from/process.db")
	run, err := Load(params, envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if run.ExpanderDir != "/from/dotenv" {
		t.Errorf("expander dir %q, want the .env value", run.ExpanderDir)
	}
	if run.DatabasePath != "/from/process.db" {
		t.Errorf("database %q, want the process environment to win", run.DatabasePath)
	}

	if _, err := Load(filepath.Join(dir, "nope.json5")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}
