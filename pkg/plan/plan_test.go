package plan

import (
	"os"
	"path/filepath"
	"testing"
)

func writePlan(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("Failed to write plan file: %v", err)
	}
	return path
}

const validPlan = `
worker: [python3, scripts/generate_predictions.py]
log_dir: logs
log_prefix: predictions
output_dirs: [data/predictions, data/predictions_validation]
jobs:
  - name: exp1_baseline
    model: models/exp1_baseline
    dataset: data/test.json
    output: data/predictions/exp1_baseline.json
    device: 0
  - name: exp2_large
    model: models/exp2_large
    dataset: data/test.json
    output: data/predictions/exp2_large.json
    device: 0
  - name: exp3_validation
    model: models/exp3
    dataset: data/validation.json
    output: data/predictions_validation/exp3.json
    device: 3
`

func TestLoadValidPlan(t *testing.T) {
	path := writePlan(t, validPlan)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load plan: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Expected plan to validate, got: %v", err)
	}
	if len(p.Jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(p.Jobs))
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writePlan(t, `
worker: [echo]
jobs:
  - {name: a, model: m, dataset: d, output: out/a.json, device: 0}
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load plan: %v", err)
	}
	if p.LogPrefix != "predictions" {
		t.Fatalf("Expected default log prefix, got: %v", p.LogPrefix)
	}
	if p.MaxJobsPerDevice != 2 {
		t.Fatalf("Expected default max jobs per device 2, got: %d", p.MaxJobsPerDevice)
	}
	if filepath.Base(p.LogDir) != "logs" || !filepath.IsAbs(p.LogDir) {
		t.Fatalf("Expected absolute default log dir, got: %v", p.LogDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writePlan(t, validPlan)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load plan: %v", err)
	}

	want := filepath.Join(filepath.Dir(path), "data/predictions/exp1_baseline.json")
	if p.Jobs[0].Output != want {
		t.Fatalf("Expected output %v, got: %v", want, p.Jobs[0].Output)
	}
	if !filepath.IsAbs(p.Jobs[0].Model) {
		t.Fatalf("Expected absolute model path, got: %v", p.Jobs[0].Model)
	}
}

func TestValidateDuplicateOutput(t *testing.T) {
	path := writePlan(t, `
worker: [echo]
jobs:
  - {name: a, model: m, dataset: d, output: out/same.json, device: 0}
  - {name: b, model: m, dataset: d, output: out/same.json, device: 1}
`)
	p, _ := Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for duplicate output paths")
	}
}

func TestValidateDuplicateName(t *testing.T) {
	path := writePlan(t, `
worker: [echo]
jobs:
  - {name: a, model: m, dataset: d, output: out/1.json, device: 0}
  - {name: a, model: m, dataset: d, output: out/2.json, device: 1}
`)
	p, _ := Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for duplicate job names")
	}
}

func TestValidateNegativeDevice(t *testing.T) {
	path := writePlan(t, `
worker: [echo]
jobs:
  - {name: a, model: m, dataset: d, output: out/1.json, device: -1}
`)
	p, _ := Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for negative device index")
	}
}

func TestValidateOverpackedDevice(t *testing.T) {
	path := writePlan(t, `
worker: [echo]
jobs:
  - {name: a, model: m, dataset: d, output: out/1.json, device: 0}
  - {name: b, model: m, dataset: d, output: out/2.json, device: 0}
  - {name: c, model: m, dataset: d, output: out/3.json, device: 0}
`)
	p, _ := Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for three jobs on one device")
	}
}

func TestValidateEmptyPlan(t *testing.T) {
	path := writePlan(t, "worker: [echo]\njobs: []\n")
	p, _ := Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for plan with no jobs")
	}

	path = writePlan(t, `
jobs:
  - {name: a, model: m, dataset: d, output: out/1.json, device: 0}
`)
	p, _ = Load(path)
	if err := p.Validate(); err == nil {
		t.Fatal("Expected validation error for plan with no worker command")
	}
}

func TestDevices(t *testing.T) {
	path := writePlan(t, validPlan)
	p, _ := Load(path)

	devices := p.Devices()
	if len(devices) != 2 || devices[0] != 0 || devices[1] != 3 {
		t.Fatalf("Expected devices [0 3], got: %v", devices)
	}
}
