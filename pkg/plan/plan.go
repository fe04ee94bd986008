// Package plan defines the batch plan: the static list of prediction jobs to
// launch, loaded from a YAML file and validated before any process starts.
package plan

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gpu_batch_launcher/pkg/utils"
)

// Job is one unit of work: run the prediction worker for one model/dataset
// pair on one GPU. Jobs are immutable once loaded.
type Job struct {
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	Dataset string `yaml:"dataset"`
	Output  string `yaml:"output"`
	Device  int    `yaml:"device"`
}

// Plan is the full batch plan.
type Plan struct {
	// Worker is the argv prefix of the external prediction program,
	// e.g. ["python3", "scripts/generate_predictions.py"].
	Worker []string `yaml:"worker"`

	LogDir     string `yaml:"log_dir"`
	LogPrefix  string `yaml:"log_prefix"`
	LedgerPath string `yaml:"ledger_path"`

	// OutputDirs are created before launch in addition to the parent
	// directories of each job's output path.
	OutputDirs []string `yaml:"output_dirs"`

	// MaxJobsPerDevice caps colocation on a single GPU. The plan author
	// decides placement; this only rejects plans that overpack a device.
	MaxJobsPerDevice int `yaml:"max_jobs_per_device"`

	Jobs []Job `yaml:"jobs"`

	// Dir is the directory the plan file was loaded from. Relative paths
	// in the plan resolve against it.
	Dir string `yaml:"-"`
}

// Load reads a YAML plan file, applies defaults and resolves relative paths
// against the plan file's directory.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p.Dir = filepath.Dir(abs)

	p.applyDefaults()
	p.resolvePaths()
	return &p, nil
}

func (p *Plan) applyDefaults() {
	if p.LogDir == "" {
		p.LogDir = "logs"
	}
	if p.LogPrefix == "" {
		p.LogPrefix = "predictions"
	}
	if p.MaxJobsPerDevice <= 0 {
		p.MaxJobsPerDevice = 2
	}
}

func (p *Plan) resolvePaths() {
	p.LogDir = utils.ResolvePath(p.Dir, p.LogDir)
	if p.LedgerPath != "" {
		p.LedgerPath = utils.ResolvePath(p.Dir, p.LedgerPath)
	}
	for i := range p.OutputDirs {
		p.OutputDirs[i] = utils.ResolvePath(p.Dir, p.OutputDirs[i])
	}
	for i := range p.Jobs {
		p.Jobs[i].Model = utils.ResolvePath(p.Dir, p.Jobs[i].Model)
		p.Jobs[i].Dataset = utils.ResolvePath(p.Dir, p.Jobs[i].Dataset)
		p.Jobs[i].Output = utils.ResolvePath(p.Dir, p.Jobs[i].Output)
	}
}

// Validate runs every static check on the plan. It must pass before any
// worker is launched: a bad plan aborts the whole batch.
func (p *Plan) Validate() error {
	if len(p.Worker) == 0 {
		return fmt.Errorf("plan has no worker command")
	}
	if len(p.Jobs) == 0 {
		return fmt.Errorf("plan has no jobs")
	}

	var names, outputs []string
	perDevice := make(map[int]int)

	for i, j := range p.Jobs {
		if j.Name == "" {
			return fmt.Errorf("job %d has no name", i)
		}
		if j.Model == "" || j.Dataset == "" || j.Output == "" {
			return fmt.Errorf("job %q is missing model, dataset or output", j.Name)
		}
		if j.Device < 0 {
			return fmt.Errorf("job %q has negative device index %d", j.Name, j.Device)
		}
		names = append(names, j.Name)
		outputs = append(outputs, j.Output)
		perDevice[j.Device]++
	}

	if dup := utils.Duplicates(names); dup != "" {
		return fmt.Errorf("duplicate job name %q", dup)
	}
	if dup := utils.Duplicates(outputs); dup != "" {
		return fmt.Errorf("duplicate output path %q", dup)
	}
	for dev, n := range perDevice {
		if n > p.MaxJobsPerDevice {
			return fmt.Errorf("device %d has %d jobs, max is %d", dev, n, p.MaxJobsPerDevice)
		}
	}
	return nil
}

// Devices returns the set of device indices the plan uses.
func (p *Plan) Devices() []int {
	seen := make(map[int]bool)
	var devices []int
	for _, j := range p.Jobs {
		if !seen[j.Device] {
			seen[j.Device] = true
			devices = append(devices, j.Device)
		}
	}
	return devices
}
