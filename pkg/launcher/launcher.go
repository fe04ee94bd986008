// Package launcher starts the batch: one detached worker process per job,
// each pinned to its GPU through CUDA_VISIBLE_DEVICES, with stdout and stderr
// redirected to a per-job log file. The launcher never waits on a worker;
// monitoring is the operator's job (tail the logs, watch the output dir).
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"gpu_batch_launcher/pkg/ledger"
	"gpu_batch_launcher/pkg/plan"
)

// visibleDevicesVar restricts which GPUs the worker can see. With a single
// index set, the worker always addresses its GPU as device 0.
const visibleDevicesVar = "CUDA_VISIBLE_DEVICES"

// stampFormat is shared by every log file of one batch so a run's logs sort
// and grep together.
const stampFormat = "20060102_150405"

// Handle records one launch. The launcher never revisits a handle after the
// dispatch loop; it exists for operator visibility and the ledger.
type Handle struct {
	Job       plan.Job
	PID       int
	LogPath   string
	StartedAt time.Time
	Err       error
}

// Result is the outcome of one Launch invocation.
type Result struct {
	BatchID string
	Stamp   string
	Handles []Handle
}

// Started counts the handles whose process actually started.
func (r *Result) Started() int {
	n := 0
	for _, h := range r.Handles {
		if h.Err == nil {
			n++
		}
	}
	return n
}

// Launcher dispatches one batch plan.
type Launcher struct {
	plan   *plan.Plan
	logger *slog.Logger
	ledger *ledger.Ledger // may be nil
}

// New creates a Launcher. led may be nil when no ledger is configured.
func New(p *plan.Plan, logger *slog.Logger, led *ledger.Ledger) *Launcher {
	return &Launcher{plan: p, logger: logger, ledger: led}
}

// Launch runs the whole batch: preconditions first, then one detached start
// per job. Directory creation failure aborts before any job starts. A
// per-job start failure is recorded and the remaining jobs still launch.
func (l *Launcher) Launch(planPath string) (*Result, error) {
	if err := l.ensureDirs(); err != nil {
		return nil, err
	}

	res := &Result{
		BatchID: uuid.New().String(),
		Stamp:   time.Now().Format(stampFormat),
	}

	if l.ledger != nil {
		err := l.ledger.RecordBatch(ledger.Batch{
			ID:        res.BatchID,
			Stamp:     res.Stamp,
			PlanPath:  planPath,
			JobCount:  len(l.plan.Jobs),
			StartedAt: time.Now(),
		})
		if err != nil {
			return nil, err
		}
	}

	for _, job := range l.plan.Jobs {
		h := l.launchJob(job, res.Stamp)
		res.Handles = append(res.Handles, h)

		if h.Err != nil {
			l.logger.Error("job failed to start",
				"job", job.Name, "device", job.Device, "error", h.Err)
		} else {
			// Operators grep for these lines; keep them on stdout.
			fmt.Printf("Started %s on GPU %d (PID %d), log: %s\n",
				job.Name, job.Device, h.PID, h.LogPath)
		}

		if l.ledger != nil {
			rec := ledger.Launch{
				BatchID:    res.BatchID,
				JobName:    job.Name,
				PID:        h.PID,
				Device:     job.Device,
				LogPath:    h.LogPath,
				OutputPath: job.Output,
				StartedAt:  h.StartedAt,
			}
			if h.Err != nil {
				rec.Error = h.Err.Error()
			}
			if err := l.ledger.RecordLaunch(rec); err != nil {
				l.logger.Error("ledger write failed", "job", job.Name, "error", err)
			}
		}
	}

	return res, nil
}

// launchJob starts one worker detached from the launcher. No Wait: the
// process must outlive us, so it gets its own process group and is released
// right after the start.
func (l *Launcher) launchJob(job plan.Job, stamp string) Handle {
	h := Handle{
		Job:       job,
		LogPath:   l.LogPath(job, stamp),
		StartedAt: time.Now(),
	}

	logFile, err := os.Create(h.LogPath)
	if err != nil {
		h.Err = fmt.Errorf("create log file: %w", err)
		return h
	}
	defer logFile.Close()

	args := append(append([]string(nil), l.plan.Worker[1:]...), workerArgs(job)...)
	cmd := exec.Command(l.plan.Worker[0], args...)
	cmd.Dir = l.plan.Dir
	cmd.Env = jobEnv(os.Environ(), job.Device)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		h.Err = fmt.Errorf("start worker: %w", err)
		return h
	}

	h.PID = cmd.Process.Pid

	if err := cmd.Process.Release(); err != nil {
		l.logger.Warn("process release failed", "job", job.Name, "error", err)
	}
	return h
}

// DryRun prints what Launch would start without touching the filesystem or
// starting anything.
func (l *Launcher) DryRun() {
	stamp := time.Now().Format(stampFormat)
	for _, job := range l.plan.Jobs {
		args := append(append([]string(nil), l.plan.Worker...), workerArgs(job)...)
		fmt.Printf("[device %d] %s=%d %s\n  log: %s\n",
			job.Device, visibleDevicesVar, job.Device,
			strings.Join(args, " "), l.LogPath(job, stamp))
	}
}

// LogPath derives the job's log file name from the plan prefix, job name and
// batch stamp. Unique job names make these unique within a batch.
func (l *Launcher) LogPath(job plan.Job, stamp string) string {
	name := fmt.Sprintf("%s_%s_%s.log", l.plan.LogPrefix, job.Name, stamp)
	return filepath.Join(l.plan.LogDir, name)
}

// ensureDirs creates the log dir, the declared output dirs and every output
// file's parent. Any failure here aborts the batch before a single launch.
func (l *Launcher) ensureDirs() error {
	dirs := []string{l.plan.LogDir}
	dirs = append(dirs, l.plan.OutputDirs...)
	for _, job := range l.plan.Jobs {
		dirs = append(dirs, filepath.Dir(job.Output))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// workerArgs builds the external program's flags. The worker sees exactly one
// GPU, so its logical index is always 0.
func workerArgs(job plan.Job) []string {
	return []string{
		"--model", job.Model,
		"--test", job.Dataset,
		"--output", job.Output,
		"--gpu", "0",
	}
}

// jobEnv returns env with any inherited device restriction replaced by the
// job's own device index.
func jobEnv(env []string, device int) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, visibleDevicesVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, fmt.Sprintf("%s=%d", visibleDevicesVar, device))
}
