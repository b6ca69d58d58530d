// Package execval runs a candidate under the target-dialect Python
// interpreter in a scratch directory, with a hard wall-clock timeout and
// bounded concurrency. The pipeline treats a clean exit as the final
// validation gate before acceptance.
package execval

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"sceneport/internal/config"
	"sceneport/internal/logging"
	"sceneport/internal/unit"
)

// Outcome classifies one execution.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeException Outcome = "exception" // recognized Python exception
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCrash     Outcome = "crash" // nonzero exit with no parseable traceback
)

// RunResult is one execution of a candidate.
type RunResult struct {
	Outcome    Outcome
	ExitCode   int
	Output     string // combined stdout+stderr, trimmed
	Exception  string // exception type when Outcome is exception
	ExcMessage string
	Duration   time.Duration
}

// Finding converts a failed run into a runtime-failure finding. Success
// yields no finding.
func (r RunResult) Finding() *unit.Finding {
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeTimeout:
		return &unit.Finding{
			Kind:     unit.FindingRuntimeFailure,
			Severity: unit.SeverityError,
			Message:  fmt.Sprintf("execution exceeded the wall-clock limit after %s", r.Duration.Round(time.Millisecond)),
		}
	case OutcomeException:
		return &unit.Finding{
			Kind:      unit.FindingRuntimeFailure,
			Severity:  unit.SeverityError,
			Message:   fmt.Sprintf("%s: %s", r.Exception, r.ExcMessage),
			Exception: r.Exception,
		}
	default:
		return &unit.Finding{
			Kind:     unit.FindingRuntimeFailure,
			Severity: unit.SeverityError,
			Message:  fmt.Sprintf("interpreter exited with status %d and no traceback", r.ExitCode),
		}
	}
}

// Runner executes candidates. Safe for concurrent use; the semaphore caps
// simultaneous interpreter processes.
type Runner struct {
	python    string
	extraArgs []string
	workDir   string
	timeout   time.Duration
	sem       *semaphore.Weighted
}

// NewRunner builds a Runner from config. The work directory is created if
// missing; empty means the system temp dir.
func NewRunner(cfg config.ExecutionConfig) (*Runner, error) {
	python := cfg.PythonBinary
	if python == "" {
		python = "python3"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create execution work dir: %w", err)
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxConcurrent := int64(cfg.MaxConcurrent)
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	return &Runner{
		python:    python,
		extraArgs: cfg.ExtraArgs,
		workDir:   workDir,
		timeout:   timeout,
		sem:       semaphore.NewWeighted(maxConcurrent),
	}, nil
}

// Timeout returns the configured per-run wall-clock limit.
func (r *Runner) Timeout() time.Duration {
	return r.timeout
}

// Submit writes the candidate to a scratch file and runs it. Blocks while
// the concurrency cap is saturated; ctx cancels both the wait and the run.
func (r *Runner) Submit(ctx context.Context, name, text string) (RunResult, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return RunResult{}, err
	}
	defer r.sem.Release(1)

	dir, err := os.MkdirTemp(r.workDir, "unit-")
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	script := filepath.Join(dir, sanitizeName(name)+".py")
	if err := os.WriteFile(script, []byte(text), 0644); err != nil {
		return RunResult{}, fmt.Errorf("failed to write candidate: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.extraArgs...), script)
	cmd := exec.CommandContext(runCtx, r.python, args...)
	cmd.Dir = dir
	// Renders spawn helpers (latex, ffmpeg) that inherit the output pipes
	// and would keep CombinedOutput blocked past the deadline. Kill the
	// whole process group on cancel, and give up on the pipes shortly after
	// in case something still holds them.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	out, runErr := cmd.CombinedOutput()
	elapsed := time.Since(start)

	result := RunResult{
		Output:   strings.TrimSpace(string(out)),
		Duration: elapsed,
	}

	if ctx.Err() != nil {
		// Parent shutdown is not a verdict on the unit.
		return RunResult{}, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		result.Outcome = OutcomeTimeout
		result.ExitCode = -1
		logging.Exec("%s: timeout after %s", name, elapsed.Round(time.Millisecond))
		return result, nil
	}
	if runErr == nil {
		result.Outcome = OutcomeSuccess
		logging.ExecDebug("%s: success in %s", name, elapsed.Round(time.Millisecond))
		return result, nil
	}

	exitErr, ok := runErr.(*exec.ExitError)
	if !ok {
		return RunResult{}, fmt.Errorf("failed to run interpreter %s: %w", r.python, runErr)
	}
	result.ExitCode = exitErr.ExitCode()

	if exc, msg, found := parseTraceback(result.Output); found {
		result.Outcome = OutcomeException
		result.Exception = exc
		result.ExcMessage = msg
		logging.Exec("%s: %s (%s)", name, exc, elapsed.Round(time.Millisecond))
	} else {
		result.Outcome = OutcomeCrash
		logging.Exec("%s: crash, exit %d", name, result.ExitCode)
	}
	return result, nil
}

// tracebackRe matches the final line of a CPython traceback:
// "NameError: name 'x' is not defined" or a bare "KeyboardInterrupt".
var tracebackRe = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt|Iteration|Warning))(?::\s*(.*))?$`)

// parseTraceback extracts the exception type and message from combined
// output, scanning from the last line up since renders log freely.
func parseTraceback(output string) (exc, msg string, found bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m := tracebackRe.FindStringSubmatch(line); m != nil {
			return m[1], m[2], true
		}
	}
	return "", "", false
}

func sanitizeName(name string) string {
	if name == "" {
		return "unit"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
