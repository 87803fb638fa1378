package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

// defaultOutputTail is the number of stdout/stderr bytes kept per execution.
const defaultOutputTail = 4096

// notStarted is the exit code reported when no process was started.
const notStarted = -1

// Config holds configuration for a Runner.
type Config struct {
	// OutputTail is how many trailing bytes of stdout and stderr to keep.
	// Zero means defaultOutputTail.
	OutputTail int

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for commands.
	// If empty, inherits from parent process.
	WorkDir string
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Outcome describes one finished execution.
type Outcome struct {
	// Name is the action name the execution was started for.
	Name string

	// ExecutionID identifies this execution in logs and result messages.
	ExecutionID string

	// ExitCode is the process exit status, or -1 if it never started
	// or was terminated by a signal.
	ExitCode int

	// Stdout and Stderr hold the last OutputTail bytes of each stream.
	Stdout string
	Stderr string

	// StartedAt is when execution began; Duration is how long it took.
	StartedAt time.Time
	Duration  time.Duration

	// Err is nil on exit status 0. Otherwise it wraps one of
	// ErrEmptyCommand, ErrTokenizeFailed, ErrSpawnFailed or ErrNonZeroExit.
	Err error
}

// Success reports whether the command ran and exited with status 0.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Runner executes command lines. Executions share no state, so any number
// may run at once.
type Runner struct {
	config Config
	logger Logger

	wg      sync.WaitGroup
	running atomic.Int64
}

// NewRunner creates a Runner with the given configuration.
func NewRunner(cfg Config) *Runner {
	if cfg.OutputTail <= 0 {
		cfg.OutputTail = defaultOutputTail
	}
	return &Runner{
		config: cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	r.logger = logger
}

// Execute runs commandLine to completion and reports the outcome.
// It blocks for as long as the command runs.
func (r *Runner) Execute(name, commandLine string) Outcome {
	return r.execute(uuid.NewString(), name, commandLine)
}

// Go starts commandLine in its own goroutine and returns the execution id
// immediately. done, if non-nil, is called from that goroutine with the
// outcome.
func (r *Runner) Go(name, commandLine string, done func(Outcome)) string {
	id := uuid.NewString()

	r.wg.Add(1)
	r.running.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)

		outcome := r.execute(id, name, commandLine)
		if done != nil {
			done(outcome)
		}
	}()

	return id
}

// Wait blocks until every execution started with Go has finished or the
// timeout elapses. It reports whether all executions finished.
// Executions still running after the timeout are left alone.
func (r *Runner) Wait(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		r.logger.Warn("executions still running after grace period",
			"running", r.Running(),
			"grace_period", timeout,
		)
		return false
	}
}

// Running returns the number of executions started with Go that have not finished.
func (r *Runner) Running() int {
	return int(r.running.Load())
}

func (r *Runner) execute(id, name, commandLine string) Outcome {
	outcome := Outcome{
		Name:        name,
		ExecutionID: id,
		ExitCode:    notStarted,
		StartedAt:   time.Now(),
	}

	argv, err := tokenize(commandLine)
	if err != nil {
		outcome.Err = err
		r.logger.Error("command rejected", "action", name, "execution_id", id, "error", err)
		return outcome
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // Command lines come from the operator's configuration

	// Own process group so signals aimed at the bridge do not reach children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if r.config.Env != nil {
		cmd.Env = append(cmd.Environ(), r.config.Env...)
	}
	if r.config.WorkDir != "" {
		cmd.Dir = r.config.WorkDir
	}

	stdout := newTailBuffer(r.config.OutputTail)
	stderr := newTailBuffer(r.config.OutputTail)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Info("starting command",
		"action", name,
		"execution_id", id,
		"binary", argv[0],
		"args", argv[1:],
	)

	if err := cmd.Start(); err != nil {
		outcome.Err = fmt.Errorf("%w: %s: %w", ErrSpawnFailed, argv[0], err)
		outcome.Duration = time.Since(outcome.StartedAt)
		r.logger.Error("command could not be started", "action", name, "execution_id", id, "error", err)
		return outcome
	}

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(outcome.StartedAt)
	outcome.Stdout = stdout.String()
	outcome.Stderr = stderr.String()
	outcome.ExitCode = cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		outcome.Err = fmt.Errorf("%w: %s", ErrNonZeroExit, exitErr.ProcessState.String())
	default:
		outcome.Err = fmt.Errorf("%w: %w", ErrSpawnFailed, waitErr)
	}

	r.logOutcome(outcome, stdout.Truncated() || stderr.Truncated())
	return outcome
}

func (r *Runner) logOutcome(o Outcome, truncated bool) {
	if !o.Success() {
		r.logger.Warn("command failed",
			"action", o.Name,
			"execution_id", o.ExecutionID,
			"exit_code", o.ExitCode,
			"duration", o.Duration,
			"error", o.Err,
		)
	} else {
		r.logger.Info("command finished",
			"action", o.Name,
			"execution_id", o.ExecutionID,
			"exit_code", o.ExitCode,
			"duration", o.Duration,
		)
	}

	if o.Stdout != "" || o.Stderr != "" {
		r.logger.Debug("command output",
			"action", o.Name,
			"execution_id", o.ExecutionID,
			"stdout", o.Stdout,
			"stderr", o.Stderr,
			"truncated", truncated,
		)
	}
}

// tokenize splits a command line into argv using shell-word rules.
func tokenize(commandLine string) ([]string, error) {
	argv, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenizeFailed, err)
	}
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}
