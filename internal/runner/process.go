package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/autoloop-io/autoloop/internal/engine"
)

// checkpointExitCode is the exit status a payload uses to signal "saved
// progress, resume me later" rather than success or failure.
const checkpointExitCode = 75

// Config tunes the process runner.
type Config struct {
	// Command is the interpreter invocation, e.g. "python3". The payload
	// entry file path is appended as the final argument.
	Command string
	// WorkDirRoot hosts the per-execution scratch directories. Empty
	// means the system temp dir.
	WorkDirRoot string
	// Environment is the base environment for payloads, keyed by runtime
	// environment name.
	Environment map[string][]string
}

// Process executes automation payloads as child processes. Each run gets
// a scratch directory with the payload written out, the interpreter is
// launched against the entry file, and stdout/stderr lines stream into
// the execution log.
type Process struct {
	cfg Config
}

func NewProcess(cfg Config) *Process {
	if cfg.Command == "" {
		cfg.Command = "python3"
	}
	return &Process{cfg: cfg}
}

var _ engine.Runner = (*Process)(nil)

func (p *Process) Run(ctx context.Context, spec engine.RunSpec) engine.Outcome {
	dir, entry, err := p.materialize(spec)
	if err != nil {
		return engine.Outcome{Kind: engine.OutcomeFailed, ExitCode: -1, Err: err}
	}
	defer os.RemoveAll(dir)

	parts := strings.Fields(p.cfg.Command)
	args := append(parts[1:], entry)
	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Dir = dir
	cmd.Env = p.environ(spec)
	// Cancellation is the cooperative stop signal: SIGTERM first so the
	// payload can wind down inside the grace period.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = time.Minute

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return engine.Outcome{Kind: engine.OutcomeFailed, ExitCode: -1, Err: err}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return engine.Outcome{Kind: engine.OutcomeFailed, ExitCode: -1, Err: fmt.Errorf("start payload: %w", err)}
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if spec.Logs == nil {
			continue
		}
		if err := spec.Logs.AppendLog(context.Background(), spec.ExecutionID, scanner.Text()); err != nil {
			log.Printf("runner: append log for execution %s: %v", spec.ExecutionID, err)
		}
	}

	err = cmd.Wait()
	if err == nil {
		return engine.Outcome{Kind: engine.OutcomeCompleted, ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == checkpointExitCode {
			return engine.Outcome{Kind: engine.OutcomeCheckpoint, ExitCode: code}
		}
		return engine.Outcome{Kind: engine.OutcomeFailed, ExitCode: code, Err: fmt.Errorf("payload exited with code %d", code)}
	}
	return engine.Outcome{Kind: engine.OutcomeFailed, ExitCode: -1, Err: err}
}

// materialize writes the payload into a scratch directory and returns
// the directory and the entry file path.
func (p *Process) materialize(spec engine.RunSpec) (dir, entry string, err error) {
	dir, err = os.MkdirTemp(p.cfg.WorkDirRoot, "autoloop-run-")
	if err != nil {
		return "", "", fmt.Errorf("scratch dir: %w", err)
	}

	code := spec.Automation.Code
	if !code.MultiFile() {
		entry = filepath.Join(dir, "main.py")
		if err := os.WriteFile(entry, []byte(code.Inline), 0o600); err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("write payload: %w", err)
		}
		return dir, entry, nil
	}

	for i, f := range code.Files {
		name := filepath.Clean(f.Name)
		if name == "" || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("payload file name %q escapes the scratch dir", f.Name)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			os.RemoveAll(dir)
			return "", "", err
		}
		if err := os.WriteFile(path, []byte(f.Content), 0o600); err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("write payload file %s: %w", name, err)
		}
		if i == 0 {
			entry = path
		}
		if filepath.Base(name) == "main.py" {
			entry = path
		}
	}
	return dir, entry, nil
}

func (p *Process) environ(spec engine.RunSpec) []string {
	env := append([]string(nil), p.cfg.Environment[spec.RuntimeEnvironment]...)
	env = append(env,
		"AUTOLOOP_EXECUTION_ID="+spec.ExecutionID.String(),
		"AUTOLOOP_AUTOMATION_ID="+spec.Automation.ID.String(),
		"AUTOLOOP_RUNTIME_ENV="+spec.RuntimeEnvironment,
	)
	if spec.Resume {
		env = append(env, "AUTOLOOP_RESUME=1")
	}
	return env
}
