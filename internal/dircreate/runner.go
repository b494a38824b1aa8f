// Package dircreate runs the FlowDir directory tool as a subprocess and turns
// its line protocol into a FlowdirResponse.
package dircreate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

const (
	defaultTimeout       = 10 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
	stderrTail           = 2048
	waitDelay            = 2 * time.Second
)

// Config configures the Runner.
type Config struct {
	// Command and Args start the tool, e.g. "python3" and ["flowdir_parameterized.py"].
	Command string
	Args    []string
	// WorkingDirectory and CentralScripts are used when a request omits them.
	WorkingDirectory string
	CentralScripts   string
	Timeout          time.Duration
	MaxOutputSize    int64
}

// Runner executes the directory tool.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.Command == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "dircreate: command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Args returns the tool arguments for p.
func (r *Runner) Args(p schema.FlowdirParameters) []string {
	args := append([]string(nil), r.cfg.Args...)
	args = append(args,
		"--project-name", p.ProjectName,
		"--block-name", p.BlockName,
		"--tool-name", p.ToolName,
		"--stage", p.Stage,
		"--run-name", p.RunName,
	)
	if p.PDSteps != "" {
		args = append(args, "--pd-steps", p.PDSteps)
	}
	if p.ReferenceRun != "" {
		args = append(args, "--reference-run", p.ReferenceRun)
	}
	if wd := firstNonEmpty(p.WorkingDirectory, r.cfg.WorkingDirectory); wd != "" {
		args = append(args, "--working-directory", wd)
	}
	if cs := firstNonEmpty(p.CentralScripts, r.cfg.CentralScripts); cs != "" {
		args = append(args, "--central-scripts", cs)
	}
	return args
}

// Run executes the tool for p. A tool that fails or reports FLOWDIR_ERROR
// yields a response with success=false; an error is returned only when the
// tool could not be started.
func (r *Runner) Run(ctx context.Context, p schema.FlowdirParameters) (*schema.FlowdirResponse, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.cfg.Command, r.Args(p)...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: r.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: r.cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrCodeRemoteExecution, "dircreate: start %s: %v", r.cfg.Command, runErr).WithCause(runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	out, err := Parse(&stdout)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeRemoteExecution, "dircreate: read tool output").WithCause(err)
	}

	resp := &schema.FlowdirResponse{
		ExecutionTime: elapsed,
		CreatedPaths:  out.CreatedPaths(),
		Summary:       &out.Summary,
		Logs:          out.Logs,
	}
	if resp.CreatedPaths == nil {
		resp.CreatedPaths = []string{}
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		resp.Error = fmt.Sprintf("directory tool killed after %s", r.cfg.Timeout)
	case len(out.Errors) > 0:
		resp.Error = strings.Join(out.Errors, "; ")
	case runErr != nil:
		resp.Error = fmt.Sprintf("directory tool exited with code %d", exitCode)
		if tail := tailString(stderr.String(), stderrTail); tail != "" {
			resp.Error += ": " + tail
		}
	default:
		resp.Success = true
	}

	r.logger.InfoContext(ctx, "directory tool finished",
		"project", p.ProjectName,
		"block", p.BlockName,
		"run", p.RunName,
		"exit_code", exitCode,
		"paths", len(resp.CreatedPaths),
		"duration_ms", elapsed,
		"success", resp.Success,
	)
	return resp, nil
}

// limitedWriter discards bytes beyond limit. Write always reports len(p) so
// the subprocess never blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
