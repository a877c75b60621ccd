package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
)

// maxOutputTail bounds how much script output is quoted in an error
const maxOutputTail = 2048

// ScriptJob describes one script migration to run
type ScriptJob struct {
	Source   string
	Dir      string
	Filename string
	Content  []byte
}

// ScriptRunner runs script migrations with the interpreter registered for
// their extension. Scripts get no access to the runner's transaction; they
// connect on their own using DATABASE_DSN.
type ScriptRunner struct {
	interpreters map[string]string
	timeout      time.Duration
	dsn          string
	logger       logger.Logger
}

// NewScriptRunner creates a script runner. interpreters maps extensions such
// as ".py" to the program that runs them, optionally followed by arguments.
func NewScriptRunner(interpreters map[string]string, timeout time.Duration, dsn string, log logger.Logger) *ScriptRunner {
	if log == nil {
		log = logger.NewNop()
	}
	return &ScriptRunner{
		interpreters: interpreters,
		timeout:      timeout,
		dsn:          dsn,
		logger:       log,
	}
}

// Run executes job and waits for it. A non-zero exit status is an error.
func (r *ScriptRunner) Run(ctx context.Context, job ScriptJob) error {
	ext := strings.ToLower(filepath.Ext(job.Filename))
	interpreter, ok := r.interpreters[ext]
	if !ok {
		return fmt.Errorf("no interpreter registered for %q", ext)
	}

	scriptPath, workDir, cleanup, err := r.materialize(job)
	if err != nil {
		return err
	}
	defer cleanup()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(interpreterArgs(interpreter), scriptPath)

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.WaitDelay = 5 * time.Second
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.Env = append(os.Environ(),
		"MIGRATION_SOURCE="+job.Source,
		"MIGRATION_FILE="+job.Filename,
		"DATABASE_DSN="+r.dsn,
	)

	start := time.Now()
	runErr := cmd.Run()

	log := r.logger.WithFields(map[string]interface{}{
		"source":      job.Source,
		"migration":   job.Filename,
		"interpreter": args[0],
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if output.Len() > 0 {
		log.Debug("Script output", "output", output.String())
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("script timed out after %s: %w", r.timeout, ctx.Err())
		}
		return fmt.Errorf("script failed: %w: %s", runErr, tail(output.String()))
	}
	return nil
}

// interpreterArgs splits an interpreter setting such as "python3 -u" on
// whitespace. A setting that names an existing file is used whole, so an
// interpreter path may contain spaces as long as it takes no arguments.
func interpreterArgs(interpreter string) []string {
	if info, err := os.Stat(interpreter); err == nil && !info.IsDir() {
		return []string{interpreter}
	}
	return strings.Fields(interpreter)
}

// materialize returns a path the interpreter can open. Scripts that live in
// a local directory run in place from that directory; others are written to
// a temporary file first.
func (r *ScriptRunner) materialize(job ScriptJob) (string, string, func(), error) {
	if job.Dir != "" {
		dir, err := filepath.Abs(job.Dir)
		if err == nil {
			local := filepath.Join(dir, job.Filename)
			if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
				return local, dir, func() {}, nil
			}
		}
	}

	tmpDir, err := os.MkdirTemp("", "dbmigrate-")
	if err != nil {
		return "", "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	path := filepath.Join(tmpDir, filepath.Base(job.Filename))
	if err := os.WriteFile(path, job.Content, 0o700); err != nil {
		cleanup()
		return "", "", nil, fmt.Errorf("failed to write script: %w", err)
	}
	return path, tmpDir, cleanup, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		return "..." + s[len(s)-maxOutputTail:]
	}
	return s
}
