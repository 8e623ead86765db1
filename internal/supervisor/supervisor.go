// Package supervisor starts chromedriver and owns the resulting OS process.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// execCommand and chmod are variables so tests can substitute them.
var (
	execCommand = exec.Command
	chmod       = os.Chmod
)

const (
	// maxLineBytes caps one logged line of driver output; the rest is dropped.
	maxLineBytes = 64 * 1024
	// drainGrace bounds how long output readers may run after the process exits. A browser
	// spawned by the driver can inherit the pipes and keep them open.
	drainGrace = 2 * time.Second
)

// SpawnError reports a failure to prepare or start the driver process.
type SpawnError struct {
	Op   string // "chmod", "pipe", "start", "tail"
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Supervisor launches driver executables.
type Supervisor struct {
	logger  *zap.Logger
	goos    string
	logPath string
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithLogPath makes the driver write its own log to path, which is followed and
// re-logged until the process exits.
func WithLogPath(path string) Option {
	return func(s *Supervisor) { s.logPath = path }
}

// WithGOOS overrides the host OS used to decide whether to chmod.
func WithGOOS(goos string) Option {
	return func(s *Supervisor) { s.goos = goos }
}

// New creates a Supervisor.
func New(logger *zap.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger: logger.Named("supervisor"),
		goos:   runtime.GOOS,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn marks executable runnable and starts it listening on port. The process is not
// bound to ctx; ownership passes to the caller, who must Kill and Wait it.
func (s *Supervisor) Spawn(ctx context.Context, executable string, port int) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.goos != "windows" {
		if err := chmod(executable, 0o755); err != nil {
			return nil, &SpawnError{Op: "chmod", Path: executable, Err: err}
		}
	}

	args := []string{"--port=" + strconv.Itoa(port)}
	if s.logPath != "" {
		args = append(args, "--log-path="+s.logPath)
	}
	cmd := execCommand(executable, args...)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Op: "pipe", Path: executable, Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &SpawnError{Op: "pipe", Path: executable, Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, &SpawnError{Op: "start", Path: executable, Err: startErr}
	}

	p := newProcess(cmd, port, s.logger.With(zap.Int("pid", cmd.Process.Pid), zap.Int("port", port)))
	p.drain("stdout", stdoutR)
	p.drain("stderr", stderrR)

	if s.logPath != "" {
		t, err := tail.TailFile(s.logPath, tail.Config{
			Follow:    true,
			ReOpen:    true,
			MustExist: false,
			Poll:      true,
			Logger:    tail.DiscardingLogger,
		})
		if err != nil {
			// The driver is already running; losing its log file is not worth killing it.
			p.logger.Warn("Could not follow driver log file.", zap.String("path", s.logPath), zap.Error(err))
		} else {
			p.follow(t)
		}
	}

	go p.monitor()

	s.logger.Info("Started chromedriver.",
		zap.String("executable", executable),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", port))
	return p, nil
}
