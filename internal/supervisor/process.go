package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Process is a running driver. It is safe for concurrent use.
type Process struct {
	cmd    *exec.Cmd
	port   int
	logger *zap.Logger

	drains  errgroup.Group
	readers []io.Closer

	tail     *tail.Tail
	tailDone chan struct{}

	done    chan struct{}
	waitErr error

	killMu sync.Mutex
}

func newProcess(cmd *exec.Cmd, port int, logger *zap.Logger) *Process {
	return &Process{
		cmd:    cmd,
		port:   port,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Port is the port the driver was told to listen on.
func (p *Process) Port() int { return p.port }

// PID is the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output has been drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Kill terminates the process. Killing an exited process is not an error.
func (p *Process) Kill() error {
	p.killMu.Lock()
	defer p.killMu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait blocks until the process has exited and every reader has finished. The exit
// error is computed once and returned to every caller.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// drain logs r line by line until EOF.
func (p *Process) drain(stream string, r io.ReadCloser) {
	p.readers = append(p.readers, r)
	logger := p.logger.With(zap.String("stream", stream))

	p.drains.Go(func() error {
		defer r.Close()
		truncated := false
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
		sc.Split(truncatingLines(maxLineBytes, &truncated))
		for sc.Scan() {
			line := strings.ToValidUTF8(sc.Text(), "\uFFFD")
			if line == "" {
				continue
			}
			if truncated {
				logger.Debug(line, zap.Bool("truncated", true))
				continue
			}
			logger.Debug(line)
		}
		// A read error after the process exits just means the pipe was closed under us.
		if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Debug("Driver output stream ended with error.", zap.Error(err))
		}
		return nil
	})
}

// follow re-logs the driver's own log file until the process exits.
func (p *Process) follow(t *tail.Tail) {
	p.tail = t
	p.tailDone = make(chan struct{})
	logger := p.logger.With(zap.String("stream", "log"))
	go func() {
		defer close(p.tailDone)
		for line := range t.Lines {
			if line.Err != nil {
				logger.Debug("Driver log read error.", zap.Error(line.Err))
				continue
			}
			logger.Debug(strings.ToValidUTF8(line.Text, "\uFFFD"))
		}
	}()
}

// monitor reaps the process, waits for the readers and publishes the exit status.
func (p *Process) monitor() {
	waitErr := p.cmd.Wait()

	drained := make(chan struct{})
	go func() {
		_ = p.drains.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		for _, r := range p.readers {
			_ = r.Close()
		}
		<-drained
	}

	if p.tail != nil {
		_ = p.tail.Stop()
		<-p.tailDone
		p.tail.Cleanup()
	}

	p.logger.Info("chromedriver exited.", zap.Error(waitErr))
	p.waitErr = waitErr
	close(p.done)
}

// truncatingLines splits on '\n' like bufio.ScanLines, but a line longer than max is
// cut at max bytes and the remainder up to the next newline is discarded. *truncated
// reports whether the most recent token was cut.
func truncatingLines(max int, truncated *bool) bufio.SplitFunc {
	discarding := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			if discarding {
				discarding = false
				return i + 1, nil, nil
			}
			*truncated = false
			return i + 1, dropCR(data[:i]), nil
		}
		if atEOF {
			if len(data) == 0 || discarding {
				return len(data), nil, nil
			}
			*truncated = false
			return len(data), dropCR(data), nil
		}
		if len(data) >= max {
			if discarding {
				return len(data), nil, nil
			}
			discarding = true
			*truncated = true
			return len(data), data[:max], nil
		}
		return 0, nil, nil
	}
}

func dropCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}
