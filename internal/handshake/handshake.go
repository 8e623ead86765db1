// Package handshake opens a WebDriver session against a freshly started driver,
// retrying while the driver is still binding its port.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tebeka/selenium"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
)

const (
	DefaultMaxAttempts = 15
	DefaultInterval    = 250 * time.Millisecond
	// DefaultAttemptTimeout bounds one new-session request.
	DefaultAttemptTimeout = 20 * time.Second

	// requestTimeout caps every request made through the selenium client, including
	// ones abandoned by an attempt that already gave up.
	requestTimeout = 5 * time.Minute
)

var installClient sync.Once

var (
	// ErrExhausted matches every *ExhaustedError.
	ErrExhausted = errors.New("handshake attempts exhausted")
	// ErrProcessExited is the last error when the driver dies between attempts.
	ErrProcessExited = errors.New("driver process exited")
)

// ExhaustedError is returned after the final failed attempt. The driver process has
// already been killed and reaped.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("handshake failed after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Opener creates a WebDriver session at urlPrefix.
type Opener interface {
	Open(ctx context.Context, urlPrefix string, caps selenium.Capabilities) (selenium.WebDriver, error)
}

// SeleniumOpener opens sessions with selenium.NewRemote.
type SeleniumOpener struct {
	// Timeout bounds each attempt. Zero selects DefaultAttemptTimeout.
	Timeout time.Duration
}

type openResult struct {
	wd  selenium.WebDriver
	err error
}

// Open implements Opener. selenium.NewRemote takes no context, so the request runs in
// its own goroutine and Open returns as soon as ctx ends or the attempt times out.
// A session created after that point is quit in the background.
func (o SeleniumOpener) Open(ctx context.Context, urlPrefix string, caps selenium.Capabilities) (selenium.WebDriver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	installClient.Do(func() {
		if selenium.HTTPClient == http.DefaultClient {
			selenium.HTTPClient = &http.Client{Timeout: requestTimeout}
		}
	})

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan openResult, 1)
	go func() {
		wd, err := selenium.NewRemote(caps, urlPrefix)
		done <- openResult{wd: wd, err: err}
	}()

	select {
	case res := <-done:
		return res.wd, res.err
	case <-ctx.Done():
		go discardLate(done)
		return nil, fmt.Errorf("new session at %s: %w", urlPrefix, ctx.Err())
	}
}

func discardLate(done <-chan openResult) {
	if res := <-done; res.err == nil && res.wd != nil {
		_ = res.wd.Quit()
	}
}

// Killer is the part of a driver process the retrier needs to clean up.
type Killer interface {
	Kill() error
	Wait() error
}

// exitNotifier is implemented by processes that can report their own exit.
type exitNotifier interface {
	Done() <-chan struct{}
}

// Retrier connects to a driver with a fixed wait between attempts.
type Retrier struct {
	logger      *zap.Logger
	opener      Opener
	maxAttempts int
	interval    time.Duration
	wait        func(ctx context.Context, d time.Duration, exited <-chan struct{}) error
}

// New creates a Retrier. Non-positive values select the defaults.
func New(logger *zap.Logger, opener Opener, maxAttempts int, interval time.Duration) *Retrier {
	if opener == nil {
		opener = SeleniumOpener{}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Retrier{
		logger:      logger.Named("handshake"),
		opener:      opener,
		maxAttempts: maxAttempts,
		interval:    interval,
		wait:        sleep,
	}
}

// MaxAttempts is the total number of attempts Connect makes.
func (r *Retrier) MaxAttempts() int { return r.maxAttempts }

// Connect opens a session on http://127.0.0.1:<port>. Each attempt gets a fresh copy
// of the capabilities. If every attempt fails, or ctx ends first, proc is killed and
// reaped before returning.
func (r *Retrier) Connect(ctx context.Context, port int, caps capabilities.Options, proc Killer) (selenium.WebDriver, error) {
	urlPrefix := "http://127.0.0.1:" + strconv.Itoa(port)

	var exited <-chan struct{}
	if n, ok := proc.(exitNotifier); ok {
		exited = n.Done()
	}

	var last error
	attempt := 0
	for attempt < r.maxAttempts {
		attempt++
		wd, err := r.opener.Open(ctx, urlPrefix, caps.Selenium())
		if err == nil {
			r.logger.Info("WebDriver session established.",
				zap.String("url", urlPrefix), zap.Int("attempt", attempt), zap.String("session_id", wd.SessionID()))
			return wd, nil
		}
		last = err
		r.logger.Debug("Handshake attempt failed.", zap.Int("attempt", attempt), zap.Int("max_attempts", r.maxAttempts), zap.Error(err))

		if attempt == r.maxAttempts {
			break
		}
		if err := r.wait(ctx, r.interval, exited); err != nil {
			if errors.Is(err, ErrProcessExited) {
				last = fmt.Errorf("%w after attempt %d: %v", ErrProcessExited, attempt, last)
				break
			}
			r.terminate(proc)
			return nil, err
		}
	}

	r.terminate(proc)
	return nil, &ExhaustedError{Attempts: attempt, Last: last}
}

func (r *Retrier) terminate(proc Killer) {
	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		r.logger.Warn("Failed to kill driver process.", zap.Error(err))
	}
	// Wait reports the kill signal as an error; only reaping matters here.
	_ = proc.Wait()
}

// sleep waits for d without spinning. It returns early when ctx ends or the process
// exits.
func sleep(ctx context.Context, d time.Duration, exited <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-exited:
		return ErrProcessExited
	case <-ctx.Done():
		return ctx.Err()
	}
}
