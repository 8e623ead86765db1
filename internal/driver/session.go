package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tebeka/selenium"
	"go.uber.org/zap"
)

// Session couples a WebDriver session with the driver process serving it. Closing the
// Session ends both.
type Session struct {
	id     string
	wd     selenium.WebDriver
	proc   Process
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(wd selenium.WebDriver, proc Process, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		wd:     wd,
		proc:   proc,
		logger: logger.With(zap.String("session", id), zap.Int("pid", proc.PID())),
	}
}

// ID is a local correlation id, distinct from the WebDriver session id.
func (s *Session) ID() string { return s.id }

// WebDriver returns the session handle.
func (s *Session) WebDriver() selenium.WebDriver { return s.wd }

// Port is the local port the driver listens on.
func (s *Session) Port() int { return s.proc.Port() }

// Close quits the WebDriver session, then kills and reaps the driver. Later calls
// return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.wd.Quit(); err != nil {
			errs = append(errs, fmt.Errorf("quitting webdriver session: %w", err))
		}
		if err := s.proc.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("killing driver: %w", err))
		}
		// The exit status of a killed driver is always an error.
		_ = s.proc.Wait()
		s.closeErr = errors.Join(errs...)
		s.logger.Info("Session closed.", zap.Error(s.closeErr))
	})
	return s.closeErr
}
