// Package driver runs the chromedriver lifecycle: provision, patch, spawn, handshake,
// with one clean-slate retry.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
	"github.com/xkilldash9x/stealthdriver/internal/config"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

// Deps are the collaborators a Manager drives.
type Deps struct {
	Resolver   VersionResolver
	Fetcher    Fetcher
	Patcher    Patcher
	Spawner    Spawner
	Handshaker Handshaker
}

// Manager owns the install directory and hands out Sessions.
type Manager struct {
	logger     *zap.Logger
	deps       Deps
	installDir string
	platform   platform.Platform
	portMin    int
	portMax    int
	intN       func(n int) int
}

// Option customises a Manager.
type Option func(*Manager)

// WithPlatform overrides the host platform.
func WithPlatform(p platform.Platform) Option {
	return func(m *Manager) { m.platform = p }
}

// WithPortSource replaces the random source used to pick ports.
func WithPortSource(intN func(n int) int) Option {
	return func(m *Manager) { m.intN = intN }
}

// NewManager creates a Manager from the driver configuration.
func NewManager(logger *zap.Logger, cfg config.DriverConfig, deps Deps, opts ...Option) (*Manager, error) {
	if deps.Resolver == nil || deps.Fetcher == nil || deps.Patcher == nil || deps.Spawner == nil || deps.Handshaker == nil {
		return nil, errors.New("driver: all dependencies are required")
	}
	if cfg.PortMin < 1 || cfg.PortMin >= cfg.PortMax {
		return nil, fmt.Errorf("driver: invalid port range [%d, %d)", cfg.PortMin, cfg.PortMax)
	}
	m := &Manager{
		logger:     logger.Named("driver"),
		deps:       deps,
		installDir: cfg.InstallDir,
		platform:   platform.Current(),
		portMin:    cfg.PortMin,
		portMax:    cfg.PortMax,
		intN:       rand.IntN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Paths returns the raw and patched executable paths.
func (m *Manager) Paths() (raw, patched string, err error) {
	rawName, err := m.platform.DriverName()
	if err != nil {
		return "", "", err
	}
	patchedName, err := m.platform.PatchedName()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(m.installDir, rawName), filepath.Join(m.installDir, patchedName), nil
}

// State inspects the install directory.
func (m *Manager) State() (State, error) {
	raw, patched, err := m.Paths()
	if err != nil {
		return Missing, err
	}
	if exists(patched) {
		return Patched, nil
	}
	if exists(raw) {
		return Raw, nil
	}
	return Missing, nil
}

// Acquire runs the pipeline and returns a Session bound to a live driver. After a
// failed attempt both executables are deleted and the pipeline runs exactly once more.
func (m *Manager) Acquire(ctx context.Context, caps capabilities.Options) (*Session, error) {
	session, first := m.attempt(ctx, caps)
	if first == nil {
		return session, nil
	}
	if !retryable(ctx, first) {
		return nil, first
	}

	m.logger.Warn("Driver pipeline failed; retrying from a clean install.", zap.Error(first))
	if err := m.Clean(); err != nil {
		return nil, &AcquireError{First: first, Last: err}
	}

	session, last := m.attempt(ctx, caps)
	if last == nil {
		return session, nil
	}
	return nil, &AcquireError{First: first, Last: last}
}

// Provision makes sure a patched executable is installed without starting it.
func (m *Manager) Provision(ctx context.Context) (string, error) {
	state, err := m.State()
	if err != nil {
		return "", err
	}
	if err := m.provision(ctx, state); err != nil {
		return "", err
	}
	_, patched, _ := m.Paths()
	return patched, nil
}

// Clean deletes both executables. Missing files are not an error.
func (m *Manager) Clean() error {
	raw, patched, err := m.Paths()
	if err != nil {
		return err
	}
	var errs []error
	for _, path := range []string{raw, patched} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("cleaning install dir: %w", err)
	}
	m.logger.Debug("Removed cached driver executables.", zap.String("dir", m.installDir))
	return nil
}

func (m *Manager) attempt(ctx context.Context, caps capabilities.Options) (*Session, error) {
	state, err := m.State()
	if err != nil {
		return nil, err
	}
	m.logger.Debug("Starting driver pipeline.", zap.Stringer("state", state))

	if err := m.provision(ctx, state); err != nil {
		return nil, err
	}

	_, patched, _ := m.Paths()
	port := m.portMin + m.intN(m.portMax-m.portMin)
	proc, err := m.deps.Spawner.Spawn(ctx, patched, port)
	if err != nil {
		return nil, fmt.Errorf("spawning driver: %w", err)
	}

	wd, err := m.deps.Handshaker.Connect(ctx, port, caps, proc)
	if err != nil {
		return nil, fmt.Errorf("connecting to driver on port %d: %w", port, err)
	}
	return newSession(wd, proc, m.logger), nil
}

func (m *Manager) provision(ctx context.Context, state State) error {
	raw, patched, err := m.Paths()
	if err != nil {
		return err
	}

	if state == Missing {
		version, err := m.deps.Resolver.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("resolving browser version: %w", err)
		}
		loc, err := m.deps.Fetcher.Fetch(ctx, version, m.platform)
		if err != nil {
			return fmt.Errorf("fetching driver for %s: %w", version, err)
		}
		m.logger.Info("Driver installed.", zap.String("driver_version", loc.DriverVersion), zap.String("path", raw))
		state = Raw
	}

	if state == Raw {
		res, err := m.deps.Patcher.Patch(raw, patched)
		if err != nil {
			return fmt.Errorf("patching driver: %w", err)
		}
		m.logger.Debug("Driver patched.", zap.Int("markers", res.Count))
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if errors.Is(err, platform.ErrUnsupportedOS) {
		return false
	}
	return ctx.Err() == nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
