package browserversion

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/platform"
)

// probe is one command that prints the browser version.
type probe struct {
	name string
	args []string
}

var probes = map[string][]probe{
	"linux": {
		{name: "google-chrome", args: []string{"--version"}},
		{name: "google-chrome-stable", args: []string{"--version"}},
		{name: "chromium", args: []string{"--version"}},
		{name: "chromium-browser", args: []string{"--version"}},
	},
	"darwin": {
		{name: "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome", args: []string{"--version"}},
	},
	"windows": {
		{name: "reg", args: []string{"query", `HKEY_CURRENT_USER\Software\Google\Chrome\BLBeacon`, "/v", "version"}},
		{name: "reg", args: []string{"query", `HKEY_LOCAL_MACHINE\Software\Google\Chrome\BLBeacon`, "/v", "version"}},
	},
}

// CommandRunner runs a probe command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Fallback is consulted when every command probe fails.
type Fallback func(ctx context.Context) (string, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Resolver finds the installed browser version for one OS.
type Resolver struct {
	logger   *zap.Logger
	goos     string
	override string
	run      CommandRunner
	fallback Fallback
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithOverride short-circuits probing with a fixed version.
func WithOverride(version string) ResolverOption {
	return func(r *Resolver) { r.override = version }
}

// WithCommandRunner replaces the process runner, mainly for tests.
func WithCommandRunner(run CommandRunner) ResolverOption {
	return func(r *Resolver) { r.run = run }
}

// WithFallback installs a probe used after every command probe has failed.
func WithFallback(f Fallback) ResolverOption {
	return func(r *Resolver) { r.fallback = f }
}

// NewResolver creates a Resolver for goos.
func NewResolver(logger *zap.Logger, goos string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		logger: logger.Named("browserversion"),
		goos:   goos,
		run:    runCommand,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the installed browser version. It does not retry.
func (r *Resolver) Resolve(ctx context.Context) (Version, error) {
	if r.override != "" {
		return Parse(r.override)
	}

	candidates, ok := probes[r.goos]
	if !ok {
		return "", fmt.Errorf("%w: %s", platform.ErrUnsupportedOS, r.goos)
	}

	var failures []string
	for _, p := range candidates {
		out, err := r.run(ctx, p.name, p.args...)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p.name, err))
			continue
		}
		v, err := Parse(string(out))
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p.name, err))
			continue
		}
		r.logger.Debug("Detected browser version.", zap.String("probe", p.name), zap.String("version", v.String()))
		return v, nil
	}

	if r.fallback != nil {
		product, err := r.fallback(ctx)
		if err == nil {
			var v Version
			if v, err = Parse(product); err == nil {
				r.logger.Debug("Detected browser version via fallback.", zap.String("product", product))
				return v, nil
			}
		}
		failures = append(failures, fmt.Sprintf("fallback: %v", err))
	}

	return "", fmt.Errorf("%w: %s", ErrVersionDetectionFailed, strings.Join(failures, "; "))
}
