package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/browserversion"
	"github.com/xkilldash9x/stealthdriver/internal/config"
	"github.com/xkilldash9x/stealthdriver/internal/driver"
	"github.com/xkilldash9x/stealthdriver/internal/fetch"
	"github.com/xkilldash9x/stealthdriver/internal/handshake"
	"github.com/xkilldash9x/stealthdriver/internal/network"
	"github.com/xkilldash9x/stealthdriver/internal/patch"
	"github.com/xkilldash9x/stealthdriver/internal/platform"
	"github.com/xkilldash9x/stealthdriver/internal/supervisor"
)

func newResolver(cfg *config.Config, logger *zap.Logger) *browserversion.Resolver {
	opts := []browserversion.ResolverOption{browserversion.WithOverride(cfg.Driver.BrowserVersion)}
	if cfg.Driver.CDPVersionFallback {
		opts = append(opts, browserversion.WithFallback(browserversion.CDPProbe))
	}
	return browserversion.NewResolver(logger, platform.Current().GOOS, opts...)
}

// buildManager wires the production collaborators into a driver.Manager.
func buildManager(cfg *config.Config, logger *zap.Logger) (*driver.Manager, error) {
	clientCfg, err := network.ClientConfigFromConfig(cfg.Network, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring http client: %w", err)
	}

	var supOpts []supervisor.Option
	if cfg.Driver.LogPath != "" {
		supOpts = append(supOpts, supervisor.WithLogPath(cfg.Driver.LogPath))
	}

	deps := driver.Deps{
		Resolver:   newResolver(cfg, logger),
		Fetcher:    fetch.NewFetcher(logger, network.NewClient(clientCfg), cfg.Endpoints, cfg.Driver.InstallDir),
		Patcher:    patch.NewPatcher(logger, nil),
		Spawner:    driver.SupervisorSpawner{Supervisor: supervisor.New(logger, supOpts...)},
		Handshaker: handshake.New(logger, handshake.SeleniumOpener{Timeout: cfg.Driver.AttemptTimeout}, cfg.Driver.MaxAttempts, cfg.Driver.HandshakeInterval),
	}
	return driver.NewManager(logger, cfg.Driver, deps)
}
