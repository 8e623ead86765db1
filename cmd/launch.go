package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stealthdriver/internal/capabilities"
	"github.com/xkilldash9x/stealthdriver/internal/observability"
)

func newLaunchCmd() *cobra.Command {
	launchCmd := &cobra.Command{
		Use:   "launch [url]",
		Short: "Start a patched chromedriver and open a browser session",
		Long: `Provisions the driver if needed, starts it on a random local port and opens a
WebDriver session. The session stays open until interrupted unless --detach is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("launch")

			caps, err := capabilities.FromConfig(cfg.Capabilities)
			if err != nil {
				return fmt.Errorf("invalid capabilities: %w", err)
			}
			manager, err := buildManager(cfg, logger)
			if err != nil {
				return err
			}

			acquireCtx, cancel := context.WithTimeout(ctx, cfg.Driver.AcquireTimeout)
			defer cancel()
			session, err := manager.Acquire(acquireCtx, caps)
			if err != nil {
				return err
			}
			defer func() {
				if err := session.Close(); err != nil {
					logger.Warn("Closing session failed.", zap.Error(err))
				}
			}()

			wd := session.WebDriver()
			if len(args) == 1 {
				if err := wd.Get(args[0]); err != nil {
					return fmt.Errorf("navigating to %s: %w", args[0], err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "session %s on http://127.0.0.1:%d (webdriver id %s)\n",
				session.ID(), session.Port(), wd.SessionID())

			if detach, _ := cmd.Flags().GetBool("detach"); detach {
				return nil
			}
			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}

	launchCmd.Flags().Bool("headless", false, "run the browser with --headless=new")
	launchCmd.Flags().Bool("offscreen", false, "place the browser window offscreen")
	launchCmd.Flags().Int("max-attempts", 15, "handshake attempts per pipeline run")
	launchCmd.Flags().String("log-path", "", "have chromedriver write its log here and follow it")
	launchCmd.Flags().Duration("timeout", 0, "overall acquire timeout (default from config)")
	launchCmd.Flags().Bool("detach", false, "close the session right after it is established")
	return launchCmd
}
