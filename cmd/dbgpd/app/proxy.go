package app

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbgp-dev/dbgpd/pkg/config"
	"github.com/dbgp-dev/dbgpd/pkg/logger"
	"github.com/dbgp-dev/dbgpd/pkg/proxy"
)

func newProxyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run the multi-session DBGP proxy",
		Long: `Run the DBGP proxy. Engines connect on the engine address and announce an
IDE key in their init handshake; IDEs register their listen port on the IDE
address with proxyinit and are removed with proxystop. Each paired engine
gets its own session on a fresh connection toward the registered IDE.`,
		RunE: runProxy,
	}

	cmd.Flags().String("engine-address", "", "Address engines connect to (host:port)")
	cmd.Flags().String("ide-address", "", "Address IDEs register on (host:port)")
	cmd.Flags().String("status-address", "", "Optional HTTP status/metrics address (host:port)")
	cmd.Flags().Int("session-limit", 0, "Maximum concurrent sessions, 0 for unlimited")
	return cmd
}

func runProxy(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	cfg.Debug = cfg.Debug || viper.GetBool("debug")

	flags := cmd.Flags()
	if flags.Changed("engine-address") {
		cfg.Proxy.EngineAddress, _ = flags.GetString("engine-address")
	}
	if flags.Changed("ide-address") {
		cfg.Proxy.IDEAddress, _ = flags.GetString("ide-address")
	}
	if flags.Changed("status-address") {
		cfg.Status.Address, _ = flags.GetString("status-address")
	}
	if flags.Changed("session-limit") {
		cfg.Proxy.SessionLimit, _ = flags.GetInt("session-limit")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := proxy.New(cfg)
	if err := p.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(cfg.Timeouts.Shutdown):
		logger.Warn("shutdown timed out, exiting with sessions still open")
	}
	return nil
}
