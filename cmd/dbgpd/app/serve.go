package app

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbgp-dev/dbgpd/pkg/config"
	"github.com/dbgp-dev/dbgpd/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the embedded direct DBGP server",
		Long: `Run the direct single-session server. One engine connection at a time is
accepted on the listen address and relayed to the statically configured IDE
endpoint. Without --listen-again the process exits after the first session.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen-address", "", "Address engines connect to (host:port)")
	cmd.Flags().String("ide-address", "", "Static IDE endpoint to relay toward (host:port)")
	cmd.Flags().Bool("listen-again", false, "Keep accepting engines after a session ends")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	cfg.Debug = cfg.Debug || viper.GetBool("debug")

	flags := cmd.Flags()
	if flags.Changed("listen-address") {
		cfg.Server.ListenAddress, _ = flags.GetString("listen-address")
	}
	if flags.Changed("ide-address") {
		cfg.Server.IDEAddress, _ = flags.GetString("ide-address")
	}
	if flags.Changed("listen-again") {
		cfg.Server.ListenAgain, _ = flags.GetBool("listen-again")
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, nil).Serve(ctx)
}
