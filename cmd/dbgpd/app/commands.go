// Package app provides the entry point for the dbgpd command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbgp-dev/dbgpd/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "dbgpd",
	DisableAutoGenTag: true,
	Short:             "dbgpd is a DBGP debugger-protocol proxy and server",
	Long: `dbgpd speaks the DBGP debugger wire protocol and connects debuggee
engines to debugger IDEs. It runs in one of two roles:

- proxy: routes many engines to many registered IDEs by IDE key. IDEs
  register over the administrative channel (proxyinit/proxystop) and each
  engine handshake is paired with a fresh connection to its IDE.
- serve: the embedded single-session variant that relays one engine to a
  statically configured IDE endpoint.

dbgpd relays protocol frames byte-identically; it never interprets debugging
semantics beyond the routing handshake.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the dbgpd CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to dbgpd configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newProxyCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}
