package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/vhost-proxy/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "vhost-proxy",
		Short: "Host-header routing TCP reverse proxy",
		Long: `vhost-proxy accepts HTTP/1.x connections, reads the Host header of the
first request and relays it to a backend chosen by the route's policy.
Unknown hosts are answered by the fallback backend.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the config file (default: ./config/config.yaml or ./config.yaml)")
	cmd.PersistentFlags().String(config.LogLevelFlag, config.LogLevelInfo, "log level: debug, info, warn or error")

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vhost-proxy %s\n", version)
		},
	}
}
