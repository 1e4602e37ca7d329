// Package cmd provides the CLI commands for relaygate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relaygate",
	Short: "relaygate - L7 reverse proxy with admission control and audit",
	Long: `Relaygate is a lightweight L7 reverse proxy. It matches request paths
against a hot-reloadable route table, forwards to the chosen upstream, and
enforces per-client admission policies: rate limiting, body-size caps, and
SSRF-safety of upstream targets. Every request and admin action is recorded
to a durable audit store.

Quick start:
  1. Create a config file: relaygate.yaml
  2. Export ADMIN_USERNAME, ADMIN_PASSWORD, TOKEN_SIGNING_KEY
  3. Run: relaygate start

Configuration:
  Config is loaded from relaygate.yaml in the current directory or
  /etc/relaygate/. Environment variables override config values with the
  RELAYGATE_ prefix; the listener and credential settings also honor
  LISTEN_ADDR, LISTEN_PORT_HTTP, LISTEN_PORT_HTTPS, TLS_CERT, TLS_KEY,
  and AUDIT_PATH.

Commands:
  start          Start the proxy
  print-config   Print the effective configuration as YAML
  hash-password  Generate an Argon2id hash for ADMIN_PASSWORD
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relaygate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
