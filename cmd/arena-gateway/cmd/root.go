// Package cmd provides the CLI commands for the arena gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arena-labs/arena-gateway/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "arena-gateway",
	Short: "Arena Gateway - MCP protocol gateway for challenge backends",
	Long: `Arena Gateway sits between MCP clients and deployed challenge backends.

It validates protocol traffic, tracks client sessions, records every message
for later inspection, and routes requests to the active challenge backend.

Quick start:
  1. Start the gateway: arena-gateway start
  2. Register a challenge backend:
     curl -X POST localhost:8900/admin/register \
       -d '{"challenge_id":"mcp-level-01","backend_address":"http://localhost:9001"}'
  3. Point your MCP client at http://localhost:8900/message

Configuration:
  Config is loaded from arena-gateway.yaml in the current directory,
  $HOME/.arena-gateway/, or /etc/arena-gateway/.

  Environment variables can override config values with the ARENA_GATEWAY_ prefix.
  Example: ARENA_GATEWAY_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  stop        Stop the running server
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./arena-gateway.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to the state file (default: state.file from config)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
