// Package main is the entry point for the polis-chain binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "polis-chain.yaml"
	defaultLogLevel   = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-chain.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-chain",
		Short: "Chain-of-responsibility request server",
		Long: `polis-chain serves HTTP requests through configured handler chains.

Each chain is an ordered queue of handlers. Handlers may be bound to a path
pattern and decorated with interceptors such as timeout, retry, circuit
breaker and rate limit.

Example:
  polis-chain serve --config polis-chain.yaml
  polis-chain check --config polis-chain.yaml
  polis-chain match "/app/*" /app /app/users /app/index.jsp`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd(), newMatchCmd(), newCertCmd())
	return rootCmd
}

// globalFlags holds the persistent flag values.
type globalFlags struct {
	ConfigPath string
	LogLevel   string
}

func parseGlobalFlags(cmd *cobra.Command) (*globalFlags, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	return &globalFlags{ConfigPath: configPath, LogLevel: logLevel}, nil
}
