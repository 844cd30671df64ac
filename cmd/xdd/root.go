package main

import (
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/xdd/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "xdd",
	Short: "Disk and network I/O performance benchmark",
	Long: `xdd drives one or more targets through a seek plan of read, write,
and noop operations, optionally streaming data end-to-end to a remote
xdd target over the network, and reports throughput and latency.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug-level logging")
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit structured JSON logs instead of text")
}

func loggerFromFlags(cmd *cobra.Command) *logging.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	cfg := logging.DefaultConfig()
	if verbose {
		cfg.Level = logging.LevelDebug
	}
	if jsonLogs {
		cfg.Format = "json"
	}
	return logging.NewLogger(cfg)
}
