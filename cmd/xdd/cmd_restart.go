package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart <restart-file>",
	Short: "Print the last committed offset recorded in a restart checkpoint file",
	Long: `Restart reads a checkpoint file written by a prior run's Restart
Monitor and prints the last committed offset recorded in it. The run
command's --restart-file flag only names the checkpoint file a run writes;
run does not resume from a recorded offset.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestart,
}

func init() {
	rootCmd.AddCommand(restartCmd)
}

func runRestart(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read restart file: %w", err)
	}

	var offset int64
	if _, err := fmt.Sscanf(string(data), "-restart offset %d", &offset); err != nil {
		return fmt.Errorf("parse restart file %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: last committed offset %d\n", path, offset)
	return nil
}
