// Package main provides the CLI entry point for surpbayes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/cmd/surpbayes/commands"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "surpbayes",
	Short: "Surpbayes - PAC-Bayesian meta-learning",
	Long: `Surpbayes trains a shared prior over a collection of scored tasks.

Each task is solved by penalized variational inference (expected score plus
a temperature-scaled KL divergence to the prior) and the prior follows the
aggregated divergence gradients across tasks.

It provides:
  - Gaussian families: full, diagonal, block-diagonal, factored covariance
  - Sequential and batch outer-loop update modes
  - Directory-based environment persistence for resumable training
  - Run tracking in SQLite or PostgreSQL`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.BenchmarkCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
}
