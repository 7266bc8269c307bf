package commands

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/pkg/surpbayes"
)

// History command flags
var (
	historyStorePath string
	historyJSON      bool
	historyLast      int
)

// HistoryCmd is the parent command for run inspection.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded meta-learning runs",
	Long: `Commands for inspecting runs recorded in a run store.

Use "history list" to see all runs and "history show <run-id>" for the
epoch-by-epoch trajectory of one run.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := surpbayes.NewSQLiteRunStore(historyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(context.Background())
		if err != nil {
			return err
		}

		if historyJSON {
			return printJSON(cmd, runs)
		}
		if len(runs) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}
		for _, run := range runs {
			cmd.Printf("%s  %-20s  %s dim=%d  tasks=%d  epochs=%d  %s\n",
				run.ID, run.Name, run.Spec.Family, run.Spec.Dim,
				run.NumTasks, run.Epochs, run.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the epoch trajectory of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := surpbayes.NewSQLiteRunStore(historyStorePath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		run, err := store.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		epochs, err := store.Epochs(ctx, run.ID)
		if err != nil {
			return err
		}
		if historyLast > 0 && len(epochs) > historyLast {
			epochs = epochs[len(epochs)-historyLast:]
		}

		if historyJSON {
			return printJSON(cmd, map[string]interface{}{"run": run, "epochs": epochs})
		}

		cmd.Printf("Run %s (%s): %s dim=%d, %d tasks\n",
			run.ID, run.Name, run.Spec.Family, run.Spec.Dim, run.NumTasks)
		for _, ep := range epochs {
			cmd.Printf("  epoch %3d  score %12.6f  %s\n",
				ep.Epoch, ep.MetaScore, ep.RecordedAt.Format("15:04:05"))
		}
		return nil
	},
}

func init() {
	HistoryCmd.PersistentFlags().StringVar(&historyStorePath, "store", ".data/runs.db", "run store path")
	HistoryCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "output JSON")
	historyShowCmd.Flags().IntVar(&historyLast, "last", 0, "show only the last N epochs")

	HistoryCmd.AddCommand(historyListCmd)
	HistoryCmd.AddCommand(historyShowCmd)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}
