package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/runstore"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the run history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run_id>",
	Short: "Print the status of every task of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := historyConfig()
		if err != nil {
			return err
		}
		history, closeHistory, err := runstore.Open(cmd.Context(), cfg.History)
		if err != nil {
			return err
		}
		defer closeHistory()

		records, err := history.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no history for run %s\n", args[0])
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TASK\tSTATUS\tOUTPUT")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Step, r.Status, r.Output)
		}

		return tw.Flush()
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <run_id>",
	Short: "Forget a run, so running it again starts from the first task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := historyConfig()
		if err != nil {
			return err
		}
		history, closeHistory, err := runstore.Open(cmd.Context(), cfg.History)
		if err != nil {
			return err
		}
		defer closeHistory()

		if err := history.Clear(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared run %s\n", args[0])

		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

// historyConfig loads the configuration and rejects the backends that keep nothing
// across processes.
func historyConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	switch cfg.History.Backend {
	case config.HistoryNone, config.HistoryMemory:
		return nil, errors.New(`the run history is only kept across invocations with --history redis`)
	}

	return cfg, nil
}
