package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/pipeline"
)

var tasksFormat string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Print the task list with the dependencies of every task",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		chain, err := workflow.NewChain(pipeline.Tasks())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch tasksFormat {
		case "yaml":
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(chain.Tasks()); err != nil {
				return err
			}

			return enc.Close()
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")

			return enc.Encode(chain.Tasks())
		default:
			return fmt.Errorf("unsupported format: %s", tasksFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.Flags().StringVarP(&tasksFormat, "output", "o", "yaml", "Output format: yaml, json")
}
