// Command mnistflow runs the mnist workflow: load the digits, split them, train a
// logistic regression classifier and evaluate it, exchanging every artifact through an
// object store.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/logger"
)

var (
	v          = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:           "mnistflow",
	Short:         "Train and evaluate a digits classifier as a five step workflow",
	Version:       GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `mnistflow runs the mnist_workflow task chain:

  start_workflow -> load_data -> split_data -> model_train -> predict_model -> stop_workflow

Every task downloads its inputs from the object store, computes, and uploads its
outputs. Run the whole chain with "run", or a single task with "task" when an external
scheduler sequences the tasks.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, _ := cmd.Flags().GetBool("verbose")
			logger.SetVerbose(verbose)
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	flags.Bool("verbose", false, "Enable debug logging")
	flags.String("run-id", "", "Run identifier, used as the run history key")
	flags.String("storage-backend", "", "Object store backend: local, gcs, s3, memory")
	flags.String("bucket", "", "Bucket the artifacts are exchanged through")
	flags.String("history", "", "Run history backend: none, memory, redis")

	bindFlag("workflow.run_id", "run-id")
	bindFlag("storage.backend", "storage-backend")
	bindFlag("storage.bucket", "bucket")
	bindFlag("history.backend", "history")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func main() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
