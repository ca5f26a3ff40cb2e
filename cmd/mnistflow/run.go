package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/logger"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/metrics"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/objstore"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/pipeline"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/runstore"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole workflow",
	Long: `Runs every task of the workflow in order. The first failing task stops the run.

With a run history backend other than "none", running again with the same --run-id
skips the tasks that already succeeded and resumes at the failed one.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return execute(cmd, "")
	},
}

var taskCmd = &cobra.Command{
	Use:       "task <task_id>",
	Short:     "Run a single task of the workflow",
	Args:      cobra.ExactArgs(1),
	ValidArgs: taskNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(runCmd, taskCmd)
}

func taskNames() []string {
	tasks := pipeline.Tasks()
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}

	return names
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	logger.Configure(os.Stderr, logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	if verbose, _ := rootCmd.PersistentFlags().GetBool("verbose"); verbose {
		logger.SetVerbose(true)
	}
	logger.Debug("loaded configuration", "file", configFile, "storage", cfg.Storage.Backend,
		"bucket", cfg.Storage.Bucket, "history", cfg.History.Backend)

	return cfg, nil
}

// execute runs the named task, or the whole chain when task is empty.
func execute(cmd *cobra.Command, task string) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "mnistflow",
		Version:     GetVersion(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			logger.Warn("flushing traces failed", "error", serr)
		}
	}()

	store, err := objstore.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening object store: %w", err)
	}
	defer store.Close()

	history, closeHistory, err := runstore.Open(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer closeHistory()

	runID := cfg.Workflow.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	rec := metrics.NewRecorder()
	defer func() {
		if werr := rec.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			logger.Warn("writing metrics failed", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}()

	opts := pipeline.OptionsFromConfig(cfg)
	opts.Out = cmd.OutOrStdout()
	opts.Log = logger.With("run_id", runID)
	opts.Metrics = rec
	p := pipeline.New(store, opts)

	var wf *workflow.Sequential[*pipeline.Run]
	if task == "" {
		wf, err = p.Workflow(runID, history)
	} else {
		wf, err = p.Task(task, runID, history)
	}
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting", "workflow", wf.Name(), "run_id", runID, "tasks", wf.Steps(),
		"storage", cfg.Storage.Backend, "bucket", cfg.Storage.Bucket, "history", cfg.History.Backend)
	run := &pipeline.Run{ID: runID}
	if err := wf.Execute(ctx, run); err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			logger.ErrorContext(ctx, "workflow failed", "run_id", runID, "task", stageErr.Stage, "kind", stageErr.Kind)
		}

		return err
	}
	logger.InfoContext(ctx, "workflow finished", "run_id", runID, "score", run.Result.Score)

	return nil
}
