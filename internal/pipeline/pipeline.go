// Package pipeline implements the stages of the mnist workflow and wires them into a
// workflow.Sequential.
//
// The stages exchange data only through the object store: each one downloads its inputs
// into a private scratch directory, computes, and uploads its outputs.
package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	workflow "github.com/greatdevaks/datahour-mlops-airflow"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/logger"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/metrics"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/model"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/objstore"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/report"
)

// Task identifiers.
const (
	TaskStart   = "start_workflow"
	TaskLoad    = "load_data"
	TaskSplit   = "split_data"
	TaskTrain   = "model_train"
	TaskPredict = "predict_model"
	TaskStop    = "stop_workflow"
	DefaultID   = "mnist_workflow"
)

// Tasks returns the declared task list of the workflow.
func Tasks() []workflow.Task {
	return []workflow.Task{
		{Name: TaskStart},
		{Name: TaskLoad, DependsOn: []string{TaskStart}},
		{Name: TaskSplit, DependsOn: []string{TaskLoad}},
		{Name: TaskTrain, DependsOn: []string{TaskSplit}},
		{Name: TaskPredict, DependsOn: []string{TaskTrain}},
		{Name: TaskStop, DependsOn: []string{TaskPredict}},
	}
}

// StorageConfig locates the bucket the stages exchange artifacts through.
type StorageConfig struct {
	Project string
	Bucket  string
	// EnsureBucket makes load_data create the bucket when it is not listed.
	EnsureBucket bool
}

// Artifact names an artifact in the object store and in a stage's scratch directory.
type Artifact struct {
	Key  string
	File string
}

// NewArtifact returns the artifact stored under key. The scratch file name is the role
// followed by the flattened key, so artifacts with distinct roles never share a file.
func NewArtifact(role, key string) Artifact {
	return Artifact{Key: key, File: role + "-" + strings.ReplaceAll(strings.TrimLeft(key, "/"), "/", "_")}
}

// Artifacts are the locations of every artifact of a run.
type Artifacts struct {
	X, Y           Artifact
	XTrain, YTrain Artifact
	XTest, YTest   Artifact
	Model          Artifact
}

// Options configure a Pipeline.
type Options struct {
	Workflow   string
	Storage    StorageConfig
	Artifacts  Artifacts
	ScratchDir string

	DatasetSource string
	TestSize      float64
	Seed          int64
	Train         model.Params

	// Preview is the number of test rows printed with their predictions, none when 0.
	Preview int
	// PlotPath, when set, receives the per-class accuracy chart.
	PlotPath string

	RetryAttempts uint
	RetryWait     time.Duration

	// Out receives the evaluation printout. Defaults to os.Stdout.
	Out     io.Writer
	Log     *slog.Logger
	Metrics *metrics.Recorder
}

// OptionsFromConfig maps the loaded configuration to pipeline options.
func OptionsFromConfig(cfg *config.Config) Options {
	a := cfg.Artifacts

	return Options{
		Workflow: cfg.Workflow.ID,
		Storage: StorageConfig{
			Project:      cfg.Storage.Project,
			Bucket:       cfg.Storage.Bucket,
			EnsureBucket: cfg.Storage.EnsureBucket,
		},
		Artifacts: Artifacts{
			X: NewArtifact("x", a.X), Y: NewArtifact("y", a.Y),
			XTrain: NewArtifact("x_train", a.XTrain), YTrain: NewArtifact("y_train", a.YTrain),
			XTest: NewArtifact("x_test", a.XTest), YTest: NewArtifact("y_test", a.YTest),
			Model: NewArtifact("model", a.Model),
		},
		ScratchDir:    cfg.ScratchDir,
		DatasetSource: cfg.Dataset.Source,
		TestSize:      cfg.Split.TestSize,
		Seed:          cfg.Split.Seed,
		Train:         model.Params{C: cfg.Train.C, MaxIter: cfg.Train.MaxIter, Tolerance: cfg.Train.Tolerance},
		Preview:       cfg.Evaluate.Preview,
		PlotPath:      cfg.Evaluate.Plot,
		RetryAttempts: cfg.Retry.MaxAttempts,
		RetryWait:     cfg.Retry.Wait,
	}
}

// Run is the request every stage of one execution receives. Stages record what they
// produced in Result.
type Run struct {
	ID     string
	Result Result
}

// Result gathers the outcome of the stages that ran in this process.
type Result struct {
	Samples   int
	Features  int
	BucketNew bool

	TrainRows int
	TestRows  int

	Iterations int
	Loss       float64
	Status     string

	Score    float64
	Preview  []Prediction
	PerClass []report.ClassAccuracy
}

// Prediction pairs a predicted class with the true one.
type Prediction struct {
	Predicted int
	Actual    int
}

// Pipeline holds the stages of the workflow and what they share.
type Pipeline struct {
	opts  Options
	store objstore.Store
	log   *slog.Logger
	out   io.Writer
}

// New returns a Pipeline exchanging artifacts through store.
func New(store objstore.Store, opts Options) *Pipeline {
	if opts.Workflow == "" {
		opts.Workflow = DefaultID
	}
	p := &Pipeline{opts: opts, store: store, log: opts.Log, out: opts.Out}
	if p.log == nil {
		p.log = logger.DefaultLogger
	}
	p.log = p.log.With("workflow", opts.Workflow)
	if p.out == nil {
		p.out = os.Stdout
	}

	return p
}

// Steps returns the step of every task.
func (p *Pipeline) Steps() map[string]workflow.StepConfig[*Run] {
	steps := []workflow.Step[*Run]{
		&startWorkflow{stage{name: TaskStart, p: p}},
		&loadData{stage{name: TaskLoad, p: p}},
		&splitData{stage{name: TaskSplit, p: p}},
		&modelTrain{stage{name: TaskTrain, p: p}},
		&predictModel{stage{name: TaskPredict, p: p}},
		&stopWorkflow{stage{name: TaskStop, p: p}},
	}
	out := make(map[string]workflow.StepConfig[*Run], len(steps))
	for _, s := range steps {
		out[s.Name()] = workflow.StepConfig[*Run]{Step: s}
	}

	return out
}

// Workflow returns the whole chain as a runnable workflow. With a non-nil history, steps
// that already succeeded for runID are skipped.
func (p *Pipeline) Workflow(runID string, history workflow.Storage, opts ...workflow.Option) (*workflow.Sequential[*Run], error) {
	chain, err := workflow.NewChain(Tasks())
	if err != nil {
		return nil, err
	}
	steps, err := workflow.Bind(chain, p.Steps())
	if err != nil {
		return nil, err
	}

	return workflow.NewSequential(p.opts.Workflow, steps, p.workflowOptions(runID, history, opts)...), nil
}

// Task returns a workflow running the single named task, for schedulers that sequence
// the tasks themselves.
func (p *Pipeline) Task(name, runID string, history workflow.Storage, opts ...workflow.Option) (*workflow.Sequential[*Run], error) {
	chain, err := workflow.NewChain(Tasks())
	if err != nil {
		return nil, err
	}
	if !chain.Contains(name) {
		return nil, fmt.Errorf("unknown task %q, expected one of %s", name, strings.Join(chain.Order(), ", "))
	}
	step := p.Steps()[name]

	return workflow.NewSequential(p.opts.Workflow, []workflow.StepConfig[*Run]{step}, p.workflowOptions(runID, history, opts)...), nil
}

func (p *Pipeline) workflowOptions(runID string, history workflow.Storage, extra []workflow.Option) []workflow.Option {
	opts := []workflow.Option{
		workflow.WithLogger(p.log),
		workflow.WithRetryOption(p.opts.RetryAttempts, p.opts.RetryWait),
		workflow.WithCorrelationID(runID),
	}
	if p.opts.Metrics != nil {
		opts = append(opts, workflow.WithObserver(p.opts.Metrics))
	}
	if history != nil {
		opts = append(opts, workflow.WithStorage(history))
	}

	return append(opts, extra...)
}
