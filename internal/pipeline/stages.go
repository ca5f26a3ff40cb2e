package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/dataset"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/model"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/objstore"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/report"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/split"
	"github.com/greatdevaks/datahour-mlops-airflow/internal/tabular"
)

// Status messages kept as the output of every task in the run history.
const (
	StartedMessage   = "WORKFLOW STARTED."
	LoadedMessage    = "DATA LOADED AND UPLOADED TO STORAGE."
	SplitMessage     = "DATA SPLIT AND UPLOADED TO STORAGE."
	TrainedMessage   = "TRAINED MODEL AND UPLOADED MODEL ARTIFACT TO STORAGE."
	PredictedMessage = "PREDICTED MODEL."
	StoppedMessage   = "STOPPED WORKFLOW."
)

// stage is what all the steps share. Storage failures are worth a retry, nothing else is.
type stage struct {
	name string
	p    *Pipeline
}

func (s *stage) Name() string { return s.name }

func (s *stage) CanRetry(err error) bool { return CanRetry(err) }

func (s *stage) fail(kind, err error) error { return stageErr(s.name, kind, err) }

// Start
type startWorkflow struct{ stage }

func (s *startWorkflow) Execute(_ context.Context, run *Run) error {
	s.p.log.Info("Workflow started.", "run_id", run.ID)

	return nil
}

func (s *startWorkflow) Output() string { return StartedMessage }

// Load
type loadData struct{ stage }

func (s *loadData) Execute(ctx context.Context, run *Run) error {
	p := s.p
	a := p.opts.Artifacts

	p.log.Info("loading digits data", "source", sourceName(p.opts.DatasetSource))
	ds, err := dataset.Load(p.opts.DatasetSource)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}

	dir, cleanup, err := p.scratch(s.name)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}
	defer cleanup()

	p.log.Info("writing data to CSV", "rows", ds.Len(), "features", ds.X.Cols)
	if err := tabular.WriteFile(filepath.Join(dir, a.X.File), ds.X); err != nil {
		return s.fail(ErrEncoding, err)
	}
	if err := tabular.WriteFile(filepath.Join(dir, a.Y.File), tabular.Labels(ds.Y)); err != nil {
		return s.fail(ErrEncoding, err)
	}

	b := p.bucket()
	if p.opts.Storage.EnsureBucket {
		var created bool
		b, created, err = objstore.EnsureBucket(ctx, p.store, p.opts.Storage.Bucket)
		if err != nil {
			return s.fail(ErrStorage, err)
		}
		if created {
			p.log.Info(fmt.Sprintf("Bucket %s created.", b.Name()), "project", p.opts.Storage.Project)
		}
		run.Result.BucketNew = created
	}
	if err := p.upload(ctx, b, dir, a.X, a.Y); err != nil {
		return s.fail(ErrStorage, err)
	}

	run.Result.Samples, run.Result.Features = ds.Len(), ds.X.Cols

	return nil
}

func (s *loadData) Output() string { return LoadedMessage }

func sourceName(src string) string {
	if src == "" && dataset.Bundled() {
		return "bundled optdigits"
	}
	if src == "" {
		return "generated"
	}

	return src
}

// Split
type splitData struct{ stage }

func (s *splitData) Execute(ctx context.Context, run *Run) error {
	p := s.p
	a := p.opts.Artifacts

	dir, cleanup, err := p.scratch(s.name)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}
	defer cleanup()

	b := p.bucket()
	if err := p.download(ctx, b, dir, a.X, a.Y); err != nil {
		return s.fail(ErrStorage, err)
	}
	X, y, err := readPair(dir, a.X, a.Y)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}

	train, test, err := split.TrainTestSplit(X, y, p.opts.TestSize, p.opts.Seed)
	if errors.Is(err, split.ErrShape) {
		return s.fail(ErrShape, err)
	}
	if err != nil {
		return s.fail(ErrEncoding, err)
	}

	files := map[Artifact]tabular.Matrix{
		a.XTrain: train.X, a.YTrain: tabular.Labels(train.Y),
		a.XTest: test.X, a.YTest: tabular.Labels(test.Y),
	}
	for art, m := range files {
		if err := tabular.WriteFile(filepath.Join(dir, art.File), m); err != nil {
			return s.fail(ErrEncoding, err)
		}
	}
	if err := p.upload(ctx, b, dir, a.XTrain, a.YTrain, a.XTest, a.YTest); err != nil {
		return s.fail(ErrStorage, err)
	}

	p.log.Info("split data", "train_rows", train.Len(), "test_rows", test.Len(), "seed", p.opts.Seed)
	run.Result.TrainRows, run.Result.TestRows = train.Len(), test.Len()

	return nil
}

func (s *splitData) Output() string { return SplitMessage }

// readPair decodes a feature matrix and its label vector from dir.
func readPair(dir string, xa, ya Artifact) (tabular.Matrix, []int, error) {
	X, err := tabular.ReadFile(filepath.Join(dir, xa.File))
	if err != nil {
		return tabular.Matrix{}, nil, fmt.Errorf("reading %s: %w", xa.Key, err)
	}
	labels, err := tabular.ReadFile(filepath.Join(dir, ya.File))
	if err != nil {
		return tabular.Matrix{}, nil, fmt.Errorf("reading %s: %w", ya.Key, err)
	}
	y, err := labels.AsLabels()
	if err != nil {
		return tabular.Matrix{}, nil, fmt.Errorf("reading %s: %w", ya.Key, err)
	}

	return X, y, nil
}

// Train
type modelTrain struct{ stage }

func (s *modelTrain) Execute(ctx context.Context, run *Run) error {
	p := s.p
	a := p.opts.Artifacts

	dir, cleanup, err := p.scratch(s.name)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}
	defer cleanup()

	b := p.bucket()
	if err := p.download(ctx, b, dir, a.XTrain, a.YTrain); err != nil {
		return s.fail(ErrStorage, err)
	}
	X, y, err := readPair(dir, a.XTrain, a.YTrain)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}

	res, err := model.Fit(X, y, p.opts.Train)
	if err != nil {
		return s.fail(ErrShape, err)
	}
	run.Result.Iterations, run.Result.Loss, run.Result.Status = res.Iterations, res.Loss, res.Status
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordTraining(p.opts.Workflow, res.Iterations)
	}
	if err := res.Err(); err != nil {
		return s.fail(ErrConvergence, err)
	}
	p.log.Info("trained model", "classes", len(res.Model.Classes), "iterations", res.Iterations,
		"loss", res.Loss, "status", res.Status)

	if err := model.WriteFile(filepath.Join(dir, a.Model.File), res.Model); err != nil {
		return s.fail(ErrEncoding, err)
	}
	if err := p.upload(ctx, b, dir, a.Model); err != nil {
		return s.fail(ErrStorage, err)
	}

	return nil
}

func (s *modelTrain) Output() string { return TrainedMessage }

// Predict
type predictModel struct{ stage }

func (s *predictModel) Execute(ctx context.Context, run *Run) error {
	p := s.p
	a := p.opts.Artifacts

	dir, cleanup, err := p.scratch(s.name)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}
	defer cleanup()

	if err := p.download(ctx, p.bucket(), dir, a.XTest, a.YTest, a.Model); err != nil {
		return s.fail(ErrStorage, err)
	}
	X, y, err := readPair(dir, a.XTest, a.YTest)
	if err != nil {
		return s.fail(ErrEncoding, err)
	}
	m, err := model.ReadFile(filepath.Join(dir, a.Model.File))
	if err != nil {
		return s.fail(ErrArtifact, err)
	}
	if X.Len() != len(y) {
		return s.fail(ErrShape, fmt.Errorf("%d test rows, %d test labels", X.Len(), len(y)))
	}

	pred, err := m.Predict(X)
	if err != nil {
		return s.fail(ErrShape, err)
	}
	score, err := model.Accuracy(y, pred)
	if err != nil {
		return s.fail(ErrShape, err)
	}

	n := max(min(p.opts.Preview, len(y)), 0)
	run.Result.Preview = make([]Prediction, n)
	for i := range n {
		run.Result.Preview[i] = Prediction{Predicted: pred[i], Actual: y[i]}
	}
	if n > 0 {
		fmt.Fprintln(p.out, pred[:n])
		fmt.Fprintln(p.out, y[:n])
	}
	fmt.Fprintf(p.out, "Test score: %.4f\n", score)
	p.log.Info("evaluated model", "test_rows", len(y), "score", score)

	run.Result.Score = score
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordAccuracy(p.opts.Workflow, score)
	}
	if run.Result.PerClass, err = report.PerClass(y, pred); err != nil {
		return s.fail(ErrShape, err)
	}
	if p.opts.PlotPath != "" {
		// a chart failure does not fail the evaluation
		if err := report.SaveChart(p.opts.PlotPath, run.Result.PerClass, score); err != nil {
			p.log.Warn("writing accuracy chart failed", "path", p.opts.PlotPath, "error", err)
		} else {
			p.log.Info("wrote accuracy chart", "path", p.opts.PlotPath)
		}
	}

	return nil
}

func (s *predictModel) Output() string { return PredictedMessage }

// Stop
type stopWorkflow struct{ stage }

func (s *stopWorkflow) Execute(_ context.Context, run *Run) error {
	s.p.log.Info("Workflow stopped.", "run_id", run.ID)

	return nil
}

func (s *stopWorkflow) Output() string { return StoppedMessage }
