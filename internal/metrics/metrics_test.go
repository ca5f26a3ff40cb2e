package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_StepFinished(t *testing.T) {
	r := NewRecorder()

	r.StepStarted("mnist_workflow", "load_data")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stagesActive))
	r.StepFinished("mnist_workflow", "load_data", 20*time.Millisecond, nil)
	r.StepStarted("mnist_workflow", "split_data")
	r.StepFinished("mnist_workflow", "split_data", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 0.0, testutil.ToFloat64(r.stagesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageRuns.WithLabelValues("mnist_workflow", "load_data", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageRuns.WithLabelValues("mnist_workflow", "split_data", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.stageDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.lastSuccess))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.RecordAccuracy("mnist_workflow", 0.9644)
	r.RecordTraining("mnist_workflow", 120)

	path := filepath.Join(t.TempDir(), "mnistflow.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mnistflow_model_accuracy_ratio{workflow="mnist_workflow"} 0.9644`)
	assert.Contains(t, string(data), `mnistflow_train_iterations{workflow="mnist_workflow"} 120`)

	assert.NoError(t, r.WriteTextfile(""))
}
