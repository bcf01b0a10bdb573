package agent

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserbench/pageagent/pkg/metrics"
)

func TestResultWriter_WritesSingleDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := NewResultWriter(fs, "out/results")

	res := &TestResult{
		ID:     "t-42",
		Status: TestCompleted,
		Runs: []RunResult{{
			Run:        1,
			Label:      "1",
			StatusText: "Completed",
			Metrics:    metrics.RunMetrics{LoadTime: 2100},
		}},
		MedianRun:     0,
		MedianMetrics: metrics.RunMetrics{LoadTime: 2100},
	}

	path, err := w.Write(res)
	require.NoError(t, err)
	assert.Equal(t, "out/results/t-42.json", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "t-42", decoded["id"])
	assert.Equal(t, "Completed", decoded["status"])
}

func TestResultWriter_ReadOnlyFilesystemFails(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	w := NewResultWriter(fs, "results")

	_, err := w.Write(&TestResult{ID: "t-1"})
	assert.Error(t, err)
}
