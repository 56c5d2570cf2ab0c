package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-heatmap/archive"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/layer"
	"github.com/nvr-ai/go-heatmap/tensors"
)

const batchJSON = `{
  "image_meta": [[31, 64, 64, 3], [32, 64, 64, 3]],
  "proposals": [[[0.1, 0.1, 0.6, 0.5]], [[0.3, 0.2, 0.8, 0.9]]],
  "class_scores": [[[0.2, 0.8]], [[0.3, 0.7]]],
  "bbox_deltas": [[[[0, 0, 0, 0], [0, 0, 0, 0]]], [[[0, 0, 0, 0], [0, 0, 0, 0]]]],
  "gt_class_ids": [[1], [1]],
  "gt_boxes": [[[0.1, 0.1, 0.6, 0.5]], [[0.3, 0.2, 0.8, 0.9]]]
}`

func TestRun(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "hm")
	require.NoError(t, os.WriteFile(filepath.Join(in, "batch-1.json"), []byte(batchJSON), 0o644))

	cfg := config.DefaultConfig()
	cfg.ImageHeight = 64
	cfg.ImageWidth = 64
	cfg.NumClasses = 2
	cfg.BatchSize = 2
	cfg.RoisPerImage = 1
	cfg.DetectionsPerClass = 1
	cfg.MaxGTInstances = 1

	logger := logs.NewTestingLog(t)
	l := layer.NewBuilder().WithConfig(&cfg).WithLogger(logger).MustBuild()

	require.NoError(t, run(context.Background(), logger, l, in, out))

	for _, id := range []int{31, 32} {
		arrays, err := archive.ReadFile(filepath.Join(out, archive.FileName(id)))
		require.NoError(t, err)
		assert.Len(t, arrays, 5, "image %d", id)
	}
}

func TestRunRejectsMismatchedBatch(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "batch-1.json"), []byte(batchJSON), 0o644))

	cfg := config.DefaultConfig()
	cfg.ImageHeight = 64
	cfg.ImageWidth = 64

	logger := logs.NewTestingLog(t)
	l := layer.NewBuilder().WithConfig(&cfg).MustBuild()

	// The default configuration expects 81 classes.
	assert.Error(t, run(context.Background(), logger, l, in, t.TempDir()))
}

func TestRunRejectsBatchSize(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(in, "batch-1.json"), []byte(batchJSON), 0o644))

	cfg := config.DefaultConfig()
	cfg.ImageHeight = 64
	cfg.ImageWidth = 64
	cfg.NumClasses = 2
	cfg.RoisPerImage = 1
	cfg.DetectionsPerClass = 1
	cfg.MaxGTInstances = 1

	logger := logs.NewTestingLog(t)
	l := layer.NewBuilder().WithConfig(&cfg).MustBuild()

	// The batch holds two images, the configuration one.
	err := run(context.Background(), logger, l, in, t.TempDir())
	assert.Equal(t, tensors.ErrShapeMismatch, errors.Cause(err))
}
