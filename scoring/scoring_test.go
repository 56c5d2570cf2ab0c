package scoring

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/detections"
	"github.com/nvr-ai/go-heatmap/heatmap"
	"github.com/nvr-ai/go-heatmap/tensors"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ImageHeight = 100
	cfg.ImageWidth = 100
	cfg.NumClasses = 2
	cfg.RoisPerImage = 3
	cfg.DetectionsPerClass = 2
	cfg.HeatmapScale = 1
	return &cfg
}

func scenario(t *testing.T, cfg *config.Config) *tensor.Dense {
	proposals := tensors.New([]float32{
		0, 0, 0.5, 0.5,
		0, 0, 0.5, 0.5,
		0, 0, 0.5, 0.5,
	}, 1, 3, 4)
	scores := tensors.New([]float32{
		0.9, 0.1,
		0.2, 0.8,
		0.4, 0.6,
	}, 1, 3, 2)
	det, err := detections.BuildPredictions(proposals, scores, tensors.Zeros(1, 3, 2, 4), cfg)
	require.NoError(t, err)
	return det
}

func row(t *testing.T, det *tensor.Dense, b, c, k int) []float32 {
	data, err := tensors.Float32s(det)
	require.NoError(t, err)
	s := det.Shape()
	return data[((b*s[1]+c)*s[2]+k)*s[3]:][:s[3]]
}

func TestScoreDetectionsMasksTheBox(t *testing.T) {
	ones := make([]float32, 4*4)
	for i := range ones {
		ones[i] = 1
	}

	tests := []struct {
		name string
		box  common.Box
		mass float32
		area float32
	}{
		{"Interior", common.Box{Y1: 1, X1: 1, Y2: 3, X2: 4}, 6, 6},
		{"Whole grid", common.Box{Y1: 0, X1: 0, Y2: 4, X2: 4}, 16, 16},
		{"Past the edge", common.Box{Y1: 2, X1: 2, Y2: 6, X2: 7}, 4, 20},
		{"Fractional corner", common.Box{Y1: 0.5, X1: 0.5, Y2: 2, X2: 2}, 4, 2.25},
		{"Zero height", common.Box{Y1: 2, X1: 0, Y2: 2, X2: 4}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores, err := ScoreDetections([][]float32{ones}, []common.Box{tt.box}, []float32{0.5}, 4, 4, false)
			require.NoError(t, err)
			assert.Equal(t, tt.mass, scores[0].Mass)
			assert.Equal(t, tt.area, scores[0].Area)
			assert.Equal(t, tt.mass*0.5, scores[0].WeightedMass)
		})
	}
}

func TestScoreDetectionsLengthMismatch(t *testing.T) {
	density := make([]float32, 16)

	_, err := ScoreDetections([][]float32{density}, nil, []float32{1}, 4, 4, false)
	assert.Equal(t, tensors.ErrShapeMismatch, errors.Cause(err))

	_, err = ScoreDetections([][]float32{density}, []common.Box{{}}, []float32{1}, 4, 5, false)
	assert.Equal(t, tensors.ErrShapeMismatch, errors.Cause(err))
}

func TestBuildScenario(t *testing.T) {
	cfg := testConfig()
	det := scenario(t, cfg)
	res, err := heatmap.Build(det, cfg)
	require.NoError(t, err)

	scored, err := Build(det, res, cfg)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2, NumCols}, scored.Shape())

	// The box spans five scale parameters either side of the mean, so nearly
	// all of the mass falls inside it.
	first := row(t, scored, 0, 1, 0)
	assert.Equal(t, row(t, det, 0, 1, 0)[:detections.NumOutputCols], first[:detections.NumOutputCols])
	assert.InDelta(t, 1, first[ColMass], 1e-3)
	assert.Equal(t, float32(2500), first[ColArea])
	assert.Equal(t, first[ColMass], first[ColWeightedMass])

	second := row(t, scored, 0, 1, 1)
	assert.Equal(t, first[ColMass], second[ColMass])
	assert.InDelta(t, 0.75*first[ColMass], second[ColWeightedMass], 1e-6)

	// The background slice holds RoI 0 followed by one padding row.
	assert.InDelta(t, 1, row(t, scored, 0, 0, 0)[ColMass], 1e-3)
	assert.Equal(t, make([]float32, NumCols), row(t, scored, 0, 0, 1))

	t.Run("Normalized density", func(t *testing.T) {
		normalized := *cfg
		normalized.ScoreNormalized = true
		scored, err := Build(det, res, &normalized)
		require.NoError(t, err)

		// Dividing by the peak 1/(2*pi*25) scales the mass by 50*pi.
		assert.InDelta(t, 50*math32.Pi, row(t, scored, 0, 1, 0)[ColMass], 0.2)
	})
}

func TestBuildEmptyClass(t *testing.T) {
	cfg := testConfig()
	cfg.NumClasses = 3
	proposals := tensors.New([]float32{0, 0, 0.5, 0.5}, 1, 1, 4)
	scores := tensors.New([]float32{0.1, 0.9, 0}, 1, 1, 3)
	det, err := detections.BuildPredictions(proposals, scores, tensors.Zeros(1, 1, 3, 4), cfg)
	require.NoError(t, err)

	res, err := heatmap.Build(det, cfg)
	require.NoError(t, err)
	scored, err := Build(det, res, cfg)
	require.NoError(t, err)

	for _, c := range []int{0, 2} {
		for k := 0; k < 2; k++ {
			assert.Equal(t, make([]float32, NumCols), row(t, scored, 0, c, k), "class %d slot %d", c, k)
		}
	}
	assert.Greater(t, row(t, scored, 0, 1, 0)[ColMass], float32(0))
}

func TestAttachRejectsForeignEntries(t *testing.T) {
	det := tensors.Zeros(1, 2, 2, detections.NumCols)

	_, err := Attach(det, []detections.Entry{{Batch: 0, Class: 2, Slot: 0}}, []Score{{}})
	assert.Error(t, err)

	_, err = Attach(det, []detections.Entry{{}}, nil)
	assert.Equal(t, tensors.ErrShapeMismatch, errors.Cause(err))
}
