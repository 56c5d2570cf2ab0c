// Package layer - The contextual heatmap layer.
//
// The layer wires the detection, heatmap and scoring builders into one forward
// pass. Predictions and ground truth flow through the same heatmap and scoring
// path, so their outputs can be compared slot by slot.
package layer

import (
	"context"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/detections"
	"github.com/nvr-ai/go-heatmap/heatmap"
	"github.com/nvr-ai/go-heatmap/profiler"
	"github.com/nvr-ai/go-heatmap/scoring"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Output is the result of one pass over predictions or ground truth.
type Output struct {
	// Detections is the (B, C, K, 8) detection tensor, sequence column included.
	Detections *tensor.Dense
	// Heatmap is the (B, H', W', C) normalized heatmap.
	Heatmap *tensor.Dense
	// Scores is the (B, C, K, 10) scored detection tensor.
	Scores *tensor.Dense
	// Counts is the number of real detections per (image, class).
	Counts [][]int
}

// Inputs are the upstream tensors of one batch.
type Inputs struct {
	// Proposals are the (B, R, 4) normalized RoIs.
	Proposals *tensor.Dense
	// ClassScores are the (B, R, C) class probabilities.
	ClassScores *tensor.Dense
	// BBoxDeltas are the (B, R, C, 4) refinement deltas.
	BBoxDeltas *tensor.Dense

	// GTClassIDs are the (B, G) ground-truth class ids. Optional.
	GTClassIDs *tensor.Dense
	// GTBoxes are the (B, G, 4) normalized ground-truth boxes. Optional.
	GTBoxes *tensor.Dense
}

// HasGroundTruth reports whether ground truth was supplied. Supplying only one
// of the two ground-truth tensors is an error.
func (in *Inputs) HasGroundTruth() (bool, error) {
	switch {
	case in.GTClassIDs == nil && in.GTBoxes == nil:
		return false, nil
	case in.GTClassIDs == nil:
		return false, errors.Wrap(tensors.ErrShapeMismatch, "ground-truth boxes given without class ids")
	case in.GTBoxes == nil:
		return false, errors.Wrap(tensors.ErrShapeMismatch, "ground-truth class ids given without boxes")
	}
	return true, nil
}

// Result holds the prediction and ground-truth outputs of a forward pass.
type Result struct {
	Predictions *Output
	// GroundTruth is nil when the inputs carry no ground truth.
	GroundTruth *Output
}

// Layer runs the heatmap pipeline for a fixed configuration. It holds no state
// between calls and is safe for concurrent use.
type Layer struct {
	cfg  config.Config
	log  logs.Log
	prof *profiler.Profiler
}

// Builder builds a Layer with a fluent API.
type Builder struct {
	cfg  *config.Config
	log  logs.Log
	prof *profiler.Profiler
	err  error
}

// NewBuilder creates a new layer builder.
//
// Returns:
//   - *Builder: The layer builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the layer configuration. The configuration is validated and
// copied.
//
// Arguments:
//   - cfg: The layer configuration.
//
// Returns:
//   - *Builder: The layer builder.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if b.HasError() {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config is nil")
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	c := *cfg
	b.cfg = &c
	return b
}

// WithLogger sets the logger. Without one the layer does not log.
//
// Arguments:
//   - log: The logger.
//
// Returns:
//   - *Builder: The layer builder.
func (b *Builder) WithLogger(log logs.Log) *Builder {
	b.log = log
	return b
}

// WithProfiler records the duration of every stage in p.
func (b *Builder) WithProfiler(p *profiler.Profiler) *Builder {
	b.prof = p
	return b
}

// WithWorkers overrides the number of density workers of the configuration.
func (b *Builder) WithWorkers(n int) *Builder {
	if b.HasError() {
		return b
	}
	if b.cfg == nil {
		b.err = errors.New("workers set before config")
		return b
	}
	if n < 1 {
		b.err = errors.New("number of workers must be positive")
		return b
	}
	b.cfg.NumWorkers = n
	return b
}

// HasError checks if the builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// Build builds the layer.
//
// Returns:
//   - *Layer: The layer.
//   - error: The first error recorded by the builder, if any.
func (b *Builder) Build() (*Layer, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.cfg == nil {
		return nil, errors.New("config not configured")
	}

	return &Layer{
		cfg:  *b.cfg,
		log:  b.log,
		prof: b.prof,
	}, nil
}

// MustBuild builds the layer and panics if there is an error.
func (b *Builder) MustBuild() *Layer {
	l, err := b.Build()
	if err != nil {
		panic(err)
	}
	return l
}

// Config returns a copy of the layer configuration.
func (l *Layer) Config() config.Config {
	return l.cfg
}

// Predictions runs the pipeline over the detection head outputs.
//
// Arguments:
//   - ctx: Checked between stages.
//   - proposals: The (B, R, 4) normalized RoIs.
//   - classScores: The (B, R, C) class probabilities.
//   - bboxDeltas: The (B, R, C, 4) refinement deltas.
//
// Returns:
//   - *Output: The detection, heatmap and score tensors.
//   - error: A shape error or the context error. The batch size and the number
//     of RoIs must match the configuration.
func (l *Layer) Predictions(ctx context.Context, proposals, classScores, bboxDeltas *tensor.Dense) (*Output, error) {
	if err := tensors.CheckShape(classScores, "class scores", l.cfg.BatchSize, l.cfg.RoisPerImage, l.cfg.NumClasses); err != nil {
		return nil, err
	}

	done := l.startOperation("predictions/detections")
	det, err := detections.BuildPredictions(proposals, classScores, bboxDeltas, &l.cfg)
	done()
	if err != nil {
		return nil, err
	}
	return l.finish(ctx, "predictions", det)
}

// GroundTruth runs the pipeline over ground-truth annotations.
//
// Arguments:
//   - ctx: Checked between stages.
//   - classIDs: The (B, G) class ids; 0 marks padding.
//   - boxes: The (B, G, 4) normalized boxes.
//
// Returns:
//   - *Output: The detection, heatmap and score tensors.
//   - error: A shape error or the context error. The batch size and the number
//     of instances must match the configuration.
func (l *Layer) GroundTruth(ctx context.Context, classIDs, boxes *tensor.Dense) (*Output, error) {
	if err := tensors.CheckShape(classIDs, "gt class ids", l.cfg.BatchSize, l.cfg.MaxGTInstances); err != nil {
		return nil, err
	}

	done := l.startOperation("ground_truth/detections")
	det, err := detections.BuildGroundTruth(classIDs, boxes, &l.cfg)
	done()
	if err != nil {
		return nil, err
	}
	return l.finish(ctx, "ground_truth", det)
}

// Forward runs the prediction pass and, when ground truth is supplied, the
// ground-truth pass.
//
// @example
// l := layer.NewBuilder().WithConfig(cfg).WithLogger(logger).MustBuild()
// res, err := l.Forward(ctx, layer.Inputs{Proposals: p, ClassScores: s, BBoxDeltas: d})
func (l *Layer) Forward(ctx context.Context, in Inputs) (*Result, error) {
	withGT, err := in.HasGroundTruth()
	if err != nil {
		return nil, err
	}

	pr, err := l.Predictions(ctx, in.Proposals, in.ClassScores, in.BBoxDeltas)
	if err != nil {
		return nil, err
	}

	res := &Result{Predictions: pr}
	if !withGT {
		return res, nil
	}

	res.GroundTruth, err = l.GroundTruth(ctx, in.GTClassIDs, in.GTBoxes)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Layer) finish(ctx context.Context, name string, det *tensor.Dense) (*Output, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := l.startOperation(name + "/heatmap")
	hm, err := heatmap.Build(det, &l.cfg)
	done()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done = l.startOperation(name + "/scoring")
	scores, err := scoring.Build(det, hm, &l.cfg)
	done()
	if err != nil {
		return nil, err
	}

	counts, err := detections.ClassCounts(det)
	if err != nil {
		return nil, err
	}

	l.debugf("%s: detections %v, heatmap %v, scores %v, %d real rows in %v",
		name, det.Shape(), hm.Heatmap.Shape(), scores.Shape(), len(hm.Entries), time.Since(start))

	return &Output{
		Detections: det,
		Heatmap:    hm.Heatmap,
		Scores:     scores,
		Counts:     counts,
	}, nil
}

func (l *Layer) startOperation(name string) func() {
	if l.prof == nil {
		return func() {}
	}
	return l.prof.StartOperation(name)
}

func (l *Layer) debugf(format string, args ...interface{}) {
	if l.log != nil {
		l.log.Debugf(format, args...)
	}
}
