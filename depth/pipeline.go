package depth

import (
	iface "OnnxDepth/interface"
	"OnnxDepth/logger"
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
)

// Codec loads source images and persists depth maps.
type Codec interface {
	Load(path string) (iface.ImageData, error)
	Save(img *image.Gray16, path string) error
}

// StageObserver receives the wall time of every completed stage.
type StageObserver func(stage string, elapsed time.Duration)

const (
	StageLoad        = "load"
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StageNormalize   = "normalize"
	StagePostprocess = "postprocess"
	StageResize      = "resize"
	StageSave        = "save"
)

type Options struct {
	Variant       Variant
	ResizeToInput bool
	Logger        *zap.Logger
	Observer      StageObserver
}

// Result describes one finished estimate.
type Result struct {
	OriginalWidth  int
	OriginalHeight int
	InputShape     []int64
	OutputShape    []int64
	Image          *image.Gray16
	Stats          Stats
}

// Pipeline runs load -> preprocess -> infer -> normalize -> quantize ->
// resize -> save for one image at a time. The backend is owned by the
// caller and must outlive the pipeline.
type Pipeline struct {
	backend iface.Backend
	codec   Codec
	opts    Options
	log     *zap.Logger
}

func New(backend iface.Backend, codec Codec, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logger.Log()
	}
	return &Pipeline{
		backend: backend,
		codec:   codec,
		opts:    opts,
		log:     log,
	}
}

func (p *Pipeline) Variant() Variant {
	return p.opts.Variant
}

func (p *Pipeline) ResizeToInput() bool {
	return p.opts.ResizeToInput
}

// Run estimates depth for the image at inputPath and writes a 16-bit
// grayscale map to outputPath. Nothing is written on failure.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	start := time.Now()
	img, err := p.codec.Load(inputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrImageLoad, inputPath, err)
	}
	p.done(StageLoad, start)

	res, err := p.Estimate(ctx, img, p.opts.ResizeToInput)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	if err := p.codec.Save(res.Image, outputPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrImageSave, outputPath, err)
	}
	p.done(StageSave, start)
	return res, nil
}

// Estimate runs the in-memory part of the pipeline. The context is only
// consulted between stages; the inference call itself cannot be interrupted.
func (p *Pipeline) Estimate(ctx context.Context, img iface.ImageData, resizeToInput bool) (*Result, error) {
	res := &Result{
		OriginalWidth:  int(img.Width),
		OriginalHeight: int(img.Height),
	}
	policy := p.opts.Variant.Policy

	start := time.Now()
	tensor, err := Preprocess(img, policy)
	if err != nil {
		return nil, err
	}
	res.InputShape = tensor.Shape
	p.done(StagePreprocess, start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	raw, err := p.backend.Run(tensor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}
	res.OutputShape = raw.Shape
	p.done(StageInference, start)
	p.log.Info("Inference finished",
		zap.String("policy", policy.String()),
		zap.Int64s("inputShape", res.InputShape),
		zap.Int64s("outputShape", res.OutputShape))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	grid, err := NormalizeShape(raw)
	if err != nil {
		return nil, err
	}
	res.Stats = Summarize(grid)
	p.done(StageNormalize, start)

	start = time.Now()
	out, err := QuantizeToGray16(grid)
	if err != nil {
		return nil, err
	}
	p.done(StagePostprocess, start)

	if resizeToInput && (grid.Width != res.OriginalWidth || grid.Height != res.OriginalHeight) {
		start = time.Now()
		out = ResizeGray16(out, res.OriginalWidth, res.OriginalHeight)
		p.done(StageResize, start)
	}
	res.Image = out
	return res, nil
}

func (p *Pipeline) done(stage string, start time.Time) {
	elapsed := time.Since(start)
	if p.opts.Observer != nil {
		p.opts.Observer(stage, elapsed)
	}
	p.log.Debug("stage done", zap.String("stage", stage), zap.Duration("elapsed", elapsed))
}
