package depth

import (
	iface "OnnxDepth/interface"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend echoes a gradient of the input's spatial size.
type fakeBackend struct {
	rank   int
	err    error
	shape  []int64
	inputs [][]int64
}

func (b *fakeBackend) Run(input iface.Tensor) (iface.Tensor, error) {
	b.inputs = append(b.inputs, input.Shape)
	if b.err != nil {
		return iface.Tensor{}, b.err
	}
	h, w := input.Shape[2], input.Shape[3]
	shape := b.shape
	if shape == nil {
		shape = []int64{1, h, w}
		if b.rank == 4 {
			shape = []int64{1, 1, h, w}
		}
	}
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i)
	}
	return iface.Tensor{Shape: shape, Data: data}, nil
}

func (b *fakeBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{ModelPath: "fake.onnx"}
}

func (b *fakeBackend) Destroy() {}

type fakeCodec struct {
	mu      sync.Mutex
	images  map[string]iface.ImageData
	saved   map[string]*image.Gray16
	saveErr error
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{
		images: map[string]iface.ImageData{},
		saved:  map[string]*image.Gray16{},
	}
}

func (c *fakeCodec) Load(path string) (iface.ImageData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.images[path]
	if !ok {
		return iface.ImageData{}, errors.New("no such file")
	}
	return img, nil
}

func (c *fakeCodec) Save(img *image.Gray16, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saved[path] = img
	return nil
}

func dynamicVariant(t *testing.T) Variant {
	v, err := VariantFor("dynamic")
	require.NoError(t, err)
	return v
}

func TestPipeline_Run(t *testing.T) {
	codec := newFakeCodec()
	codec.images["in.jpg"] = solidImage(100, 200, 90, 120, 200)
	backend := &fakeBackend{rank: 4}

	var stages []string
	p := New(backend, codec, Options{
		Variant:       dynamicVariant(t),
		ResizeToInput: true,
		Logger:        zap.NewNop(),
		Observer: func(stage string, _ time.Duration) {
			stages = append(stages, stage)
		},
	})

	res, err := p.Run(context.Background(), "in.jpg", "out.png")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 518, 252}, res.InputShape)
	assert.Equal(t, []int64{1, 1, 518, 252}, res.OutputShape)
	assert.Equal(t, 100, res.OriginalWidth)
	assert.Equal(t, 200, res.OriginalHeight)
	assert.Equal(t, image.Rect(0, 0, 100, 200), res.Image.Bounds())
	assert.Equal(t, 0.0, res.Stats.Min)
	assert.Equal(t, float64(518*252-1), res.Stats.Max)

	saved, ok := codec.saved["out.png"]
	require.True(t, ok)
	assert.Same(t, res.Image, saved)
	assert.Equal(t, []string{
		StageLoad, StagePreprocess, StageInference, StageNormalize,
		StagePostprocess, StageResize, StageSave,
	}, stages)
}

func TestPipeline_KeepModelSize(t *testing.T) {
	codec := newFakeCodec()
	codec.images["in.jpg"] = solidImage(100, 200, 1, 2, 3)
	p := New(&fakeBackend{rank: 3}, codec, Options{
		Variant: dynamicVariant(t),
		Logger:  zap.NewNop(),
	})
	res, err := p.Run(context.Background(), "in.jpg", "out.png")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 252, 518), res.Image.Bounds())
	assert.False(t, p.ResizeToInput())
}

func TestPipeline_Static(t *testing.T) {
	static, err := VariantFor("static")
	require.NoError(t, err)
	backend := &fakeBackend{rank: 3}
	p := New(backend, newFakeCodec(), Options{Variant: static, Logger: zap.NewNop()})

	res, err := p.Estimate(context.Background(), solidImage(64, 32, 5, 5, 5), true)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 3, 518, 518}}, backend.inputs)
	assert.Equal(t, image.Rect(0, 0, 64, 32), res.Image.Bounds())
}

func TestPipeline_Errors(t *testing.T) {
	t.Run("Test Load Failure", func(t *testing.T) {
		codec := newFakeCodec()
		backend := &fakeBackend{}
		p := New(backend, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(context.Background(), "missing.jpg", "out.png")
		assert.ErrorIs(t, err, ErrImageLoad)
		assert.Contains(t, err.Error(), "missing.jpg")
		assert.Empty(t, backend.inputs)
		assert.Empty(t, codec.saved)
	})

	t.Run("Test Inference Failure", func(t *testing.T) {
		codec := newFakeCodec()
		codec.images["in.jpg"] = solidImage(10, 10, 0, 0, 0)
		cause := errors.New("device lost")
		p := New(&fakeBackend{err: cause}, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(context.Background(), "in.jpg", "out.png")
		assert.ErrorIs(t, err, ErrInferenceFailed)
		assert.ErrorIs(t, err, cause)
		assert.Empty(t, codec.saved)
	})

	t.Run("Test Bad Output Rank", func(t *testing.T) {
		codec := newFakeCodec()
		codec.images["in.jpg"] = solidImage(10, 10, 0, 0, 0)
		p := New(&fakeBackend{shape: []int64{14, 14}}, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(context.Background(), "in.jpg", "out.png")
		assert.ErrorIs(t, err, ErrUnsupportedRank)
		assert.Empty(t, codec.saved)
	})

	t.Run("Test Batch Output", func(t *testing.T) {
		codec := newFakeCodec()
		codec.images["in.jpg"] = solidImage(10, 10, 0, 0, 0)
		p := New(&fakeBackend{shape: []int64{2, 7, 14}}, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(context.Background(), "in.jpg", "out.png")
		assert.ErrorIs(t, err, ErrUnexpectedBatchSize)
	})

	t.Run("Test Save Failure", func(t *testing.T) {
		codec := newFakeCodec()
		codec.images["in.jpg"] = solidImage(10, 10, 0, 0, 0)
		codec.saveErr = errors.New("read-only file system")
		p := New(&fakeBackend{}, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(context.Background(), "in.jpg", "/ro/out.png")
		assert.ErrorIs(t, err, ErrImageSave)
		assert.Contains(t, err.Error(), "/ro/out.png")
	})

	t.Run("Test Cancelled", func(t *testing.T) {
		codec := newFakeCodec()
		codec.images["in.jpg"] = solidImage(10, 10, 0, 0, 0)
		backend := &fakeBackend{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := New(backend, codec, Options{Variant: dynamicVariant(t), Logger: zap.NewNop()})
		_, err := p.Run(ctx, "in.jpg", "out.png")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, backend.inputs)
		assert.Empty(t, codec.saved)
	})
}
