package depth

import (
	iface "OnnxDepth/interface"
	"fmt"
	"math"
)

// maxPixels bounds H*W of a depth grid so the product never overflows and
// image.NewGray16 (2 bytes per pixel) always accepts the rectangle.
const maxPixels = math.MaxInt32 / 2

// Grid is a row-major H x W field of relative depth values.
type Grid struct {
	Height int
	Width  int
	Data   []float32
}

func (g Grid) At(y, x int) float32 {
	return g.Data[y*g.Width+x]
}

// NormalizeShape strips the batch (and channel) axes from a model output.
// Accepted layouts are [1, H, W] and [1, 1, H, W]. The returned grid owns
// its data; the engine buffer may be released afterwards.
func NormalizeShape(raw iface.Tensor) (Grid, error) {
	s := raw.Shape
	var h, w int64
	switch len(s) {
	case 3:
		if s[0] != 1 {
			return Grid{}, fmt.Errorf("%w: %d (expected 1), output shape %v", ErrUnexpectedBatchSize, s[0], s)
		}
		h, w = s[1], s[2]
	case 4:
		if s[0] != 1 || s[1] != 1 {
			return Grid{}, fmt.Errorf("%w: %v (expected [1,1,H,W])", ErrUnexpectedShape, s)
		}
		h, w = s[2], s[3]
	default:
		return Grid{}, fmt.Errorf("%w: %d, output shape %v (expected 3D [1,H,W] or 4D [1,1,H,W])", ErrUnsupportedRank, len(s), s)
	}
	if h < 1 || w < 1 {
		return Grid{}, fmt.Errorf("%w: empty depth output %v", ErrInvariantViolation, s)
	}
	if h > maxPixels/w {
		return Grid{}, fmt.Errorf("%w: output %v is too large", ErrInvariantViolation, s)
	}
	if int64(len(raw.Data)) != h*w {
		return Grid{}, fmt.Errorf("%w: output %v holds %d values", ErrInvariantViolation, s, len(raw.Data))
	}
	data := make([]float32, h*w)
	copy(data, raw.Data)
	return Grid{Height: int(h), Width: int(w), Data: data}, nil
}
