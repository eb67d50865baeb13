package depth

import (
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"
)

// minDenom keeps near-constant depth fields from being amplified into noise.
const minDenom = 1e-6

// QuantizeToGray16 min-max normalizes the grid into a 16-bit grayscale image.
//
// Non-finite values do not take part in the min/max scan. NaN and -Inf map
// to 0 and +Inf maps to 65535; a grid with no finite value at all becomes an
// all-zero image.
func QuantizeToGray16(g Grid) (*image.Gray16, error) {
	if g.Width < 1 || g.Height < 1 || g.Height > maxPixels/g.Width || len(g.Data) != g.Width*g.Height {
		return nil, fmt.Errorf("%w: cannot build %dx%d Gray16 from %d values", ErrInvariantViolation, g.Width, g.Height, len(g.Data))
	}
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	lo, hi, ok := finiteRange(g.Data)
	if !ok {
		return img, nil
	}
	// float64: hi-lo of two finite float32 values can overflow float32
	denom := math.Max(float64(hi)-float64(lo), minDenom)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			q := quantize(g.Data[y*g.Width+x], lo, denom)
			off := img.PixOffset(x, y)
			img.Pix[off] = uint8(q >> 8)
			img.Pix[off+1] = uint8(q)
		}
	}
	return img, nil
}

func finiteRange(data []float32) (lo, hi float32, ok bool) {
	lo, hi = math32.Inf(1), math32.Inf(-1)
	for _, v := range data {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		ok = true
	}
	return lo, hi, ok
}

func quantize(v, lo float32, denom float64) uint16 {
	if math32.IsNaN(v) {
		return 0
	}
	n := (float64(v) - float64(lo)) / denom
	if math.IsNaN(n) {
		return 0
	}
	if n < 0 {
		n = 0
	} else if n > 1 {
		n = 1
	}
	return uint16(math.Round(n * 65535))
}
