package depth

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
)

// ResizePolicy maps an input image size to the network input size.
type ResizePolicy interface {
	TargetDims(width, height int) (int, int)
	String() string
}

// StaticSquash resizes to exactly Size x Size, ignoring the aspect ratio.
type StaticSquash struct {
	Size int
}

func (p StaticSquash) TargetDims(_, _ int) (int, int) {
	return p.Size, p.Size
}

func (p StaticSquash) String() string {
	return fmt.Sprintf("StaticSquash(%d)", p.Size)
}

// AspectFit scales the image so that it fits in Size x Size, then floors
// both sides to a multiple of MultipleOf (never below one multiple).
type AspectFit struct {
	Size       int
	MultipleOf int
}

func (p AspectFit) TargetDims(width, height int) (int, int) {
	size := float32(p.Size)
	scale := math32.Min(size/float32(width), size/float32(height))
	nw := int(math.Round(float64(float32(width) * scale)))
	nh := int(math.Round(float64(float32(height) * scale)))
	return floorToMultiple(nw, p.MultipleOf), floorToMultiple(nh, p.MultipleOf)
}

func (p AspectFit) String() string {
	return fmt.Sprintf("AspectFit(%d, %d)", p.Size, p.MultipleOf)
}

func floorToMultiple(n, m int) int {
	if m <= 1 {
		return max(n, 1)
	}
	return max(n/m, 1) * m
}
