package iface

// ImageData is a decoded 8-bit image, interleaved and row-major.
type ImageData struct {
	Data     []byte
	Width    int32
	Height   int32
	Channels int32
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Size returns the number of elements implied by Shape.
func (t Tensor) Size() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type EngineConfig struct {
	ModelPath   string
	InputName   string
	OutputName  string
	Threads     int
	DeviceID    int
	Providers   []string
	State       int
	Description string
}
