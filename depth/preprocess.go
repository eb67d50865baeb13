package depth

import (
	iface "OnnxDepth/interface"
	"fmt"
)

// ImageNet statistics, as used by the DPT image processor.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess resizes img according to policy and returns a normalized
// [1, 3, H, W] channel-first tensor.
func Preprocess(img iface.ImageData, policy ResizePolicy) (iface.Tensor, error) {
	if err := checkImage(img); err != nil {
		return iface.Tensor{}, err
	}
	w, h := policy.TargetDims(int(img.Width), int(img.Height))
	if w < 1 || h < 1 {
		return iface.Tensor{}, fmt.Errorf("%w: %v produced %dx%d", ErrInvariantViolation, policy, w, h)
	}
	resized := resizeRGB(img, w, h)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			for c := 0; c < 3; c++ {
				v := float32(row[x*4+c]) / 255
				data[c*plane+i] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return iface.Tensor{
		Shape: []int64{1, 3, int64(h), int64(w)},
		Data:  data,
	}, nil
}

func checkImage(img iface.ImageData) error {
	if img.Width < 1 || img.Height < 1 {
		return fmt.Errorf("%w: image is %dx%d", ErrInvariantViolation, img.Width, img.Height)
	}
	if img.Channels != 3 {
		return fmt.Errorf("%w: expected 3 channels, got %d", ErrInvariantViolation, img.Channels)
	}
	if want := int(img.Width) * int(img.Height) * 3; len(img.Data) != want {
		return fmt.Errorf("%w: pixel buffer holds %d bytes, want %d", ErrInvariantViolation, len(img.Data), want)
	}
	return nil
}
