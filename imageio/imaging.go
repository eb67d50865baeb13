package imageio

import (
	iface "OnnxDepth/interface"
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Imaging is the pure Go codec. EXIF orientation is applied on load.
type Imaging struct{}

func (Imaging) Name() string {
	return CodecImaging
}

func (Imaging) Load(path string) (iface.ImageData, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return iface.ImageData{}, err
	}
	return toImageData(img), nil
}

func (Imaging) Decode(data []byte) (iface.ImageData, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return iface.ImageData{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return toImageData(img), nil
}

func (Imaging) Save(img *image.Gray16, path string) error {
	if _, err := OutputExt(path); err != nil {
		return err
	}
	return WriteAtomic(path, func(tmp string) error {
		return imaging.Save(img, tmp)
	})
}

func (Imaging) Encode(img *image.Gray16, ext string) ([]byte, error) {
	if _, err := OutputExt("depth" + ext); err != nil {
		return nil, err
	}
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toImageData drops alpha and packs the image as interleaved RGB.
func toImageData(img image.Image) iface.ImageData {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			copy(data[(y*w+x)*3:], row[x*4:x*4+3])
		}
	}
	return iface.ImageData{
		Data:     data,
		Width:    int32(w),
		Height:   int32(h),
		Channels: 3,
	}
}
