// Package cv implements the depth map codec on top of OpenCV.
package cv

import (
	"OnnxDepth/imageio"
	iface "OnnxDepth/interface"
	"encoding/binary"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

type OpenCV struct{}

var _ imageio.Codec = OpenCV{}

func (OpenCV) Name() string {
	return imageio.CodecOpenCV
}

func (OpenCV) Load(path string) (iface.ImageData, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return iface.ImageData{}, fmt.Errorf("opencv cannot read %s", path)
	}
	return matToImageData(mat)
}

func (OpenCV) Decode(data []byte) (iface.ImageData, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return iface.ImageData{}, fmt.Errorf("%w: %w", imageio.ErrDecode, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return iface.ImageData{}, fmt.Errorf("%w: empty image", imageio.ErrDecode)
	}
	return matToImageData(mat)
}

// matToImageData converts OpenCV's BGR layout to the RGB the model expects.
func matToImageData(bgr gocv.Mat) (iface.ImageData, error) {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)
	return iface.ImageData{
		Data:     rgb.ToBytes(),
		Width:    int32(rgb.Cols()),
		Height:   int32(rgb.Rows()),
		Channels: int32(rgb.Channels()),
	}, nil
}

func (OpenCV) Save(img *image.Gray16, path string) error {
	if _, err := imageio.OutputExt(path); err != nil {
		return err
	}
	mat, err := gray16ToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	return imageio.WriteAtomic(path, func(tmp string) error {
		if !gocv.IMWrite(tmp, mat) {
			return fmt.Errorf("opencv cannot write %s", path)
		}
		return nil
	})
}

func (OpenCV) Encode(img *image.Gray16, ext string) ([]byte, error) {
	if _, err := imageio.OutputExt("depth" + ext); err != nil {
		return nil, err
	}
	mat, err := gray16ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	buf, err := gocv.IMEncode(gocv.FileExt(ext), mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

func gray16ToMat(img *image.Gray16) (gocv.Mat, error) {
	b := img.Bounds()
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV16UC1, nativeGray16(img))
}

// nativeGray16 repacks Gray16 (big-endian) samples in host byte order, which
// is what a CV_16UC1 Mat holds.
func nativeGray16(img *image.Gray16) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			v := uint16(img.Pix[off])<<8 | uint16(img.Pix[off+1])
			binary.NativeEndian.PutUint16(out[(y*w+x)*2:], v)
		}
	}
	return out
}
