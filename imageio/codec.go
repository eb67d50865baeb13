package imageio

import (
	iface "OnnxDepth/interface"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

const (
	CodecOpenCV  = "opencv"
	CodecImaging = "imaging"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrDecode            = errors.New("decode image")
)

// Codec reads 8-bit color images and writes 16-bit depth maps.
type Codec interface {
	Name() string
	Load(path string) (iface.ImageData, error)
	Decode(data []byte) (iface.ImageData, error)
	Save(img *image.Gray16, path string) error
	Encode(img *image.Gray16, ext string) ([]byte, error)
}

// OutputExt validates that path names a container able to hold 16-bit
// grayscale and returns its lower-case extension.
func OutputExt(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".png", ".tif", ".tiff":
		return ext, nil
	default:
		return "", fmt.Errorf("%w: %q (use .png or .tiff for 16-bit depth)", ErrUnsupportedFormat, ext)
	}
}

// WriteAtomic lets write fill a temp file next to path (same extension, so
// encoders pick the right format) and renames it into place only on
// success. A failed write leaves neither path nor the temp file behind.
func WriteAtomic(path string, write func(tmp string) error) error {
	ext := filepath.Ext(path)
	f, err := os.CreateTemp(filepath.Dir(path), "."+strings.TrimSuffix(filepath.Base(path), ext)+"-*"+ext)
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
