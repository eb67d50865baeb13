package depth

import (
	iface "OnnxDepth/interface"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// toRGBA copies a 3-channel buffer into an opaque RGBA image.
func toRGBA(img iface.ImageData) *image.RGBA {
	w, h := int(img.Width), int(img.Height)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := img.Data[y*w*3 : (y+1)*w*3]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4] = src[x*3]
			row[x*4+1] = src[x*3+1]
			row[x*4+2] = src[x*3+2]
			row[x*4+3] = 0xff
		}
	}
	return dst
}

// resizeRGB resamples with Catmull-Rom. Same-size requests skip the filter.
func resizeRGB(img iface.ImageData, w, h int) *image.RGBA {
	src := toRGBA(img)
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// ResizeGray16 resamples a depth image with the same Catmull-Rom filter used
// on the way in.
func ResizeGray16(src *image.Gray16, w, h int) *image.Gray16 {
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		return src
	}
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
