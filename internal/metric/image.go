package metric

import "fmt"

// Image is a dense H x W x C pixel buffer in row-major order.
// Values are in the [0, 255] range regardless of the source bit depth.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float64
}

// NewImage allocates a zeroed image of the given dimensions.
func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float64, width*height*channels),
	}
}

func (im *Image) At(x, y, ch int) float64 {
	return im.Pix[(y*im.Width+x)*im.Channels+ch]
}

func (im *Image) Set(x, y, ch int, v float64) {
	im.Pix[(y*im.Width+x)*im.Channels+ch] = v
}

// SameShape reports whether both images have identical dimensions.
func (im *Image) SameShape(other *Image) bool {
	return im.Width == other.Width &&
		im.Height == other.Height &&
		im.Channels == other.Channels
}

func (im *Image) shape() string {
	return fmt.Sprintf("%dx%dx%d", im.Height, im.Width, im.Channels)
}

// cropBorder returns a copy with n pixels removed from every edge.
func (im *Image) cropBorder(n int) *Image {
	if n <= 0 {
		return im
	}
	out := NewImage(im.Width-2*n, im.Height-2*n, im.Channels)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			for ch := 0; ch < out.Channels; ch++ {
				out.Set(x, y, ch, im.At(x+n, y+n, ch))
			}
		}
	}
	return out
}

// toY converts a 3-channel RGB image to its BT.601 luma plane,
// matching the YCbCr conversion used by common SR benchmarks.
func (im *Image) toY() *Image {
	if im.Channels != 3 {
		return im
	}
	out := NewImage(im.Width, im.Height, 1)
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			r := im.At(x, y, 0)
			g := im.At(x, y, 1)
			b := im.At(x, y, 2)
			out.Set(x, y, 0, 16.0+(65.481*r+128.553*g+24.966*b)/255.0)
		}
	}
	return out
}
