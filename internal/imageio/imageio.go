package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"github.com/framelab/sreval/internal/metric"
)

// pixPool recycles decoded pixel buffers. Validation touches every frame of
// every clip exactly once, so per-item allocations dominate GC pressure
// without reuse.
var pixPool = sync.Pool{
	New: func() any { return new([]float64) },
}

func getPix(n int) []float64 {
	p := pixPool.Get().(*[]float64)
	if cap(*p) < n {
		*p = make([]float64, n)
	}
	return (*p)[:n]
}

// Recycle returns an image's pixel buffer to the pool. The image must not be
// used afterwards.
func Recycle(im *metric.Image) {
	if im == nil || im.Pix == nil {
		return
	}
	buf := im.Pix
	im.Pix = nil
	pixPool.Put(&buf)
}

// Decode converts PNG bytes into a 3-channel image with pooled backing.
func Decode(data []byte) (*metric.Image, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	im := &metric.Image{
		Width:    w,
		Height:   h,
		Channels: 3,
		Pix:      getPix(w * h * 3),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			im.Pix[i] = float64(r >> 8)
			im.Pix[i+1] = float64(g >> 8)
			im.Pix[i+2] = float64(b >> 8)
			i += 3
		}
	}
	return im, nil
}

// Encode converts an image to PNG bytes, clamping values to [0, 255].
func Encode(im *metric.Image) ([]byte, error) {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			var rgb [3]float64
			for ch := 0; ch < 3; ch++ {
				c := ch
				if c >= im.Channels {
					c = im.Channels - 1
				}
				rgb[ch] = clamp255(im.At(x, y, c))
			}
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(rgb[0] + 0.5),
				G: uint8(rgb[1] + 0.5),
				B: uint8(rgb[2] + 0.5),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadPNG decodes a PNG file.
func ReadPNG(path string) (*metric.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %q: %w", path, err)
	}
	im, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	return im, nil
}

// WritePNG encodes an image to path, creating parent directories as needed.
func WritePNG(im *metric.Image, path string) error {
	data, err := Encode(im)
	if err != nil {
		return fmt.Errorf("%q: %w", path, err)
	}

	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image %q: %w", path, err)
	}
	return nil
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
