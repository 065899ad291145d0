package infer

import (
	"context"
	"fmt"

	"github.com/framelab/sreval/internal/metric"
)

// BicubicEngine upscales frames with Keys bicubic interpolation. It is the
// built-in baseline: every SR model is expected to beat it, and it lets the
// runner operate end to end without an external model server.
type BicubicEngine struct {
	base
	scale int
}

// NewBicubicEngine creates a baseline engine for the given integer scale.
func NewBicubicEngine(scale int) (*BicubicEngine, error) {
	if scale < 1 {
		return nil, fmt.Errorf("invalid upscale factor %d", scale)
	}
	return &BicubicEngine{scale: scale}, nil
}

func (e *BicubicEngine) Test(ctx context.Context) error {
	if e.lq == nil {
		return fmt.Errorf("no sample fed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.out = resizeBicubic(e.lq, e.scale)
	return nil
}

func resizeBicubic(src *metric.Image, scale int) *metric.Image {
	if scale == 1 {
		out := metric.NewImage(src.Width, src.Height, src.Channels)
		copy(out.Pix, src.Pix)
		return out
	}
	out := metric.NewImage(src.Width*scale, src.Height*scale, src.Channels)
	for y := 0; y < out.Height; y++ {
		srcY := (float64(y)+0.5)/float64(scale) - 0.5
		y0 := int(srcY)
		if srcY < 0 {
			y0--
		}
		fy := srcY - float64(y0)
		var wy [4]float64
		for i := 0; i < 4; i++ {
			wy[i] = cubicWeight(float64(i-1) - fy)
		}
		for x := 0; x < out.Width; x++ {
			srcX := (float64(x)+0.5)/float64(scale) - 0.5
			x0 := int(srcX)
			if srcX < 0 {
				x0--
			}
			fx := srcX - float64(x0)
			var wx [4]float64
			for i := 0; i < 4; i++ {
				wx[i] = cubicWeight(float64(i-1) - fx)
			}
			for ch := 0; ch < src.Channels; ch++ {
				var v float64
				for j := 0; j < 4; j++ {
					sy := clampIndex(y0+j-1, src.Height)
					var row float64
					for i := 0; i < 4; i++ {
						sx := clampIndex(x0+i-1, src.Width)
						row += wx[i] * src.At(sx, sy, ch)
					}
					v += wy[j] * row
				}
				out.Set(x, y, ch, v)
			}
		}
	}
	return out
}

// cubicWeight is the Keys kernel with a = -0.5.
func cubicWeight(t float64) float64 {
	if t < 0 {
		t = -t
	}
	const a = -0.5
	switch {
	case t <= 1:
		return (a+2)*t*t*t - (a+3)*t*t + 1
	case t < 2:
		return a*t*t*t - 5*a*t*t + 8*a*t - 4*a
	}
	return 0
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
