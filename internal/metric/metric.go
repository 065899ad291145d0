package metric

import (
	"fmt"
	"strings"
)

// Kind identifies a supported image quality metric.
type Kind int

const (
	PSNR Kind = iota
	SSIM
)

func (k Kind) String() string {
	switch k {
	case PSNR:
		return "psnr"
	case SSIM:
		return "ssim"
	}
	return fmt.Sprintf("metric.Kind(%d)", int(k))
}

// ResolveKind maps a configured metric name to its Kind. Unknown names are
// configuration errors and are rejected at load time, not at scoring time.
func ResolveKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "psnr":
		return PSNR, nil
	case "ssim":
		return SSIM, nil
	}
	return 0, fmt.Errorf("unknown metric type: %q", name)
}

// Opts carries the extra parameters shared by all metric kinds.
type Opts struct {
	// CropBorder removes this many pixels from every image edge before
	// scoring. SR models produce unreliable borders at high scales.
	CropBorder int

	// TestYChannel scores only the luma plane of RGB inputs.
	TestYChannel bool
}

// Scorer evaluates one quality metric over a (candidate, reference) pair.
type Scorer interface {
	Name() string
	Score(img, ref *Image) (float64, error)
}

type kindScorer struct {
	name string
	kind Kind
	opts Opts
}

// NewScorer builds a Scorer for a resolved metric kind.
func NewScorer(name string, kind Kind, opts Opts) Scorer {
	return &kindScorer{name: name, kind: kind, opts: opts}
}

func (s *kindScorer) Name() string { return s.name }

func (s *kindScorer) Score(img, ref *Image) (float64, error) {
	return s.kind.Compute(img, ref, s.opts)
}

// Compute scores a candidate image against its reference.
func (k Kind) Compute(img, ref *Image, opts Opts) (float64, error) {
	if img == nil || ref == nil {
		return 0, fmt.Errorf("%s: missing image", k)
	}
	if !img.SameShape(ref) {
		return 0, fmt.Errorf("%s: shape mismatch: %s vs %s", k, img.shape(), ref.shape())
	}
	a, b := img, ref
	if opts.CropBorder > 0 {
		if 2*opts.CropBorder >= img.Width || 2*opts.CropBorder >= img.Height {
			return 0, fmt.Errorf("%s: crop border %d leaves no pixels in %s", k, opts.CropBorder, img.shape())
		}
		a = a.cropBorder(opts.CropBorder)
		b = b.cropBorder(opts.CropBorder)
	}
	if opts.TestYChannel {
		a = a.toY()
		b = b.toY()
	}
	switch k {
	case PSNR:
		return psnr(a, b), nil
	case SSIM:
		return ssim(a, b), nil
	}
	return 0, fmt.Errorf("unsupported metric kind %d", int(k))
}
