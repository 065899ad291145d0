package metric

import "math"

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = (0.01 * 255) * (0.01 * 255)
	ssimC2     = (0.03 * 255) * (0.03 * 255)
)

// ssim computes the mean structural similarity over all channels using an
// 11x11 gaussian window applied in "valid" mode, the standard formulation
// for SR benchmarks. Images smaller than the window score as a single
// global window.
func ssim(img, ref *Image) float64 {
	var total float64
	for ch := 0; ch < img.Channels; ch++ {
		total += ssimChannel(img, ref, ch)
	}
	return total / float64(img.Channels)
}

func ssimChannel(img, ref *Image, ch int) float64 {
	w := ssimWindow
	if img.Width < w || img.Height < w {
		// Degenerate case: one window covering the whole plane.
		return ssimPatch(img, ref, ch, 0, 0, img.Width, img.Height, flatWeights(img.Width*img.Height))
	}
	kernel := gaussianKernel(w, ssimSigma)
	var sum float64
	var count int
	for y := 0; y+w <= img.Height; y++ {
		for x := 0; x+w <= img.Width; x++ {
			sum += ssimPatch(img, ref, ch, x, y, w, w, kernel)
			count++
		}
	}
	return sum / float64(count)
}

func ssimPatch(img, ref *Image, ch, x0, y0, w, h int, weights []float64) float64 {
	var muA, muB float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := weights[y*w+x]
			muA += wt * img.At(x0+x, y0+y, ch)
			muB += wt * ref.At(x0+x, y0+y, ch)
		}
	}
	var varA, varB, cov float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := weights[y*w+x]
			da := img.At(x0+x, y0+y, ch) - muA
			db := ref.At(x0+x, y0+y, ch) - muB
			varA += wt * da * da
			varB += wt * db * db
			cov += wt * da * db
		}
	}
	num := (2*muA*muB + ssimC1) * (2*cov + ssimC2)
	den := (muA*muA + muB*muB + ssimC1) * (varA + varB + ssimC2)
	return num / den
}

// gaussianKernel returns a normalized n x n gaussian weight grid.
func gaussianKernel(n int, sigma float64) []float64 {
	k := make([]float64, n*n)
	c := float64(n-1) / 2
	var sum float64
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			dx := float64(x) - c
			dy := float64(y) - c
			v := math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			k[y*n+x] = v
			sum += v
		}
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func flatWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}
