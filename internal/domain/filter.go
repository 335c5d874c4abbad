package domain

import "math"

// gaussianTruncate is the kernel half-width in standard deviations.
const gaussianTruncate = 4.0

// GaussianFilter smooths f with a separable Gaussian kernel of standard
// deviation sigma grid cells. The kernel is truncated at 4σ and the edges
// are extended by half-sample reflection (d c b a | a b c d | d c b a).
// Missing values propagate to every cell within the kernel radius.
func GaussianFilter(f *Field, sigma float64) *Field {
	if sigma <= 0 {
		return f.Clone()
	}
	weights := gaussianKernel(sigma)
	radius := len(weights) / 2

	tmp := NewField(f.Rows, f.Cols)
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			var sum float64
			for k, w := range weights {
				sum += w * f.At(r, reflectIndex(c+k-radius, f.Cols))
			}
			tmp.Set(r, c, sum)
		}
	}

	out := NewField(f.Rows, f.Cols)
	for r := 0; r < f.Rows; r++ {
		for c := 0; c < f.Cols; c++ {
			var sum float64
			for k, w := range weights {
				sum += w * tmp.At(reflectIndex(r+k-radius, f.Rows), c)
			}
			out.Set(r, c, sum)
		}
	}
	return out
}

func gaussianKernel(sigma float64) []float64 {
	radius := int(gaussianTruncate*sigma + 0.5)
	weights := make([]float64, 2*radius+1)
	var total float64
	for i := range weights {
		x := float64(i - radius)
		weights[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
