// Package distance implements the kernelized cross-correlation metric
// used by the vantage-point indexes. Both the frequency-domain
// convolution and the kernel normalization follow the definition the VP
// indexes are built under; changing either breaks interoperability with
// persisted distance fields.
package distance

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Alpha is the exponential multiplier of the kernel.
const Alpha = 5.0

// Standardize returns (x - mean) / std with population std. A constant
// series standardizes to all zeros.
func Standardize(values []float64) []float64 {
	n := float64(len(values))
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= n

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / n)

	out := make([]float64, len(values))
	if std == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// CrossCorrelation computes the circular cross-correlation of two
// equal-length standardized series via the frequency domain:
// (1/L) * real(ifft(fft(x) * conj(fft(y)))).
func CrossCorrelation(x, y []float64) []float64 {
	n := len(x)
	fft := fourier.NewCmplxFFT(n)

	cx := make([]complex128, n)
	cy := make([]complex128, n)
	for i := 0; i < n; i++ {
		cx[i] = complex(x[i], 0)
		cy[i] = complex(y[i], 0)
	}

	fx := fft.Coefficients(nil, cx)
	fy := fft.Coefficients(nil, cy)

	prod := make([]complex128, n)
	for i := 0; i < n; i++ {
		prod[i] = fx[i] * cmplx.Conj(fy[i])
	}

	// Sequence is the unnormalized inverse transform; numpy's ifft
	// divides by L, and the correlation itself carries another 1/L.
	inv := fft.Sequence(nil, prod)
	scale := 1.0 / (float64(n) * float64(n))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = real(inv[i]) * scale
	}
	return out
}

func kernelSum(cc []float64, mult float64) float64 {
	sum := 0.0
	for _, v := range cc {
		sum += math.Exp(mult * v)
	}
	return sum
}

// KernelCorr computes the normalized kernelized correlation of two
// standardized series, 1.0 for a series against itself.
func KernelCorr(x, y []float64, mult float64) float64 {
	num := kernelSum(CrossCorrelation(x, y), mult)
	denom := math.Sqrt(kernelSum(CrossCorrelation(x, x), mult) *
		kernelSum(CrossCorrelation(y, y), mult))
	return num / denom
}

// Distance returns the metric-like distance in [0, sqrt(2)] between two
// series: sqrt(2 * (1 - K)) with K the kernelized correlation at Alpha.
func Distance(a, b types.TimeSeries) float64 {
	sa := Standardize(a.Values)
	sb := Standardize(b.Values)
	k := KernelCorr(sa, sb, Alpha)
	d := 2 * (1 - k)
	if d < 0 {
		// numerical noise can push K a hair past 1
		d = 0
	}
	return math.Sqrt(d)
}
