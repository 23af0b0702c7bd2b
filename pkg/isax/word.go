package isax

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/bobboyms/tsdb/pkg/distance"
)

// Breakpoints returns the a-1 standard-normal quantile breakpoints that
// partition the value range into a equiprobable bands.
func Breakpoints(a int) []float64 {
	normal := distuv.UnitNormal
	out := make([]float64, a-1)
	for i := 0; i < a-1; i++ {
		out[i] = normal.Quantile(float64(i+1) / float64(a))
	}
	return out
}

// Word converts a series to its iSAX word at cardinality a: standardize,
// split into w chunks, average each chunk, map each mean to a band, and
// emit a fixed-width binary code per chunk. Band labels run high-to-low
// so label 0 is the topmost band.
//
// Results are best behaved when a is a power of two and w divides the
// series length.
func Word(values []float64, w, a int) string {
	series := distance.Standardize(values)

	chunkLen := 1
	if len(series) >= w {
		chunkLen = len(series) / w
	}

	breakpoints := Breakpoints(a)
	digits := int(math.Log2(float64(a)))

	codes := make([]string, w)
	for chunk := 0; chunk < w; chunk++ {
		lo := chunk * chunkLen
		hi := (chunk + 1) * chunkLen
		if lo > len(series) {
			lo = len(series)
		}
		if hi > len(series) {
			hi = len(series)
		}

		mean := 0.0
		if hi > lo {
			for _, v := range series[lo:hi] {
				mean += v
			}
			mean /= float64(hi - lo)
		}

		// labels run a-1 (lowest band) down to 0 (highest band)
		label := 0
		for j, b := range breakpoints {
			if mean < b {
				label = a - 1 - j
				break
			}
			if j == len(breakpoints)-1 {
				label = 0
			}
		}

		codes[chunk] = fmt.Sprintf("%0*b", digits, label)
	}

	return strings.Join(codes, " ")
}

// euclidean is the tie-break distance among candidate neighbors.
func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
