package util

import (
	"fmt"
	"math"
	"strconv"
)

func parseBucketBoundary(significand string, exponent int) float64 {
	v, err := strconv.ParseFloat(fmt.Sprintf("%se%d", significand, exponent), 64)
	if err != nil {
		panic(fmt.Sprintf("Invalid bucket boundary %se%d: %s", significand, exponent, err))
	}
	return v
}

// DecimalExponentialBuckets returns Prometheus histogram bucket
// boundaries that start at 10^lowestPowerOf10, span the requested
// number of powers of ten, and place stepsInBetween additional
// boundaries in each power of ten, spaced by a factor 10^(1/(steps+1)).
//
// Every power of ten is represented exactly. Intermediate boundaries
// are truncated to five significant digits and parsed as decimal
// strings, so that label values remain short and don't depend on the
// accuracy of math.Pow().
func DecimalExponentialBuckets(lowestPowerOf10, powersOf10, stepsInBetween int) []float64 {
	significands := make([]string, 0, stepsInBetween+1)
	for i := 0; i <= stepsInBetween; i++ {
		significands = append(
			significands,
			fmt.Sprintf("%f", math.Pow(10.0, float64(i)/float64(stepsInBetween+1)))[:6])
	}

	buckets := make([]float64, 0, powersOf10*len(significands)+1)
	for exponent := lowestPowerOf10; exponent < lowestPowerOf10+powersOf10; exponent++ {
		for _, significand := range significands {
			buckets = append(buckets, parseBucketBoundary(significand, exponent))
		}
	}
	return append(buckets, parseBucketBoundary("1", lowestPowerOf10+powersOf10))
}
