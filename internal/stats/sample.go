package stats

import (
	"math"
	"math/rand"
	"time"
)

// SampleNormal draws from N(mean, stddev) with the Box–Muller transform and
// clamps the result to [min, max].
func SampleNormal(r *rand.Rand, mean, stddev, min, max float64) float64 {
	// 1 - Float64() lies in (0, 1], keeping the logarithm finite
	u1 := 1 - r.Float64()
	u2 := r.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	return clamp(mean+z*stddev, min, max)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ThinkTime samples a think time in [min, max] centred on the midpoint with
// a standard deviation of a sixth of the range.
func ThinkTime(r *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	lo, hi := float64(min), float64(max)
	mean := (lo + hi) / 2
	stddev := (hi - lo) / 6
	return time.Duration(SampleNormal(r, mean, stddev, lo, hi))
}
