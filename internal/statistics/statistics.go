// Package statistics summarises a series of per-match values.
package statistics

import (
	"fmt"
	"math"
	"sort"
)

// Series accumulates one value per match
type Series struct {
	N      int
	Sum    float64
	SumSq  float64   // Sum of squares for variance calculation
	Values []float64 // Kept for median/percentile calculation
}

// Summary is a snapshot of a series
type Summary struct {
	Matches int     `json:"matches"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	Median  float64 `json:"median"`
	CI95Low float64 `json:"ci95_low"`
	CI95Hi  float64 `json:"ci95_high"`
}

// Add records a value
func (s *Series) Add(v float64) {
	s.N++
	s.Sum += v
	s.SumSq += v * v
	s.Values = append(s.Values, v)
}

// Mean returns the arithmetic mean
func (s *Series) Mean() float64 {
	if s.N == 0 {
		return 0
	}
	return s.Sum / float64(s.N)
}

// Variance returns the sample variance
func (s *Series) Variance() float64 {
	if s.N < 2 {
		return 0
	}
	mean := s.Mean()
	v := (s.SumSq - float64(s.N)*mean*mean) / float64(s.N-1)
	if v < 0 {
		// Rounding on near-constant series
		return 0
	}
	return v
}

// StdDev returns the sample standard deviation
func (s *Series) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StdError returns the standard error of the mean
func (s *Series) StdError() float64 {
	if s.N == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.N))
}

// ConfidenceInterval95 returns the 95% confidence interval for the mean
func (s *Series) ConfidenceInterval95() (float64, float64) {
	mean := s.Mean()
	margin := 1.96 * s.StdError()
	return mean - margin, mean + margin
}

// Median returns the median value
func (s *Series) Median() float64 {
	return s.Percentile(0.5)
}

// Percentile returns the value at p (0.0 to 1.0), interpolating between
// neighbours.
func (s *Series) Percentile(p float64) float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sorted := make([]float64, len(s.Values))
	copy(sorted, s.Values)
	sort.Float64s(sorted)

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Summary snapshots the series
func (s *Series) Summary() Summary {
	low, high := s.ConfidenceInterval95()
	return Summary{
		Matches: s.N,
		Mean:    s.Mean(),
		StdDev:  s.StdDev(),
		Median:  s.Median(),
		CI95Low: low,
		CI95Hi:  high,
	}
}

// Validate checks that the running sums agree with the stored values
func (s *Series) Validate() error {
	if len(s.Values) != s.N {
		return fmt.Errorf("values length (%d) does not match count (%d)", len(s.Values), s.N)
	}
	var sum float64
	for _, v := range s.Values {
		sum += v
	}
	if math.Abs(sum-s.Sum) > 1e-6 {
		return fmt.Errorf("sum mismatch: running=%.6f, values=%.6f", s.Sum, sum)
	}
	return nil
}
