// ABOUTME: Summary statistics over CVSS scores with a defined fallback for degenerate input.
// ABOUTME: Never panics and never returns NaN; empty input yields zero.

package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Default is returned whenever a statistic cannot be computed.
const Default = 0.0

var (
	// ErrDegenerate means the input was empty or the result was not finite.
	ErrDegenerate = errors.New("statistic is undefined for input")
	// ErrComputation means the statistic function panicked.
	ErrComputation = errors.New("statistic computation failed")
)

// Func computes a statistic over a non-empty slice.
type Func func(values []float64) float64

// Aggregate applies fn to values, returning Default with an error when the
// input is empty, when fn panics or when the result is NaN or infinite.
func Aggregate(name string, values []float64, fn Func) (result float64, err error) {
	logger := log.WithFields(log.Fields{
		"statistic": name,
		"values":    len(values),
	})

	if len(values) == 0 {
		logger.Debug("No values to aggregate")
		return Default, ErrDegenerate
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Statistic computation panicked")
			result, err = Default, fmt.Errorf("%w: %s: %v", ErrComputation, name, r)
		}
	}()

	result = fn(values)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		logger.WithField("input", values).Debug("Statistic is not finite")
		return Default, ErrDegenerate
	}
	return result, nil
}

func safe(name string, values []float64, fn Func) float64 {
	result, _ := Aggregate(name, values, fn)
	return result
}

// Mean is the arithmetic mean, or 0 for empty input.
func Mean(values []float64) float64 {
	return safe("mean", values, mean)
}

// Median is the middle value (average of the two middle values for even
// lengths), or 0 for empty input.
func Median(values []float64) float64 {
	return safe("median", values, median)
}

// Stdev is the population standard deviation, or 0 for empty input.
func Stdev(values []float64) float64 {
	return safe("stdev", values, stdev)
}

func Min(values []float64) float64 {
	return safe("min", values, func(v []float64) float64 {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Min(m, x)
		}
		return m
	})
}

func Max(values []float64) float64 {
	return safe("max", values, func(v []float64) float64 {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Max(m, x)
		}
		return m
	})
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func stdev(values []float64) float64 {
	m := mean(values)
	var sq float64
	for _, v := range values {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(values)))
}
