// Package stats computes derived statistics over buffer snapshots:
// rolling aggregates, spectra, trends, signal quality, peaks and
// threshold crossings. Every function is pure; callers may share one
// snapshot across goroutines freely.
package stats

import (
	"errors"
	"math"

	"github.com/pv/labacq-go/internal/acquisition"
)

var ErrInsufficientData = errors.New("insufficient samples")

// values extracts the value column from a snapshot
func values(samples []acquisition.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

// timestamps extracts the time column from a snapshot
func timestamps(samples []acquisition.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Timestamp
	}
	return out
}

// estimateRate derives the sample rate from the snapshot's time span.
// Used when the caller does not know the configured rate.
func estimateRate(samples []acquisition.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	span := samples[len(samples)-1].Timestamp - samples[0].Timestamp
	if span <= 0 {
		return 0
	}
	return float64(len(samples)-1) / span
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
