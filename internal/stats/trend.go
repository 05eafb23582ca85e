package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/pv/labacq-go/internal/acquisition"
)

type TrendClass string

const (
	TrendRising  TrendClass = "rising"
	TrendFalling TrendClass = "falling"
	TrendStable  TrendClass = "stable"
	TrendNoisy   TrendClass = "noisy"
)

// Defaults applied when TrendAnalysis is called with non-positive
// thresholds. A fit with R^2 below the threshold is classified noisy
// regardless of its slope.
const (
	DefaultSlopeThreshold = 1e-6
	DefaultR2Threshold    = 0.5
)

// Trend is an ordinary least-squares fit of value against time
type Trend struct {
	Slope     float64    `json:"slope"`
	Intercept float64    `json:"intercept"`
	R2        float64    `json:"r2"`
	Class     TrendClass `json:"class"`
}

// TrendAnalysis fits value vs. time and classifies the result
func TrendAnalysis(samples []acquisition.Sample, slopeThreshold, r2Threshold float64) (Trend, error) {
	if len(samples) < 2 {
		return Trend{}, ErrInsufficientData
	}
	if slopeThreshold <= 0 {
		slopeThreshold = DefaultSlopeThreshold
	}
	if r2Threshold <= 0 {
		r2Threshold = DefaultR2Threshold
	}

	x := timestamps(samples)
	y := values(samples)

	// a constant series has zero variance and an undefined R^2; it is
	// a perfect stable fit, not a noisy one
	if stat.Variance(y, nil) == 0 {
		return Trend{Intercept: y[0], R2: 1, Class: TrendStable}, nil
	}

	alpha, beta := stat.LinearRegression(x, y, nil, false)
	r2 := stat.RSquared(x, y, nil, alpha, beta)

	t := Trend{Slope: beta, Intercept: alpha, R2: r2}
	switch {
	case r2 < r2Threshold:
		t.Class = TrendNoisy
	case math.Abs(beta) < slopeThreshold:
		t.Class = TrendStable
	case beta > 0:
		t.Class = TrendRising
	default:
		t.Class = TrendFalling
	}
	return t, nil
}
