package stats

import (
	"gonum.org/v1/gonum/stat"

	"github.com/pv/labacq-go/internal/acquisition"
)

// outlierSigma is the k-sigma fence for outlier counting. Residuals
// beyond k sample standard deviations of the detrended series count
// as outliers.
const outlierSigma = 3.0

// Quality summarizes the health of one channel snapshot
type Quality struct {
	NoiseLevel   float64 `json:"noise_level"`
	Stability    float64 `json:"stability"`
	OutlierCount int     `json:"outlier_count"`
	ValidPercent float64 `json:"valid_percent"`
}

// QualityAnalysis detrends the snapshot with a linear fit and measures
// the residuals. NoiseLevel is the residual sample standard deviation;
// Stability is 1/(1+variance), so a flat signal scores close to 1.
func QualityAnalysis(samples []acquisition.Sample) (Quality, error) {
	if len(samples) == 0 {
		return Quality{}, ErrInsufficientData
	}

	var clean []acquisition.Sample
	for _, s := range samples {
		if finite(s.Value) {
			clean = append(clean, s)
		}
	}

	q := Quality{
		ValidPercent: 100 * float64(len(clean)) / float64(len(samples)),
	}
	if len(clean) < 2 {
		q.Stability = 1
		return q, nil
	}

	x := timestamps(clean)
	y := values(clean)

	q.Stability = 1 / (1 + stat.Variance(y, nil))

	residuals := make([]float64, len(y))
	if stat.Variance(y, nil) == 0 {
		// constant signal, nothing to detrend
	} else {
		alpha, beta := stat.LinearRegression(x, y, nil, false)
		for i := range y {
			residuals[i] = y[i] - (alpha + beta*x[i])
		}
	}

	q.NoiseLevel = stat.StdDev(residuals, nil)
	fence := outlierSigma * q.NoiseLevel
	if fence > 0 {
		for _, r := range residuals {
			if r > fence || r < -fence {
				q.OutlierCount++
			}
		}
	}
	return q, nil
}
