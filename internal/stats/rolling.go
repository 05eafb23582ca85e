package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pv/labacq-go/internal/acquisition"
)

// Rolling holds the aggregate statistics of one channel snapshot.
// StdDev is the sample standard deviation (n-1 denominator).
type Rolling struct {
	Count      int     `json:"count"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"std_dev"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Median     float64 `json:"median"`
	RMS        float64 `json:"rms"`
	PeakToPeak float64 `json:"peak_to_peak"`
}

// RollingStats computes the aggregates over a snapshot
func RollingStats(samples []acquisition.Sample) (Rolling, error) {
	if len(samples) == 0 {
		return Rolling{}, ErrInsufficientData
	}

	vals := values(samples)
	r := Rolling{
		Count: len(vals),
		Mean:  stat.Mean(vals, nil),
		Min:   vals[0],
		Max:   vals[0],
	}
	if len(vals) > 1 {
		r.StdDev = stat.StdDev(vals, nil)
	}

	sumSq := 0.0
	for _, v := range vals {
		if v < r.Min {
			r.Min = v
		}
		if v > r.Max {
			r.Max = v
		}
		sumSq += v * v
	}
	r.RMS = math.Sqrt(sumSq / float64(len(vals)))
	r.PeakToPeak = r.Max - r.Min

	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		r.Median = sorted[mid]
	} else {
		r.Median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return r, nil
}
