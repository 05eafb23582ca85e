package stats

import (
	"github.com/pv/labacq-go/internal/acquisition"
)

// Peak is a local maximum with enough prominence to matter
type Peak struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"`
	Value     float64 `json:"value"`
}

// DetectPeaks finds local maxima whose prominence is at least
// minProminence. Prominence is the height of the peak above the higher
// of the two flanking minima, walking outward until a taller sample or
// the series boundary is hit.
func DetectPeaks(samples []acquisition.Sample, minProminence float64) []Peak {
	var peaks []Peak
	for i := 1; i < len(samples)-1; i++ {
		v := samples[i].Value
		if v <= samples[i-1].Value || v < samples[i+1].Value {
			continue
		}
		if prominence(samples, i) >= minProminence {
			peaks = append(peaks, Peak{Index: i, Timestamp: samples[i].Timestamp, Value: v})
		}
	}
	return peaks
}

func prominence(samples []acquisition.Sample, peak int) float64 {
	v := samples[peak].Value

	leftMin := v
	for i := peak - 1; i >= 0; i-- {
		if samples[i].Value > v {
			break
		}
		if samples[i].Value < leftMin {
			leftMin = samples[i].Value
		}
	}

	rightMin := v
	for i := peak + 1; i < len(samples); i++ {
		if samples[i].Value > v {
			break
		}
		if samples[i].Value < rightMin {
			rightMin = samples[i].Value
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return v - base
}

// Crossings holds the indices where a series crosses a threshold,
// split by direction.
type Crossings struct {
	Rising  []int `json:"rising"`
	Falling []int `json:"falling"`
}

// ThresholdCrossings scans a snapshot with the edge-trigger crossing
// convention: a rising crossing at i means sample i-1 was below the
// threshold and sample i reached or passed it; falling is symmetric.
func ThresholdCrossings(samples []acquisition.Sample, threshold float64) Crossings {
	var c Crossings
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1].Value, samples[i].Value
		switch {
		case prev < threshold && cur >= threshold:
			c.Rising = append(c.Rising, i)
		case prev > threshold && cur <= threshold:
			c.Falling = append(c.Falling, i)
		}
	}
	return c
}
