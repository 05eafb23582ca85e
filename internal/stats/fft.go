package stats

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/pv/labacq-go/internal/acquisition"
)

type WindowType string

const (
	WindowNone     WindowType = "none"
	WindowHann     WindowType = "hann"
	WindowHamming  WindowType = "hamming"
	WindowBlackman WindowType = "blackman"
)

// Spectrum is the single-sided amplitude spectrum of one snapshot.
// Bin 0 is DC; the dominant frequency is the strongest non-DC bin.
type Spectrum struct {
	Frequencies []float64 `json:"frequencies"`
	Magnitude   []float64 `json:"magnitude"`
	Phase       []float64 `json:"phase"`
	BinWidth    float64   `json:"bin_width"`

	DominantFrequency float64 `json:"dominant_frequency"`
	DominantMagnitude float64 `json:"dominant_magnitude"`
	THD               float64 `json:"thd"`
	SNRdB             float64 `json:"snr_db"`
}

// ComputeFFT transforms a snapshot into its amplitude spectrum. The
// window is applied before the transform; sampleRate <= 0 means
// estimate it from the snapshot's timestamps.
func ComputeFFT(samples []acquisition.Sample, sampleRate float64, win WindowType) (Spectrum, error) {
	n := len(samples)
	if n < 4 {
		return Spectrum{}, fmt.Errorf("%w: fft needs at least 4 samples, have %d", ErrInsufficientData, n)
	}
	if sampleRate <= 0 {
		sampleRate = estimateRate(samples)
		if sampleRate <= 0 {
			return Spectrum{}, fmt.Errorf("%w: cannot derive sample rate", ErrInsufficientData)
		}
	}

	vals := values(samples)
	switch win {
	case WindowNone, "":
	case WindowHann:
		window.Hann(vals)
	case WindowHamming:
		window.Hamming(vals)
	case WindowBlackman:
		window.Blackman(vals)
	default:
		return Spectrum{}, fmt.Errorf("unknown window %q", win)
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, vals)

	bins := len(coeffs)
	sp := Spectrum{
		Frequencies: make([]float64, bins),
		Magnitude:   make([]float64, bins),
		Phase:       make([]float64, bins),
		BinWidth:    sampleRate / float64(n),
	}
	for i, c := range coeffs {
		sp.Frequencies[i] = float64(i) * sp.BinWidth
		// single-sided scaling: interior bins carry both halves
		scale := 2.0 / float64(n)
		if i == 0 || (n%2 == 0 && i == bins-1) {
			scale = 1.0 / float64(n)
		}
		sp.Magnitude[i] = cmplx.Abs(c) * scale
		sp.Phase[i] = cmplx.Phase(c)
	}

	dom := dominantBin(sp.Magnitude)
	if dom > 0 {
		sp.DominantFrequency = sp.Frequencies[dom]
		sp.DominantMagnitude = sp.Magnitude[dom]
		sp.THD = harmonicDistortion(sp.Magnitude, dom)
		sp.SNRdB = signalToNoise(sp.Magnitude, dom)
	}
	return sp, nil
}

// dominantBin returns the index of the strongest bin excluding DC
func dominantBin(magnitude []float64) int {
	dom := 0
	for i := 1; i < len(magnitude); i++ {
		if dom == 0 || magnitude[i] > magnitude[dom] {
			dom = i
		}
	}
	return dom
}

// harmonicDistortion is the ratio of harmonic energy to fundamental
// energy: sqrt(sum(A_k^2, k>=2)) / A_1 over the harmonics that fall
// inside the spectrum.
func harmonicDistortion(magnitude []float64, fundamental int) float64 {
	if magnitude[fundamental] == 0 {
		return 0
	}
	harmEnergy := 0.0
	for k := 2; k*fundamental < len(magnitude); k++ {
		a := magnitude[k*fundamental]
		harmEnergy += a * a
	}
	return math.Sqrt(harmEnergy) / magnitude[fundamental]
}

// signalToNoise is the fundamental energy over all remaining non-DC
// energy, in dB.
func signalToNoise(magnitude []float64, fundamental int) float64 {
	signal := magnitude[fundamental] * magnitude[fundamental]
	noise := 0.0
	for i := 1; i < len(magnitude); i++ {
		if i == fundamental {
			continue
		}
		noise += magnitude[i] * magnitude[i]
	}
	if noise == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(signal/noise)
}
