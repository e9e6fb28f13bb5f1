package onnx

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FeatureCount is the length of the vector the model consumes: per-coefficient
// means, mean deltas and mean delta-deltas.
const FeatureCount = 3 * numCoeffs

const (
	numCoeffs  = 13
	numFilters = 26
	fftSize    = 512
	hopSize    = 160
)

// Extractor computes MFCC features for 16 kHz audio. The filterbank and
// window are precomputed. An Extractor is safe for concurrent use: each MFCC
// call plans its own transform, since a [fourier.FFT] carries work buffers.
type Extractor struct {
	window  []float64
	filters [][]float64
}

// NewExtractor returns an Extractor for sampleRate.
func NewExtractor(sampleRate int) *Extractor {
	e := &Extractor{
		window:  make([]float64, fftSize),
		filters: melFilterbank(sampleRate),
	}
	for i := range e.window {
		e.window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(fftSize-1))
	}
	return e
}

// MFCC returns one row of numCoeffs coefficients per frame. Audio shorter
// than one frame is zero-padded to a single frame; empty audio has no frames.
func (e *Extractor) MFCC(samples []int16) [][]float64 {
	if len(samples) == 0 {
		return nil
	}
	frames := 1
	if len(samples) > fftSize {
		frames = (len(samples)-fftSize)/hopSize + 1
	}

	out := make([][]float64, frames)
	fft := fourier.NewFFT(fftSize)
	frame := make([]float64, fftSize)
	power := make([]float64, fftSize/2+1)
	mel := make([]float64, numFilters)
	for f := range frames {
		start := f * hopSize
		for i := range frame {
			var v float64
			if start+i < len(samples) {
				v = float64(samples[start+i]) / 32768
			}
			frame[i] = v * e.window[i]
		}
		powerSpectrum(fft, frame, power)

		for m, filt := range e.filters {
			var sum float64
			for k, w := range filt {
				if w == 0 {
					continue
				}
				sum += power[k] * w
			}
			mel[m] = math.Log(sum + 1e-10)
		}
		out[f] = dct(mel)
	}
	return out
}

// Features reduces MFCC frames to the model's input vector. With a single
// frame the deltas are zero.
func Features(frames [][]float64) []float32 {
	feat := make([]float32, FeatureCount)
	n := len(frames)
	if n == 0 {
		return feat
	}
	for c := range numCoeffs {
		var sum float64
		for _, fr := range frames {
			sum += fr[c]
		}
		feat[c] = float32(sum / float64(n))
	}

	// Per-frame first differences, zero for the first frame.
	diffs := make([][]float64, n)
	diffs[0] = make([]float64, numCoeffs)
	for f := 1; f < n; f++ {
		diffs[f] = make([]float64, numCoeffs)
		for c := range numCoeffs {
			diffs[f][c] = frames[f][c] - frames[f-1][c]
		}
	}
	delta := meanDelta(frames)
	deltaDelta := meanDelta(diffs)
	for c := range numCoeffs {
		feat[numCoeffs+c] = float32(delta[c])
		feat[2*numCoeffs+c] = float32(deltaDelta[c])
	}
	return feat
}

// meanDelta is the mean difference between consecutive frames, per
// coefficient.
func meanDelta(frames [][]float64) []float64 {
	out := make([]float64, numCoeffs)
	if len(frames) < 2 {
		return out
	}
	for c := range numCoeffs {
		var sum float64
		for f := 1; f < len(frames); f++ {
			sum += frames[f][c] - frames[f-1][c]
		}
		out[c] = sum / float64(len(frames)-1)
	}
	return out
}

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterbank builds numFilters triangular filters spaced evenly on the
// mel scale from 0 Hz to Nyquist, over the fftSize/2+1 power bins.
func melFilterbank(sampleRate int) [][]float64 {
	bins := fftSize/2 + 1
	low, high := hzToMel(0), hzToMel(float64(sampleRate)/2)
	points := make([]int, numFilters+2)
	for i := range points {
		mel := low + (high-low)*float64(i)/float64(numFilters+1)
		points[i] = int(float64(fftSize+1) * melToHz(mel) / float64(sampleRate))
	}

	filters := make([][]float64, numFilters)
	for i := range filters {
		f := make([]float64, bins)
		left, center, right := points[i], points[i+1], points[i+2]
		for k := left; k < center && k < bins; k++ {
			f[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k < right && k < bins; k++ {
			f[k] = float64(right-k) / float64(right-center)
		}
		filters[i] = f
	}
	return filters
}

// dct is the unnormalized DCT-II of the log mel energies, truncated to
// numCoeffs.
func dct(mel []float64) []float64 {
	out := make([]float64, numCoeffs)
	n := float64(len(mel))
	for i := range out {
		var sum float64
		for j, v := range mel {
			sum += v * math.Cos(math.Pi*float64(i)*(float64(j)+0.5)/n)
		}
		out[i] = sum
	}
	return out
}

// powerSpectrum writes the squared magnitude of each of the len(frame)/2+1
// real-input DFT bins of frame into dst.
func powerSpectrum(fft *fourier.FFT, frame, dst []float64) {
	for k, c := range fft.Coefficients(nil, frame) {
		m := cmplx.Abs(c)
		dst[k] = m * m
	}
}
