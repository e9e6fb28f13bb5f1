package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// agcRelease is the fraction of the distance to the wanted gain covered
	// per frame when the gain rises. Falling gain applies at once.
	agcRelease = 0.25

	// agcMinPeak is the frame peak under which the gain is left alone.
	agcMinPeak = 0.01

	// spectralFloor is the share of each bin's magnitude that survives
	// subtraction.
	spectralFloor = 0.1
)

// ConditionerConfig tunes a [Conditioner]. The zero value is not usable; start
// from [DefaultConditionerConfig].
type ConditionerConfig struct {
	// SampleRate of the frames being processed, in Hz.
	SampleRate int

	// GateThreshold is the frame RMS, on a normalized [-1, 1] scale, below
	// which a frame counts as background noise.
	GateThreshold float64

	// GateHoldFrames is how many consecutive sub-threshold frames pass
	// through before the gate closes and silence is emitted instead.
	GateHoldFrames int

	// HighPassHz and LowPassHz are the cutoffs of the cascaded first-order
	// IIR filters.
	HighPassHz float64
	LowPassHz  float64

	// AGC enables per-frame automatic gain control after filtering. The gain
	// follows AGCTargetPeak/peak, capped at AGCMaxGain.
	AGC           bool
	AGCTargetPeak float64
	AGCMaxGain    float64

	// NoiseProfileFrames enables spectral subtraction when positive: the
	// magnitude spectra of that many sub-threshold frames are averaged into a
	// noise profile, which is then removed from every frame passing the gate.
	NoiseProfileFrames int

	// NoiseReduction scales the profile before it is subtracted.
	NoiseReduction float64
}

// DefaultConditionerConfig returns the settings tuned for child speech at
// [SampleRate]: a 0.02 gate held for 3 frames and an 80–3400 Hz band. AGC
// and spectral subtraction are off.
func DefaultConditionerConfig() ConditionerConfig {
	return ConditionerConfig{
		SampleRate:     SampleRate,
		GateThreshold:  0.02,
		GateHoldFrames: 3,
		HighPassHz:     80,
		LowPassHz:      3400,
		AGCTargetPeak:  0.7,
		AGCMaxGain:     4,
		NoiseReduction: 0.8,
	}
}

// Conditioner cleans capture frames before they reach the ledger and the
// transcription engine. It carries filter memory between frames, so a new
// recording must start with [Conditioner.Reset] (or a fresh Conditioner).
//
// Not safe for concurrent use; it belongs to the capture goroutine.
type Conditioner struct {
	cfg     ConditionerConfig
	hpAlpha float64
	lpAlpha float64

	hpPrevIn  float64
	hpPrevOut float64
	lpPrev    float64

	silentFrames int
	voiced       bool
	lastRMS      float64

	gain float64

	fft         *fourier.FFT
	coeff       []complex128
	noise       []float64
	noiseFrames int
}

// NewConditioner returns a Conditioner for cfg. Zero fields in cfg are
// replaced by their defaults.
func NewConditioner(cfg ConditionerConfig) *Conditioner {
	def := DefaultConditionerConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.GateThreshold <= 0 {
		cfg.GateThreshold = def.GateThreshold
	}
	if cfg.GateHoldFrames <= 0 {
		cfg.GateHoldFrames = def.GateHoldFrames
	}
	if cfg.HighPassHz <= 0 {
		cfg.HighPassHz = def.HighPassHz
	}
	if cfg.LowPassHz <= 0 {
		cfg.LowPassHz = def.LowPassHz
	}
	if cfg.AGCTargetPeak <= 0 {
		cfg.AGCTargetPeak = def.AGCTargetPeak
	}
	if cfg.AGCMaxGain <= 0 {
		cfg.AGCMaxGain = def.AGCMaxGain
	}
	if cfg.NoiseReduction <= 0 {
		cfg.NoiseReduction = def.NoiseReduction
	}

	dt := 1.0 / float64(cfg.SampleRate)
	rcHP := 1.0 / (2 * math.Pi * cfg.HighPassHz)
	rcLP := 1.0 / (2 * math.Pi * cfg.LowPassHz)

	return &Conditioner{
		cfg:     cfg,
		hpAlpha: rcHP / (rcHP + dt),
		lpAlpha: dt / (rcLP + dt),
		gain:    1,
	}
}

// Process conditions one frame and returns a new frame of identical length
// and offset. The input frame is not modified.
//
// Frames whose RMS stays under the gate threshold for GateHoldFrames frames
// in a row come back as all-zero silence; shorter dips pass through so brief
// pauses between words keep their onsets. A frame that passes the gate has
// the noise profile subtracted (once one is established), is band-limited by
// a high-pass then a low-pass filter, and finally gain controlled.
func (c *Conditioner) Process(frame AudioFrame) AudioFrame {
	out := AudioFrame{Samples: make([]int16, len(frame.Samples)), Offset: frame.Offset}
	if len(frame.Samples) == 0 {
		return out
	}

	x := toFloat(frame.Samples)
	rms := rmsFloat(x)
	c.lastRMS = rms

	if rms < c.cfg.GateThreshold {
		c.voiced = false
		c.silentFrames++
		c.learnNoise(x)
		if c.silentFrames >= c.cfg.GateHoldFrames {
			return out
		}
	} else {
		c.voiced = true
		c.silentFrames = 0
	}

	x = c.subtractNoise(x)
	for i, s := range x {
		hp := c.hpAlpha * (c.hpPrevOut + s - c.hpPrevIn)
		c.hpPrevIn = s
		c.hpPrevOut = hp
		c.lpPrev += c.lpAlpha * (hp - c.lpPrev)
		x[i] = c.lpPrev
	}
	if c.cfg.AGC {
		c.applyGain(x)
	}
	for i, v := range x {
		out.Samples[i] = fromFloat(v)
	}
	return out
}

// applyGain scales x in place. The gain drops immediately on a loud frame
// and rises by agcRelease per frame otherwise.
func (c *Conditioner) applyGain(x []float64) {
	var peak float64
	for _, v := range x {
		peak = max(peak, math.Abs(v))
	}
	if peak > agcMinPeak {
		want := min(c.cfg.AGCTargetPeak/peak, c.cfg.AGCMaxGain)
		if want < c.gain {
			c.gain = want
		} else {
			c.gain += (want - c.gain) * agcRelease
		}
	}
	for i := range x {
		x[i] *= c.gain
	}
}

// learnNoise folds the magnitude spectrum of a sub-threshold frame into the
// running noise profile until NoiseProfileFrames frames were seen. Frames of
// a different length than the first are ignored.
func (c *Conditioner) learnNoise(x []float64) {
	if c.cfg.NoiseProfileFrames <= 0 || c.noiseFrames >= c.cfg.NoiseProfileFrames {
		return
	}
	if c.fft == nil {
		c.fft = fourier.NewFFT(len(x))
		c.coeff = make([]complex128, len(x)/2+1)
		c.noise = make([]float64, len(x)/2+1)
	}
	if c.fft.Len() != len(x) {
		return
	}
	n := float64(c.noiseFrames)
	for k, v := range c.fft.Coefficients(c.coeff, x) {
		c.noise[k] = (c.noise[k]*n + cmplx.Abs(v)) / (n + 1)
	}
	c.noiseFrames++
}

// subtractNoise removes the scaled noise profile from every bin of x, keeping
// the phase and at least spectralFloor of the original magnitude. x is
// returned untouched while the profile is incomplete.
func (c *Conditioner) subtractNoise(x []float64) []float64 {
	if c.cfg.NoiseProfileFrames <= 0 || c.noiseFrames < c.cfg.NoiseProfileFrames || c.fft.Len() != len(x) {
		return x
	}
	coeff := c.fft.Coefficients(c.coeff, x)
	for k, v := range coeff {
		mag := cmplx.Abs(v)
		if mag == 0 {
			continue
		}
		clean := max(mag-c.cfg.NoiseReduction*c.noise[k], spectralFloor*mag)
		coeff[k] = v * complex(clean/mag, 0)
	}
	y := c.fft.Sequence(x, coeff)
	scale := 1 / float64(len(y))
	for i := range y {
		y[i] *= scale
	}
	return y
}

// Voiced reports whether the most recently processed frame was above the
// gate threshold.
func (c *Conditioner) Voiced() bool { return c.voiced }

// LastRMS returns the normalized RMS of the most recently processed input
// frame, measured before filtering.
func (c *Conditioner) LastRMS() float64 { return c.lastRMS }

// Reset clears filter memory, the gate counter, the gain and the noise
// profile.
func (c *Conditioner) Reset() {
	c.hpPrevIn = 0
	c.hpPrevOut = 0
	c.lpPrev = 0
	c.silentFrames = 0
	c.voiced = false
	c.lastRMS = 0
	c.gain = 1
	c.noiseFrames = 0
	clear(c.noise)
}

// RMS returns the root-mean-square level of samples on a normalized [-1, 1]
// scale. An empty slice has RMS 0.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	return rmsFloat(toFloat(samples))
}

// RMSNormalize scales a whole utterance so its RMS equals target, clamping
// every sample to the [-1, 1] range. Silent input is returned as a copy.
//
// The acoustic model is trained on audio normalized this way, so target must
// match the training pipeline.
func RMSNormalize(samples []int16, target float64) []int16 {
	out := make([]int16, len(samples))
	x := toFloat(samples)
	rms := rmsFloat(x)
	if rms < 1e-9 || target <= 0 {
		copy(out, samples)
		return out
	}
	gain := target / rms
	for i, s := range x {
		out[i] = fromFloat(s * gain)
	}
	return out
}

// ApplyAGC scales an utterance so its peak sits at targetPeak, with the gain
// capped at maxGain. Utterances with a peak under 0.01 are left at unit gain
// so silence is never amplified into noise.
func ApplyAGC(samples []int16, targetPeak, maxGain float64) []int16 {
	out := make([]int16, len(samples))
	x := toFloat(samples)
	var peak float64
	for _, s := range x {
		peak = max(peak, math.Abs(s))
	}
	gain := 1.0
	if peak > 0.01 {
		gain = min(targetPeak/peak, maxGain)
	}
	for i, s := range x {
		out[i] = fromFloat(s * gain)
	}
	return out
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / 32768
	}
	return out
}

func fromFloat(v float64) int16 {
	v = max(-1, min(1, v))
	return clampInt16(int32(math.Round(v * 32767)))
}

func rmsFloat(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, s := range x {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(x)))
}
