package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a capture stream.
type Format struct {
	SampleRate int
	Channels   int
}

// PipelineFormat is the format every frame is converted to before
// conditioning: [SampleRate] mono.
var PipelineFormat = Format{SampleRate: SampleRate, Channels: 1}

func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts interleaved 16-bit capture data to
// [PipelineFormat]. It logs a warning on the first format mismatch.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Source         Format
	warnedMismatch sync.Once
}

// Convert returns samples in [PipelineFormat]. If the source already matches,
// the input is returned unchanged. Channels are mixed down before resampling
// so the resampler only ever sees mono data.
func (c *FormatConverter) Convert(samples []int16) []int16 {
	if c.Source == PipelineFormat || c.Source.SampleRate <= 0 {
		return samples
	}
	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", c.Source.String(),
			"to", PipelineFormat.String(),
		)
	})
	if c.Source.Channels > 1 {
		samples = Downmix(samples, c.Source.Channels)
	}
	return Resample(samples, c.Source.SampleRate, SampleRate)
}

// Downmix averages interleaved multi-channel samples into mono. Trailing
// samples that do not form a whole frame are dropped.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = clampInt16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(samples[idx])
		s1 := s0
		if idx+1 < len(samples) {
			s1 = float64(samples[idx+1])
		}
		out[i] = int16(s0*(1-frac) + s1*frac)
	}
	return out
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
