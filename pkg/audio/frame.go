package audio

import (
	"encoding/binary"
	"time"
)

// SampleRate is the fixed rate, in Hz, of every frame that enters the
// assessment pipeline. Capture at other rates is converted on ingestion.
const SampleRate = 16000

// AudioFrame is a fixed-size run of signed 16-bit mono samples at
// [SampleRate], tagged with the absolute offset of its first sample.
// Offsets grow monotonically for the lifetime of a recording.
type AudioFrame struct {
	// Samples holds the PCM data. Callers must not retain it after handing the
	// frame to a component that may modify it in place.
	Samples []int16

	// Offset is the absolute sample index of Samples[0], counted from the
	// start of the recording.
	Offset int64
}

// End returns the absolute offset one past the last sample in f.
func (f AudioFrame) End() int64 { return f.Offset + int64(len(f.Samples)) }

// Duration returns the playback length of f at [SampleRate].
func (f AudioFrame) Duration() time.Duration {
	return SamplesToDuration(int64(len(f.Samples)), SampleRate)
}

// SamplesToDuration converts a sample count at rate to a duration.
func SamplesToDuration(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// DurationToSamples converts d to a sample count at rate, rounding down.
func DurationToSamples(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int64(d) * int64(rate) / int64(time.Second)
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples. A trailing
// odd byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// EncodePCM16 converts samples to little-endian 16-bit PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Framer slices an arbitrary-length sample stream into frames of a fixed
// size, assigning each one its absolute offset. Not safe for concurrent use.
type Framer struct {
	size    int
	pending []int16
	next    int64
}

// NewFramer returns a Framer emitting frames of size samples. A size of zero
// or less falls back to 20 ms at [SampleRate].
func NewFramer(size int) *Framer {
	if size <= 0 {
		size = SampleRate / 50
	}
	return &Framer{size: size}
}

// Push appends samples and returns every complete frame now available.
// Leftover samples are held until the next Push or [Framer.Flush].
func (f *Framer) Push(samples []int16) []AudioFrame {
	f.pending = append(f.pending, samples...)
	var frames []AudioFrame
	for len(f.pending) >= f.size {
		buf := make([]int16, f.size)
		copy(buf, f.pending[:f.size])
		frames = append(frames, AudioFrame{Samples: buf, Offset: f.next})
		f.next += int64(f.size)
		f.pending = f.pending[f.size:]
	}
	return frames
}

// Flush returns any held partial frame. ok is false when nothing is pending.
func (f *Framer) Flush() (frame AudioFrame, ok bool) {
	if len(f.pending) == 0 {
		return AudioFrame{}, false
	}
	buf := make([]int16, len(f.pending))
	copy(buf, f.pending)
	frame = AudioFrame{Samples: buf, Offset: f.next}
	f.next += int64(len(buf))
	f.pending = f.pending[:0]
	return frame, true
}

// Offset returns the absolute offset the next emitted frame will carry.
func (f *Framer) Offset() int64 { return f.next }
