package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestPCMToFloat32(t *testing.T) {
	got := pcmToFloat32(append(pcm(0, 16384, -32768), 0x7f))
	want := []float32{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestChunkRMS(t *testing.T) {
	if got := chunkRMS(nil); got != 0 {
		t.Errorf("empty RMS = %v", got)
	}
	if got := chunkRMS(pcm(300, -300, 300, -300)); math.Abs(got-300) > 1e-9 {
		t.Errorf("RMS = %v, want 300", got)
	}
}

func TestWordConfidence(t *testing.T) {
	tests := []struct {
		name string
		toks []tokenScore
		want float64
	}{
		{"no tokens", nil, 0},
		{"specials skipped", []tokenScore{{"[_BEG_]", 0.1}, {" cat", 0.9}, {"<|endoftext|>", 0.2}}, 0.9},
		{"mean of word pieces", []tokenScore{{" fea", 0.8}, {"ther", 0.6}}, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wordConfidence(tt.toks); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("wordConfidence = %v, want %v", got, tt.want)
			}
		})
	}
}
