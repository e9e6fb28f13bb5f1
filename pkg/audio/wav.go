package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DecodeWAV parses a RIFF/WAVE file holding 16-bit integer PCM and returns
// its interleaved samples and format. Chunks other than "fmt " and "data"
// are skipped.
func DecodeWAV(wav []byte) ([]int16, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		f        Format
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return nil, Format{}, errors.New("audio: truncated fmt chunk")
			}
			fmtData := wav[body:]
			if tag := binary.LittleEndian.Uint16(fmtData[0:2]); tag != 1 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding %d, want PCM", tag)
			}
			if bits := binary.LittleEndian.Uint16(fmtData[14:16]); bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV sample size %d bits, want 16", bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return nil, Format{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			return DecodePCM16(wav[body:end]), f, nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}
	return nil, Format{}, errors.New("audio: WAV file has no data chunk")
}

// EncodeWAV writes samples as a 16-bit PCM RIFF/WAVE file.
func EncodeWAV(samples []int16, f Format) []byte {
	data := EncodePCM16(samples)
	out := make([]byte, 44, 44+len(data))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(data)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.SampleRate*f.Channels*2))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.Channels*2))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(data)))
	return append(out, data...)
}
