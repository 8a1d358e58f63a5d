package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WavInfo is the parsed shape of a WAV artifact.
type WavInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	// DurationS is derived from the data chunk length.
	DurationS float64
}

// ParseWAV reads the RIFF header and locates the fmt and data chunks. Only
// PCM files are accepted; TTS engines produce nothing else.
func ParseWAV(data []byte) (WavInfo, error) {
	var info WavInfo
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, fmt.Errorf("not a RIFF/WAVE file")
	}

	var dataLen int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return info, fmt.Errorf("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return info, fmt.Errorf("unsupported WAV format %d, want PCM", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			dataLen = size
		}

		// Chunks are word-aligned.
		pos = body + size + size%2
	}

	if info.SampleRate == 0 || info.Channels == 0 || info.BitsPerSample == 0 {
		return info, fmt.Errorf("missing fmt chunk")
	}
	if dataLen == 0 {
		return info, fmt.Errorf("missing data chunk")
	}

	bytesPerSecond := info.SampleRate * info.Channels * info.BitsPerSample / 8
	info.DurationS = float64(dataLen) / float64(bytesPerSecond)
	return info, nil
}

// EncodePCM16 wraps mono 16-bit samples in a WAV container.
func EncodePCM16(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
