// Package sample loads WAV files into mono float buffers at the output
// device rate. Decoding covers PCM 8/16/24/32 and 32-bit float; channels
// are averaged to mono and resampled with linear interpolation.
package sample

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
)

// Loaded is a decoded sample ready for voice assignment.
type Loaded struct {
	SourceSampleRateHz uint32
	Mono               []float32
}

var errUnsupportedEncoding = errors.New("unsupported WAV sample encoding")

const (
	formatPCM       = 1
	formatIEEEFloat = 3
)

// LoadMono reads, decodes and resamples a WAV file. targetRateHz of zero is
// treated as 1 to keep the resampler defined.
func LoadMono(path string, targetRateHz uint32) (Loaded, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("open sample file: %w", err)
	}
	if len(bytes) == 0 {
		return Loaded{}, fmt.Errorf("sample file is empty: %s", path)
	}
	return DecodeMono(bytes, targetRateHz)
}

// DecodeMono decodes an in-memory WAV image.
func DecodeMono(bytes []byte, targetRateHz uint32) (Loaded, error) {
	if len(bytes) < 44 || string(bytes[0:4]) != "RIFF" || string(bytes[8:12]) != "WAVE" {
		return Loaded{}, errors.New("sample must be a RIFF/WAVE file")
	}

	var (
		format        uint16
		channels      uint16
		bitsPerSample uint16
		sampleRateHz  uint32
		data          []byte
	)

	offset := 12
	for offset+8 <= len(bytes) {
		chunkID := string(bytes[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(bytes[offset+4 : offset+8]))
		payloadStart := offset + 8
		if chunkSize < 0 || payloadStart+chunkSize > len(bytes) {
			return Loaded{}, errors.New("invalid WAV chunk size")
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Loaded{}, errors.New("invalid WAV fmt chunk")
			}
			fmtChunk := bytes[payloadStart:]
			format = binary.LittleEndian.Uint16(fmtChunk[0:2])
			channels = binary.LittleEndian.Uint16(fmtChunk[2:4])
			sampleRateHz = binary.LittleEndian.Uint32(fmtChunk[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(fmtChunk[14:16])
		case "data":
			data = bytes[payloadStart : payloadStart+chunkSize]
		}

		// Chunks are word aligned.
		offset = payloadStart + chunkSize + (chunkSize & 1)
	}

	if format == 0 || channels == 0 || bitsPerSample == 0 || sampleRateHz == 0 || len(data) == 0 {
		return Loaded{}, errors.New("missing required WAV chunks")
	}

	bytesPerSample := int(bitsPerSample / 8)
	if bytesPerSample == 0 {
		return Loaded{}, errors.New("invalid bits-per-sample in WAV")
	}
	bytesPerFrame := bytesPerSample * int(channels)
	if len(data) < bytesPerFrame {
		return Loaded{}, errors.New("invalid WAV frame layout")
	}
	frameCount := len(data) / bytesPerFrame
	if frameCount == 0 {
		return Loaded{}, errors.New("WAV has no audio frames")
	}

	mono := make([]float32, 0, frameCount)
	for frame := 0; frame < frameCount; frame++ {
		frameData := data[frame*bytesPerFrame:]
		var mixed float32
		for ch := 0; ch < int(channels); ch++ {
			value, err := decodeSample(frameData[ch*bytesPerSample:], format, bitsPerSample)
			if err != nil {
				return Loaded{}, err
			}
			mixed += value
		}
		mixed /= float32(channels)
		if mixed > 1 {
			mixed = 1
		} else if mixed < -1 {
			mixed = -1
		}
		mono = append(mono, mixed)
	}

	if targetRateHz == 0 {
		targetRateHz = 1
	}
	out := Loaded{
		SourceSampleRateHz: sampleRateHz,
		Mono:               resampleLinear(mono, sampleRateHz, targetRateHz),
	}
	if len(out.Mono) == 0 {
		return Loaded{}, errors.New("decoded sample is empty")
	}
	return out, nil
}

func decodeSample(bytes []byte, format, bitsPerSample uint16) (float32, error) {
	if format == formatPCM {
		switch bitsPerSample {
		case 8:
			return (float32(bytes[0]) - 128) / 128, nil
		case 16:
			return float32(int16(binary.LittleEndian.Uint16(bytes))) / 32768, nil
		case 24:
			value := int32(bytes[0]) | int32(bytes[1])<<8 | int32(bytes[2])<<16
			if value&0x800000 != 0 {
				value |= ^int32(0xFFFFFF)
			}
			return float32(value) / 8388608, nil
		case 32:
			return float32(int32(binary.LittleEndian.Uint32(bytes))) / 2147483648, nil
		}
	} else if format == formatIEEEFloat && bitsPerSample == 32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(bytes)), nil
	}
	return 0, errUnsupportedEncoding
}

func resampleLinear(input []float32, sourceRateHz, targetRateHz uint32) []float32 {
	if len(input) == 0 || sourceRateHz == 0 || targetRateHz == 0 || sourceRateHz == targetRateHz {
		return input
	}

	ratio := float64(sourceRateHz) / float64(targetRateHz)
	outputLength := int(math.Round(float64(len(input)) / ratio))
	if outputLength < 1 {
		outputLength = 1
	}

	output := make([]float32, outputLength)
	last := len(input) - 1
	for i := range output {
		sourcePos := float64(i) * ratio
		lower := int(sourcePos)
		if lower > last {
			lower = last
		}
		upper := lower + 1
		if upper > last {
			upper = last
		}
		fraction := float32(sourcePos - float64(lower))
		output[i] = input[lower] + (input[upper]-input[lower])*fraction
	}
	return output
}
