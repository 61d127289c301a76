package pcm

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mewkiz/flac"
)

const wavHeaderSize = 44

// DecodeFile reads a WAV or FLAC recording and returns its raw 16-bit LE
// mono PCM payload, for feeding the fake capture in replay mode.
func DecodeFile(path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return DecodeWAV(data)
	case ".flac":
		return DecodeFLAC(path)
	default:
		return nil, fmt.Errorf("unsupported audio file %q (use .wav or .flac)", path)
	}
}

// DecodeWAV strips the canonical 44-byte RIFF header. Input is expected
// to already be 16 kHz 16-bit mono, matching the capture format.
func DecodeWAV(data []byte) ([]byte, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAV file")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != SampleRate {
		return nil, fmt.Errorf("WAV sample rate %d, want %d", rate, SampleRate)
	}
	return data[wavHeaderSize:], nil
}

// DecodeFLAC decodes a FLAC stream to raw 16-bit LE mono PCM. Multi-channel
// input is downmixed by taking the first channel.
func DecodeFLAC(path string) ([]byte, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("flac parse: %w", err)
	}
	defer stream.Close()

	if stream.Info.SampleRate != SampleRate {
		return nil, fmt.Errorf("FLAC sample rate %d, want %d", stream.Info.SampleRate, SampleRate)
	}
	shift := 0
	if stream.Info.BitsPerSample > BitsPerSample {
		shift = int(stream.Info.BitsPerSample) - BitsPerSample
	}

	var out []byte
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break
		}
		sub := frame.Subframes[0]
		for _, sample := range sub.Samples {
			s := sample >> shift
			if s > 32767 {
				s = 32767
			} else if s < -32768 {
				s = -32768
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(int16(s)))
		}
	}
	return out, nil
}
