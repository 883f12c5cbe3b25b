package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Encoding tags carried alongside raw audio payloads
const (
	EncodingPCM16 = "pcm_s16le" // raw little-endian 16-bit mono PCM
	EncodingMulaw = "mulaw"
	EncodingWAV   = "wav"
	EncodingMP3   = "mp3"
	EncodingOgg   = "ogg"
	EncodingWebM  = "webm"
)

const (
	wavFormatPCM        = 1
	wavFormatMulaw      = 7
	wavFormatExtensible = 0xFFFE
)

// ErrNotWAV is returned when a payload has no RIFF/WAVE header
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE payload")

// Format describes decoded PCM audio
type Format struct {
	SampleRate int
	Channels   int
	// SourceEncoding is the encoding found in the container before decoding
	SourceEncoding string
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte WAV header
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	dataSize := len(pcm)
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	// RIFF header
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	// fmt chunk
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	// data chunk
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV extracts mono 16-bit PCM from a WAV payload.
// μ-law data is expanded and multi-channel data is averaged down to mono.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if !IsWAV(data) {
		return nil, Format{}, ErrNotWAV
	}

	var (
		format   uint16
		channels uint16
		rate     uint32
		bits     uint16
		haveFmt  bool
		payload  []byte
	)

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			// Streaming writers often leave the data size unset
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Format{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", end-body)
			}
			format = binary.LittleEndian.Uint16(data[body:])
			channels = binary.LittleEndian.Uint16(data[body+2:])
			rate = binary.LittleEndian.Uint32(data[body+4:])
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			payload = data[body:end]
		}

		// Chunks are word aligned
		offset = end + size%2
		if payload != nil && haveFmt {
			break
		}
	}

	if !haveFmt {
		return nil, Format{}, fmt.Errorf("audio: missing fmt chunk")
	}
	if payload == nil {
		return nil, Format{}, fmt.Errorf("audio: missing data chunk")
	}
	if channels == 0 {
		return nil, Format{}, fmt.Errorf("audio: zero channels")
	}

	var (
		pcm    []byte
		source string
		err    error
	)
	switch {
	case (format == wavFormatPCM || format == wavFormatExtensible) && bits == 16:
		source = EncodingPCM16
		pcm = payload[:len(payload)-len(payload)%2]
	case format == wavFormatMulaw && bits == 8:
		source = EncodingMulaw
		if len(payload) == 0 {
			pcm = nil
			break
		}
		pcm, err = ConvertPCMUToPCM(payload)
		if err != nil {
			return nil, Format{}, err
		}
	default:
		return nil, Format{}, fmt.Errorf("audio: unsupported WAV format %d with %d bits", format, bits)
	}

	if channels > 1 {
		pcm, err = downmix(pcm, int(channels))
		if err != nil {
			return nil, Format{}, err
		}
	}

	return pcm, Format{SampleRate: int(rate), Channels: 1, SourceEncoding: source}, nil
}

func downmix(pcm []byte, channels int) ([]byte, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return nil, err
	}
	frames := len(samples) / channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return SamplesToBytes(mono), nil
}
