package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/orchestrator"
	"github.com/valperai/valper-gateway/internal/stt"
)

const audioFormField = "audio_file"

// readAudio returns the uploaded audio from the audio_file multipart field,
// or the raw request body for any other content type
func readAudio(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, "", fmt.Errorf("%w: %w", orchestrator.ErrInvalidInput, err)
		}
		file, header, err := r.FormFile(audioFormField)
		if err != nil {
			return nil, "", fmt.Errorf("%w: missing %s", orchestrator.ErrInvalidInput, audioFormField)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", orchestrator.ErrInvalidInput, err)
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", orchestrator.ErrInvalidInput, err)
	}
	return data, mediaType, nil
}

// sampleOptions controls how uploads become recognition input
type sampleOptions struct {
	SampleRate int
	Resample   bool
}

// toSample turns an upload into an AudioSample. WAV and declared raw PCM are
// decoded to mono PCM and brought to the recognition rate when resampling is
// enabled; compressed containers are passed through for the engines to decode. rawRate is the
// declared rate of headerless PCM, zero meaning the recognition rate.
func toSample(data []byte, contentType string, rawRate int, opts sampleOptions, logger zerolog.Logger) (stt.AudioSample, error) {
	if len(data) == 0 {
		return stt.AudioSample{}, fmt.Errorf("%w: empty audio", orchestrator.ErrInvalidInput)
	}

	if audio.IsWAV(data) {
		pcm, format, err := audio.DecodeWAV(data)
		if err != nil {
			return stt.AudioSample{}, fmt.Errorf("%w: %v", orchestrator.ErrInvalidInput, err)
		}
		if len(pcm) == 0 {
			return stt.AudioSample{}, fmt.Errorf("%w: WAV has no samples", orchestrator.ErrInvalidInput)
		}
		return conformRate(pcm, format.SampleRate, opts, logger)
	}

	switch strings.ToLower(contentType) {
	case "audio/pcm", "audio/l16", "audio/x-raw":
		if len(data)%2 != 0 {
			return stt.AudioSample{}, fmt.Errorf("%w: odd-length 16-bit PCM", orchestrator.ErrInvalidInput)
		}
		if rawRate <= 0 {
			rawRate = opts.SampleRate
		}
		return conformRate(data, rawRate, opts, logger)
	case "audio/basic", "audio/pcmu":
		pcm, err := audio.ConvertPCMUToPCM(data)
		if err != nil {
			return stt.AudioSample{}, fmt.Errorf("%w: %v", orchestrator.ErrInvalidInput, err)
		}
		if rawRate <= 0 {
			rawRate = 8000
		}
		return conformRate(pcm, rawRate, opts, logger)
	}

	if encoding := sniffContainer(data); encoding != "" {
		return stt.AudioSample{Data: data, Encoding: encoding}, nil
	}
	return stt.AudioSample{}, fmt.Errorf("%w: unsupported audio format", orchestrator.ErrInvalidInput)
}

func conformRate(pcm []byte, rate int, opts sampleOptions, logger zerolog.Logger) (stt.AudioSample, error) {
	if rate != opts.SampleRate {
		if !opts.Resample {
			logger.Warn().
				Int("sample_rate", rate).
				Int("expected_sample_rate", opts.SampleRate).
				Msg("Audio sample rate differs from recognition rate, passing through")
			return stt.AudioSample{Data: pcm, SampleRate: rate, Encoding: audio.EncodingPCM16}, nil
		}
		resampled, err := audio.ResamplePCM(pcm, rate, opts.SampleRate)
		if err != nil {
			return stt.AudioSample{}, fmt.Errorf("%w: %v", orchestrator.ErrInvalidInput, err)
		}
		pcm, rate = resampled, opts.SampleRate
	}
	return stt.AudioSample{Data: pcm, SampleRate: rate, Encoding: audio.EncodingPCM16}, nil
}

// sniffContainer recognizes compressed formats by their magic bytes
func sniffContainer(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("ID3")),
		len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return audio.EncodingMP3
	case bytes.HasPrefix(data, []byte("OggS")):
		return audio.EncodingOgg
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return audio.EncodingWebM
	}
	return ""
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", orchestrator.ErrInvalidInput, name)
	}
	return n, nil
}

// isTooLarge reports whether err came from MaxBytesReader
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
