package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/valperai/valper-gateway/internal/audio"
	"github.com/valperai/valper-gateway/internal/orchestrator"
)

func TestToSample(t *testing.T) {
	pcm16k := make([]byte, 3200)
	opts := sampleOptions{SampleRate: 16000, Resample: true}

	tests := []struct {
		name        string
		data        []byte
		contentType string
		rawRate     int
		opts        sampleOptions
		wantRate    int
		wantLen     int
		wantEnc     string
		wantErr     bool
	}{
		{name: "wav at target rate", data: audio.EncodeWAV(pcm16k, 16000, 1), opts: opts, wantRate: 16000, wantLen: 3200, wantEnc: audio.EncodingPCM16},
		{name: "wav resampled", data: audio.EncodeWAV(make([]byte, 1600), 8000, 1), opts: opts, wantRate: 16000, wantLen: 3200, wantEnc: audio.EncodingPCM16},
		{name: "wav passthrough", data: audio.EncodeWAV(make([]byte, 1600), 8000, 1), opts: sampleOptions{SampleRate: 16000}, wantRate: 8000, wantLen: 1600, wantEnc: audio.EncodingPCM16},
		{name: "raw pcm default rate", data: pcm16k, contentType: "audio/pcm", opts: opts, wantRate: 16000, wantLen: 3200, wantEnc: audio.EncodingPCM16},
		{name: "raw pcm declared rate", data: make([]byte, 1600), contentType: "audio/L16", rawRate: 8000, opts: opts, wantRate: 16000, wantLen: 3200, wantEnc: audio.EncodingPCM16},
		{name: "mulaw", data: bytes.Repeat([]byte{0xFF}, 800), contentType: "audio/basic", opts: opts, wantRate: 16000, wantLen: 3200, wantEnc: audio.EncodingPCM16},
		{name: "mp3 passthrough", data: []byte("ID3\x04\x00rest"), opts: opts, wantLen: 9, wantEnc: audio.EncodingMP3},
		{name: "ogg passthrough", data: []byte("OggS\x00\x02"), opts: opts, wantLen: 6, wantEnc: audio.EncodingOgg},
		{name: "webm passthrough", data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, opts: opts, wantLen: 5, wantEnc: audio.EncodingWebM},
		{name: "empty", data: nil, opts: opts, wantErr: true},
		{name: "odd raw pcm", data: make([]byte, 3), contentType: "audio/pcm", opts: opts, wantErr: true},
		{name: "empty wav", data: audio.EncodeWAV(nil, 16000, 1), opts: opts, wantErr: true},
		{name: "unknown", data: []byte("hello world"), contentType: "text/plain", opts: opts, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, err := toSample(tt.data, tt.contentType, tt.rawRate, tt.opts, zerolog.Nop())
			if tt.wantErr {
				if !errors.Is(err, orchestrator.ErrInvalidInput) {
					t.Errorf("Expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if sample.SampleRate != tt.wantRate || len(sample.Data) != tt.wantLen || sample.Encoding != tt.wantEnc {
				t.Errorf("Got rate=%d len=%d enc=%s, want rate=%d len=%d enc=%s",
					sample.SampleRate, len(sample.Data), sample.Encoding, tt.wantRate, tt.wantLen, tt.wantEnc)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{query: "", want: 0},
		{query: "?sample_rate=8000", want: 8000},
		{query: "?sample_rate=abc", wantErr: true},
		{query: "?sample_rate=-1", wantErr: true},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/stt"+tt.query, nil)
		got, err := queryInt(r, "sample_rate")
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: unexpected error %v", tt.query, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.query, tt.want, got)
		}
	}
}

func TestReadAudioRawBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/stt", bytes.NewReader([]byte{1, 2, 3, 4}))
	r.Header.Set("Content-Type", "audio/pcm; rate=16000")
	data, contentType, err := readAudio(httptest.NewRecorder(), r, 1024)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(data) != 4 || contentType != "audio/pcm" {
		t.Errorf("Got %d bytes with %q", len(data), contentType)
	}
}

func TestReadAudioTooLarge(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/stt", bytes.NewReader(make([]byte, 100)))
	r.Header.Set("Content-Type", "audio/pcm")
	_, _, err := readAudio(httptest.NewRecorder(), r, 10)
	if !isTooLarge(err) {
		t.Errorf("Expected MaxBytesError, got %v", err)
	}
}
