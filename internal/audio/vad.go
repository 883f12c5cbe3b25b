package audio

import "time"

// VADConfig holds configuration for utterance segmentation
type VADConfig struct {
	EnergyThreshold float64       // RMS energy threshold for speech detection
	FrameDuration   time.Duration // Analysis frame length
	SilenceDuration time.Duration // Trailing silence that ends an utterance
	MaxUtterance    time.Duration // Hard cap on a single utterance
}

// DefaultVADConfig returns a default VAD configuration
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 500.0,
		FrameDuration:   20 * time.Millisecond,
		SilenceDuration: 800 * time.Millisecond,
		MaxUtterance:    30 * time.Second,
	}
}

// Segmenter splits a stream of 16-bit mono PCM into utterances.
// An utterance ends after SilenceDuration of frames below the energy
// threshold, or when it reaches MaxUtterance. Leading silence is dropped.
// A Segmenter is not safe for concurrent use.
type Segmenter struct {
	cfg           VADConfig
	frameBytes    int
	silenceFrames int
	maxBytes      int

	partial   []byte
	utterance []byte
	speaking  bool
	silent    int
}

// NewSegmenter creates a segmenter for PCM at sampleRate
func NewSegmenter(cfg VADConfig, sampleRate int) *Segmenter {
	def := DefaultVADConfig()
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}

	samplesPerFrame := int(int64(sampleRate) * int64(cfg.FrameDuration) / int64(time.Second))
	if samplesPerFrame < 1 {
		samplesPerFrame = 1
	}
	silenceFrames := int(cfg.SilenceDuration / cfg.FrameDuration)
	if silenceFrames < 1 {
		silenceFrames = 1
	}

	return &Segmenter{
		cfg:           cfg,
		frameBytes:    samplesPerFrame * 2,
		silenceFrames: silenceFrames,
		maxBytes:      int(int64(sampleRate)*int64(cfg.MaxUtterance)/int64(time.Second)) * 2,
	}
}

// Write feeds PCM into the segmenter and returns any utterances it completed
func (s *Segmenter) Write(pcm []byte) [][]byte {
	var done [][]byte

	s.partial = append(s.partial, pcm...)
	for len(s.partial) >= s.frameBytes {
		frame := s.partial[:s.frameBytes]
		if u := s.processFrame(frame); u != nil {
			done = append(done, u)
		}
		s.partial = s.partial[s.frameBytes:]
	}

	// Keep the partial frame in its own backing array
	s.partial = append([]byte(nil), s.partial...)
	return done
}

// Flush returns the utterance in progress, if speech was heard, and resets state
func (s *Segmenter) Flush() []byte {
	var out []byte
	if s.speaking {
		out = append(s.utterance, s.partial[:len(s.partial)-len(s.partial)%2]...)
	}
	s.Reset()
	return out
}

// Reset discards all buffered audio
func (s *Segmenter) Reset() {
	s.partial = nil
	s.utterance = nil
	s.speaking = false
	s.silent = 0
}

// IsSpeaking returns whether an utterance is in progress
func (s *Segmenter) IsSpeaking() bool {
	return s.speaking
}

func (s *Segmenter) processFrame(frame []byte) []byte {
	samples, _ := BytesToSamples(frame)
	hasSpeech := CalculateRMS(samples) > s.cfg.EnergyThreshold

	if !s.speaking {
		if !hasSpeech {
			return nil
		}
		s.speaking = true
		s.silent = 0
	}

	s.utterance = append(s.utterance, frame...)
	if hasSpeech {
		s.silent = 0
	} else {
		s.silent++
	}

	if s.silent >= s.silenceFrames || (s.maxBytes > 0 && len(s.utterance) >= s.maxBytes) {
		out := s.utterance
		s.utterance = nil
		s.speaking = false
		s.silent = 0
		return out
	}
	return nil
}

// DetectSilence reports whether PCM stays below the energy threshold throughout
func DetectSilence(pcm []byte, threshold float64) bool {
	samples, err := BytesToSamples(pcm[:len(pcm)-len(pcm)%2])
	if err != nil {
		return true
	}
	return CalculateRMS(samples) < threshold
}
