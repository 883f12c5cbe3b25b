package tts

import (
	"fmt"
	"sort"
)

// DefaultVoice is used when a request names no voice
const DefaultVoice = "af_heart"

// VoiceNames are the voices every synthesizer accepts, mapped per engine
var VoiceNames = []string{
	"af_heart", "af_sky", "af_bella", "af_sarah",
	"am_adam", "am_michael",
	"bf_emma", "bf_isabella",
	"bm_george", "bm_lewis",
}

// voiceMap resolves public voice names to engine voice ids
type voiceMap struct {
	ids      map[string]string
	fallback string // used for the default voice when it has no mapping
	// passthrough accepts unmapped names as raw engine ids
	passthrough bool
}

func (m voiceMap) resolve(voice, defaultVoice string) (string, error) {
	if voice == "" {
		voice = defaultVoice
	}
	if id, ok := m.ids[voice]; ok && id != "" {
		return id, nil
	}
	if voice == defaultVoice && m.fallback != "" {
		return m.fallback, nil
	}
	if m.passthrough && voice != "" {
		return voice, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
}

func (m voiceMap) names() []string {
	out := make([]string, 0, len(m.ids))
	for name := range m.ids {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

var openAIVoices = voiceMap{ids: map[string]string{
	"af_heart":    "nova",
	"af_sky":      "shimmer",
	"af_bella":    "coral",
	"af_sarah":    "sage",
	"am_adam":     "onyx",
	"am_michael":  "echo",
	"bf_emma":     "fable",
	"bf_isabella": "ballad",
	"bm_george":   "ash",
	"bm_lewis":    "alloy",
}}

var pollyVoices = voiceMap{ids: map[string]string{
	"af_heart":    "Joanna",
	"af_sky":      "Salli",
	"af_bella":    "Kimberly",
	"af_sarah":    "Kendra",
	"am_adam":     "Matthew",
	"am_michael":  "Joey",
	"bf_emma":     "Amy",
	"bf_isabella": "Emma",
	"bm_george":   "Brian",
	"bm_lewis":    "Arthur",
}}
