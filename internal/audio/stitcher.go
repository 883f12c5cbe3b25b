package audio

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"
)

// ErrNoAudioProduced is returned when every fragment of a reply is empty
var ErrNoAudioProduced = errors.New("no audio produced")

// Fragment is the synthesized PCM for one text chunk
type Fragment struct {
	Index int
	PCM   []byte
}

// Stitched is the concatenated audio of a reply
type Stitched struct {
	PCM []byte
	// Skipped lists the indices of fragments that produced no audio
	Skipped []int
}

// Stitcher concatenates fragments in chunk order
type Stitcher struct {
	logger zerolog.Logger
}

// NewStitcher creates a stitcher that reports skipped fragments to logger
func NewStitcher(logger zerolog.Logger) *Stitcher {
	return &Stitcher{
		logger: logger.With().Str("component", "stitcher").Logger(),
	}
}

// Stitch orders fragments by index and concatenates their PCM.
// Empty fragments are skipped. Arrival order never affects the output.
func (s *Stitcher) Stitch(fragments []Fragment) (Stitched, error) {
	ordered := make([]Fragment, len(fragments))
	copy(ordered, fragments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	total := 0
	for _, f := range ordered {
		total += len(f.PCM)
	}

	out := Stitched{PCM: make([]byte, 0, total)}
	for _, f := range ordered {
		if len(f.PCM) == 0 {
			s.logger.Warn().Int("chunk", f.Index).Msgf("no audio produced for chunk %d", f.Index)
			out.Skipped = append(out.Skipped, f.Index)
			continue
		}
		out.PCM = append(out.PCM, f.PCM...)
	}

	if len(out.PCM) == 0 {
		return Stitched{Skipped: out.Skipped}, ErrNoAudioProduced
	}
	return out, nil
}
