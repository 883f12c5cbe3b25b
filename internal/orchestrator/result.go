package orchestrator

import "github.com/valperai/valper-gateway/internal/storage"

// Stage names the pipeline stage a turn failed in
type Stage string

const (
	StageNone        Stage = ""
	StageRecognition Stage = "recognition"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
)

// Outcome is the terminal state of a turn
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeDegraded  Outcome = "degraded"
	OutcomeFailed    Outcome = "failed"
)

// Result is the outcome of one conversation turn. A failed result always
// names its FailureStage; a degraded result carries text but no audio and
// names the synthesis stage it fell back from.
type Result struct {
	UserText      string
	AssistantText string

	// Audio is the reply as a WAV file; nil unless Outcome is completed
	Audio      []byte
	SampleRate int
	// Artifact is set when the audio was also written to the artifact store
	Artifact *storage.Artifact

	Success      bool
	Degraded     bool
	FailureStage Stage
	Outcome      Outcome

	// Err explains a failed or degraded turn; it wraps one of the package sentinels
	Err error
}

func failed(stage Stage, userText string, err error) Result {
	return Result{
		UserText:     userText,
		FailureStage: stage,
		Outcome:      OutcomeFailed,
		Err:          err,
	}
}

func degraded(userText, assistantText string, err error) Result {
	return Result{
		UserText:      userText,
		AssistantText: assistantText,
		Success:       true,
		Degraded:      true,
		FailureStage:  StageSynthesis,
		Outcome:       OutcomeDegraded,
		Err:           err,
	}
}
