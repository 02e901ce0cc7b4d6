package inference

import (
	"fmt"
	"strings"
)

const DefaultSafetyMargin = 16

// Options configure a Session. They are fixed for the session's lifetime;
// per-call parameters travel in Request.
type Options struct {
	SafetyMargin int
	Chunk        int
	MinChunk     int

	ResetContextOnEachCall bool

	Flush FlushPolicy

	DisableStructuredStop bool
	StopMarkers           []string

	Framing     Framing
	UseSpecials bool

	Stage Stage
	Host  Host
}

func DefaultOptions() Options {
	return Options{
		SafetyMargin:           DefaultSafetyMargin,
		Chunk:                  DefaultChunk,
		MinChunk:               DefaultMinChunk,
		ResetContextOnEachCall: true,
		Flush:                  DefaultFlushPolicy(),
		StopMarkers:            DefaultStopMarkers,
		Framing:                FramingChatML,
		UseSpecials:            true,
		Host:                   NopHost{},
	}
}

// Stage cuts a generate call short after one step of the pipeline and
// returns a diagnostic line instead of generated text.
type Stage string

const (
	StageNone     Stage = ""
	StagePrompt   Stage = "prompt"
	StageTokenize Stage = "tokenize"
	StagePrefill  Stage = "prefill"
	StageSample   Stage = "sample"
	StagePiece    Stage = "piece"
	StagePush     Stage = "push"
)

func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageNone, StagePrompt, StageTokenize, StagePrefill, StageSample, StagePiece, StagePush:
		return st, nil
	default:
		return StageNone, fmt.Errorf("unknown stage %q (expected prompt, tokenize, prefill, sample, piece or push)", s)
	}
}
