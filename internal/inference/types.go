package inference

import (
	"context"
	"time"
)

// Token is an id in the model vocabulary.
type Token int32

// FragmentFunc receives streamed output as raw byte chunks. Returning an
// error aborts the generation call.
type FragmentFunc func(chunk []byte) error

// Tokenizer converts between text and vocabulary ids.
type Tokenizer interface {
	Encode(text string, addBOS, special bool) ([]Token, error)
	Piece(tok Token) string
	BOS() Token
	AddBOS() bool
	IsEOG(tok Token) bool
}

// DecodeStatus is the tagged outcome of a single decode attempt.
type DecodeStatus int

const (
	DecodeOK DecodeStatus = iota
	// DecodeRetry means the chunk was rejected but a smaller one may succeed.
	DecodeRetry
	DecodeFatal
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeRetry:
		return "retry"
	case DecodeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Decoder is the model state that accepted tokens are written into.
type Decoder interface {
	ContextSize() int
	// Decode evaluates tokens at positions pos..pos+len(tokens)-1.
	Decode(tokens []Token, pos int) (DecodeStatus, error)
	ClearMemory()
}

// SamplingParams are the parameters a sampler is rebuilt for.
type SamplingParams struct {
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	Seed          int64
}

type Sampler interface {
	// Sample picks the next token from the current decoder state.
	Sample() (Token, error)
	// Accept records tok as part of the context.
	Accept(tok Token)
}

type SamplerFactory interface {
	NewSampler(params SamplingParams) (Sampler, error)
}

// Model is a loaded model as seen by a Session.
type Model interface {
	Tokenizer
	Decoder
	SamplerFactory
	Close() error
}

// Request is a single generate call.
type Request struct {
	Prompt        string
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	Seed          int64

	// OnFragment, when set, receives output incrementally.
	OnFragment FragmentFunc
}

type StopReason string

const (
	StopEOG       StopReason = "eog"
	StopLength    StopReason = "length"
	StopStructure StopReason = "structure"
	StopNoRoom    StopReason = "no_room"
	StopContext   StopReason = "context"
	StopStage     StopReason = "stage"
)

type Stats struct {
	PromptTokens    int  `json:"prompt_tokens"`
	PromptTruncated bool `json:"prompt_truncated,omitempty"`
	TokensGenerated int  `json:"tokens_generated"`
	StepBudget      int  `json:"step_budget"`

	PrefillDuration time.Duration `json:"prefill_ns"`
	DecodeDuration  time.Duration `json:"decode_ns"`
	PrefillTPS      float64       `json:"prefill_tps"`
	DecodeTPS       float64       `json:"decode_tps"`

	Submit SubmitStats `json:"submit"`
}

type Result struct {
	Text       string
	StopReason StopReason
	Stats      Stats
}

// Generator is implemented by Session and by anything that wraps one.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
