package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

// Session owns one model context and serializes generate calls against it.
type Session struct {
	mu sync.Mutex

	model Model
	opts  Options
	mem   *Memory

	sampler Sampler
	params  SamplingParams
}

func NewSession(model Model, opts Options) (*Session, error) {
	if model == nil {
		return nil, newError(ErrModelUnavailable, "new session", errors.New("no model loaded"))
	}
	if model.ContextSize() <= 0 {
		return nil, newError(ErrModelUnavailable, "new session",
			fmt.Errorf("invalid context size %d", model.ContextSize()))
	}
	if opts.Host == nil {
		opts.Host = NopHost{}
	}
	if opts.Chunk <= 0 {
		opts.Chunk = DefaultChunk
	}
	if opts.MinChunk <= 0 {
		opts.MinChunk = DefaultMinChunk
	}
	if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	return &Session{
		model: model,
		opts:  opts,
		mem:   NewMemory(model),
	}, nil
}

func (s *Session) ContextSize() int {
	return s.mem.Capacity()
}

func (s *Session) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem.Occupied()
}

// Reset clears the context memory. It waits for any running call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem.Reset()
}

// Close releases the cached sampler. It waits for any running call and does
// not close the model, which the caller owns.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if c, ok := s.sampler.(io.Closer); ok {
		err = c.Close()
	}
	s.sampler = nil
	s.params = SamplingParams{}
	return err
}

// Generate runs one prompt through prefill and decoding. Calls on the same
// session never interleave: a second caller blocks until the first returns.
func (s *Session) Generate(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = normalizeRequest(req)
	log := logger.FromContext(ctx).With("component", "session")

	sampler, err := s.samplerFor(req.samplingParams())
	if err != nil {
		return nil, err
	}

	if s.opts.ResetContextOnEachCall {
		s.mem.Reset()
	}

	prompt, err := RenderPrompt(PromptRenderInput{
		Framing:      s.opts.Framing,
		SystemPrompt: req.SystemPrompt,
		Prompt:       req.Prompt,
	})
	if err != nil {
		return nil, err
	}
	if s.opts.Stage == StagePrompt {
		return stageResult(prompt), nil
	}

	tokens, err := s.tokenize(prompt)
	if err != nil {
		return nil, err
	}
	stats := Stats{PromptTokens: len(tokens)}

	room := s.mem.Remaining(s.opts.SafetyMargin)
	if room <= 0 {
		return nil, newError(ErrContextExhausted, "prefill",
			fmt.Errorf("no room for prompt: capacity %d, occupied %d, margin %d",
				s.mem.Capacity(), s.mem.Occupied(), s.opts.SafetyMargin))
	}
	if len(tokens) > room {
		log.Warn("prompt truncated to fit context", "tokens", len(tokens), "kept", room)
		tokens = tokens[len(tokens)-room:]
		stats.PromptTruncated = true
	}
	if s.opts.Stage == StageTokenize {
		return stageResult(fmt.Sprintf("[OK] tokenize: %d toks", len(tokens))), nil
	}

	l := &loop{
		model:   s.model,
		sampler: sampler,
		mem:     s.mem,
		host:    s.opts.Host,
		opts:    s.opts,
		log:     log,
		stats:   stats,
		sub: &Submitter{
			Memory:       s.mem,
			Host:         s.opts.Host,
			Chunk:        s.opts.Chunk,
			MinChunk:     s.opts.MinChunk,
			SafetyMargin: s.opts.SafetyMargin,
		},
		emit: NewEmitter(req.OnFragment, s.opts.Host, s.opts.Flush),
	}
	if !s.opts.DisableStructuredStop {
		l.detect = NewStructureDetector(s.opts.StopMarkers)
	}
	return l.run(ctx, tokens, req.MaxTokens)
}

// samplerFor returns the cached sampler, rebuilding it when any sampling
// parameter changed. Samplers read the seed only when they are built.
func (s *Session) samplerFor(p SamplingParams) (Sampler, error) {
	if s.sampler != nil && sameSampling(s.params, p) {
		return s.sampler, nil
	}
	sampler, err := safeNewSampler(s.model, p)
	if err == nil && sampler == nil {
		err = errors.New("backend returned no sampler")
	}
	if err != nil {
		return nil, newError(ErrSamplerReconfiguration, "sampler", err)
	}
	if c, ok := s.sampler.(io.Closer); ok {
		_ = c.Close()
	}
	s.sampler = sampler
	s.params = p
	return sampler, nil
}

func sameSampling(a, b SamplingParams) bool {
	return a.Temperature == b.Temperature &&
		a.TopP == b.TopP &&
		a.RepeatPenalty == b.RepeatPenalty &&
		a.Seed == b.Seed
}

func (s *Session) tokenize(prompt string) ([]Token, error) {
	addBOS := s.model.AddBOS()
	tokens, err := safeEncode(s.model, prompt, addBOS, s.opts.UseSpecials)
	if err != nil {
		return nil, newError(ErrTokenization, "encode prompt", err)
	}
	if len(tokens) == 0 {
		if !addBOS {
			return nil, newError(ErrTokenization, "encode prompt", errors.New("empty input after tokenization"))
		}
		tokens = []Token{s.model.BOS()}
	}
	return tokens, nil
}

func safeNewSampler(f SamplerFactory, p SamplingParams) (sampler Sampler, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in NewSampler: %v", rec)
		}
	}()
	return f.NewSampler(p)
}

func safeEncode(tok Tokenizer, text string, addBOS, special bool) (ids []Token, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text, addBOS, special)
}

func stageResult(text string) *Result {
	return &Result{Text: text, StopReason: StopStage}
}
