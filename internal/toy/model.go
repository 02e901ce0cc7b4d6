// Package toy is a deterministic pure-Go language model. It has the shape of
// a real backend (tokenizer, context memory, batch limits, sampler) with
// weights that are random projections, so generation loops can be exercised
// without model files or native libraries.
package toy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logits"
)

// Special token ids. Byte b is token byteOffset+b.
const (
	TokenUnknown inference.Token = iota
	TokenBOS
	TokenEOS
	TokenIMStart
	TokenIMEnd

	byteOffset = 5
	VocabSize  = byteOffset + 256
)

var specials = []struct {
	tok  inference.Token
	text string
}{
	{TokenIMStart, "<|im_start|>"},
	{TokenIMEnd, "<|im_end|>"},
	{TokenBOS, "<s>"},
	{TokenEOS, "</s>"},
}

type Config struct {
	Hidden      int
	ContextSize int
	// MaxBatch, when positive, makes Decode answer DecodeRetry for larger
	// chunks.
	MaxBatch int
	Seed     int64
	// EOSDrift is added to the end-of-sequence logit once per token held in
	// memory, so sampled runs end eventually.
	EOSDrift float32
}

func DefaultConfig() Config {
	return Config{
		Hidden:      16,
		ContextSize: 2048,
		Seed:        1,
		EOSDrift:    0.05,
	}
}

// ToyLM is the weight part of the model: an embedding matrix and a
// projection back to vocabulary logits.
type ToyLM struct {
	Vocab  int
	Hidden int

	Emb  []float32 // [Vocab x Hidden]
	W    []float32 // [Hidden x Vocab]
	Bias []float32 // [Vocab]
}

// NewToyLM fills the matrices deterministically from seed. Biases are zero.
func NewToyLM(vocab, hidden int, seed int64) *ToyLM {
	m := &ToyLM{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    make([]float32, vocab*hidden),
		W:      make([]float32, hidden*vocab),
		Bias:   make([]float32, vocab),
	}
	fillRand(m.Emb, seed+11)
	fillRand(m.W, seed+23)
	return m
}

func fillRand(dst []float32, seed int64) {
	r := rand.New(rand.NewSource(seed))
	for i := range dst {
		dst[i] = r.Float32()*2 - 1
	}
}

// Forward writes the logits for a single input token into dst, which must
// have Vocab entries. Out of range tokens wrap.
func (m *ToyLM) Forward(tok int, dst []float32) {
	tok %= m.Vocab
	if tok < 0 {
		tok += m.Vocab
	}
	h := m.Emb[tok*m.Hidden : (tok+1)*m.Hidden]
	copy(dst, m.Bias)
	for i, hv := range h {
		row := m.W[i*m.Vocab : (i+1)*m.Vocab]
		for j, w := range row {
			dst[j] += hv * w
		}
	}
}

// Model implements inference.Model on top of a ToyLM.
type Model struct {
	cfg Config
	lm  *ToyLM

	kv     []inference.Token
	logits []float32
	ready  bool
	closed bool
}

func New(cfg Config) *Model {
	def := DefaultConfig()
	if cfg.Hidden <= 0 {
		cfg.Hidden = def.Hidden
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = def.ContextSize
	}
	return &Model{
		cfg:    cfg,
		lm:     NewToyLM(VocabSize, cfg.Hidden, cfg.Seed),
		logits: make([]float32, VocabSize),
	}
}

func (m *Model) ContextSize() int { return m.cfg.ContextSize }

func (m *Model) Close() error {
	m.closed = true
	m.kv = nil
	return nil
}

func (m *Model) BOS() inference.Token { return TokenBOS }
func (m *Model) AddBOS() bool         { return true }

func (m *Model) IsEOG(tok inference.Token) bool {
	return tok == TokenEOS || tok == TokenIMEnd
}

// Encode maps every byte of text to its byte token. With special set, the
// special token strings are recognised as single tokens.
func (m *Model) Encode(text string, addBOS, special bool) ([]inference.Token, error) {
	if m.closed {
		return nil, errors.New("toy: model closed")
	}
	out := make([]inference.Token, 0, len(text)+1)
	if addBOS {
		out = append(out, TokenBOS)
	}
	for i := 0; i < len(text); {
		if special {
			if tok, n := matchSpecial(text[i:]); n > 0 {
				out = append(out, tok)
				i += n
				continue
			}
		}
		out = append(out, byteOffset+inference.Token(text[i]))
		i++
	}
	return out, nil
}

func matchSpecial(s string) (inference.Token, int) {
	if s == "" || s[0] != '<' {
		return 0, 0
	}
	for _, sp := range specials {
		if strings.HasPrefix(s, sp.text) {
			return sp.tok, len(sp.text)
		}
	}
	return 0, 0
}

func (m *Model) Piece(tok inference.Token) string {
	if tok >= byteOffset && tok < VocabSize {
		return string([]byte{byte(tok - byteOffset)})
	}
	for _, sp := range specials {
		if sp.tok == tok {
			return sp.text
		}
	}
	return ""
}

// Decode appends tokens to memory at pos and computes the next-token logits.
func (m *Model) Decode(tokens []inference.Token, pos int) (inference.DecodeStatus, error) {
	switch {
	case m.closed:
		return inference.DecodeFatal, errors.New("toy: model closed")
	case len(tokens) == 0:
		return inference.DecodeFatal, errors.New("toy: empty batch")
	case pos != len(m.kv):
		return inference.DecodeFatal, fmt.Errorf("toy: decode at position %d, memory holds %d", pos, len(m.kv))
	case m.cfg.MaxBatch > 0 && len(tokens) > m.cfg.MaxBatch:
		return inference.DecodeRetry, fmt.Errorf("toy: batch of %d exceeds %d", len(tokens), m.cfg.MaxBatch)
	case pos+len(tokens) > m.cfg.ContextSize:
		return inference.DecodeFatal, fmt.Errorf("toy: context full (%d + %d > %d)", pos, len(tokens), m.cfg.ContextSize)
	}

	m.kv = append(m.kv, tokens...)
	m.lm.Forward(int(tokens[len(tokens)-1]), m.logits)
	m.logits[TokenEOS] += m.cfg.EOSDrift * float32(len(m.kv))
	for _, tok := range []inference.Token{TokenUnknown, TokenBOS, TokenIMStart} {
		m.logits[tok] = float32(math.Inf(-1))
	}
	m.ready = true
	return inference.DecodeOK, nil
}

func (m *Model) ClearMemory() {
	m.kv = m.kv[:0]
	m.ready = false
}

// Memory returns a copy of the tokens currently held in context.
func (m *Model) Memory() []inference.Token {
	return append([]inference.Token(nil), m.kv...)
}

func (m *Model) NewSampler(p inference.SamplingParams) (inference.Sampler, error) {
	if m.closed {
		return nil, errors.New("toy: model closed")
	}
	return &sampler{
		model: m,
		s: logits.NewSampler(logits.SamplerConfig{
			Seed:          p.Seed,
			Temperature:   p.Temperature,
			TopP:          p.TopP,
			RepeatPenalty: p.RepeatPenalty,
		}),
		scratch: make([]float32, VocabSize),
	}, nil
}

type sampler struct {
	model   *Model
	s       *logits.Sampler
	scratch []float32
}

func (s *sampler) Sample() (inference.Token, error) {
	if !s.model.ready {
		return 0, errors.New("toy: sample before decode")
	}
	copy(s.scratch, s.model.logits)
	return inference.Token(s.s.Sample(s.scratch)), nil
}

func (s *sampler) Accept(tok inference.Token) {
	s.s.Accept(int(tok))
}
