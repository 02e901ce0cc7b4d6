//go:build yzma

package llama

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

const Enabled = true

const (
	penaltyLastN = 64
	topK         = 40
	pieceBufSize = 256
)

var (
	initOnce sync.Once
	initErr  error
)

func loadLibrary(path string, log logger.Logger) error {
	initOnce.Do(func() {
		if path == "" {
			path = os.Getenv("YZMA_LIB")
		}
		if path == "" {
			initErr = errors.New("llama.cpp library path not set (use --lib or YZMA_LIB)")
			return
		}
		log.Debug("loading llama.cpp", "path", path)
		if err := llama.Load(path); err != nil {
			initErr = fmt.Errorf("load llama.cpp from %s: %w", path, err)
			return
		}
		llama.Init()
	})
	return initErr
}

// Model is a loaded GGUF model with a single inference context.
type Model struct {
	model llama.Model
	lctx  llama.Context
	vocab llama.Vocab
	nctx  int

	bos    inference.Token
	addBOS bool
	buf    []byte
}

// Open loads the model. A failed GPU load is retried on the CPU.
func Open(cfg Config) (inference.Model, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path", inference.ErrModelUnavailable)
	}
	if err := loadLibrary(cfg.LibPath, log); err != nil {
		return nil, fmt.Errorf("%w: %w", inference.ErrModelUnavailable, err)
	}

	mp := llama.ModelDefaultParams()
	mp.NGpuLayers = int32(cfg.GPULayers)
	model, err := llama.ModelLoadFromFile(cfg.ModelPath, mp)
	if err != nil && cfg.GPULayers != 0 {
		log.Warn("gpu model load failed, retrying on cpu", "error", err)
		mp.NGpuLayers = 0
		model, err = llama.ModelLoadFromFile(cfg.ModelPath, mp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", inference.ErrModelUnavailable, cfg.ModelPath, err)
	}

	cp := llama.ContextDefaultParams()
	cp.Embeddings = 0
	if cfg.ContextSize > 0 {
		cp.NCtx = uint32(cfg.ContextSize)
	}
	if cfg.Batch > 0 {
		cp.NBatch = uint32(cfg.Batch)
	}
	if cfg.UBatch > 0 {
		cp.NUbatch = uint32(cfg.UBatch)
	}
	if cfg.Threads > 0 {
		cp.NThreads = int32(cfg.Threads)
		cp.NThreadsBatch = int32(cfg.Threads)
	}
	lctx, err := llama.InitFromModel(model, cp)
	if err != nil {
		llama.ModelFree(model)
		return nil, fmt.Errorf("%w: create context: %w", inference.ErrModelUnavailable, err)
	}

	vocab := llama.ModelGetVocab(model)
	m := &Model{
		model:  model,
		lctx:   lctx,
		vocab:  vocab,
		nctx:   int(llama.NCtx(lctx)),
		bos:    inference.Token(llama.VocabBOS(vocab)),
		addBOS: llama.VocabGetAddBOS(vocab),
		buf:    make([]byte, pieceBufSize),
	}
	log.Info("model loaded", "path", cfg.ModelPath, "n_ctx", m.nctx, "gpu_layers", mp.NGpuLayers, "threads", cfg.Threads)
	return m, nil
}

func (m *Model) ContextSize() int             { return m.nctx }
func (m *Model) BOS() inference.Token         { return m.bos }
func (m *Model) AddBOS() bool                 { return m.addBOS }
func (m *Model) IsEOG(t inference.Token) bool { return llama.VocabIsEOG(m.vocab, llama.Token(t)) }

func (m *Model) Encode(text string, addBOS, special bool) ([]inference.Token, error) {
	toks := llama.Tokenize(m.vocab, text, addBOS, special)
	if len(text) > 0 && len(toks) == 0 {
		return nil, errors.New("tokenizer produced no tokens")
	}
	out := make([]inference.Token, len(toks))
	for i, t := range toks {
		out[i] = inference.Token(t)
	}
	return out, nil
}

func (m *Model) Piece(t inference.Token) string {
	n := llama.TokenToPiece(m.vocab, llama.Token(t), m.buf, 0, true)
	if n < 0 {
		m.buf = make([]byte, -n)
		n = llama.TokenToPiece(m.vocab, llama.Token(t), m.buf, 0, true)
	}
	if n <= 0 {
		return ""
	}
	return string(m.buf[:n])
}

// Decode submits one batch. llama_decode answers 0 on success, a positive
// code when the batch could not be placed, and a negative code on failure.
// The context tracks positions itself, so pos is only checked.
func (m *Model) Decode(tokens []inference.Token, pos int) (inference.DecodeStatus, error) {
	if len(tokens) == 0 {
		return inference.DecodeFatal, errors.New("empty batch")
	}
	batch := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		batch[i] = llama.Token(t)
	}
	code, err := llama.Decode(m.lctx, llama.BatchGetOne(batch))
	switch {
	case code == 0 && err == nil:
		return inference.DecodeOK, nil
	case code > 0:
		return inference.DecodeRetry, fmt.Errorf("llama_decode at %d returned %d", pos, code)
	default:
		if err == nil {
			err = fmt.Errorf("llama_decode at %d returned %d", pos, code)
		}
		return inference.DecodeFatal, err
	}
}

func (m *Model) ClearMemory() {
	llama.MemoryClear(llama.GetMemory(m.lctx), true)
}

// NewSampler builds a penalties, top-k, top-p, temperature, dist chain.
func (m *Model) NewSampler(p inference.SamplingParams) (inference.Sampler, error) {
	chain := llama.SamplerChainInit(llama.SamplerChainDefaultParams())
	llama.SamplerChainAdd(chain, llama.SamplerInitPenalties(penaltyLastN, p.RepeatPenalty, 0, 0))
	llama.SamplerChainAdd(chain, llama.SamplerInitTopK(topK))
	llama.SamplerChainAdd(chain, llama.SamplerInitTopP(p.TopP, 1))
	llama.SamplerChainAdd(chain, llama.SamplerInitTempExt(p.Temperature, 0, 1))
	llama.SamplerChainAdd(chain, llama.SamplerInitDist(uint32(p.Seed)))
	return &sampler{chain: chain, lctx: m.lctx}, nil
}

func (m *Model) Close() error {
	llama.Free(m.lctx)
	llama.ModelFree(m.model)
	return nil
}

type sampler struct {
	chain llama.Sampler
	lctx  llama.Context
}

func (s *sampler) Sample() (inference.Token, error) {
	return inference.Token(llama.SamplerSample(s.chain, s.lctx, -1)), nil
}

// Accept is a no-op for the chain: llama_sampler_sample already accepts the
// token it returns. Prompt tokens are not fed to the penalty window.
func (s *sampler) Accept(inference.Token) {}

func (s *sampler) Close() error {
	llama.SamplerFree(s.chain)
	return nil
}
