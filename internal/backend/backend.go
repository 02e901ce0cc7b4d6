package backend

import (
	"fmt"
	"strings"

	"github.com/Tech-Tweakers/polaris-core/internal/backend/llama"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
	"github.com/Tech-Tweakers/polaris-core/internal/toy"
)

const (
	Toy   = "toy"
	Llama = "llama"
	Auto  = "auto"
)

// Options hold everything any backend needs to open a model. Fields a
// backend does not use are ignored.
type Options struct {
	ModelPath   string
	LibPath     string
	ContextSize int
	Batch       int
	UBatch      int
	GPULayers   int
	// Threads is ignored by the toy backend.
	Threads int

	// ToyMaxBatch limits the toy model's decode batch.
	ToyMaxBatch int
	Seed        int64

	Logger logger.Logger
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Toy, Llama, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, toy, or llama)", backend)
	}
}

// Resolve turns auto into a concrete backend: llama when it is compiled in
// and a model path is set, toy otherwise.
func Resolve(name string, opts Options) (string, error) {
	backend, err := Normalize(name)
	if err != nil {
		return "", err
	}
	if backend != Auto {
		return backend, nil
	}
	if Has(Llama) && opts.ModelPath != "" {
		return Llama, nil
	}
	return Toy, nil
}

// Open loads a model on the named backend and returns it with the concrete
// backend name.
func Open(name string, opts Options) (inference.Model, string, error) {
	backend, err := Resolve(name, opts)
	if err != nil {
		return nil, "", err
	}
	switch backend {
	case Llama:
		m, err := llama.Open(llama.Config{
			LibPath:     opts.LibPath,
			ModelPath:   opts.ModelPath,
			ContextSize: opts.ContextSize,
			Batch:       opts.Batch,
			UBatch:      opts.UBatch,
			GPULayers:   opts.GPULayers,
			Threads:     opts.Threads,
			Logger:      opts.Logger,
		})
		return m, backend, err
	default:
		cfg := toy.DefaultConfig()
		if opts.ContextSize > 0 {
			cfg.ContextSize = opts.ContextSize
		}
		cfg.MaxBatch = opts.ToyMaxBatch
		if opts.Seed != 0 {
			cfg.Seed = opts.Seed
		}
		return toy.New(cfg), backend, nil
	}
}
