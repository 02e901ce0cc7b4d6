//go:build !yzma

package llama

import (
	"fmt"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

// Enabled reports whether the llama.cpp binding is compiled in.
const Enabled = false

func Open(cfg Config) (inference.Model, error) {
	return nil, fmt.Errorf("%w: llama backend not compiled in (rebuild with -tags yzma)", inference.ErrModelUnavailable)
}
