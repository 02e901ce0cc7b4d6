package backend

import (
	"strings"

	"github.com/Tech-Tweakers/polaris-core/internal/backend/llama"
)

func Has(name string) bool {
	switch name {
	case Toy:
		return true
	case Llama:
		return llama.Enabled
	default:
		return false
	}
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Toy}
	if Has(Llama) {
		entries = append(entries, Llama)
	}
	return strings.Join(entries, ",")
}
