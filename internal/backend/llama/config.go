package llama

import "github.com/Tech-Tweakers/polaris-core/internal/logger"

// AllGPULayers offloads every layer the device can hold.
const AllGPULayers = 999

type Config struct {
	// LibPath is the directory holding the llama.cpp shared libraries. When
	// empty, YZMA_LIB is consulted.
	LibPath     string
	ModelPath   string
	ContextSize int
	Batch       int
	UBatch      int
	GPULayers   int
	// Threads sets both the decode and batch thread counts. 0 keeps the
	// llama.cpp default.
	Threads int

	Logger logger.Logger
}
