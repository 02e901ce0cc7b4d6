// Package config loads polaris settings from the YAML config file and the
// POLARIS_* environment. Fields are pointers so "not set" differs from zero.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tech-Tweakers/polaris-core/internal/backend"
	"github.com/Tech-Tweakers/polaris-core/internal/backend/llama"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

const (
	DefaultBatch    = 256
	DefaultUBatch   = 128
	DefaultMaxQueue = 8
	DefaultAddress  = "127.0.0.1:8080"
)

type Config struct {
	Model     string `yaml:"model"`
	ModelsDir string `yaml:"models_dir"`
	Backend   string `yaml:"backend"`
	LibPath   string `yaml:"lib_path"`

	ContextSize *int `yaml:"context_size"`
	GPULayers   *int `yaml:"gpu_layers"`
	Batch       *int `yaml:"batch"`
	UBatch      *int `yaml:"ubatch"`
	// Threads is the CPU thread count for decode and prefill; 0 keeps the
	// backend default.
	Threads *int `yaml:"threads"`

	Engine     EngineConfig     `yaml:"engine"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type EngineConfig struct {
	SafetyMargin          *int     `yaml:"safety_margin"`
	ResetContext          *bool    `yaml:"reset_context"`
	DisableTemplate       *bool    `yaml:"disable_template"`
	UseSpecials           *bool    `yaml:"use_specials"`
	DisableStructuredStop *bool    `yaml:"disable_structured_stop"`
	StopMarkers           []string `yaml:"stop_markers"`
	Stage                 string   `yaml:"stage"`

	FlushBytes  *int `yaml:"flush_bytes"`
	FlushTokens *int `yaml:"flush_tokens"`
	FlushMillis *int `yaml:"flush_ms"`
}

type GenerationConfig struct {
	MaxTokens     *int     `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`
	TopP          *float64 `yaml:"top_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	SystemPrompt  *string  `yaml:"system_prompt"`
}

type ServerConfig struct {
	Address  string `yaml:"address"`
	MaxQueue *int   `yaml:"max_queue"`
	History  string `yaml:"history"`
}

// Path returns POLARIS_CONFIG when set, else polaris/config.yaml under the
// user config directory.
func Path() string {
	if p := os.Getenv("POLARIS_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "polaris", "config.yaml")
}

// Load reads the config file at path. A missing file yields a zero Config.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithEnv reads the file at path and applies the process environment.
func LoadWithEnv(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides fields from POLARIS_* variables. Integer values below 1
// are raised to 1, except POLARIS_THREADS where 0 or less means the backend
// default; unparsable integers are ignored. Booleans are true only
// for 1, true, yes or on.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	posInt := func(key string, dst **int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return
		}
		n = max(1, n)
		*dst = &n
	}
	flag := func(key string, dst **bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		b := parseBool(v)
		*dst = &b
	}

	str("POLARIS_MODEL", &c.Model)
	str("POLARIS_MODELS_DIR", &c.ModelsDir)
	str("POLARIS_BACKEND", &c.Backend)
	str("POLARIS_LIB", &c.LibPath)
	str("POLARIS_STAGE", &c.Engine.Stage)

	if v, ok := lookup("POLARIS_N_GPU_LAYERS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			n = llama.AllGPULayers
		}
		c.GPULayers = &n
	}
	if v, ok := lookup("POLARIS_THREADS"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			n = max(0, n)
			c.Threads = &n
		}
	}
	posInt("POLARIS_CTX", &c.ContextSize)
	posInt("POLARIS_BATCH", &c.Batch)
	posInt("POLARIS_UBATCH", &c.UBatch)
	posInt("POLARIS_SAFETY", &c.Engine.SafetyMargin)
	posInt("POLARIS_FLUSH", &c.Engine.FlushBytes)
	posInt("POLARIS_TOKFLUSH", &c.Engine.FlushTokens)
	posInt("POLARIS_MS_FLUSH", &c.Engine.FlushMillis)

	flag("POLARIS_RESET_KV", &c.Engine.ResetContext)
	flag("POLARIS_DISABLE_TEMPLATE", &c.Engine.DisableTemplate)
	flag("POLARIS_USE_SPECIALS", &c.Engine.UseSpecials)
	flag("POLARIS_DISABLE_STRUCTURED_STOP", &c.Engine.DisableStructuredStop)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// EngineOptions resolves the session options, starting from the engine
// defaults.
func (c Config) EngineOptions() (inference.Options, error) {
	opts := inference.DefaultOptions()
	e := c.Engine
	if e.SafetyMargin != nil {
		opts.SafetyMargin = *e.SafetyMargin
	}
	if c.UBatch != nil {
		opts.Chunk = *c.UBatch
	} else {
		opts.Chunk = DefaultUBatch
	}
	if e.ResetContext != nil {
		opts.ResetContextOnEachCall = *e.ResetContext
	}
	if e.DisableTemplate != nil && *e.DisableTemplate {
		opts.Framing = inference.FramingRaw
	}
	if e.UseSpecials != nil {
		opts.UseSpecials = *e.UseSpecials
	}
	if e.DisableStructuredStop != nil {
		opts.DisableStructuredStop = *e.DisableStructuredStop
	}
	if len(e.StopMarkers) > 0 {
		opts.StopMarkers = e.StopMarkers
	}
	if e.FlushBytes != nil {
		opts.Flush.Bytes = *e.FlushBytes
	}
	if e.FlushTokens != nil {
		opts.Flush.Tokens = *e.FlushTokens
	}
	if e.FlushMillis != nil {
		opts.Flush.Interval = time.Duration(*e.FlushMillis) * time.Millisecond
	}
	stage, err := inference.ParseStage(e.Stage)
	if err != nil {
		return opts, err
	}
	opts.Stage = stage
	return opts, nil
}

func (c Config) BackendOptions() backend.Options {
	opts := backend.Options{
		ModelPath: c.Model,
		LibPath:   c.LibPath,
		Batch:     DefaultBatch,
		UBatch:    DefaultUBatch,
		GPULayers: llama.AllGPULayers,
	}
	if c.ContextSize != nil {
		opts.ContextSize = *c.ContextSize
	}
	if c.Batch != nil {
		opts.Batch = *c.Batch
	}
	if c.UBatch != nil {
		opts.UBatch = *c.UBatch
	}
	if c.GPULayers != nil {
		opts.GPULayers = *c.GPULayers
	}
	if c.Threads != nil {
		opts.Threads = max(0, *c.Threads)
	}
	return opts
}

func (c Config) GenDefaults() inference.GenDefaults {
	g := c.Generation
	return inference.GenDefaults{
		MaxTokens:     g.MaxTokens,
		Temperature:   g.Temperature,
		TopP:          g.TopP,
		RepeatPenalty: g.RepeatPenalty,
		SystemPrompt:  g.SystemPrompt,
	}
}

func (c Config) ServerAddress() string {
	if c.Server.Address != "" {
		return c.Server.Address
	}
	return DefaultAddress
}

func (c Config) MaxQueue() int {
	if c.Server.MaxQueue != nil && *c.Server.MaxQueue > 0 {
		return *c.Server.MaxQueue
	}
	return DefaultMaxQueue
}
