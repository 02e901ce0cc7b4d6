package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Tech-Tweakers/polaris-core/internal/config"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

// loadSettings reads the config file and POLARIS_* environment, then lays
// explicitly set flags on top.
func loadSettings(cmd *cli.Command) (config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return cfg, err
	}
	applyModelFlags(cmd, &cfg)
	cfg.Model, err = resolveModelPath(cfg.Model, cfg.ModelsDir, stdinIsTTY(), os.Stdin, os.Stderr)
	return cfg, err
}

func newLogger(cmd *cli.Command) (logger.Logger, error) {
	cfg, err := config.Load(configPathFor(cmd))
	if err != nil {
		cfg = config.Config{}
	}
	level := cmd.String("log-level")
	if !cmd.IsSet("log-level") && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	if cmd.Bool("debug") {
		level = "debug"
	}
	format := cmd.String("log-format")
	if !cmd.IsSet("log-format") && cfg.LogFormat != "" {
		format = cfg.LogFormat
	}
	return logger.ForFormat(format, os.Stderr, logger.ParseLevel(level))
}

func configPathFor(cmd *cli.Command) string {
	if p := cmd.String("config"); p != "" {
		return p
	}
	return config.Path()
}

// applyModelFlags copies flags the user set onto cfg. Unset flags leave
// the file and environment values alone.
func applyModelFlags(cmd *cli.Command, cfg *config.Config) {
	if cmd.IsSet("model") {
		cfg.Model = cmd.String("model")
	}
	if cmd.IsSet("models-path") {
		cfg.ModelsDir = cmd.String("models-path")
	}
	if cmd.IsSet("backend") {
		cfg.Backend = cmd.String("backend")
	}
	if cmd.IsSet("lib") {
		cfg.LibPath = cmd.String("lib")
	}
	setInt(cmd, "ctx", &cfg.ContextSize)
	setInt(cmd, "gpu-layers", &cfg.GPULayers)
	setInt(cmd, "threads", &cfg.Threads)
	setInt(cmd, "batch", &cfg.Batch)
	setInt(cmd, "ubatch", &cfg.UBatch)
	setInt(cmd, "safety-margin", &cfg.Engine.SafetyMargin)
	if cmd.IsSet("keep-context") {
		reset := !cmd.Bool("keep-context")
		cfg.Engine.ResetContext = &reset
	}
	setBool(cmd, "no-template", &cfg.Engine.DisableTemplate)
	setBool(cmd, "no-structured-stop", &cfg.Engine.DisableStructuredStop)
	if cmd.IsSet("stop-marker") {
		cfg.Engine.StopMarkers = cmd.StringSlice("stop-marker")
	}
	if cmd.IsSet("stage") {
		cfg.Engine.Stage = cmd.String("stage")
	}
}

// requestOptions builds per-call options from the generation flags. Flags
// left unset stay nil so config defaults apply.
func requestOptions(cmd *cli.Command) inference.RequestOptions {
	var opts inference.RequestOptions
	opts.SystemPrompt = cmd.String("system")
	if cmd.IsSet("max-tokens") {
		v := cmd.Int("max-tokens")
		opts.MaxTokens = &v
	}
	if cmd.IsSet("temp") {
		v := cmd.Float("temp")
		opts.Temperature = &v
	}
	if cmd.IsSet("top-p") {
		v := cmd.Float("top-p")
		opts.TopP = &v
	}
	if cmd.IsSet("repeat-penalty") {
		v := cmd.Float("repeat-penalty")
		opts.RepeatPenalty = &v
	}
	if cmd.IsSet("seed") {
		v := cmd.Int64("seed")
		opts.Seed = &v
	}
	return opts
}

func setInt(cmd *cli.Command, name string, dst **int) {
	if cmd.IsSet(name) {
		v := cmd.Int(name)
		*dst = &v
	}
}

func setBool(cmd *cli.Command, name string, dst **bool) {
	if cmd.IsSet(name) {
		v := cmd.Bool(name)
		*dst = &v
	}
}
