package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/Tech-Tweakers/polaris-core/internal/config"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

// runFlags parses args against the given flags and hands the parsed command
// to fn.
func runFlags(t *testing.T, flags []cli.Flag, args []string, fn func(cmd *cli.Command) error) {
	t.Helper()
	app := &cli.Command{
		Name:  "polaris-test",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return fn(cmd)
		},
	}
	if err := app.Run(context.Background(), append([]string{"polaris-test"}, args...)); err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
}

func TestApplyModelFlags(t *testing.T) {
	t.Parallel()

	var cfg config.Config
	args := []string{
		"--model", "m.gguf",
		"--backend", "toy",
		"--ctx", "512",
		"--ubatch", "64",
		"--threads", "4",
		"--keep-context",
		"--no-template",
		"--stop-marker", "END",
		"--stop-marker", "DONE",
		"--stage", "prefill",
	}
	runFlags(t, commonModelFlags(), args, func(cmd *cli.Command) error {
		applyModelFlags(cmd, &cfg)
		return nil
	})

	if cfg.Model != "m.gguf" || cfg.Backend != "toy" {
		t.Fatalf("model/backend: %+v", cfg)
	}
	if cfg.ContextSize == nil || *cfg.ContextSize != 512 || cfg.UBatch == nil || *cfg.UBatch != 64 {
		t.Fatalf("sizes not applied: ctx=%v ubatch=%v", cfg.ContextSize, cfg.UBatch)
	}
	if cfg.Threads == nil || cfg.BackendOptions().Threads != 4 {
		t.Fatalf("threads not applied: %v", cfg.Threads)
	}
	if cfg.Batch != nil || cfg.GPULayers != nil {
		t.Fatalf("unset flags leaked: batch=%v gpu=%v", cfg.Batch, cfg.GPULayers)
	}
	if cfg.Engine.ResetContext == nil || *cfg.Engine.ResetContext {
		t.Fatalf("keep-context should disable reset")
	}
	if cfg.Engine.DisableTemplate == nil || !*cfg.Engine.DisableTemplate {
		t.Fatalf("no-template not applied")
	}
	if len(cfg.Engine.StopMarkers) != 2 || cfg.Engine.StopMarkers[1] != "DONE" {
		t.Fatalf("stop markers %v", cfg.Engine.StopMarkers)
	}

	opts, err := cfg.EngineOptions()
	if err != nil {
		t.Fatalf("EngineOptions: %v", err)
	}
	if opts.Chunk != 64 || opts.Framing != inference.FramingRaw || opts.Stage != inference.StagePrefill || opts.ResetContextOnEachCall {
		t.Fatalf("engine options %+v", opts)
	}
}

func TestApplyModelFlagsKeepsConfigWhenUnset(t *testing.T) {
	t.Parallel()

	ctx := 1024
	cfg := config.Config{Model: "from-file.gguf", ContextSize: &ctx}
	runFlags(t, commonModelFlags(), nil, func(cmd *cli.Command) error {
		applyModelFlags(cmd, &cfg)
		return nil
	})
	if cfg.Model != "from-file.gguf" || *cfg.ContextSize != 1024 || cfg.Backend != "" {
		t.Fatalf("config overwritten by defaults: %+v", cfg)
	}
}

func TestRequestOptions(t *testing.T) {
	t.Parallel()

	var unset, set inference.RequestOptions
	runFlags(t, generationFlags(), nil, func(cmd *cli.Command) error {
		unset = requestOptions(cmd)
		return nil
	})
	if unset.MaxTokens != nil || unset.Temperature != nil || unset.TopP != nil || unset.Seed != nil {
		t.Fatalf("unset flags should stay nil: %+v", unset)
	}

	runFlags(t, generationFlags(), []string{"-n", "32", "--temp", "0", "--seed", "9", "--system", "be brief"}, func(cmd *cli.Command) error {
		set = requestOptions(cmd)
		return nil
	})
	if set.MaxTokens == nil || *set.MaxTokens != 32 {
		t.Fatalf("max tokens %v", set.MaxTokens)
	}
	if set.Temperature == nil || *set.Temperature != 0 {
		t.Fatalf("explicit zero temperature lost: %v", set.Temperature)
	}
	if set.Seed == nil || *set.Seed != 9 || set.SystemPrompt != "be brief" {
		t.Fatalf("options %+v", set)
	}

	// Non-positive sampling values fall back to the engine defaults.
	req := inference.ResolveRequest(set, inference.GenDefaults{})
	if req.MaxTokens != 32 || req.Temperature != inference.DefaultTemperature {
		t.Fatalf("resolved %+v", req)
	}
}

func TestLoadSettingsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "model: file.gguf\nbackend: llama\ncontext_size: 256\nbatch: 64\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POLARIS_CTX", "1024")
	t.Setenv("POLARIS_BACKEND", "")

	flags := append(configFlags(), commonModelFlags()...)
	var cfg config.Config
	runFlags(t, flags, []string{"--config", path, "--backend", "toy"}, func(cmd *cli.Command) error {
		var err error
		cfg, err = loadSettings(cmd)
		return err
	})

	if cfg.Model != "file.gguf" {
		t.Fatalf("model from file: %q", cfg.Model)
	}
	if cfg.Backend != "toy" {
		t.Fatalf("flag should win over file: %q", cfg.Backend)
	}
	if cfg.ContextSize == nil || *cfg.ContextSize != 1024 {
		t.Fatalf("env should win over file: %v", cfg.ContextSize)
	}
	if cfg.Batch == nil || *cfg.Batch != 64 {
		t.Fatalf("batch from file: %v", cfg.Batch)
	}
}
