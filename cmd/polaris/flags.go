package main

import "github.com/urfave/cli/v3"

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to config.yaml (default $POLARIS_CONFIG or the user config dir)",
			Sources: cli.EnvVars("POLARIS_CONFIG"),
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level (debug, info, warn, error)",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "log format (pretty, json, text)",
			Value: "pretty",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug logging (shorthand for --log-level=debug)",
		},
	}
}

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "model",
			Aliases: []string{"m"},
			Usage:   "path to a GGUF model (llama backend)",
		},
		&cli.StringFlag{
			Name:    "models-path",
			Aliases: []string{"path"},
			Usage:   "directory of .gguf models to choose from when --model is not set",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "model backend (auto, toy, llama)",
			Value: "auto",
		},
		&cli.StringFlag{
			Name:  "lib",
			Usage: "directory holding the llama.cpp shared libraries",
		},
		&cli.IntFlag{
			Name:    "ctx",
			Aliases: []string{"c", "context-size"},
			Usage:   "context size in tokens (0 = model default)",
		},
		&cli.IntFlag{
			Name:    "gpu-layers",
			Aliases: []string{"ngl"},
			Usage:   "layers to offload to the GPU",
		},
		&cli.IntFlag{
			Name:  "threads",
			Usage: "CPU threads for decode and prefill (0 = backend default)",
		},
		&cli.IntFlag{
			Name:  "batch",
			Usage: "logical batch size",
		},
		&cli.IntFlag{
			Name:  "ubatch",
			Usage: "physical batch size, also the prefill chunk",
		},
		&cli.IntFlag{
			Name:  "safety-margin",
			Usage: "tokens kept free at the end of the context",
		},
		&cli.BoolFlag{
			Name:  "keep-context",
			Usage: "keep the context memory between calls instead of clearing it",
		},
		&cli.BoolFlag{
			Name:  "no-template",
			Usage: "send the prompt without chat framing",
		},
		&cli.BoolFlag{
			Name:  "no-structured-stop",
			Usage: "do not stop when a complete JSON object has been generated",
		},
		&cli.StringSliceFlag{
			Name:  "stop-marker",
			Usage: "text that must appear before a balanced object stops generation (repeatable)",
		},
		&cli.StringFlag{
			Name:  "stage",
			Usage: "stop after one pipeline stage (prompt, tokenize, prefill, sample, piece, push)",
		},
	}
}

func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "system",
			Aliases: []string{"sys"},
			Usage:   "system prompt",
		},
		&cli.IntFlag{
			Name:    "max-tokens",
			Aliases: []string{"n"},
			Usage:   "maximum tokens to generate",
		},
		&cli.Float64Flag{
			Name:    "temp",
			Aliases: []string{"temperature", "t"},
			Usage:   "sampling temperature (values <= 0 use the default)",
		},
		&cli.Float64Flag{
			Name:    "top-p",
			Aliases: []string{"top_p"},
			Usage:   "nucleus sampling threshold",
		},
		&cli.Float64Flag{
			Name:    "repeat-penalty",
			Aliases: []string{"repeat_penalty"},
			Usage:   "repetition penalty (1.0 = disabled)",
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "sampling seed",
		},
	}
}
