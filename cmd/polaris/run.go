package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/Tech-Tweakers/polaris-core/internal/history"
	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

func runCmd() *cli.Command {
	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, generationFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:    "prompt",
			Aliases: []string{"p"},
			Usage:   "prompt text (read from stdin when omitted and stdin is not a terminal)",
		},
		&cli.BoolFlag{
			Name:    "interactive",
			Aliases: []string{"i"},
			Usage:   "keep prompting after each answer",
		},
		&cli.StringFlag{
			Name:  "stream-mode",
			Usage: "terminal output (instant, quiet)",
			Value: string(StreamInstant),
		},
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "escape control characters in the output",
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "record generations in this sqlite file",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "print timing and token counts after each answer",
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text for a prompt, or chat interactively",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := loadSettings(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			mode, err := parseStreamMode(cmd.String("stream-mode"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			sess, err := openSession(ctx, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = sess.Close() }()

			historyPath := cmd.String("history")
			if historyPath == "" {
				historyPath = cfg.Server.History
			}
			store, err := openHistory(ctx, historyPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if store != nil {
				defer func() { _ = store.Close() }()
			}

			r := &runner{
				sess:     sess,
				defaults: cfg.GenDefaults(),
				base:     requestOptions(cmd),
				sink:     newTerminalSink(os.Stdout, mode, cmd.Bool("raw")),
				store:    store,
				stats:    cmd.Bool("stats"),
				log:      log,
			}

			prompt := cmd.String("prompt")
			if prompt == "" && !stdinIsTTY() {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read stdin: %v", err), 1)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt != "" {
				if err := r.once(ctx, prompt); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				if !cmd.Bool("interactive") {
					return nil
				}
			}
			return r.interactive(ctx, newLineEditor())
		},
	}
}

type runner struct {
	sess     *loadedSession
	defaults inference.GenDefaults
	base     inference.RequestOptions
	sink     *terminalSink
	store    *history.Store
	stats    bool
	log      logger.Logger
}

func (r *runner) once(ctx context.Context, prompt string) error {
	opts := r.base
	opts.Prompt = prompt
	opts.OnFragment = r.sink.Fragment
	req := inference.ResolveRequest(opts, r.defaults)

	r.sink.Reset()
	created := time.Now()
	res, err := r.sess.Generate(ctx, req)
	if err == nil && res.StopReason == inference.StopStage {
		// Stage runs return a diagnostic line without streaming it.
		_ = r.sink.Fragment([]byte(res.Text))
	}
	if _, ferr := r.sink.Finish(); ferr != nil && err == nil {
		err = ferr
	}
	r.record(ctx, created, req, res, err)
	if err != nil {
		return err
	}
	if r.stats {
		printStats(os.Stderr, res)
	}
	r.log.Debug("generation finished",
		"stop", res.StopReason,
		"prompt_tokens", res.Stats.PromptTokens,
		"tokens", res.Stats.TokensGenerated,
		"decode_tps", res.Stats.DecodeTPS,
	)
	return nil
}

// interactive reads prompts until EOF. "/reset" clears the context memory
// and "/exit" quits.
func (r *runner) interactive(ctx context.Context, ed *lineEditor) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := ed.ReadLine("> ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			r.sess.Reset()
			fmt.Fprintln(os.Stderr, "context cleared")
			continue
		}
		if err := r.once(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (r *runner) record(ctx context.Context, created time.Time, req inference.Request, res *inference.Result, genErr error) {
	if r.store == nil {
		return
	}
	rec := history.Record{
		ID:           "gen_" + uuid.NewString(),
		CreatedAt:    created,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
	}
	if res != nil {
		rec.Output = res.Text
		rec.StopReason = string(res.StopReason)
		rec.Stats = res.Stats
	}
	if genErr != nil {
		rec.Error = genErr.Error()
	}
	if err := r.store.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("record generation", "error", err)
	}
}

func printStats(w io.Writer, res *inference.Result) {
	st := res.Stats
	fmt.Fprintf(w, "stop=%s prompt=%d", res.StopReason, st.PromptTokens)
	if st.PromptTruncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintf(w, " generated=%d/%d prefill=%s (%.2f tok/s) decode=%s (%.2f tok/s) submit_retries=%d\n",
		st.TokensGenerated, st.StepBudget,
		st.PrefillDuration.Round(time.Millisecond), st.PrefillTPS,
		st.DecodeDuration.Round(time.Millisecond), st.DecodeTPS,
		st.Submit.Retries,
	)
}
