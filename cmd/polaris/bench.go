package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

func benchCmd() *cli.Command {
	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags, generationFlags()...)
	flags = append(flags,
		&cli.IntFlag{
			Name:  "warmup",
			Usage: "number of warmup runs",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "runs",
			Usage: "number of measured runs",
			Value: 3,
		},
		&cli.StringFlag{
			Name:    "prompt",
			Aliases: []string{"p"},
			Usage:   "prompt text for benchmarking",
			Value:   "Explain the theory of relativity in simple terms.",
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure prefill and decode throughput",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := loadSettings(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			sess, err := openSession(ctx, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = sess.Close() }()

			opts := requestOptions(cmd)
			opts.Prompt = cmd.String("prompt")
			req := inference.ResolveRequest(opts, cfg.GenDefaults())

			for i := range max(0, cmd.Int("warmup")) {
				if _, err := sess.Generate(ctx, req); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup %d: %v", i+1, err), 1)
				}
			}

			runs := max(1, cmd.Int("runs"))
			results := make([]inference.Stats, 0, runs)
			for i := range runs {
				sess.Reset()
				res, err := sess.Generate(ctx, req)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: run %d: %v", i+1, err), 1)
				}
				log.Debug("bench run", "run", i+1, "stop", res.StopReason, "tokens", res.Stats.TokensGenerated)
				results = append(results, res.Stats)
			}
			writeBenchReport(os.Stdout, sess.backend, results)
			return nil
		},
	}
}

type benchSummary struct {
	Runs        int
	PromptTok   int
	GenTok      float64
	PrefillTPS  float64
	DecodeTPS   float64
	PrefillMean time.Duration
	DecodeMean  time.Duration
	Retries     int
}

func summarize(stats []inference.Stats) benchSummary {
	s := benchSummary{Runs: len(stats)}
	if len(stats) == 0 {
		return s
	}
	var prefill, decode time.Duration
	for _, st := range stats {
		s.PromptTok = st.PromptTokens
		s.GenTok += float64(st.TokensGenerated)
		s.PrefillTPS += st.PrefillTPS
		s.DecodeTPS += st.DecodeTPS
		s.Retries += st.Submit.Retries
		prefill += st.PrefillDuration
		decode += st.DecodeDuration
	}
	n := float64(len(stats))
	s.GenTok /= n
	s.PrefillTPS /= n
	s.DecodeTPS /= n
	s.PrefillMean = prefill / time.Duration(len(stats))
	s.DecodeMean = decode / time.Duration(len(stats))
	return s
}

func writeBenchReport(w io.Writer, backendName string, stats []inference.Stats) {
	s := summarize(stats)
	fmt.Fprintf(w, "backend:        %s\n", backendName)
	fmt.Fprintf(w, "runs:           %d\n", s.Runs)
	fmt.Fprintf(w, "prompt tokens:  %d\n", s.PromptTok)
	fmt.Fprintf(w, "gen tokens:     %.1f\n", s.GenTok)
	fmt.Fprintf(w, "prefill:        %s (%.2f tok/s)\n", s.PrefillMean.Round(time.Microsecond), s.PrefillTPS)
	fmt.Fprintf(w, "decode:         %s (%.2f tok/s)\n", s.DecodeMean.Round(time.Microsecond), s.DecodeTPS)
	fmt.Fprintf(w, "submit retries: %d\n", s.Retries)
}
