package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

type State int

const (
	StatePrefill State = iota
	StateDecoding
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePrefill:
		return "prefill"
	case StateDecoding:
		return "decoding"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const progressEvery = 50

// loop is the state of a single generate call.
type loop struct {
	model   Model
	sampler Sampler
	mem     *Memory
	sub     *Submitter
	emit    *Emitter
	detect  *StructureDetector
	host    Host
	opts    Options
	log     logger.Logger

	state State
	out   strings.Builder
	stats Stats
}

func (l *loop) run(ctx context.Context, prompt []Token, maxTokens int) (*Result, error) {
	l.state = StatePrefill
	prefillStart := time.Now()
	if err := l.sub.Submit(ctx, prompt); err != nil {
		return nil, fmt.Errorf("prefill: %w", err)
	}
	l.stats.PrefillDuration = time.Since(prefillStart)
	l.stats.PrefillTPS = rate(len(prompt), l.stats.PrefillDuration)
	for _, tok := range prompt {
		l.sampler.Accept(tok)
	}
	l.log.Info("prefill complete",
		"tokens", len(prompt),
		"seconds", l.stats.PrefillDuration.Seconds(),
		"tok_s", l.stats.PrefillTPS,
	)
	if l.opts.Stage == StagePrefill {
		return stageResult(fmt.Sprintf("[OK] prefill in %fs", l.stats.PrefillDuration.Seconds())), nil
	}

	room := l.mem.Remaining(l.opts.SafetyMargin)
	if room <= 0 {
		l.log.Warn("no room to decode after prefill",
			"capacity", l.mem.Capacity(),
			"margin", l.opts.SafetyMargin,
			"occupied", l.mem.Occupied(),
		)
		return l.stop(StopNoRoom)
	}

	switch l.opts.Stage {
	case StageSample, StagePiece, StagePush:
		return l.runStage(ctx)
	}

	budget := maxTokens
	if room < budget {
		l.log.Warn("reducing max tokens to fit context", "requested", maxTokens, "max_tokens", room)
		budget = room
	}
	l.stats.StepBudget = budget

	l.state = StateDecoding
	reason := StopLength
	decodeStart := time.Now()
	windowStart := decodeStart

	for step := 0; step < budget; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tok, err := l.sample()
		if err != nil {
			return nil, err
		}
		l.sampler.Accept(tok)
		if l.model.IsEOG(tok) {
			reason = StopEOG
			break
		}

		piece := l.model.Piece(tok)
		l.out.WriteString(piece)
		l.emit.Append(piece)
		l.stats.TokensGenerated++

		if l.detect != nil && l.detect.Push(piece) {
			reason = StopStructure
			break
		}
		if err := l.emit.MaybeFlush(); err != nil {
			return nil, fmt.Errorf("emit: %w", err)
		}

		if err := l.sub.Submit(ctx, []Token{tok}); err != nil {
			if errors.Is(err, ErrContextExhausted) {
				l.log.Warn("context exhausted while decoding", "generated", l.stats.TokensGenerated)
				reason = StopContext
				break
			}
			return nil, err
		}

		if n := l.stats.TokensGenerated; n%progressEvery == 0 {
			now := time.Now()
			l.log.Debug("decode progress",
				"tokens", n,
				"tok_s", rate(progressEvery, now.Sub(windowStart)),
			)
			windowStart = now
		}
	}

	l.stats.DecodeDuration = time.Since(decodeStart)
	l.stats.DecodeTPS = rate(l.stats.TokensGenerated, l.stats.DecodeDuration)
	l.log.Info("decode complete",
		"tokens", l.stats.TokensGenerated,
		"seconds", l.stats.DecodeDuration.Seconds(),
		"tok_s", l.stats.DecodeTPS,
		"stop", string(reason),
	)
	return l.stop(reason)
}

// stop moves to the terminal state and delivers anything still buffered.
func (l *loop) stop(reason StopReason) (*Result, error) {
	l.state = StateStopped
	if err := l.emit.ForceFlush(); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	l.stats.Submit = l.sub.Stats
	return &Result{
		Text:       l.out.String(),
		StopReason: reason,
		Stats:      l.stats,
	}, nil
}

func (l *loop) runStage(ctx context.Context) (*Result, error) {
	tok, err := l.sample()
	if err != nil {
		return nil, err
	}
	if l.opts.Stage == StageSample {
		return stageResult(fmt.Sprintf("[OK] sample id=%d", tok)), nil
	}
	piece := l.model.Piece(tok)
	if l.opts.Stage == StagePiece {
		return stageResult(fmt.Sprintf("[OK] piece len=%d", len(piece))), nil
	}
	if err := l.sub.Submit(ctx, []Token{tok}); err != nil {
		return nil, err
	}
	return stageResult(fmt.Sprintf("[OK] push one; piece len=%d", len(piece))), nil
}

func (l *loop) sample() (tok Token, err error) {
	l.host.Detach(func() {
		tok, err = safeSample(l.sampler)
	})
	if err != nil {
		return 0, newError(ErrDecode, "sample", err)
	}
	return tok, nil
}

func safeSample(s Sampler) (tok Token, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Sample: %v", rec)
		}
	}()
	return s.Sample()
}

func rate(n int, d time.Duration) float64 {
	if n == 0 || d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
