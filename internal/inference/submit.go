package inference

import (
	"context"
	"errors"
	"fmt"
)

const (
	DefaultChunk    = 128
	DefaultMinChunk = 16
)

type SubmitStats struct {
	Attempts int `json:"attempts"`
	Retries  int `json:"retries"`
	Tokens   int `json:"tokens"`
}

// Submitter writes token sequences into a Memory in chunks that respect both
// the configured chunk size and the room left in the context. A rejected
// chunk is retried at half its size until MinChunk; a chunk that cannot get
// any smaller fails the submission.
type Submitter struct {
	Memory       *Memory
	Host         Host
	Chunk        int
	MinChunk     int
	SafetyMargin int

	Stats SubmitStats
}

func (s *Submitter) Submit(ctx context.Context, tokens []Token) error {
	if len(tokens) == 0 {
		return errors.New("submit: empty token sequence")
	}
	chunk := s.Chunk
	if chunk <= 0 {
		chunk = DefaultChunk
	}
	minChunk := s.MinChunk
	if minChunk <= 0 {
		minChunk = DefaultMinChunk
	}

	for i := 0; i < len(tokens); {
		if err := ctx.Err(); err != nil {
			return err
		}
		left := len(tokens) - i
		room := s.Memory.Remaining(s.SafetyMargin)
		if room <= 0 {
			return newError(ErrContextExhausted, "submit",
				fmt.Errorf("%d tokens pending, capacity %d, occupied %d, margin %d",
					left, s.Memory.Capacity(), s.Memory.Occupied(), s.SafetyMargin))
		}

		n := min(left, chunk, room)
		for {
			status, err := s.decode(tokens[i:i+n], s.Memory.Occupied())
			s.Stats.Attempts++
			if status == DecodeOK {
				break
			}
			if status == DecodeFatal {
				return newError(ErrDecode, "submit", err)
			}
			next := min(max(minChunk, n/2), room, left)
			if next >= n {
				return newError(ErrDecode, "submit", backoffExhausted(n, err))
			}
			s.Stats.Retries++
			n = next
		}

		if err := s.Memory.commit(n); err != nil {
			return err
		}
		s.Stats.Tokens += n
		i += n
	}
	return nil
}

func (s *Submitter) decode(batch []Token, pos int) (status DecodeStatus, err error) {
	host := s.Host
	if host == nil {
		host = NopHost{}
	}
	host.Detach(func() {
		status, err = safeDecode(s.Memory.dec, batch, pos)
	})
	return status, err
}

func safeDecode(dec Decoder, batch []Token, pos int) (status DecodeStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			status = DecodeFatal
			err = fmt.Errorf("panic in Decode: %v", rec)
		}
	}()
	return dec.Decode(batch, pos)
}

func backoffExhausted(n int, cause error) error {
	if cause == nil {
		return fmt.Errorf("chunk of %d tokens rejected after backoff", n)
	}
	return fmt.Errorf("chunk of %d tokens rejected after backoff: %w", n, cause)
}
