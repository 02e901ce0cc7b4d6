package api

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/Tech-Tweakers/polaris-core/internal/reasoning"
)

const (
	eventDelta     = "generation.delta"
	eventCompleted = "generation.completed"
	eventFailed    = "generation.failed"
)

// SSEStreamWriter writes one generation as server-sent events: any number
// of generation.delta events followed by exactly one generation.completed or
// generation.failed.
type SSEStreamWriter struct {
	w       io.Writer
	flusher func()
	id      string
	seq     int

	carry    utf8Carry
	splitter reasoning.Splitter
	begun    bool
}

func NewSSEStreamWriter(c *echo.Context, id string) (*SSEStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	return &SSEStreamWriter{
		w:       res,
		flusher: flusher.Flush,
		id:      id,
		seq:     1,
	}, nil
}

// Started reports whether any event has been written. After that the HTTP
// status is committed and errors must travel as events.
func (s *SSEStreamWriter) Started() bool {
	return s.begun
}

// Fragment is an inference.FragmentFunc.
func (s *SSEStreamWriter) Fragment(chunk []byte) error {
	return s.delta(s.carry.Push(chunk))
}

func (s *SSEStreamWriter) delta(text string) error {
	if text == "" {
		return nil
	}
	content, thought := s.splitter.Push(text)
	return s.send(eventDelta, streamEvent{
		Delta:          text,
		ContentDelta:   content,
		ReasoningDelta: thought,
	})
}

func (s *SSEStreamWriter) drain() error {
	if err := s.delta(s.carry.Flush()); err != nil {
		return err
	}
	content, thought := s.splitter.Flush()
	if content == "" && thought == "" {
		return nil
	}
	return s.send(eventDelta, streamEvent{ContentDelta: content, ReasoningDelta: thought})
}

func (s *SSEStreamWriter) Complete(resp GenerateResponse) error {
	if err := s.drain(); err != nil {
		return err
	}
	return s.send(eventCompleted, streamEvent{Response: &resp})
}

func (s *SSEStreamWriter) Failed(err error) error {
	_, errType := statusFor(err)
	return s.send(eventFailed, streamEvent{Error: &ResponseError{Message: err.Error(), Type: errType}})
}

func (s *SSEStreamWriter) send(name string, ev streamEvent) error {
	s.begun = true
	ev.Type = name
	ev.ID = s.id
	ev.SequenceNumber = s.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	s.seq++
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}
