package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch StreamMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", StreamInstant:
		return StreamInstant, nil
	case StreamQuiet:
		return StreamQuiet, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant or quiet)", s)
	}
}

// terminalSink receives fragments from the engine and writes them to a
// terminal. Quiet mode holds everything until Finish.
type terminalSink struct {
	mode StreamMode
	raw  bool
	w    *bufio.Writer
	text strings.Builder
}

func newTerminalSink(w io.Writer, mode StreamMode, raw bool) *terminalSink {
	return &terminalSink{mode: mode, raw: raw, w: bufio.NewWriterSize(w, 4096)}
}

// Fragment is an inference.FragmentFunc. The engine already batches, so
// each fragment is flushed straight through.
func (s *terminalSink) Fragment(chunk []byte) error {
	s.text.Write(chunk)
	if s.mode == StreamQuiet {
		return nil
	}
	if err := s.write(chunk); err != nil {
		return err
	}
	return s.w.Flush()
}

// Finish writes anything held back plus a trailing newline, and returns
// the full streamed text.
func (s *terminalSink) Finish() (string, error) {
	if s.mode == StreamQuiet {
		if err := s.write([]byte(s.text.String())); err != nil {
			return "", err
		}
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return "", err
	}
	return s.text.String(), s.w.Flush()
}

func (s *terminalSink) Reset() {
	s.text.Reset()
}

func (s *terminalSink) write(b []byte) error {
	if !s.raw {
		_, err := s.w.Write(b)
		return err
	}
	_, err := s.w.WriteString(escapeRaw(b))
	return err
}

// escapeRaw makes control bytes visible. It works byte by byte so a
// fragment that ends inside a multi-byte rune is left intact.
func escapeRaw(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		switch {
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c == '\\':
			sb.WriteString(`\\`)
		case c < 0x20 || c == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
