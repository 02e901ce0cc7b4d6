package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// editState is the line being edited at an interactive prompt.
type editState struct {
	buf    []rune
	cursor int

	history []string
	histPos int
	draft   string
}

func newEditState(history []string) *editState {
	return &editState{history: history, histPos: len(history)}
}

func (e *editState) String() string { return string(e.buf) }

func (e *editState) insert(r rune) {
	e.buf = append(e.buf, 0)
	copy(e.buf[e.cursor+1:], e.buf[e.cursor:])
	e.buf[e.cursor] = r
	e.cursor++
}

func (e *editState) backspace() {
	if e.cursor == 0 {
		return
	}
	e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
	e.cursor--
}

func (e *editState) deleteForward() {
	if e.cursor < len(e.buf) {
		e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
	}
}

func (e *editState) left() {
	if e.cursor > 0 {
		e.cursor--
	}
}

func (e *editState) right() {
	if e.cursor < len(e.buf) {
		e.cursor++
	}
}

func (e *editState) home() { e.cursor = 0 }
func (e *editState) end()  { e.cursor = len(e.buf) }

// killToStart drops everything before the cursor.
func (e *editState) killToStart() {
	e.buf = append(e.buf[:0], e.buf[e.cursor:]...)
	e.cursor = 0
}

// deleteWord removes the word before the cursor and any spaces after it.
func (e *editState) deleteWord() {
	start := e.cursor
	for start > 0 && unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	for start > 0 && !unicode.IsSpace(e.buf[start-1]) {
		start--
	}
	e.buf = append(e.buf[:start], e.buf[e.cursor:]...)
	e.cursor = start
}

func (e *editState) prev() {
	if e.histPos == 0 {
		return
	}
	if e.histPos == len(e.history) {
		e.draft = string(e.buf)
	}
	e.histPos--
	e.replace(e.history[e.histPos])
}

func (e *editState) next() {
	if e.histPos >= len(e.history) {
		return
	}
	e.histPos++
	if e.histPos == len(e.history) {
		e.replace(e.draft)
		return
	}
	e.replace(e.history[e.histPos])
}

func (e *editState) replace(s string) {
	e.buf = []rune(s)
	e.cursor = len(e.buf)
}

// csi applies an ANSI control sequence final part such as "A" or "3~".
func (e *editState) csi(seq string) {
	switch seq {
	case "A":
		e.prev()
	case "B":
		e.next()
	case "C":
		e.right()
	case "D":
		e.left()
	case "H", "1~":
		e.home()
	case "F", "4~":
		e.end()
	case "3~":
		e.deleteForward()
	}
}

// redraw repaints the prompt and line, then puts the terminal cursor back
// where the edit cursor is.
func (e *editState) redraw(w io.Writer, prompt string) {
	fmt.Fprintf(w, "\r%s%s\x1b[K", prompt, string(e.buf))
	if back := len(e.buf) - e.cursor; back > 0 {
		fmt.Fprintf(w, "\x1b[%dD", back)
	}
}

func readPlainLine(r *bufio.Reader, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	s, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}
