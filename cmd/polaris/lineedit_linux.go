//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

type lineEditor struct {
	in      *os.File
	r       *bufio.Reader
	out     io.Writer
	history []string
}

func newLineEditor() *lineEditor {
	return &lineEditor{in: os.Stdin, r: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func stdinIsTTY() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS)
	return err == nil
}

// ReadLine reads one line with basic editing and history. Ctrl+C and
// Ctrl+D on an empty line return io.EOF.
func (l *lineEditor) ReadLine(prompt string) (string, error) {
	fd := int(l.in.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return readPlainLine(l.r, l.out, prompt)
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() { _ = unix.IoctlSetTermios(fd, unix.TCSETS, saved) }()

	st := newEditState(l.history)
	fmt.Fprint(l.out, prompt)
	for {
		r, _, err := l.r.ReadRune()
		if err != nil {
			return "", err
		}
		switch r {
		case '\r', '\n':
			fmt.Fprint(l.out, "\r\n")
			line := st.String()
			if strings.TrimSpace(line) != "" {
				l.history = append(l.history, line)
			}
			return line, nil
		case 3: // Ctrl+C
			fmt.Fprint(l.out, "^C\r\n")
			return "", io.EOF
		case 4: // Ctrl+D
			if len(st.buf) == 0 {
				fmt.Fprint(l.out, "\r\n")
				return "", io.EOF
			}
			st.deleteForward()
		case 127, 8:
			st.backspace()
		case 1:
			st.home()
		case 5:
			st.end()
		case 21:
			st.killToStart()
		case 23:
			st.deleteWord()
		case 27:
			if err := l.escape(st); err != nil {
				return "", err
			}
		default:
			if r < 32 {
				continue
			}
			st.insert(r)
		}
		st.redraw(l.out, prompt)
	}
}

func (l *lineEditor) escape(st *editState) error {
	b, err := l.r.ReadByte()
	if err != nil {
		return err
	}
	if b != '[' && b != 'O' {
		return nil
	}
	var seq strings.Builder
	for {
		c, err := l.r.ReadByte()
		if err != nil {
			return err
		}
		seq.WriteByte(c)
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '~' {
			break
		}
	}
	st.csi(seq.String())
	return nil
}
