//go:build !linux

package main

import (
	"bufio"
	"io"
	"os"
)

type lineEditor struct {
	r   *bufio.Reader
	out io.Writer
}

func newLineEditor() *lineEditor {
	return &lineEditor{r: bufio.NewReader(os.Stdin), out: os.Stdout}
}

func stdinIsTTY() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func (l *lineEditor) ReadLine(prompt string) (string, error) {
	return readPlainLine(l.r, l.out, prompt)
}
