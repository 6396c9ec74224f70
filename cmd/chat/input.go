package main

import (
	"bufio"
	"io"

	"github.com/chzyer/readline"
)

// newLineEditor opens a readline prompt when stdin is a terminal. Piped
// input gets nil and falls back to the plain scanner.
func newLineEditor() (*readline.Instance, error) {
	if !readline.DefaultIsTerminal() {
		return nil, nil
	}
	return readline.NewEx(&readline.Config{
		Prompt:          promptFor(""),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
}

func promptFor(current string) string {
	if current == "" {
		return "> "
	}
	return "[" + current + "] > "
}

// readWithReadline feeds edited lines until Ctrl+C, Ctrl+D or Close
func readWithReadline(rl *readline.Instance, lines chan<- string) {
	defer close(lines)
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		lines <- line
	}
}

// readWithScanner feeds lines from a non-interactive input
func readWithScanner(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}
