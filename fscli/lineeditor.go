// =============================================================================
// lineeditor.go - Line Editing with History
// =============================================================================
//
// LineEditor gives the REPL arrow-key editing, Ctrl-R search and a history
// file when stdin is a terminal. When stdin is a pipe, a file or an Emacs
// comint buffer, it falls back to a plain bufio.Scanner so scripted input
// ("echo 'status' | fscli") works unchanged.
//
// =============================================================================

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".fscli_history"

	historySize = 1000
)

// LineEditor reads one line of input at a time.
type LineEditor struct {
	interactive bool

	rl *readline.Instance

	scanner *bufio.Scanner
	out     io.Writer
}

// NewLineEditor picks readline when in is a terminal and a scanner
// otherwise. out receives the prompt in the non-interactive case.
func NewLineEditor(in *os.File, out io.Writer) *LineEditor {
	isInteractive := term.IsTerminal(int(in.Fd())) &&
		os.Getenv("INSIDE_EMACS") == ""

	if !isInteractive {
		return newScannerEditor(in, out)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:  filepath.Join(homeDir(), historyFileName),
		HistoryLimit: historySize,

		// Saved by hand so blank lines stay out of the history.
		DisableAutoSaveHistory: true,

		Prompt: "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return newScannerEditor(in, out)
	}

	return &LineEditor{
		interactive: true,
		rl:          rl,
	}
}

func newScannerEditor(in io.Reader, out io.Writer) *LineEditor {
	scanner := bufio.NewScanner(in)
	// api responses can be pasted back as input; allow long lines.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineEditor{
		interactive: false,
		scanner:     scanner,
		out:         out,
	}
}

// GetLine shows prompt and returns the next line without its newline. It
// returns io.EOF at end of input or on Ctrl-C / Ctrl-D.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getNonInteractiveLine(prompt)
}

func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)

	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}

	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}

	return line, nil
}

func (le *LineEditor) getNonInteractiveLine(prompt string) (string, error) {
	fmt.Fprint(le.out, prompt)

	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	return le.scanner.Text(), nil
}

// Close restores the terminal. It is safe to call more than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}
