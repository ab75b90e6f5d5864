package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/mschirtzinger/studysync/internal/state"
)

// Confirmer asks yes/no questions on the terminal. It declines when input
// is not a terminal, unless AssumeYes is set.
type Confirmer struct {
	AssumeYes bool
	In        *os.File
}

var _ state.Confirmer = (*Confirmer)(nil)

func (c *Confirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if c.AssumeYes {
		return true, nil
	}
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	if !term.IsTerminal(int(in.Fd())) {
		return false, nil
	}

	ok := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).WithInput(in)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return ok, nil
}

// ReadPassword prompts on out and reads a line from in without echo when in
// is a terminal.
func ReadPassword(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if term.IsTerminal(int(in.Fd())) {
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Notifier prints state notices.
type Notifier struct {
	Out io.Writer
}

var _ state.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(level state.Level, message string) {
	out := n.Out
	if out == nil {
		out = os.Stderr
	}
	switch level {
	case state.LevelSuccess:
		fmt.Fprintf(out, "%s %s\n", RenderPass("✓"), message)
	case state.LevelWarning:
		fmt.Fprintf(out, "%s %s\n", RenderWarn("⚠"), message)
	case state.LevelError:
		fmt.Fprintf(out, "%s %s\n", RenderFail("✗"), message)
	default:
		fmt.Fprintf(out, "%s %s\n", RenderAccent("•"), message)
	}
}
