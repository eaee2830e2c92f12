// ABOUTME: Terminal interactor for interactive runs: step prompts, dangerous-call
// ABOUTME: confirmation, and streamed summary output.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/porterhq/porter/agent"
)

// consoleInteractor reads decisions from a terminal. EOF on stdin is treated
// as a stop.
type consoleInteractor struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsoleInteractor(in io.Reader, out io.Writer) *consoleInteractor {
	return &consoleInteractor{in: bufio.NewReader(in), out: out}
}

func (c *consoleInteractor) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *consoleInteractor) confirm(prompt string) (bool, error) {
	fmt.Fprint(c.out, prompt)
	line, err := c.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (c *consoleInteractor) ConfirmDangerous(ctx context.Context, call string) (bool, error) {
	return c.confirm(fmt.Sprintf("about to run %s - proceed? [y/N] ", call))
}

func (c *consoleInteractor) ConfirmClear(ctx context.Context) (bool, error) {
	return c.confirm("clear session history? [y/N] ")
}

// NextDecision parses one line into a step decision:
//
//	<enter>     continue
//	s, stop     stop the run
//	r, replan   discard the pending proposal and plan again
//	c, clear    clear history and continue
//	e <goal>    replace the goal
func (c *consoleInteractor) NextDecision(ctx context.Context) (agent.Decision, error) {
	fmt.Fprint(c.out, "[enter=continue, s=stop, e <goal>=edit, r=replan, c=clear] > ")
	line, err := c.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return agent.Decision{Command: agent.CommandStop}, nil
		}
		return agent.Decision{}, err
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(cmd) {
	case "":
		return agent.Decision{Command: agent.CommandContinue}, nil
	case "s", "stop":
		return agent.Decision{Command: agent.CommandStop}, nil
	case "r", "replan":
		return agent.Decision{Command: agent.CommandReplan}, nil
	case "c", "clear":
		return agent.Decision{Command: agent.CommandClear}, nil
	case "e", "edit":
		goal := strings.TrimSpace(rest)
		if goal == "" {
			fmt.Fprintln(c.out, "edit needs a goal; continuing unchanged")
			return agent.Decision{Command: agent.CommandContinue}, nil
		}
		return agent.Decision{Command: agent.CommandEdit, Goal: goal}, nil
	default:
		fmt.Fprintf(c.out, "unknown command %q; continuing\n", cmd)
		return agent.Decision{Command: agent.CommandContinue}, nil
	}
}

func (c *consoleInteractor) SummaryChunk(text string) {
	fmt.Fprint(c.out, text)
}

func (c *consoleInteractor) Notify(text string) {
	fmt.Fprintln(c.out, text)
}
