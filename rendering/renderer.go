// Package rendering produces the bracket and versus graphics posted to the
// group chat. Compositing runs outside the process: the implementations here
// only shuttle data to external commands and collect the encoded result.
package rendering

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Renderer turns tournament data into encoded images.
type Renderer interface {
	// RenderVersus composes the two participants of a freshly opened match
	// into a single announcement image. The arguments are the participants'
	// file references in option order.
	RenderVersus(ctx context.Context, left, right string) ([]byte, error)
	// RenderBracket draws the full bracket from the match document produced
	// by the exporter.
	RenderBracket(ctx context.Context, doc []byte) ([]byte, error)
}

// ExecRenderer shells out to configured commands. The versus command receives
// the two file references as trailing arguments; the bracket command receives
// the match document on stdin. Both must write the encoded image to stdout.
type ExecRenderer struct {
	versusCmd  []string
	bracketCmd []string
}

func NewExecRenderer(versusCmd, bracketCmd string) (*ExecRenderer, error) {
	versus := strings.Fields(versusCmd)
	bracket := strings.Fields(bracketCmd)
	if len(versus) == 0 {
		return nil, fmt.Errorf("versus render command is empty")
	}
	if len(bracket) == 0 {
		return nil, fmt.Errorf("bracket render command is empty")
	}
	return &ExecRenderer{versusCmd: versus, bracketCmd: bracket}, nil
}

func (r *ExecRenderer) RenderVersus(ctx context.Context, left, right string) ([]byte, error) {
	args := append(append([]string{}, r.versusCmd[1:]...), left, right)
	return run(ctx, r.versusCmd[0], args, nil)
}

func (r *ExecRenderer) RenderBracket(ctx context.Context, doc []byte) ([]byte, error) {
	return run(ctx, r.bracketCmd[0], r.bracketCmd[1:], doc)
}

func run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s produced no output", name)
	}
	return stdout.Bytes(), nil
}
