// Package slicer invokes the external slicing engine. The engine is opaque:
// it reads two local files, writes one, and exit code zero is the only
// success signal.
package slicer

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/you/slicerd/internal/domain"
)

var commandContext = exec.CommandContext

// outputTail caps how much engine output is carried into the error detail.
const outputTail = 2000

// Engine renders the configured command template and runs it. The template
// carries three substitution points: {config}, {stl} and {gcode}, each
// replaced with a local file path.
type Engine struct {
	template string
}

func New(template string) *Engine {
	return &Engine{template: template}
}

// Slice runs the engine for one job. An abnormal exit comes back as a
// *domain.SlicerError so the caller can tell "this model is unsliceable"
// apart from transport problems; a failure to launch the binary at all
// stays a plain error (deployment problem, worth retrying elsewhere).
func (e *Engine) Slice(ctx context.Context, configPath, stlPath, gcodePath string) error {
	rendered := strings.NewReplacer(
		"{config}", configPath,
		"{stl}", stlPath,
		"{gcode}", gcodePath,
	).Replace(e.template)

	args := strings.Fields(rendered)
	if len(args) == 0 {
		return errors.New("slicer command template is empty")
	}

	var out bytes.Buffer
	cmd := commandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &domain.SlicerError{
				ExitCode: exitErr.ExitCode(),
				Output:   tail(out.String()),
			}
		}
		return errors.Wrapf(err, "start slicer %q", args[0])
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTail {
		return s
	}
	return s[len(s)-outputTail:]
}
