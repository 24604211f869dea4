// Package preprocess implements the preprocess command stage (spec §4.7):
// an escape hatch that invokes an arbitrary shell/interpreter command from
// the job config, with no structured input/output contract beyond exit
// code. Grounded on original_source's utility/shell_script/common.py
// run_command wrapper, which every original task stage shells out through;
// here it is the dedicated internal/shellrunner.
package preprocess

import (
	"context"

	"github.com/mdp-platform/extraction-pipeline/internal/shellrunner"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

// Params is the preprocess task's per-job configuration.
type Params struct {
	Command string
	Args    []string
}

// Task runs the configured command and fails on non-zero exit.
type Task struct{}

// New returns a preprocess Task.
func New() *Task {
	return &Task{}
}

// Run executes params.Command, used as a per-source cleanup/setup escape
// hatch with no contract beyond exit code (spec §4.7).
func (t *Task) Run(ctx context.Context, params Params) error {
	result, err := shellrunner.Run(ctx, params.Command, params.Args...)
	if err != nil {
		return pipelineerrors.Filesystem("preprocess", "run_command", err.Error())
	}
	if result.ExitCode != 0 {
		return pipelineerrors.New(pipelineerrors.FilesystemError, "preprocess", "run_command",
			"command exited non-zero").
			WithMetadata("exit_code", result.ExitCode).
			WithMetadata("stderr", result.Stderr)
	}
	return nil
}
