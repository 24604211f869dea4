// Package ebanin implements the EBAN-IN extraction stage (C5, the pipeline's
// first task slot): shell out to a fixed on-host extraction script with
// scheduler_id and pos_dt as positional arguments, under the same capped
// backoff envelope the transfer task uses. Unlike the other extractor, it
// takes no query or connection of its own — the script pulls its
// configuration from a VM-local file outside this pipeline's control.
//
// Grounded on original_source's eban_in_extractor.py: a single
// execute_eban_in_script method wrapping mdp_extraction_foundation.sh under
// a tenacity retry decorator.
package ebanin

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mdp-platform/extraction-pipeline/internal/retry"
	"github.com/mdp-platform/extraction-pipeline/internal/shellrunner"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Params is the EBAN-IN task's per-job configuration. The script path is
// configurable to keep the VM-local layout out of code; the original
// hardcodes it under /app_mdp.
type Params struct {
	ScriptPath  string
	SchedulerID string
	PosDt       string
}

// Task runs the EBAN-IN extraction script.
type Task struct {
	logger *logrus.Entry
}

// New returns an ebanin Task.
func New(logger *logrus.Entry) *Task {
	return &Task{logger: logger}
}

// Run executes the script under the transfer retry policy (spec §4.2: the
// eban_in slot shares the same capped-backoff envelope as the copier).
func (t *Task) Run(ctx context.Context, params Params) error {
	return retry.Do(ctx, retry.TransferPolicy(), t.logger, types.SlotEbanIn, func(attempt int) error {
		result, err := shellrunner.Run(ctx, params.ScriptPath, params.SchedulerID, params.PosDt)
		if err != nil {
			return pipelineerrors.Filesystem("ebanin", "run_script", err.Error())
		}
		if result.ExitCode != 0 {
			return pipelineerrors.New(pipelineerrors.DriverTransient, "ebanin", "run_script",
				fmt.Sprintf("EBAN-IN extraction returned exit_code %d", result.ExitCode)).
				WithMetadata("stdout", result.Stdout).
				WithMetadata("stderr", result.Stderr)
		}
		return nil
	})
}
