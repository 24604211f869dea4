package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mdp-platform/extraction-pipeline/internal/config"
	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	"github.com/mdp-platform/extraction-pipeline/internal/oplog"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/task/archive"
	"github.com/mdp-platform/extraction-pipeline/internal/task/controlfile"
	"github.com/mdp-platform/extraction-pipeline/internal/task/decrypt"
	"github.com/mdp-platform/extraction-pipeline/internal/task/ebanin"
	"github.com/mdp-platform/extraction-pipeline/internal/task/extraction"
	"github.com/mdp-platform/extraction-pipeline/internal/task/keyfile"
	"github.com/mdp-platform/extraction-pipeline/internal/task/preprocess"
	"github.com/mdp-platform/extraction-pipeline/internal/task/transfer"
	"github.com/mdp-platform/extraction-pipeline/internal/tracing"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Executor runs a JobConfig's tasks in the fixed slot order (spec §4.2),
// threading FileDescriptors from one stage's output to the next, recording
// an operation-log row, and re-raising any task failure after logging it.
type Executor struct {
	store   *settings.Store
	sink    *oplog.Sink
	logger  *logrus.Entry
	tracer  *tracing.Manager
}

// New returns an Executor bound to store for per-task secret/connection
// resolution, sink for the operation-log row, and tracer for per-slot spans.
func New(store *settings.Store, sink *oplog.Sink, logger *logrus.Entry, tracer *tracing.Manager) *Executor {
	return &Executor{store: store, sink: sink, logger: logger, tracer: tracer}
}

// Run executes every non-bypassed, run-only-eligible slot in cfg.Tasks, in
// types.SlotOrder, and returns the aggregated ExecutedValues. On task
// failure it emits a FAILED operation-log row and re-raises; on completion
// it emits a SUCCESS row (spec §4.2, §7).
func (e *Executor) Run(ctx context.Context, cfg types.JobConfig, params *types.JobParameters) (types.ExecutedValues, error) {
	row := oplog.NewRow(params.PosDt, cfg.JobName, cfg.PipelineName, params.AdbJobID, params.AdbRunID)
	row.StartedAt = time.Now()

	var ev types.ExecutedValues
	var files []types.FileDescriptor

	dateMapping, err := config.BuildMapping(params.PosDt, cfg.JobSeq, e.store)
	if err != nil {
		return ev, e.fail(row, ev, err)
	}

	runCtx := ctx
	if e.tracer != nil {
		var span oteltrace.Span
		runCtx, span = e.tracer.StartRun(ctx, cfg.JobName)
		defer span.End()
	}

	for _, slot := range types.SlotOrder {
		entry, configured := cfg.Tasks[slot]
		if !configured || entry.Bypass || !params.ShouldRun(slot) {
			continue
		}

		taskCtx := runCtx
		var taskSpan oteltrace.Span
		if e.tracer != nil {
			taskCtx, taskSpan = e.tracer.StartTask(runCtx, slot)
		}

		started := time.Now()
		files, ev, err = e.runSlot(taskCtx, slot, entry, params, cfg.PipelineName, dateMapping, files, ev)
		ev.FromFileDescriptors(files)
		metrics.RecordTaskOutcome(cfg.PipelineName, slot, outcomeLabel(err), time.Since(started))

		if taskSpan != nil {
			tracing.RecordError(taskSpan, err)
			taskSpan.End()
		}
		if err != nil {
			return ev, e.fail(row, ev, err)
		}
	}

	row.EndedAt = time.Now()
	row.Status = "SUCCESS"
	row = oplog.FromExecutedValues(row, ev)
	if err := e.sink.Append(row); err != nil && e.logger != nil {
		e.logger.WithError(err).Warn("failed to append success operation-log row")
	}
	metrics.PipelineRunsTotal.WithLabelValues(cfg.PipelineName, "SUCCESS").Inc()
	return ev, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (e *Executor) fail(row oplog.Row, ev types.ExecutedValues, err error) error {
	row.EndedAt = time.Now()
	row.Status = "FAILED"
	if pe, ok := pipelineerrors.As(err); ok {
		row.JobMessage = pe.OperationLogMessage()
	} else {
		row.JobMessage = err.Error()
	}
	row = oplog.FromExecutedValues(row, ev)
	if appendErr := e.sink.Append(row); appendErr != nil && e.logger != nil {
		e.logger.WithError(appendErr).Warn("failed to append failure operation-log row")
	}
	metrics.PipelineRunsTotal.WithLabelValues(row.PipelineName, "FAILED").Inc()
	return err
}

// runSlot dispatches to the task implementation for slot, returning the
// file list and ExecutedValues fields to carry forward to the next stage.
func (e *Executor) runSlot(ctx context.Context, slot string, entry types.TaskEntry, params *types.JobParameters,
	pipelineName string, dateMapping map[string]string, files []types.FileDescriptor, ev types.ExecutedValues) ([]types.FileDescriptor, types.ExecutedValues, error) {

	switch slot {
	case types.SlotEbanIn:
		task := ebanin.New(e.logger)
		if err := task.Run(ctx, decodeEBANInParams(entry.Parameters, params.SchedulerID, params.PosDt)); err != nil {
			return files, ev, err
		}
		return files, ev, nil

	case types.SlotSourceExtract:
		task := extraction.New(e.store, pipelineName)
		produced, err := task.Run(ctx, decodeExtractionParams(entry.Parameters), dateMapping)
		if err != nil {
			return files, ev, err
		}
		return produced, ev, nil

	case types.SlotControlFile:
		task := controlfile.New(e.store)
		content, err := task.Run(ctx, decodeControlFileParams(entry.Parameters), dateMapping)
		if err != nil {
			return files, ev, err
		}
		ev.CtlFileDetails = content
		return files, ev, nil

	case types.SlotFileExtractor:
		task := archive.New(pipelineName)
		produced, err := task.Run(decodeArchiveParams(entry.Parameters))
		if err != nil {
			return files, ev, err
		}
		return produced, ev, nil

	case types.SlotPreprocess:
		task := preprocess.New()
		if err := task.Run(ctx, decodePreprocessParams(entry.Parameters)); err != nil {
			return files, ev, err
		}
		return files, ev, nil

	case types.SlotFileDecryptor:
		task := decrypt.New(e.store)
		produced, err := task.Run(ctx, decodeDecryptParams(entry.Parameters), files)
		if err != nil {
			return files, ev, err
		}
		return produced, ev, nil

	case types.SlotKeyFileGen:
		keyParams, err := decodeKeyfileParams(entry.Parameters)
		if err != nil {
			return files, ev, err
		}
		task := keyfile.New(e.store)
		produced, err := task.Run(ctx, keyParams, params.PosDt, files)
		if err != nil {
			return files, ev, err
		}
		return produced, ev, nil

	case types.SlotAzcopyTransfer:
		task := transfer.New(e.store, e.logger, pipelineName)
		displayURL, err := task.Run(ctx, decodeTransferParams(entry.Parameters), files)
		if err != nil {
			return files, ev, err
		}
		ev.TargetFilePath = displayURL
		return files, ev, nil

	default:
		return files, ev, pipelineerrors.Config("run_slot", fmt.Sprintf("no implementation registered for task slot %q", slot))
	}
}
