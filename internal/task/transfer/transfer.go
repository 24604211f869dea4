// Package transfer implements the cloud transfer task (spec §4.10, C12): a
// copier wrapper that pre-cleans the destination, copies one or more source
// entries, tolerates casing variants in the copier's JSON event stream, and
// applies the spec's success/retry/no-op decision table.
//
// Grounded on original_source's azcopy_data_transfer.py: the
// azcopy_cleanup_file / azcopy_transfer_file pair (each under its own
// @retry envelope), the TotalTransfers/TransfersCompleted/TransfersFailed
// decision table in validate_transfer_file, and the
// `data_target_location?sas_token` display-URL-without-token pattern. The
// retry envelope is internal/retry.TransferPolicy() (spec §4.10: multiplier
// 1.5, 20s floor, 300s ceiling, 5 attempts) in place of tenacity.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	"github.com/mdp-platform/extraction-pipeline/internal/retry"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/shellrunner"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

const capMbps = 150

// Params is the transfer task's per-job configuration.
type Params struct {
	BlobFamily        string // e.g. "MDP_INBND", resolved via settings.Store.Blob
	CopierCommand     string // default "cp"
	CopierOptions     string
	CleanupDestFlag   bool
	CleanupOptions    string
	AllowEmptyFile    bool
	AllowZeroFile     bool
	CleanupSourceFlag bool
}

// Task drives the copier subprocess through pre-clean, copy, and optional
// source cleanup.
type Task struct {
	store    *settings.Store
	logger   *logrus.Entry
	pipeline string
}

// New returns a transfer Task bound to store for blob endpoint resolution.
// pipeline labels the bytes_transferred_total metric this task emits.
func New(store *settings.Store, logger *logrus.Entry, pipeline string) *Task {
	return &Task{store: store, logger: logger, pipeline: pipeline}
}

// Run executes the transfer algorithm (spec §4.10) for every forwarded
// source file, returning the credential-stripped display URL of the
// destination.
func (t *Task) Run(ctx context.Context, params Params, sources []types.FileDescriptor) (string, error) {
	if len(sources) == 0 {
		return "", pipelineerrors.Config("transfer", "no source files forwarded to the transfer task")
	}

	endpoint, err := t.store.Blob(params.BlobFamily)
	if err != nil {
		return "", err
	}

	targetURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		endpoint.AccountName, endpoint.ContainerName, endpoint.FilePath)
	displayURL := targetURL
	targetURLWithToken := targetURL + "?" + endpoint.SASToken

	command := params.CopierCommand
	if command == "" {
		command = "cp"
	}

	for _, src := range sources {
		if params.CleanupDestFlag {
			pattern := filepath.Base(src.Location)
			if err := t.cleanupDestination(ctx, targetURL, endpoint.SASToken, pattern, params.CleanupOptions); err != nil {
				return "", err
			}
		}

		if _, err := t.transferOne(ctx, src.Location, targetURLWithToken, command, params.CopierOptions,
			params.AllowEmptyFile, params.AllowZeroFile); err != nil {
			return "", err
		}
		metrics.BytesTransferredTotal.WithLabelValues(t.pipeline).Add(float64(src.Size))

		if params.CleanupSourceFlag {
			os.Remove(src.Location)
		}
	}

	return displayURL, nil
}

// cleanupDestination issues the pre-clean remove command under its own
// retry envelope (spec §4.10 step 2).
func (t *Task) cleanupDestination(ctx context.Context, targetURL, sasToken, pattern, options string) error {
	return retry.Do(ctx, retry.TransferPolicy(), t.logger, types.SlotAzcopyTransfer, func(attempt int) error {
		args := []string{"rm", targetURL + "?" + sasToken, "--include-pattern", pattern, "--output-type=json"}
		if options != "" {
			args = append(args, strings.Fields(options)...)
		}
		result, err := shellrunner.Run(ctx, "azcopy", args...)
		if err != nil {
			return pipelineerrors.Copy("cleanup_destination", err.Error())
		}
		if result.ExitCode != 0 {
			return pipelineerrors.Copy("cleanup_destination",
				fmt.Sprintf("azcopy rm exited %d: %s", result.ExitCode, result.Stderr))
		}
		return nil
	})
}

// transferOne expands sourceLocation to concrete local paths, invokes the
// copier under the retry envelope, and applies the decision table (spec
// §4.10 step 3).
func (t *Task) transferOne(ctx context.Context, sourceLocation, targetURLWithToken, command, options string,
	allowEmptyFile, allowZeroFile bool) ([]string, error) {

	plannedFiles, err := expandLocalPaths(sourceLocation)
	if err != nil {
		return nil, err
	}

	var result []string
	retryErr := retry.Do(ctx, retry.TransferPolicy(), t.logger, types.SlotAzcopyTransfer, func(attempt int) error {
		files, err := t.invokeCopier(ctx, sourceLocation, targetURLWithToken, command, options, allowEmptyFile, allowZeroFile)
		if err != nil {
			return err
		}
		result = files
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if result == nil {
		result = plannedFiles
	}
	return result, nil
}

// expandLocalPaths mirrors azcopy_transfer_file's planned-file resolution:
// glob patterns, directories, single files, or (for remote/non-local
// sources) the location unchanged.
func expandLocalPaths(location string) ([]string, error) {
	if strings.ContainsAny(location, "*?[]") {
		matches, err := filepath.Glob(location)
		if err != nil {
			return nil, pipelineerrors.Filesystem("transfer", "glob_source", err.Error())
		}
		return matches, nil
	}

	info, err := os.Stat(location)
	if err != nil {
		if strings.HasPrefix(location, "http") {
			return []string{location}, nil
		}
		return []string{location}, nil
	}
	if info.IsDir() {
		entries, err := os.ReadDir(location)
		if err != nil {
			return nil, pipelineerrors.Filesystem("transfer", "list_source_dir", err.Error())
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(location, e.Name()))
			}
		}
		return files, nil
	}
	return []string{location}, nil
}

// copierSummary holds the fields parsed from the copier's JSON event stream,
// tolerating at least two casing variants per source entry (spec §4.10).
type copierSummary struct {
	total     *int
	completed *int
	failed    *int
	jobStatus string
}

func (t *Task) invokeCopier(ctx context.Context, sourceLocation, targetURLWithToken, command, options string,
	allowEmptyFile, allowZeroFile bool) ([]string, error) {

	var summary copierSummary
	args := []string{command, sourceLocation, targetURLWithToken,
		fmt.Sprintf("--cap-mbps=%d", capMbps), "--output-type=json"}
	if options != "" {
		args = append(args, strings.Fields(options)...)
	}

	onLine := func(event map[string]interface{}) error {
		messageType, _ := event["MessageType"].(string)
		if messageType != "Progress" && messageType != "EndOfJob" {
			return nil
		}
		content, ok := event["MessageContent"].(string)
		if !ok {
			return nil
		}
		parseSummaryInto(&summary, content)
		return nil
	}

	result, err := shellrunner.StreamJSONLines(ctx, onLine, "azcopy", args...)
	if err != nil {
		return nil, pipelineerrors.Copy("invoke_copier", err.Error())
	}

	if result.ExitCode != 0 {
		if allowZeroFile && strings.Contains(strings.ToLower(result.Stderr+result.Stdout), "no such file or directory") {
			return []string{}, nil
		}
		return nil, pipelineerrors.Copy("invoke_copier",
			fmt.Sprintf("azcopy exited %d: %s", result.ExitCode, result.Stderr))
	}

	total := 0
	if summary.total != nil {
		total = *summary.total
	}
	failed := 0
	if summary.failed != nil {
		failed = *summary.failed
	}

	if total == 0 {
		return []string{}, nil
	}
	if failed > 0 {
		return nil, pipelineerrors.Copy("invoke_copier",
			fmt.Sprintf("copier reported failed transfers: TransfersFailed=%d/TotalTransfers=%d", failed, total))
	}

	if !allowEmptyFile && summary.completed != nil && *summary.completed == 0 {
		return nil, pipelineerrors.Copy("invoke_copier", "copier reported zero bytes transferred")
	}

	planned, err := expandLocalPaths(sourceLocation)
	if err != nil {
		return nil, err
	}
	return planned, nil
}

// parseSummaryInto merges one MessageContent JSON document into summary,
// tolerating the casing variants different copier versions emit (spec
// §4.10, §9 open question).
func parseSummaryInto(summary *copierSummary, content string) {
	inner, err := decodeLooseJSON(content)
	if err != nil {
		return
	}
	if v := firstIntField(inner, "TotalTransfers", "totalTransfers", "total_transfers"); v != nil {
		summary.total = v
	}
	if v := firstIntField(inner, "TransfersCompleted", "transfersCompleted", "transfers_completed"); v != nil {
		summary.completed = v
	}
	if v := firstIntField(inner, "TransfersFailed", "transfersFailed", "transfers_failed"); v != nil {
		summary.failed = v
	}
	for _, key := range []string{"JobStatus", "jobStatus", "job_status"} {
		if s, ok := inner[key].(string); ok && s != "" {
			summary.jobStatus = s
		}
	}
}
