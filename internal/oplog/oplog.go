// Package oplog is the operation-log sink: an append-only table, partitioned
// by pos_dt, of one row per pipeline run with start/end timestamps, final
// status, job_message, and the ExecutedValues the executor produced.
// Housekeeping compacts the partition's underlying files when their count
// exceeds a threshold, guarded by a non-blocking advisory lock over a
// sidecar file — failure to acquire it means another process is compacting
// and this one must skip.
//
// An append-only file queue (mutex-guarded os.File appends, JSON-per-line
// records, file rotation by count) is adapted here from a failure queue
// into a success/failure run ledger, with github.com/gofrs/flock replacing
// in-process mutex-only discipline for the cross-process compaction guard.
package oplog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// CompactionThreshold is the fixed file-count threshold that triggers a
// compaction/vacuum pass over a partition (spec §6, "default 50").
const CompactionThreshold = 50

// Row is one operation-log entry.
type Row struct {
	ID         string   `json:"id"`
	PosDt      string   `json:"pos_dt"`
	JobName    string   `json:"job_name"`
	PipelineName string `json:"pipeline_name"`
	AdbJobID   string   `json:"adb_job_id,omitempty"`
	AdbRunID   string   `json:"adb_run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Status     string   `json:"status"`
	JobMessage string   `json:"job_message,omitempty"`

	ExtractFilePaths []string `json:"extract_file_paths,omitempty"`
	TargetFilePath   string   `json:"target_file_path,omitempty"`
	FilesSize        []int64  `json:"files_size,omitempty"`
	CtlFileDetails   string   `json:"ctl_file_details,omitempty"`
}

// FromExecutedValues folds the executor's return value into a Row.
func FromExecutedValues(row Row, ev types.ExecutedValues) Row {
	row.ExtractFilePaths = ev.ExtractFilePaths
	row.TargetFilePath = ev.TargetFilePath
	row.FilesSize = ev.FilesSize
	row.CtlFileDetails = ev.CtlFileDetails
	return row
}

// Sink appends rows into a pos_dt-partitioned append-only log on disk and
// performs threshold-triggered compaction guarded by an advisory file lock.
type Sink struct {
	baseDir string
	mutex   sync.Mutex
}

// NewSink returns a Sink rooted at baseDir; one subdirectory per pos_dt
// partition is created under it on demand.
func NewSink(baseDir string) *Sink {
	return &Sink{baseDir: baseDir}
}

// NewRow builds a Row with a fresh correlation id for one pipeline run.
func NewRow(posDt, jobName, pipelineName, adbJobID, adbRunID string) Row {
	return Row{
		ID:           uuid.NewString(),
		PosDt:        posDt,
		JobName:      jobName,
		PipelineName: pipelineName,
		AdbJobID:     adbJobID,
		AdbRunID:     adbRunID,
	}
}

func (s *Sink) partitionDir(posDt string) string {
	return filepath.Join(s.baseDir, "pos_dt="+posDt)
}

// Append writes row as one JSON line into its pos_dt partition, then runs
// housekeeping if the partition's file count has crossed CompactionThreshold.
func (s *Sink) Append(row Row) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	dir := s.partitionDir(row.PosDt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("oplog: create partition dir: %w", err)
	}

	path := filepath.Join(dir, row.ID+".json")
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("oplog: marshal row: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("oplog: write row: %w", err)
	}
	metrics.OperationLogRowsTotal.WithLabelValues(row.Status).Inc()

	return s.maybeCompact(dir)
}

// maybeCompact consolidates a partition's per-row files into a single
// compacted file once the count exceeds CompactionThreshold (spec §6). The
// sidecar lock is non-blocking: if another process holds it, this call
// skips compaction rather than waiting (spec §5).
func (s *Sink) maybeCompact(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("oplog: list partition: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			files = append(files, e.Name())
		}
	}
	if len(files) <= CompactionThreshold {
		return nil
	}

	lock := flock.New(filepath.Join(dir, ".compact.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("oplog: acquire compaction lock: %w", err)
	}
	if !locked {
		return nil // another process is compacting; skip
	}
	defer lock.Unlock()

	sort.Strings(files)
	compactedPath := filepath.Join(dir, "compacted.ndjson")
	out, err := os.OpenFile(compactedPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("oplog: open compacted file: %w", err)
	}
	defer out.Close()

	writer := bufio.NewWriter(out)
	for _, name := range files {
		full := filepath.Join(dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		if _, err := writer.Write(data); err != nil {
			return fmt.Errorf("oplog: append to compacted file: %w", err)
		}
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("oplog: remove compacted source row: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("oplog: flush compacted file: %w", err)
	}
	metrics.OperationLogCompactionsTotal.Inc()
	return nil
}
