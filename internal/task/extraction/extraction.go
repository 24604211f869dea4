// Package extraction implements the extraction task (spec §4.5, C7):
// resolve a connection, build the query, clean sibling leftovers from a
// prior run, stream the source in batches, write one file per batch with
// a dense 0-based part number, and enforce the zero-record policy.
//
// Grounded on original_source's odbc_data_extractor.py
// (save_data_in_batches / search_existing_file / replaced_full_file_name),
// reimplemented over internal/source.Cursor and internal/writer instead of
// SQLAlchemy + csv.writer.
package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mdp-platform/extraction-pipeline/internal/config"
	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/source"
	"github.com/mdp-platform/extraction-pipeline/internal/writer"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Format is the output file format the task writes.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Params is the extraction task's per-job configuration (spec §4.5).
type Params struct {
	ConnectionName    string
	Query             string
	QueryFilePath     string
	ExtractDir        string
	BatchSize         int
	AllowZeroRecord   bool
	FullFileName      string // carries the {{ part_number }} placeholder
	FileExtension     string
	Format            Format
	WritePolicy       writer.WritePolicy
}

// Task coordinates C5 (source) and C6 (writer).
type Task struct {
	store    *settings.Store
	pipeline string
}

// New returns an extraction Task bound to store for connection resolution.
// pipeline labels the records_extracted_total and files_produced_total
// metrics this task emits.
func New(store *settings.Store, pipeline string) *Task {
	return &Task{store: store, pipeline: pipeline}
}

// Run executes the extraction algorithm (spec §4.5 steps 1-7), returning
// descriptors in emission order with dense, 0-based part numbers.
func (t *Task) Run(ctx context.Context, params Params, dateMapping map[string]string) ([]types.FileDescriptor, error) {
	profile, err := t.store.Connection(params.ConnectionName)
	if err != nil {
		return nil, err
	}

	query, err := t.buildQuery(params, dateMapping)
	if err != nil {
		return nil, err
	}

	if err := cleanupLeftovers(params.FullFileName, params.ExtractDir); err != nil {
		return nil, err
	}

	adapter, err := source.For(profile.Kind)
	if err != nil {
		return nil, pipelineerrors.Config("extraction", err.Error())
	}

	cursor, err := adapter.Open(ctx, profile, query, params.BatchSize)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var descriptors []types.FileDescriptor
	partNumber := 0
	for {
		batch, ok, err := cursor.Next(ctx)
		if err != nil {
			return descriptors, err
		}
		if !ok {
			break
		}
		descriptor, err := t.writeBatch(params, batch, partNumber)
		if err != nil {
			return descriptors, err
		}
		descriptors = append(descriptors, descriptor)
		metrics.RecordsExtractedTotal.WithLabelValues(t.pipeline, string(profile.Kind)).Add(float64(len(batch.Rows)))
		partNumber++
	}

	if len(descriptors) == 0 {
		if !params.AllowZeroRecord {
			return nil, pipelineerrors.NoRecordsErr("run", "found zero records and allow_zero_record is false")
		}
		descriptor, err := t.writeBatch(params, source.Batch{}, partNumber)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descriptor)
	}

	metrics.FilesProducedTotal.WithLabelValues(t.pipeline, types.SlotSourceExtract).Add(float64(len(descriptors)))
	return descriptors, nil
}

func (t *Task) buildQuery(params Params, dateMapping map[string]string) (string, error) {
	raw := params.Query
	if raw == "" && params.QueryFilePath != "" {
		data, err := os.ReadFile(params.QueryFilePath)
		if err != nil {
			return "", pipelineerrors.Filesystem("extraction", "read_query_file", err.Error())
		}
		raw = string(data)
	}
	if raw == "" {
		return "", pipelineerrors.Config("build_query", "neither query nor sql_file_path was provided")
	}
	return config.RenderTemplate(raw, dateMapping, false), nil
}

// renderPartNumber substitutes {{ part_number }} with value, leaving any
// other placeholder verbatim.
func renderPartNumber(fullFileName string, value string) string {
	return config.RenderTemplate(fullFileName, map[string]string{"part_number": value}, true)
}

// globMetachars are the characters filepath.Match treats specially; any of
// these appearing literally in a rendered file name must be escaped before
// the name is used as a glob pattern.
const globMetachars = `\*?[]`

// escapeGlob backslash-escapes every filepath.Match metacharacter in s, so s
// matches itself literally when embedded in a larger glob pattern.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(globMetachars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// cleanupLeftovers removes every file in dir matching fullFileName's
// pattern with any part_number and any extension, making reruns
// idempotent (spec §4.5 step 4). The base name is glob-escaped before the
// part_number wildcard is substituted in, so literal `[`, `]`, or `?`
// characters in a configured file name are matched literally rather than
// interpreted as glob metacharacters.
func cleanupLeftovers(fullFileName, dir string) error {
	escapedBase := escapeGlob(filepath.Base(fullFileName))
	pattern := renderPartNumber(escapedBase, "*") + ".*"
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return pipelineerrors.Filesystem("extraction", "glob_leftovers", err.Error())
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil {
			return pipelineerrors.Filesystem("extraction", "remove_leftover", err.Error())
		}
	}
	return nil
}

func (t *Task) writeBatch(params Params, batch source.Batch, partNumber int) (types.FileDescriptor, error) {
	baseName := renderPartNumber(params.FullFileName, strconv.Itoa(partNumber))
	fileName := fmt.Sprintf("%s.%s", baseName, params.FileExtension)

	records := toRecords(batch)
	var err error
	switch params.Format {
	case FormatJSON:
		err = writer.WriteJSON(fileName, records)
	default:
		err = writer.WriteDelimited(fileName, batch.Columns, records, params.WritePolicy)
	}
	if err != nil {
		return types.FileDescriptor{}, err
	}

	info, statErr := os.Stat(fileName)
	if statErr != nil {
		return types.FileDescriptor{}, pipelineerrors.Filesystem("extraction", "stat_output", statErr.Error())
	}
	return types.FileDescriptor{
		Location:  fileName,
		Size:      info.Size(),
		CreatedAt: time.Now(),
	}, nil
}

func toRecords(batch source.Batch) []writer.Record {
	records := make([]writer.Record, len(batch.Rows))
	for i, row := range batch.Rows {
		record := make(writer.Record, len(batch.Columns))
		for j, col := range batch.Columns {
			if j < len(row) {
				record[col] = row[j]
			}
		}
		records[i] = record
	}
	return records
}
