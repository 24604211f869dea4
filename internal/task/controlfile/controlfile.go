// Package controlfile implements the control-file task (spec §4.6, C8):
// run a summary query against the same connection profile, take the
// first row, join it with the declared header columns using "|", and
// write a two-line .ctl file.
//
// Grounded on original_source's extraction_control_file.py
// (write_ctl_file: pipe-joined header line, pipe-joined value line),
// reimplemented over internal/source for the query instead of a direct
// impala/dbapi connection.
package controlfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdp-platform/extraction-pipeline/internal/config"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/source"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

// Params is the control-file task's per-job configuration.
type Params struct {
	ConnectionName string
	Query          string
	QueryFilePath  string
	HeaderColumns  []string
	OutputPath     string
}

// Task runs the summary query and emits the .ctl file.
type Task struct {
	store *settings.Store
}

// New returns a controlfile Task bound to store for connection resolution.
func New(store *settings.Store) *Task {
	return &Task{store: store}
}

// Run executes the control-file algorithm (spec §4.6), returning the
// rendered file content for operation-log capture. Header/column count
// mismatch is not detected here — it is the job author's contract.
func (t *Task) Run(ctx context.Context, params Params, dateMapping map[string]string) (string, error) {
	profile, err := t.store.Connection(params.ConnectionName)
	if err != nil {
		return "", err
	}

	query, err := buildQuery(params, dateMapping)
	if err != nil {
		return "", err
	}

	adapter, err := source.For(profile.Kind)
	if err != nil {
		return "", pipelineerrors.Config("controlfile", err.Error())
	}
	cursor, err := adapter.Open(ctx, profile, query, 1)
	if err != nil {
		return "", err
	}
	defer cursor.Close()

	batch, ok, err := cursor.Next(ctx)
	if err != nil {
		return "", err
	}

	var values []string
	if ok && len(batch.Rows) > 0 {
		row := batch.Rows[0]
		for i := range params.HeaderColumns {
			if i < len(row) {
				values = append(values, fmt.Sprintf("%v", row[i]))
			} else {
				values = append(values, "")
			}
		}
	} else {
		values = make([]string, len(params.HeaderColumns))
	}

	content := strings.Join(params.HeaderColumns, "|") + "\n" + strings.Join(values, "|")

	if err := os.MkdirAll(filepath.Dir(params.OutputPath), 0o755); err != nil {
		return "", pipelineerrors.Filesystem("controlfile", "mkdir", err.Error())
	}
	if err := os.WriteFile(params.OutputPath, []byte(content), 0o644); err != nil {
		return "", pipelineerrors.Filesystem("controlfile", "write", err.Error())
	}

	return content, nil
}

func buildQuery(params Params, dateMapping map[string]string) (string, error) {
	raw := params.Query
	if raw == "" && params.QueryFilePath != "" {
		data, err := os.ReadFile(params.QueryFilePath)
		if err != nil {
			return "", pipelineerrors.Filesystem("controlfile", "read_query_file", err.Error())
		}
		raw = string(data)
	}
	if raw == "" {
		return "", pipelineerrors.Config("build_query", "neither query nor sql_file_path was provided")
	}
	return config.RenderTemplate(raw, dateMapping, false), nil
}
