// Package writer implements the two file writer contracts: a delimited
// (CSV-family) writer with configurable header/quoting/open policy, and a
// JSON array writer. Neither writer normalizes values: the delimited writer
// renders each field with fmt's %v (nil as the empty string) and the JSON
// writer hands records to encoding/json as they are, so a value that
// encoding/json cannot serialize fails the write.
//
// The append-vs-truncate, encoding, and directory-creation handling for a
// file-backed sink generalizes here from a single log-line format to the
// delimited/JSON batch contracts this pipeline's extraction and
// control-file tasks need.
package writer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

// QuoteMode controls when the delimited writer quotes a field.
type QuoteMode string

const (
	QuoteAll     QuoteMode = "all"
	QuoteMinimal QuoteMode = "minimal"
	QuoteNone    QuoteMode = "none"
)

// OpenMode controls whether a write appends to or truncates an existing file.
type OpenMode string

const (
	OpenAppend   OpenMode = "append"
	OpenTruncate OpenMode = "truncate"
)

// WritePolicy configures the delimited writer (spec §4.4).
type WritePolicy struct {
	IncludeHeader bool
	Delimiter     rune
	QuoteChar     rune
	QuoteMode     QuoteMode
	EscapeChar    rune
	Open          OpenMode
}

// DefaultWritePolicy matches the extraction task's CSV default.
func DefaultWritePolicy() WritePolicy {
	return WritePolicy{
		IncludeHeader: true,
		Delimiter:     ',',
		QuoteChar:     '"',
		QuoteMode:     QuoteMinimal,
		Open:          OpenTruncate,
	}
}

// Record is one row keyed by column name; a missing column writes the
// empty string rather than raising (spec §4.4).
type Record map[string]interface{}

// WriteDelimited writes records to path in columns order under policy. The
// header is written iff policy requests it and the file did not
// previously exist (spec §4.4). On any I/O error the partially written
// file is left in place.
func WriteDelimited(path string, columns []string, records []Record, policy WritePolicy) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipelineerrors.Filesystem("writer", "mkdir", err.Error())
	}

	_, statErr := os.Stat(path)
	fileExisted := statErr == nil

	flags := os.O_CREATE | os.O_WRONLY
	if policy.Open == OpenAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return pipelineerrors.Filesystem("writer", "open", err.Error())
	}
	defer f.Close()

	buf := bufio.NewWriter(f)

	writeHeader := policy.IncludeHeader && !fileExisted
	if writeHeader {
		if err := writeRow(buf, columns, policy); err != nil {
			return pipelineerrors.Filesystem("writer", "write_header", err.Error())
		}
	}

	for _, record := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = stringifyField(record[col])
		}
		if err := writeRow(buf, row, policy); err != nil {
			return pipelineerrors.Filesystem("writer", "write_row", err.Error())
		}
	}

	if err := buf.Flush(); err != nil {
		return pipelineerrors.Filesystem("writer", "flush", err.Error())
	}
	return nil
}

// writeRow renders one row under policy's quoting mode and writes it
// followed by a newline. "all" quotes every field; "minimal" quotes only
// fields containing the delimiter, quote char, or a newline, doubling any
// embedded quote char; "none" emits fields verbatim.
func writeRow(w *bufio.Writer, fields []string, policy WritePolicy) error {
	for i, field := range fields {
		if i > 0 {
			if _, err := w.WriteRune(policy.Delimiter); err != nil {
				return err
			}
		}
		cell := field
		switch policy.QuoteMode {
		case QuoteAll:
			cell = quoteField(field, policy.QuoteChar)
		case QuoteMinimal:
			if needsQuoting(field, policy) {
				cell = quoteField(field, policy.QuoteChar)
			}
		case QuoteNone:
			// emitted verbatim
		}
		if _, err := w.WriteString(cell); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\n")
	return err
}

func needsQuoting(field string, policy WritePolicy) bool {
	return strings.ContainsRune(field, policy.Delimiter) ||
		strings.ContainsRune(field, policy.QuoteChar) ||
		strings.ContainsAny(field, "\n\r")
}

func quoteField(field string, quoteChar rune) string {
	q := string(quoteChar)
	escaped := strings.ReplaceAll(field, q, q+q)
	return q + escaped + q
}

// stringifyField renders a record value as a cell. Missing/nil fields
// become the empty string (spec §4.4).
func stringifyField(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// WriteJSON serializes records as a single UTF-8 JSON array with 4-space
// indent (spec §4.4).
func WriteJSON(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pipelineerrors.Filesystem("writer", "mkdir", err.Error())
	}

	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return pipelineerrors.Filesystem("writer", "marshal", err.Error())
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pipelineerrors.Filesystem("writer", "write", err.Error())
	}
	return nil
}
