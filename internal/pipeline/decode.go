// Package pipeline hosts the fixed-slot executor (spec §4.2, C13): a
// constructor registry keyed on task slot name (no reflection, per spec §9),
// run in SlotOrder, threading FileDescriptors from one stage to the next and
// honoring bypass/run-only filters.
//
// This file holds the per-slot parameter decoding: each TaskEntry's open
// dictionary is converted into the task package's own typed Params struct
// by an explicit decode function, one per task kind — the "tagged sum type
// keyed on task name" spec §9 calls for, rather than a reflection-based
// unmarshal.
package pipeline

import (
	"fmt"

	"github.com/mdp-platform/extraction-pipeline/internal/task/archive"
	"github.com/mdp-platform/extraction-pipeline/internal/task/controlfile"
	"github.com/mdp-platform/extraction-pipeline/internal/task/decrypt"
	"github.com/mdp-platform/extraction-pipeline/internal/task/ebanin"
	"github.com/mdp-platform/extraction-pipeline/internal/task/extraction"
	"github.com/mdp-platform/extraction-pipeline/internal/task/keyfile"
	"github.com/mdp-platform/extraction-pipeline/internal/task/preprocess"
	"github.com/mdp-platform/extraction-pipeline/internal/task/transfer"
	"github.com/mdp-platform/extraction-pipeline/internal/writer"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

func getString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return fallback
}

func getBool(params map[string]interface{}, key string, fallback bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "True" || v == "true"
	}
	return fallback
}

func getInt(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func getStringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func getRune(params map[string]interface{}, key string, fallback rune) rune {
	s, ok := params[key].(string)
	if !ok || len(s) == 0 {
		return fallback
	}
	return []rune(s)[0]
}

func decodeWritePolicy(params map[string]interface{}) writer.WritePolicy {
	policy := writer.DefaultWritePolicy()
	policy.IncludeHeader = getBool(params, "include_header", policy.IncludeHeader)
	policy.Delimiter = getRune(params, "delimiter", policy.Delimiter)
	policy.QuoteChar = getRune(params, "quote_char", policy.QuoteChar)
	policy.EscapeChar = getRune(params, "escape_char", 0)
	switch getString(params, "quote_mode", string(policy.QuoteMode)) {
	case string(writer.QuoteAll):
		policy.QuoteMode = writer.QuoteAll
	case string(writer.QuoteNone):
		policy.QuoteMode = writer.QuoteNone
	default:
		policy.QuoteMode = writer.QuoteMinimal
	}
	if getString(params, "open_mode", string(policy.Open)) == string(writer.OpenAppend) {
		policy.Open = writer.OpenAppend
	}
	return policy
}

func decodeFormat(params map[string]interface{}) extraction.Format {
	if getString(params, "format", "csv") == "json" {
		return extraction.FormatJSON
	}
	return extraction.FormatCSV
}

func decodeEBANInParams(params map[string]interface{}, schedulerID, posDt string) ebanin.Params {
	return ebanin.Params{
		ScriptPath:  getString(params, "script_path", "/app_mdp/mdp/script/extraction/foundation/mdp_extraction_foundation.sh"),
		SchedulerID: schedulerID,
		PosDt:       posDt,
	}
}

func decodeExtractionParams(params map[string]interface{}) extraction.Params {
	return extraction.Params{
		ConnectionName:  getString(params, "connection_name", ""),
		Query:           getString(params, "query", ""),
		QueryFilePath:   getString(params, "sql_file_path", ""),
		ExtractDir:      getString(params, "extract_dir", ""),
		BatchSize:       getInt(params, "batch_size", 1000),
		AllowZeroRecord: getBool(params, "allow_zero_record", false),
		FullFileName:    getString(params, "full_file_name", ""),
		FileExtension:   getString(params, "file_extension", "csv"),
		Format:          decodeFormat(params),
		WritePolicy:     decodeWritePolicy(params),
	}
}

func decodeControlFileParams(params map[string]interface{}) controlfile.Params {
	return controlfile.Params{
		ConnectionName: getString(params, "connection_name", ""),
		Query:          getString(params, "query", ""),
		QueryFilePath:  getString(params, "sql_file_path", ""),
		HeaderColumns:  getStringSlice(params, "header_columns"),
		OutputPath:     getString(params, "output_path", ""),
	}
}

func decodeArchiveParams(params map[string]interface{}) archive.Params {
	return archive.Params{
		SourceFileLocation: getString(params, "source_file_location", ""),
		UnzipLocation:      getString(params, "unzip_location", ""),
	}
}

func decodePreprocessParams(params map[string]interface{}) preprocess.Params {
	return preprocess.Params{
		Command: getString(params, "command", ""),
		Args:    getStringSlice(params, "args"),
	}
}

func decodeDecryptParams(params map[string]interface{}) decrypt.Params {
	return decrypt.Params{
		SourceSystemName:      getString(params, "source_system_name", ""),
		SourceFileLocation:    getString(params, "source_file_location", ""),
		FileNameSuffix:        getString(params, "file_name_suffix", "_decrypted"),
		CleanupFlag:           getBool(params, "cleanup_flag", false),
		FileCompleteCheckFlag: getBool(params, "file_complete_check_flag", false),
	}
}

func decodeKeyfileParams(params map[string]interface{}) (keyfile.Params, error) {
	section := keyfile.Section(getString(params, "section", "body"))
	if section != keyfile.SectionHeader && section != keyfile.SectionBody {
		return keyfile.Params{}, pipelineerrors.Config("decode_keyfile_params", fmt.Sprintf("unknown section: %s", section))
	}

	rawFields, _ := params["fields"].([]interface{})
	fields := make([]keyfile.FieldMapping, 0, len(rawFields))
	for _, rf := range rawFields {
		m, ok := rf.(map[string]interface{})
		if !ok {
			continue
		}
		fields = append(fields, keyfile.FieldMapping{
			Name:   getString(m, "name", ""),
			Offset: getInt(m, "offset", 0),
			Size:   getInt(m, "size", 0),
		})
	}

	return keyfile.Params{
		Section:       section,
		Fields:        fields,
		KeyColumn:     getString(params, "key_column", ""),
		HeaderColumns: getStringSlice(params, "header_columns"),
		FullFileName:  getString(params, "full_file_name", ""),
		FileExtension: getString(params, "file_extension", "key"),
		WritePolicy:   decodeWritePolicy(params),
	}, nil
}

func decodeTransferParams(params map[string]interface{}) transfer.Params {
	return transfer.Params{
		BlobFamily:        getString(params, "blob_family", ""),
		CopierCommand:     getString(params, "azcopy_command", "cp"),
		CopierOptions:     getString(params, "azcopy_options", ""),
		CleanupDestFlag:   getBool(params, "cleanup_dest_flag", true),
		CleanupOptions:    getString(params, "cleanup_options", ""),
		AllowEmptyFile:    getBool(params, "allow_empty_file", false),
		AllowZeroFile:     getBool(params, "allow_zero_file", true),
		CleanupSourceFlag: getBool(params, "cleanup_source_flag", false),
	}
}
