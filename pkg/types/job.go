// Package types holds the data model shared across the extraction pipeline:
// job parameters, the validated job config tree, file descriptors, and the
// pipeline's return value.
package types

import "time"

// JobParameters is the run context for one pipeline invocation (spec §3).
// It is mutable only while the config loader is running; every task after
// that treats it as read-only.
type JobParameters struct {
	PosDt          string
	ConfigFilePath string
	JobName        string
	AreaName       string
	PipelineName   string
	JobSeq         string
	SchedulerID    string
	AdbJobID       string
	AdbRunID       string
	RunOnlyTask    map[string]bool
}

// ShouldRun reports whether a task slot should execute given the run-only
// filter. An empty filter runs everything.
func (p *JobParameters) ShouldRun(slot string) bool {
	if len(p.RunOnlyTask) == 0 {
		return true
	}
	return p.RunOnlyTask[slot]
}

// TaskEntry is one slot's configuration inside a JobConfig (spec §3).
type TaskEntry struct {
	ModuleName string                 `json:"module_name"`
	Bypass     bool                   `json:"bypass_flag"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ModifyJobParam describes a pre-render rule that re-derives pos_dt.
// Today only source_type="lpm" (shift -1 business day, holidays excluded)
// is supported; any other value is a DateRuleUnknown error (spec §4.1).
type ModifyJobParam struct {
	SourceType string `json:"source_type"`
}

// The fixed set of task slot names, in pipeline execution order (spec §4.2).
const (
	SlotEbanIn         = "eban_in_extractor_task"
	SlotSourceExtract  = "source_data_extractor_task"
	SlotControlFile    = "generate_control_file_task"
	SlotFileExtractor  = "file_extractor_task"
	SlotPreprocess     = "preprocess_extractor_task"
	SlotFileDecryptor  = "file_decryptor_task"
	SlotKeyFileGen     = "hsm_encryption_key_file_generator_task"
	SlotAzcopyTransfer = "azcopy_data_transfer_task"
)

// SlotOrder is the fixed, observable stage order of the pipeline executor.
var SlotOrder = []string{
	SlotEbanIn,
	SlotSourceExtract,
	SlotControlFile,
	SlotFileExtractor,
	SlotPreprocess,
	SlotFileDecryptor,
	SlotKeyFileGen,
	SlotAzcopyTransfer,
}

// JobConfig is the validated config tree for one job (spec §3).
type JobConfig struct {
	JobName        string                 `json:"job_name"`
	PipelineName   string                 `json:"pipeline_name"`
	JobInfo        map[string]interface{} `json:"job_info"`
	AreaName       string                 `json:"area_name"`
	JobSeq         string                 `json:"job_seq"`
	Tasks          map[string]TaskEntry   `json:"tasks"`
	ModifyJobParam *ModifyJobParam        `json:"modify_job_param,omitempty"`
}

// FileDescriptor is the currency passed between pipeline stages (spec §3).
// Never mutated after construction.
type FileDescriptor struct {
	Location  string
	Size      int64
	CreatedAt time.Time
}

// ExecutedValues is the pipeline's return value (spec §3), always populated
// with whatever fields completed stages managed to fill in, even on failure.
type ExecutedValues struct {
	ExtractFilePaths []string
	TargetFilePath   string
	FilesSize        []int64
	CtlFileDetails   string
}

// FromFileDescriptors folds a stage's file list into the extraction-related
// fields of ExecutedValues.
func (e *ExecutedValues) FromFileDescriptors(files []FileDescriptor) {
	e.ExtractFilePaths = make([]string, len(files))
	e.FilesSize = make([]int64, len(files))
	for i, f := range files {
		e.ExtractFilePaths[i] = f.Location
		e.FilesSize[i] = f.Size
	}
}

// ConnectionProfile is resolved from the environment by name (spec §3).
type ConnectionProfile struct {
	Kind     ConnectionKind
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// Extras carries per-kind fields: relational "schema"/"security_mechanism",
	// document "collection".
	Extras map[string]string
}

// ConnectionKind enumerates the supported record source kinds.
type ConnectionKind string

const (
	KindSQLServer ConnectionKind = "relational-sqlserver"
	KindOracle    ConnectionKind = "relational-oracle"
	KindDB2       ConnectionKind = "relational-db2"
	KindMariaDB   ConnectionKind = "relational-mariadb"
	KindDocument  ConnectionKind = "document"
)

// KeyProfile is resolved from the environment by source-system name
// (spec §3). Exactly one of the two modes is populated.
type KeyProfile struct {
	// Public-key mode.
	EncryptedPassphrase string
	PrivateKeyPath      string
	// Passphrase-only mode.
	Passphrase string
}

// PublicKeyMode reports whether this profile uses the public-key + protected
// passphrase mode rather than the passphrase-only mode.
func (k KeyProfile) PublicKeyMode() bool {
	return k.PrivateKeyPath != ""
}
