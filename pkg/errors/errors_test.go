package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindRetriable(t *testing.T) {
	retriable := []Kind{DriverTransient, CopyTransient}
	for _, k := range retriable {
		if !k.Retriable() {
			t.Errorf("%s.Retriable() = false, want true", k)
		}
	}

	notRetriable := []Kind{ConfigInvalid, ConfigMissingSecret, DateRuleUnknown, NoRecords, CopyZeroNoop, DecryptInputBad, KeyServerError, FilesystemError}
	for _, k := range notRetriable {
		if k.Retriable() {
			t.Errorf("%s.Retriable() = true, want false", k)
		}
	}
}

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	plain := New(ConfigInvalid, "config", "parse", "bad json")
	want := "ConfigInvalid: [config:parse] bad json"
	if plain.Error() != want {
		t.Errorf("Error() = %q, want %q", plain.Error(), want)
	}

	wrapped := New(DriverTransient, "source", "open", "connect failed").Wrap(errors.New("dial tcp: timeout"))
	want = "DriverTransient: [source:open] connect failed: dial tcp: timeout"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestOperationLogMessage(t *testing.T) {
	noCause := Config("validate", "job_name is required")
	if got := noCause.OperationLogMessage(); got != "ConfigInvalid: job_name is required" {
		t.Errorf("OperationLogMessage() = %q", got)
	}

	withCause := Copy("invoke_copier", "azcopy exited nonzero").Wrap(errors.New("exit status 1"))
	want := "CopyTransient: azcopy exited nonzero: exit status 1"
	if got := withCause.OperationLogMessage(); got != want {
		t.Errorf("OperationLogMessage() = %q, want %q", got, want)
	}
}

func TestAsUnwrapsStandardWrapping(t *testing.T) {
	pe := Filesystem("archive", "extract", "disk full")
	wrapped := fmt.Errorf("archive task failed: %w", pe)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("As() did not find the wrapped PipelineError")
	}
	if got != pe {
		t.Error("As() returned a different PipelineError than the one wrapped")
	}
}

func TestAsReturnsFalseForPlainError(t *testing.T) {
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As() = true for a plain error, want false")
	}
}

func TestWithMetadataAccumulates(t *testing.T) {
	pe := KeyServer("get_key", "hsm timeout").
		WithMetadata("key_id", "abc123").
		WithMetadata("attempt", 3)

	if pe.Metadata["key_id"] != "abc123" || pe.Metadata["attempt"] != 3 {
		t.Errorf("Metadata = %v", pe.Metadata)
	}
}

func TestConvenienceConstructorsSetExpectedKindAndComponent(t *testing.T) {
	cases := []struct {
		name      string
		err       *PipelineError
		wantKind  Kind
		wantComp  string
	}{
		{"Config", Config("op", "msg"), ConfigInvalid, "config"},
		{"MissingSecret", MissingSecret("op", "msg"), ConfigMissingSecret, "settings"},
		{"NoRecordsErr", NoRecordsErr("op", "msg"), NoRecords, "extraction"},
		{"CopyNoop", CopyNoop("op", "msg"), CopyZeroNoop, "transfer"},
		{"DecryptBad", DecryptBad("op", "msg"), DecryptInputBad, "decrypt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", tc.err.Kind, tc.wantKind)
			}
			if tc.err.Component != tc.wantComp {
				t.Errorf("Component = %v, want %v", tc.err.Component, tc.wantComp)
			}
		})
	}
}
