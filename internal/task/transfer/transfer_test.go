package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandLocalPathsSingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "part-0.csv")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := expandLocalPaths(file)
	if err != nil {
		t.Fatalf("expandLocalPaths() error = %v", err)
	}
	if len(got) != 1 || got[0] != file {
		t.Errorf("expandLocalPaths() = %v, want [%s]", got, file)
	}
}

func TestExpandLocalPathsDirectoryListsRegularFilesOnly(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"part-0.csv", "part-1.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := expandLocalPaths(dir)
	if err != nil {
		t.Fatalf("expandLocalPaths() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expandLocalPaths() = %v, want 2 regular files (subdir excluded)", got)
	}
}

func TestExpandLocalPathsGlobPattern(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.csv", "b.csv", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := expandLocalPaths(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatalf("expandLocalPaths() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expandLocalPaths() glob = %v, want 2 .csv matches", got)
	}
}

func TestExpandLocalPathsRemoteURLPassesThrough(t *testing.T) {
	url := "https://example.blob.core.windows.net/container/file"
	got, err := expandLocalPaths(url)
	if err != nil {
		t.Fatalf("expandLocalPaths() error = %v", err)
	}
	if len(got) != 1 || got[0] != url {
		t.Errorf("expandLocalPaths() = %v, want [%s]", got, url)
	}
}

func TestParseSummaryIntoMergesAcrossCasingVariants(t *testing.T) {
	var summary copierSummary
	parseSummaryInto(&summary, `{"TotalTransfers": 3}`)
	parseSummaryInto(&summary, `{"transfersCompleted": 2}`)
	parseSummaryInto(&summary, `{"transfers_failed": 1}`)
	parseSummaryInto(&summary, `{"job_status": "Completed"}`)

	if summary.total == nil || *summary.total != 3 {
		t.Errorf("total = %v, want 3", summary.total)
	}
	if summary.completed == nil || *summary.completed != 2 {
		t.Errorf("completed = %v, want 2", summary.completed)
	}
	if summary.failed == nil || *summary.failed != 1 {
		t.Errorf("failed = %v, want 1", summary.failed)
	}
	if summary.jobStatus != "Completed" {
		t.Errorf("jobStatus = %q, want Completed", summary.jobStatus)
	}
}

func TestParseSummaryIntoIgnoresMalformedContent(t *testing.T) {
	var summary copierSummary
	parseSummaryInto(&summary, "not json")
	if summary.total != nil {
		t.Errorf("expected malformed content to be ignored, got total = %v", summary.total)
	}
}

func TestParseSummaryIntoLaterCallsOverwriteEarlierValues(t *testing.T) {
	var summary copierSummary
	parseSummaryInto(&summary, `{"TotalTransfers": 3}`)
	parseSummaryInto(&summary, `{"TotalTransfers": 5}`)
	if summary.total == nil || *summary.total != 5 {
		t.Errorf("total = %v, want 5 (latest progress event wins)", summary.total)
	}
}
