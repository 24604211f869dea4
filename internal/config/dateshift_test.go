package config

import (
	"os"
	"path/filepath"
	"testing"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

func TestShiftBusinessDaysSkipsWeekend(t *testing.T) {
	// 2026-08-03 is a Monday; one business day back must land on Friday 2026-07-31.
	got, err := shiftBusinessDays("2026-08-03", map[string]bool{}, 1)
	if err != nil {
		t.Fatalf("shiftBusinessDays() error = %v", err)
	}
	if got != "2026-07-31" {
		t.Errorf("shiftBusinessDays() = %q, want 2026-07-31", got)
	}
}

func TestShiftBusinessDaysSkipsHoliday(t *testing.T) {
	holidays := map[string]bool{"2026-07-30": true}
	// From Friday 2026-07-31 back 1 business day: Thursday 2026-07-30 is a
	// holiday, so it must land on Wednesday 2026-07-29.
	got, err := shiftBusinessDays("2026-07-31", holidays, 1)
	if err != nil {
		t.Fatalf("shiftBusinessDays() error = %v", err)
	}
	if got != "2026-07-29" {
		t.Errorf("shiftBusinessDays() = %q, want 2026-07-29", got)
	}
}

func TestShiftBusinessDaysRejectsMalformedDate(t *testing.T) {
	if _, err := shiftBusinessDays("31-07-2026", nil, 1); err == nil {
		t.Error("expected error for malformed pos_dt, got nil")
	}
}

func TestLoadHolidaysReadsLineDelimitedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "holiday_2026.txt"), []byte("2026-01-01\n2026-12-25\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	holidays, err := loadHolidays(dir)
	if err != nil {
		t.Fatalf("loadHolidays() error = %v", err)
	}
	if !holidays["2026-01-01"] || !holidays["2026-12-25"] {
		t.Errorf("loadHolidays() = %v, missing expected dates", holidays)
	}
	if len(holidays) != 2 {
		t.Errorf("loadHolidays() returned %d entries, want 2 (blank line must be skipped)", len(holidays))
	}
}

func TestLoadHolidaysEmptyDirReturnsEmptySet(t *testing.T) {
	holidays, err := loadHolidays("")
	if err != nil {
		t.Fatalf("loadHolidays() error = %v", err)
	}
	if len(holidays) != 0 {
		t.Errorf("loadHolidays(\"\") = %v, want empty", holidays)
	}
}

func TestApplyModifyJobParamUnknownSourceType(t *testing.T) {
	_, err := ApplyModifyJobParam("not-lpm", "2026-07-31", "")
	if err == nil {
		t.Fatal("expected error for unsupported source_type")
	}
	pe, ok := pipelineerrors.As(err)
	if !ok {
		t.Fatalf("expected a *PipelineError, got %T", err)
	}
	if pe.Kind != pipelineerrors.DateRuleUnknown {
		t.Errorf("Kind = %v, want DateRuleUnknown", pe.Kind)
	}
}

func TestApplyModifyJobParamLPM(t *testing.T) {
	got, err := ApplyModifyJobParam("lpm", "2026-08-03", "")
	if err != nil {
		t.Fatalf("ApplyModifyJobParam() error = %v", err)
	}
	if got != "2026-07-31" {
		t.Errorf("ApplyModifyJobParam() = %q, want 2026-07-31", got)
	}
}
