package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
)

const dateLayout = "2006-01-02"

// loadHolidays reads every line-delimited date file under dir (pattern
// "holiday_*.txt", matching original_source's get_holiday()) and returns the
// distinct set of holiday dates.
func loadHolidays(dir string) (map[string]bool, error) {
	holidays := map[string]bool{}
	if dir == "" {
		return holidays, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "holiday_*.txt"))
	if err != nil {
		return nil, err
	}
	for _, file := range matches {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				holidays[line] = true
			}
		}
	}
	return holidays, nil
}

// shiftBusinessDays moves date backward by offset business days, skipping
// weekends and the given holiday set (spec §4.1).
func shiftBusinessDays(posDt string, holidays map[string]bool, offset int) (string, error) {
	t, err := time.Parse(dateLayout, posDt)
	if err != nil {
		return "", pipelineerrors.Config("shift_business_day", "pos_dt must be YYYY-MM-DD: "+err.Error())
	}

	remaining := offset
	for remaining > 0 {
		t = t.AddDate(0, 0, -1)
		if isBusinessDay(t, holidays) {
			remaining--
		}
	}
	return t.Format(dateLayout), nil
}

func isBusinessDay(t time.Time, holidays map[string]bool) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !holidays[t.Format(dateLayout)]
}

// ApplyModifyJobParam evaluates the modify_job_param block against posDt,
// returning the re-derived pos_dt. Only source_type="lpm" is supported
// today; any other value is a DateRuleUnknown error (spec §4.1).
func ApplyModifyJobParam(sourceType, posDt, holidaysDir string) (string, error) {
	if sourceType != "lpm" {
		return "", pipelineerrors.UnknownDateRule("apply_modify_job_param",
			"unsupported modify_job_param.source_type: "+sourceType)
	}
	holidays, err := loadHolidays(holidaysDir)
	if err != nil {
		return "", pipelineerrors.Filesystem("config", "load_holidays", err.Error())
	}
	return shiftBusinessDays(posDt, holidays, 1)
}
