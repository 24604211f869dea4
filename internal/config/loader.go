package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// HolidaysDir is the known directory of line-delimited holiday_*.txt files
// the modify_job_param "lpm" rule consults (spec §4.1). It is a package
// variable rather than a settings field because original_source hardcodes
// this path rather than sourcing it from the environment.
var HolidaysDir = "/datasource/inbound/source_file/mdp/sfv"

// overlayDoc is the subset of the merged template the loader needs before
// full JobConfig validation: pos_dt (mutated by modify_job_param) and the
// optional modify_job_param declaration itself.
type overlayDoc struct {
	JobParameters struct {
		PosDt string `json:"pos_dt"`
	} `json:"job_parameters"`
	ModifyJobParam *types.ModifyJobParam `json:"modify_job_param,omitempty"`
}

// Load implements the config loader's fixed five-step order (spec §4.1):
// read template, merge overlay, evaluate modify_job_param, render
// placeholders, parse and validate into a JobConfig.
func Load(templatePath string, overlay map[string]interface{}, params *types.JobParameters, store *settings.Store) (types.JobConfig, error) {
	var cfg types.JobConfig

	// 1. Read template as text.
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return cfg, pipelineerrors.Filesystem("config", "read_template", err.Error())
	}

	// 2. Deep-merge overlay dictionary over the template's own JSON form.
	var base map[string]interface{}
	if err := json.Unmarshal(raw, &base); err != nil {
		return cfg, pipelineerrors.Config("parse_template", err.Error())
	}
	merged := MergeOverlay(base, overlay)

	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return cfg, pipelineerrors.Config("marshal_merged", err.Error())
	}

	// 3. Evaluate modify_job_param against JobParameters before rendering.
	var doc overlayDoc
	if err := json.Unmarshal(mergedBytes, &doc); err != nil {
		return cfg, pipelineerrors.Config("parse_merged", err.Error())
	}
	posDt := params.PosDt
	if doc.JobParameters.PosDt != "" {
		posDt = doc.JobParameters.PosDt
	}
	if doc.ModifyJobParam != nil {
		shifted, err := ApplyModifyJobParam(doc.ModifyJobParam.SourceType, posDt, HolidaysDir)
		if err != nil {
			return cfg, err
		}
		posDt = shifted
	}
	params.PosDt = posDt

	// 4. Render placeholders against the combined mapping.
	mapping, err := BuildMapping(posDt, params.JobSeq, store)
	if err != nil {
		return cfg, err
	}
	rendered := RenderTemplate(string(mergedBytes), mapping, true)

	// 5. Parse the rendered text and validate.
	if err := json.Unmarshal([]byte(rendered), &cfg); err != nil {
		return cfg, pipelineerrors.Config("parse_rendered", err.Error())
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BuildMapping assembles the placeholder substitution mapping: the derived
// date parts (ptn_yyyy, ptn_mm, ptn_dd, ptn_qtr, ptn_yyyy_be), pos_dt,
// job_seq and, when store is non-nil, env. No other environment-settings
// field (connection catalog, storage locations, key catalogs) is added to
// the mapping. Exported so the pipeline executor can render
// per-task query/control-file templates against the same mapping after
// modify_job_param has finished adjusting pos_dt.
func BuildMapping(posDt string, jobSeq string, store *settings.Store) (map[string]string, error) {
	t, err := time.Parse(dateLayout, posDt)
	if err != nil {
		return nil, pipelineerrors.Config("build_mapping", "pos_dt must be YYYY-MM-DD: "+err.Error())
	}

	quarter := (int(t.Month())-1)/3 + 1
	mapping := map[string]string{
		"ptn_yyyy":    fmt.Sprintf("%04d", t.Year()),
		"ptn_mm":      fmt.Sprintf("%02d", int(t.Month())),
		"ptn_dd":      fmt.Sprintf("%02d", t.Day()),
		"ptn_qtr":     fmt.Sprintf("%02d", quarter),
		"ptn_yyyy_be": strconv.Itoa(t.Year() + 543),
		"pos_dt":      posDt,
		"job_seq":     jobSeq,
	}
	if store != nil {
		mapping["env"] = store.Environment()
	}
	return mapping, nil
}

// validate checks the fields the loader itself is responsible for — the
// task slots must come from the fixed set (spec §3); per-task parameter
// shape is validated later by each task (spec §4.2, "schema"/"modules").
func validate(cfg types.JobConfig) error {
	if cfg.JobName == "" {
		return pipelineerrors.Config("validate", "job_name is required")
	}
	allowed := map[string]bool{}
	for _, slot := range types.SlotOrder {
		allowed[slot] = true
	}
	for slot := range cfg.Tasks {
		if !allowed[slot] {
			return pipelineerrors.Config("validate", "unknown task slot: "+slot)
		}
	}
	return nil
}
