// Command extract is the pipeline's entrypoint: load a job template, merge
// overlay/CLI overrides, execute the fixed task-slot sequence, and exit
// non-zero on any task failure.
//
// Flag parsing with fixed defaults (no environment-variable fallback) and
// plain fmt.Fprintln to stderr on fatal setup errors generalize the original single-flag CLI to
// the job-runner's full surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mdp-platform/extraction-pipeline/internal/config"
	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	"github.com/mdp-platform/extraction-pipeline/internal/oplog"
	"github.com/mdp-platform/extraction-pipeline/internal/pipeline"
	"github.com/mdp-platform/extraction-pipeline/internal/settings"
	"github.com/mdp-platform/extraction-pipeline/internal/tracing"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// repeatableFlag collects every occurrence of a repeatable CLI flag (spec
// §6: "--overwrite_config (repeatable, JSON-encoded)").
type repeatableFlag []string

func (r *repeatableFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatableFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func main() {
	var (
		project          string
		configFilePath   string
		settingsFilePath string
		posDt            string
		adbJobID         string
		adbRunID         string
		schedulerID      string
		runOnlyTask      string
		verbose          bool
		overwrites       repeatableFlag
	)

	flag.StringVar(&project, "project", "mdp", "project name; selects /app_<project>/<project>/script/extraction/")
	flag.StringVar(&configFilePath, "config_file_path", "", "path to the job template (required)")
	flag.StringVar(&settingsFilePath, "settings_file_path", "", "path to the static settings YAML catalog (optional; env vars always override it)")
	flag.StringVar(&posDt, "pos_dt", "", "calendar date of the data slice, YYYY-MM-DD (required)")
	flag.StringVar(&adbJobID, "adb_job_id", "", "correlation id for the scheduling job")
	flag.StringVar(&adbRunID, "adb_run_id", "", "correlation id for the scheduling run")
	flag.StringVar(&schedulerID, "scheduler_id", "", "correlation id for the scheduler")
	flag.StringVar(&runOnlyTask, "run_only_task", "", "comma-separated task-slot names to restrict execution to")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.Var(&overwrites, "overwrite_config", "JSON-encoded overlay merged into the template (repeatable)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	entry := logger.WithField("component", "extract")

	if configFilePath == "" || posDt == "" {
		fmt.Fprintln(os.Stderr, "extract: --config_file_path and --pos_dt are required")
		os.Exit(2)
	}

	envDir := fmt.Sprintf("/app_%s/%s/script/extraction", project, project)
	loadEnvFiles(envDir, entry)

	if err := run(configFilePath, settingsFilePath, posDt, adbJobID, adbRunID, schedulerID, runOnlyTask, overwrites, logger, entry); err != nil {
		entry.WithError(err).Error("pipeline run failed")
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

// loadEnvFiles loads .env then .env.secret from dir, tolerating either
// being absent (spec §6's env vars may already be set by the scheduler).
func loadEnvFiles(dir string, logger *logrus.Entry) {
	for _, name := range []string{".env", ".env.secret"} {
		path := dir + "/" + name
		if err := godotenv.Load(path); err != nil {
			logger.WithField("path", path).Debug("env file not loaded, continuing with process environment")
		}
	}
}

func run(configFilePath, settingsFilePath, posDt, adbJobID, adbRunID, schedulerID, runOnlyTask string, overwrites repeatableFlag, baseLogger *logrus.Logger, logger *logrus.Entry) error {
	overlay, err := mergeOverwrites(overwrites)
	if err != nil {
		return err
	}

	params := &types.JobParameters{
		PosDt:          posDt,
		ConfigFilePath: configFilePath,
		SchedulerID:    schedulerID,
		AdbJobID:       adbJobID,
		AdbRunID:       adbRunID,
		RunOnlyTask:    parseRunOnlyTask(runOnlyTask),
	}

	store, err := settings.NewFromFile(settingsFilePath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFilePath, overlay, params, store)
	if err != nil {
		return err
	}
	params.JobName = cfg.JobName
	params.AreaName = cfg.AreaName
	params.PipelineName = cfg.PipelineName
	params.JobSeq = cfg.JobSeq

	metricsServer := metrics.NewServer(":9102", baseLogger)
	if err := metricsServer.Start(); err != nil {
		logger.WithError(err).Warn("metrics server failed to start, continuing without it")
	}
	defer metricsServer.Stop()

	tracer, err := tracing.New(tracing.Config{
		Enabled:     os.Getenv("OTEL_TRACING_ENABLED") == "true",
		ServiceName: "extraction-pipeline",
		Environment: store.Environment(),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRate:  1.0,
	})
	if err != nil {
		logger.WithError(err).Warn("tracing disabled due to setup error")
		tracer = nil
	}
	if tracer != nil {
		defer tracer.Shutdown(context.Background())
	}

	sink := oplog.NewSink("/var/lib/extraction-pipeline/oplog")
	executor := pipeline.New(store, sink, logger, tracer)

	ev, err := executor.Run(context.Background(), cfg, params)
	if err != nil {
		if pe, ok := pipelineerrors.As(err); ok {
			logger.WithFields(logrus.Fields{
				"kind":      pe.Kind,
				"component": pe.Component,
				"operation": pe.Operation,
			}).Error(pe.OperationLogMessage())
		}
		return err
	}

	logger.WithFields(logrus.Fields{
		"extract_file_paths": ev.ExtractFilePaths,
		"target_file_path":   ev.TargetFilePath,
	}).Info("pipeline run completed")
	return nil
}

func mergeOverwrites(overwrites repeatableFlag) (map[string]interface{}, error) {
	merged := map[string]interface{}{}
	for _, raw := range overwrites {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, pipelineerrors.Config("parse_overwrite_config", err.Error())
		}
		merged = config.MergeOverlay(merged, doc)
	}
	return merged, nil
}

func parseRunOnlyTask(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := map[string]bool{}
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			out[name] = true
		}
	}
	return out
}
