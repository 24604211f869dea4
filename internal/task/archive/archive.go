// Package archive implements the archive extractor task (spec §4.7, C9):
// create (or re-create) a scratch directory next to the archive, expand
// the archive into it, and enumerate the resulting regular files as
// FileDescriptors.
//
// Grounded on original_source's zip_file_extractor.py (make_tmp_dir:
// rm -rf then mkdir -p a `_tmp_<filename>` sibling directory; unzip_file:
// shell out to the unzip command), reimplemented with
// github.com/mholt/archiver/v3 in place of shelling out to a
// format-specific CLI so zip/tar/gzip all go through one call.
package archive

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archiver/v3"

	"github.com/mdp-platform/extraction-pipeline/internal/metrics"
	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Params is the archive task's per-job configuration.
type Params struct {
	SourceFileLocation string
	UnzipLocation      string // empty: derive `_tmp_<filename>` beside the archive
}

// Task unpacks an archive and enumerates its contents.
type Task struct {
	pipeline string
}

// New returns an archive Task. pipeline labels the files_produced_total
// metric this task emits.
func New(pipeline string) *Task {
	return &Task{pipeline: pipeline}
}

// Run executes the archive extraction algorithm (spec §4.7).
func (t *Task) Run(params Params) ([]types.FileDescriptor, error) {
	scratchDir := params.UnzipLocation
	if strings.TrimSpace(scratchDir) == "" {
		dir := filepath.Dir(params.SourceFileLocation)
		base := filepath.Base(params.SourceFileLocation)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		scratchDir = filepath.Join(dir, "_tmp_"+stem)
	}

	if err := os.RemoveAll(scratchDir); err != nil {
		return nil, pipelineerrors.Filesystem("archive", "remove_existing_scratch_dir", err.Error())
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, pipelineerrors.Filesystem("archive", "make_scratch_dir", err.Error())
	}

	if err := archiver.Unarchive(params.SourceFileLocation, scratchDir); err != nil {
		return nil, pipelineerrors.Filesystem("archive", "unarchive", err.Error())
	}

	var descriptors []types.FileDescriptor
	err := filepath.Walk(scratchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		descriptors = append(descriptors, types.FileDescriptor{
			Location:  path,
			Size:      info.Size(),
			CreatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, pipelineerrors.Filesystem("archive", "enumerate_contents", err.Error())
	}

	metrics.FilesProducedTotal.WithLabelValues(t.pipeline, types.SlotFileExtractor).Add(float64(len(descriptors)))
	return descriptors, nil
}
