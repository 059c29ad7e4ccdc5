package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Aggregator turns the part results of one file into its final artifacts in
// the results folder next to the source.
type Aggregator struct {
	run     config.RunConfig
	pdfConf *model.Configuration
}

func NewAggregator(run config.RunConfig) *Aggregator {
	return &Aggregator{run: run, pdfConf: relaxedPDFConfig()}
}

// StagePartResult writes a part payload into the file's results dir and
// records the staged paths on pr.
func StagePartResult(dir string, pr *models.PartResult) error {
	if pr.Payload == nil {
		return fmt.Errorf("part %d has no payload", pr.Part.Index)
	}
	base := partBase(pr.Part)
	if len(pr.Payload.JSON) > 0 {
		pr.JSONPath = filepath.Join(dir, base+".json")
		if err := os.WriteFile(pr.JSONPath, pr.Payload.JSON, 0o644); err != nil {
			return fmt.Errorf("failed to stage part %d JSON: %w", pr.Part.Index, err)
		}
	}
	if len(pr.Payload.SearchablePDF) > 0 {
		pr.PDFPath = filepath.Join(dir, base+".pdf")
		if err := os.WriteFile(pr.PDFPath, pr.Payload.SearchablePDF, 0o644); err != nil {
			return fmt.Errorf("failed to stage part %d PDF: %w", pr.Part.Index, err)
		}
	}
	return nil
}

func partBase(p models.Part) string {
	name := p.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Aggregate writes the final outputs when every part succeeded. With any
// failed part nothing is written. A failure part way through removes what
// this call wrote and restores any output it overwrote.
func (a *Aggregator) Aggregate(src *models.SourceFile, parts []models.PartResult, allSucceeded bool, stagingDir string) (*models.AggregatedResult, *models.PipelineError) {
	logCtx := slog.With("file", src.Path, "partCount", len(parts))

	sorted := append([]models.PartResult(nil), parts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Part.Index < sorted[j].Part.Index })

	result := &models.AggregatedResult{
		SourcePath: src.Path,
		Parts:      sorted,
		Split:      len(sorted) > 1,
	}
	if !allSucceeded || len(sorted) == 0 {
		result.Decision = models.AnyPartFailed
		return result, nil
	}
	result.Decision = models.AllPartsSucceeded

	outDir := filepath.Join(filepath.Dir(src.Path), a.run.ResultsFolder)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, models.NewError(models.KindAggregation, models.CodeOutputWrite, "failed to create results folder", err)
	}

	outputs := newOutputSet(stagingDir, a.run.Collision)

	// Inputs are checked and merged before the results folder is touched.
	var aggregationErr error
	if a.run.WantsJSON() {
		for _, pr := range sorted {
			if pr.JSONPath == "" {
				aggregationErr = fmt.Errorf("part %d returned no JSON", pr.Part.Index)
				break
			}
		}
	}
	var pdfSource string
	if aggregationErr == nil && a.run.WantsPDF() {
		var cleanup func()
		pdfSource, cleanup, aggregationErr = a.searchablePDFSource(src, sorted, stagingDir)
		if cleanup != nil {
			defer cleanup()
		}
	}

	result.JSONStatus = models.JSONStatusNotRequired
	if aggregationErr == nil && a.run.WantsJSON() {
		skipped := 0
		for _, pr := range sorted {
			name := partBase(pr.Part) + ".json"
			if len(sorted) == 1 {
				name = src.BaseName() + ".json"
			}
			target, ok, err := outputs.place(pr.JSONPath, filepath.Join(outDir, name))
			if err != nil {
				aggregationErr = fmt.Errorf("failed to write %s: %w", name, err)
				break
			}
			if !ok {
				skipped++
				continue
			}
			result.OutputJSON = append(result.OutputJSON, target)
		}
		switch {
		case skipped == len(sorted):
			result.JSONStatus = models.JSONStatusSkipped
		case len(sorted) > 1:
			result.JSONStatus = models.PartJSONStatus(len(result.OutputJSON))
		default:
			result.JSONStatus = models.JSONStatusSuccess
		}
	}

	result.SearchablePDFStatus = models.JSONStatusNotRequired
	if aggregationErr == nil && a.run.WantsPDF() {
		target, ok, err := outputs.place(pdfSource, filepath.Join(outDir, src.BaseName()+"_searchable.pdf"))
		switch {
		case err != nil:
			aggregationErr = fmt.Errorf("failed to write searchable PDF: %w", err)
		case !ok:
			result.SearchablePDFStatus = models.JSONStatusSkipped
		default:
			result.OutputPDF = target
			result.SearchablePDFStatus = models.PDFStatusSuccess
		}
	}

	if aggregationErr != nil {
		logCtx.Error("Aggregation failed, rolling back.", "error", aggregationErr, "written", len(outputs.written))
		outputs.rollback(logCtx)
		return nil, models.NewError(models.KindAggregation, models.CodeOutputWrite, "failed to write results", aggregationErr)
	}

	logCtx.Info("Aggregation complete.", "jsonOutputs", len(result.OutputJSON), "pdfOutput", result.OutputPDF)
	return result, nil
}

// searchablePDFSource returns the single part PDF, or all part PDFs merged in
// sequence order into the staging dir. cleanup removes the merged file.
func (a *Aggregator) searchablePDFSource(src *models.SourceFile, parts []models.PartResult, stagingDir string) (string, func(), error) {
	inFiles := make([]string, 0, len(parts))
	for _, pr := range parts {
		if pr.PDFPath == "" {
			return "", nil, fmt.Errorf("part %d returned no searchable PDF", pr.Part.Index)
		}
		inFiles = append(inFiles, pr.PDFPath)
	}
	if len(inFiles) == 1 {
		return inFiles[0], nil, nil
	}

	merged := filepath.Join(stagingDir, src.BaseName()+"_merged.pdf")
	if err := api.MergeCreateFile(inFiles, merged, false, a.pdfConf); err != nil {
		_ = os.Remove(merged)
		return "", nil, fmt.Errorf("failed to merge %d part PDFs: %w", len(inFiles), err)
	}
	return merged, func() { _ = os.Remove(merged) }, nil
}

// outputSet tracks the files one Aggregate call placed in the results folder.
// Files replaced under the overwrite policy are copied aside first so that
// rollback restores them instead of deleting them.
type outputSet struct {
	backupDir string
	policy    config.CollisionPolicy
	written   []string
	backups   map[string]string
}

func newOutputSet(backupDir string, policy config.CollisionPolicy) *outputSet {
	return &outputSet{backupDir: backupDir, policy: policy, backups: make(map[string]string)}
}

func (o *outputSet) place(src, dst string) (string, bool, error) {
	if o.policy == config.CollisionOverwrite {
		if _, err := os.Lstat(dst); err == nil {
			backup := filepath.Join(o.backupDir, fmt.Sprintf("prior-%02d-%s", len(o.backups)+1, filepath.Base(dst)))
			if err := copyFile(dst, backup); err != nil {
				return "", false, fmt.Errorf("failed to preserve existing %s: %w", filepath.Base(dst), err)
			}
			o.backups[dst] = backup
		}
	}
	target, ok, err := CopyWithPolicy(src, dst, o.policy)
	if err != nil || !ok {
		return target, ok, err
	}
	o.written = append(o.written, target)
	return target, true, nil
}

// rollback removes new files and restores the ones that were overwritten.
func (o *outputSet) rollback(logCtx *slog.Logger) {
	for _, p := range o.written {
		if backup, ok := o.backups[p]; ok {
			if _, _, err := CopyWithPolicy(backup, p, config.CollisionOverwrite); err != nil {
				logCtx.Warn("Failed to restore overwritten output.", "path", p, "error", err)
			}
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Failed to roll back output.", "path", p, "error", err)
		}
	}
}
