package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

func aggregateRun(format config.OutputFormat) config.RunConfig {
	return config.RunConfig{
		ResultsFolder: "ocr_results",
		Format:        format,
		Collision:     config.CollisionRename,
	}
}

// stagedParts stages n successful parts of src whose PDFs have pagesPerPart pages.
func stagedParts(t *testing.T, src *models.SourceFile, n, pagesPerPart int) []models.PartResult {
	t.Helper()
	staging := t.TempDir()
	var out []models.PartResult
	for i := 1; i <= n; i++ {
		name := partFileName(src.Name, i, 2)
		pdfPath := filepath.Join(t.TempDir(), name)
		writeTestPDF(t, pdfPath, pagesPerPart)
		pdf, err := os.ReadFile(pdfPath)
		require.NoError(t, err)

		pr := models.PartResult{
			Part:    models.Part{SourcePath: src.Path, Path: filepath.Join(staging, name), Index: i, FirstPage: 1, LastPage: pagesPerPart},
			Handle:  models.JobHandle(name),
			Payload: &models.ResultPayload{JSON: []byte(`{"part":` + string(rune('0'+i)) + `}`), SearchablePDF: pdf},
		}
		require.NoError(t, StagePartResult(staging, &pr))
		out = append(out, pr)
	}
	return out
}

func TestAggregateSinglePart(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "invoice.pdf"), 10, 1)
	parts := stagedParts(t, src, 1, 1)

	res, perr := NewAggregator(aggregateRun(config.FormatBoth)).Aggregate(src, parts, true, t.TempDir())
	require.Nil(t, perr)
	assert.Equal(t, models.AllPartsSucceeded, res.Decision)
	assert.False(t, res.Split)
	assert.Equal(t, []string{filepath.Join(dir, "ocr_results", "invoice.json")}, res.OutputJSON)
	assert.Equal(t, filepath.Join(dir, "ocr_results", "invoice_searchable.pdf"), res.OutputPDF)
	assert.Equal(t, models.JSONStatusSuccess, res.JSONStatus)
	assert.Equal(t, models.PDFStatusSuccess, res.SearchablePDFStatus)
	assert.JSONEq(t, `{"part":1}`, readString(t, res.OutputJSON[0]))
}

func TestAggregateSplitFile(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "big.pdf"), 10, 6)
	parts := stagedParts(t, src, 3, 2)
	// Out of order input must still be written in sequence order.
	parts[0], parts[2] = parts[2], parts[0]

	res, perr := NewAggregator(aggregateRun(config.FormatBoth)).Aggregate(src, parts, true, t.TempDir())
	require.Nil(t, perr)
	assert.True(t, res.Split)
	require.Len(t, res.OutputJSON, 3)
	for i, p := range res.OutputJSON {
		assert.Equal(t, filepath.Join(dir, "ocr_results", partBase(models.Part{Path: partFileName("big.pdf", i+1, 2)})+".json"), p)
	}
	assert.Equal(t, models.PartJSONStatus(3), res.JSONStatus)

	n, err := api.PageCountFile(res.OutputPDF)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestAggregateWithFailedPartWritesNothing(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "big.pdf"), 10, 4)
	parts := stagedParts(t, src, 2, 2)
	parts[1].Err = models.NewError(models.KindTimeout, models.CodePollTimeout, "timeout", nil)

	res, perr := NewAggregator(aggregateRun(config.FormatBoth)).Aggregate(src, parts, false, t.TempDir())
	require.Nil(t, perr)
	assert.Equal(t, models.AnyPartFailed, res.Decision)
	assert.Empty(t, res.OutputJSON)
	assert.NoDirExists(t, filepath.Join(dir, "ocr_results"))
}

func TestAggregateRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "big.pdf"), 10, 4)
	parts := stagedParts(t, src, 2, 2)
	parts[1].PDFPath = ""

	_, perr := NewAggregator(aggregateRun(config.FormatBoth)).Aggregate(src, parts, true, t.TempDir())
	require.NotNil(t, perr)
	assert.Equal(t, models.KindAggregation, perr.Kind)

	entries, err := os.ReadDir(filepath.Join(dir, "ocr_results"))
	require.NoError(t, err)
	assert.Empty(t, entries, "JSON written before the failure is rolled back")
}

func TestAggregateOverwriteFailureKeepsPriorOutput(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "big.pdf"), 10, 4)
	outDir := filepath.Join(dir, "ocr_results")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	prior := filepath.Join(outDir, "big.split#01.json")
	require.NoError(t, os.WriteFile(prior, []byte("PRIOR RUN"), 0o644))

	run := aggregateRun(config.FormatBoth)
	run.Collision = config.CollisionOverwrite

	t.Run("missing part PDF", func(t *testing.T) {
		parts := stagedParts(t, src, 2, 2)
		parts[1].PDFPath = ""

		_, perr := NewAggregator(run).Aggregate(src, parts, true, t.TempDir())
		require.NotNil(t, perr)
		assert.Equal(t, models.CodeOutputWrite, perr.Code)
		assert.Equal(t, "PRIOR RUN", readString(t, prior))
		assert.NoFileExists(t, filepath.Join(outDir, "big.split#02.json"))
	})

	t.Run("write fails after overwrite", func(t *testing.T) {
		parts := stagedParts(t, src, 2, 2)
		// A directory in place of the second output makes its write fail
		// after the first output was already replaced.
		blocker := filepath.Join(outDir, "big.split#02.json")
		require.NoError(t, os.MkdirAll(filepath.Join(blocker, "x"), 0o755))
		defer os.RemoveAll(blocker)

		_, perr := NewAggregator(run).Aggregate(src, parts, true, t.TempDir())
		require.NotNil(t, perr)
		assert.Equal(t, models.KindAggregation, perr.Kind)
		assert.Equal(t, "PRIOR RUN", readString(t, prior))
		assert.NoFileExists(t, filepath.Join(outDir, "big_searchable.pdf"))
	})

	t.Run("success replaces prior output", func(t *testing.T) {
		parts := stagedParts(t, src, 2, 2)

		res, perr := NewAggregator(run).Aggregate(src, parts, true, t.TempDir())
		require.Nil(t, perr)
		require.Len(t, res.OutputJSON, 2)
		assert.Equal(t, prior, res.OutputJSON[0])
		assert.JSONEq(t, `{"part":1}`, readString(t, prior))
	})
}

func TestAggregateSkipPolicy(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "memo.pdf"), 10, 1)
	outDir := filepath.Join(dir, "ocr_results")
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	existing := filepath.Join(outDir, "memo.json")
	require.NoError(t, os.WriteFile(existing, []byte("KEEP"), 0o644))

	run := aggregateRun(config.FormatBoth)
	run.Collision = config.CollisionSkip
	res, perr := NewAggregator(run).Aggregate(src, stagedParts(t, src, 1, 1), true, t.TempDir())
	require.Nil(t, perr)
	assert.Equal(t, models.JSONStatusSkipped, res.JSONStatus)
	assert.Empty(t, res.OutputJSON)
	assert.Equal(t, "KEEP", readString(t, existing))
	assert.Equal(t, models.PDFStatusSuccess, res.SearchablePDFStatus)
	assert.FileExists(t, filepath.Join(outDir, "memo_searchable.pdf"))
}

func TestAggregateJSONOnly(t *testing.T) {
	dir := t.TempDir()
	src := models.NewSourceFile(filepath.Join(dir, "memo.pdf"), 10, 1)
	parts := stagedParts(t, src, 1, 1)

	res, perr := NewAggregator(aggregateRun(config.FormatJSONOnly)).Aggregate(src, parts, true, t.TempDir())
	require.Nil(t, perr)
	assert.Empty(t, res.OutputPDF)
	assert.Equal(t, models.JSONStatusNotRequired, res.SearchablePDFStatus)
}

func TestExtractFieldsAndExportCSV(t *testing.T) {
	first := []byte(`{"result":{"pages":[{"parts":[
		{"class_name":"issue_date","text":"2024-01-01"},
		{"class_name":"total_amount","text":"1000"},
		{"class_name":"line_table","text":"skip me"},
		{"className":"total_amount","text":"2000"}
	]}]}}`)
	second := []byte(`{"parts":[{"class_name":"invoice_number","text":"INV-9"}]}`)

	fields, err := ExtractFields(first, second)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"issue_date":     "2024-01-01",
		"total_amount":   `1000\n2000`,
		"invoice_number": "INV-9",
	}, fields)

	data, err := ExportCSV(config.FlowOptions{Model: "invoice"}, []CSVRow{
		{Filename: "a.pdf", Fields: fields},
		{Filename: "b.pdf", Fields: map[string]string{"custom_field": "x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, utf8BOM, data[:3])
	want := "ファイル名,custom_field,請求書番号,発行日,合計金額\n" +
		"a.pdf,,INV-9,2024-01-01,1000\\n2000\n" +
		"b.pdf,x,,,\n"
	assert.Equal(t, want, string(data[3:]))
}

func TestExtractFieldsRejectsInvalidJSON(t *testing.T) {
	_, err := ExtractFields([]byte("{"))
	assert.Error(t, err)
}
