package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

func TestPlanRanges(t *testing.T) {
	tests := []struct {
		name     string
		pages    int
		size     int64
		chunk    int64
		maxPages int
		want     []pageRange
	}{
		{"page cap only", 250, 1000, 0, 100, []pageRange{{1, 100}, {101, 200}, {201, 250}}},
		{"exact multiple keeps last part full", 200, 1000, 0, 100, []pageRange{{1, 100}, {101, 200}}},
		{"size margin", 10, 1000, 400, 0, []pageRange{{1, 4}, {5, 8}, {9, 10}}},
		{"single page", 1, 5000, 1000, 100, []pageRange{{1, 1}}},
		{"oversized pages go alone", 3, 3000, 500, 0, []pageRange{{1, 1}, {2, 2}, {3, 3}}},
		{"page cap tighter than size", 10, 1000, 10000, 3, []pageRange{{1, 3}, {4, 6}, {7, 9}, {10, 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planRanges(tt.pages, tt.size, tt.chunk, tt.maxPages)
			assert.Equal(t, tt.want, got)

			next := 1
			for _, r := range got {
				assert.Equal(t, next, r.first, "ranges must be contiguous")
				if tt.maxPages > 0 {
					assert.LessOrEqual(t, r.last-r.first+1, tt.maxPages)
				}
				next = r.last + 1
			}
			assert.Equal(t, tt.pages+1, next, "ranges must cover every page")
		})
	}
}

func TestPartFileName(t *testing.T) {
	assert.Equal(t, "report.split#01.pdf", partFileName("report.pdf", 1, partIndexWidth(3)))
	assert.Equal(t, "report.split#042.pdf", partFileName("report.pdf", 42, partIndexWidth(150)))
	assert.Equal(t, "report.split#0007.pdf", partFileName("report.pdf", 7, partIndexWidth(1200)))
}

func splitRun() config.RunConfig {
	return config.RunConfig{
		MaxUploadBytes:  10 * 1024 * 1024,
		AutoSplit:       true,
		ChunkSizeBytes:  8 * 1024 * 1024,
		SplitByPages:    true,
		MaxPagesPerPart: 3,
	}
}

func TestSplitterPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.pdf")
	writeTestPDF(t, src, 2)

	parts, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.Nil(t, perr)
	require.Len(t, parts, 1)
	assert.Equal(t, 1, parts[0].FirstPage)
	assert.Equal(t, 2, parts[0].LastPage)

	want, err := os.ReadFile(src)
	require.NoError(t, err)
	got, err := os.ReadFile(parts[0].Path)
	require.NoError(t, err)
	assert.Equal(t, want, got, "an unsplit file must be a byte-identical copy")
}

func TestSplitterNonPDFIsCopied(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(src, []byte("not really a png"), 0o644))

	parts, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.Nil(t, perr)
	require.Len(t, parts, 1)
	assert.Equal(t, "scan.png", parts[0].Name())
	assert.Equal(t, 1, parts[0].PageCount())
}

func TestSplitterReconstructsPageOrder(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.pdf")
	writeTestPDF(t, src, 7)

	parts, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.Nil(t, perr)
	require.Len(t, parts, 3)

	var widths []float64
	for i, p := range parts {
		assert.Equal(t, i+1, p.Index)
		assert.Equal(t, partFileName("long.pdf", i+1, 2), p.Name())
		dims, err := api.PageDimsFile(p.Path)
		require.NoError(t, err)
		assert.Equal(t, p.PageCount(), len(dims))
		for _, d := range dims {
			widths = append(widths, d.Width)
		}
	}
	require.Len(t, widths, 7)
	for i, w := range widths {
		assert.Equal(t, pageWidth(i+1), w, "page %d out of order", i+1)
	}
}

func TestSplitterPageCapScenario(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.pdf")
	writeTestPDF(t, src, 250)

	run := splitRun()
	run.MaxPagesPerPart = 100
	parts, perr := NewSplitter(run).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.Nil(t, perr)
	require.Len(t, parts, 3)
	assert.Equal(t, []int{100, 100, 50}, []int{parts[0].PageCount(), parts[1].PageCount(), parts[2].PageCount()})
	for _, p := range parts {
		n, err := api.PageCountFile(p.Path)
		require.NoError(t, err)
		assert.Equal(t, p.PageCount(), n)
	}
}

func TestSplitterSinglePageOverLimit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "one.pdf")
	writeTestPDF(t, src, 1)

	run := splitRun()
	run.MaxUploadBytes = 10
	run.ChunkSizeBytes = 10
	parts, perr := NewSplitter(run).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.Nil(t, perr)
	require.Len(t, parts, 1)
	assert.Equal(t, 1, parts[0].FirstPage)
	assert.Equal(t, 1, parts[0].LastPage)
}

func TestSplitterStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.pdf")
	writeTestPDF(t, src, 7)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := t.TempDir()
	parts, perr := NewSplitter(splitRun()).Plan(ctx, sourceFor(t, src), out)
	assert.Nil(t, parts)
	require.NotNil(t, perr)
	assert.True(t, perr.IsInterrupt())
	assert.Equal(t, models.CodeSplitInterrupted, perr.Code)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSplitterUnreadablePDF(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(src, []byte("garbage"), 0o644))

	_, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), t.TempDir())
	require.NotNil(t, perr)
	assert.Equal(t, models.KindFilePreparation, perr.Kind)
	assert.Equal(t, models.CodePDFRead, perr.Code)
}

func TestSplitterPartWriteFailureRemovesParts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.pdf")
	writeTestPDF(t, src, 7)

	out := t.TempDir()
	// The second part's path is taken by a non-empty directory.
	blocker := filepath.Join(out, partFileName("long.pdf", 2, 2))
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	parts, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), out)
	assert.Nil(t, parts)
	require.NotNil(t, perr)
	assert.Equal(t, models.KindFilePreparation, perr.Kind)
	assert.Equal(t, models.CodeSplitPartWrite, perr.Code)
	assert.Contains(t, perr.Message, "part 2")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 1, "parts written before the failure are removed")
	assert.Equal(t, filepath.Base(blocker), entries[0].Name())
}

func TestSplitterMissingOutputDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "long.pdf")
	writeTestPDF(t, src, 7)

	_, perr := NewSplitter(splitRun()).Plan(context.Background(), sourceFor(t, src), filepath.Join(dir, "missing"))
	require.NotNil(t, perr)
	assert.Equal(t, models.CodeSplitPartWrite, perr.Code)
	assert.NoDirExists(t, filepath.Join(dir, "missing"))
}
