package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// splitMargin keeps estimated part sizes under the chunk size, since the
// per-page estimate is an average.
const splitMargin = 0.9

// Splitter decides whether a source file must be split and materializes its
// parts as temp files.
type Splitter struct {
	run     config.RunConfig
	pdfConf *model.Configuration
}

func NewSplitter(run config.RunConfig) *Splitter {
	return &Splitter{run: run, pdfConf: relaxedPDFConfig()}
}

func relaxedPDFConfig() *model.Configuration {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

type pageRange struct {
	first, last int
}

func (r pageRange) selector() string {
	if r.first == r.last {
		return strconv.Itoa(r.first)
	}
	return fmt.Sprintf("%d-%d", r.first, r.last)
}

// Plan returns the ordered parts for src, written into dir. A file that meets
// no split condition, or is not a PDF, becomes a single verbatim copy.
func (s *Splitter) Plan(ctx context.Context, src *models.SourceFile, dir string) ([]models.Part, *models.PipelineError) {
	logCtx := slog.With("file", src.Path)

	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, models.NewError(models.KindFilePreparation, models.CodeCopySource, "source file is not readable", err)
	}
	size := info.Size()

	if !src.IsPDF() || !s.run.AutoSplit {
		return s.single(src, dir, size, max(src.PageCount, 1))
	}

	pages, err := api.PageCountFile(src.Path)
	if err != nil {
		return nil, models.NewError(models.KindFilePreparation, models.CodePDFRead, "failed to read PDF page count", err)
	}
	if pages == 0 {
		return nil, models.NewError(models.KindFilePreparation, models.CodeSplitZeroPages, "PDF has no pages", nil)
	}
	src.PageCount = pages

	overSize := size > s.run.MaxUploadBytes
	overPages := s.run.SplitByPages && pages > s.run.MaxPagesPerPart
	if !overSize && !overPages {
		return s.single(src, dir, size, pages)
	}

	ranges := planRanges(pages, size, s.run.ChunkSizeBytes, s.pageCap())
	width := partIndexWidth(max(estimatePartCount(pages, size, s.run.ChunkSizeBytes, s.pageCap()), len(ranges)))
	perPage := float64(size) / float64(pages)
	logCtx.Info("Splitting source file.", "sizeBytes", size, "pageCount", pages, "partCount", len(ranges))

	parts := make([]models.Part, 0, len(ranges))
	for i, r := range ranges {
		if ctx.Err() != nil {
			removeParts(parts)
			return nil, models.Interrupted(models.CodeSplitInterrupted, "splitting")
		}
		out := filepath.Join(dir, partFileName(src.Name, i+1, width))
		if err := api.TrimFile(src.Path, out, []string{r.selector()}, s.pdfConf); err != nil {
			_ = os.Remove(out)
			removeParts(parts)
			return nil, models.NewError(models.KindFilePreparation, models.CodeSplitPartWrite,
				fmt.Sprintf("failed to write part %d (pages %s)", i+1, r.selector()), err)
		}
		parts = append(parts, models.Part{
			SourcePath:     src.Path,
			Path:           out,
			Index:          i + 1,
			EstimatedBytes: int64(perPage * float64(r.last-r.first+1)),
			FirstPage:      r.first,
			LastPage:       r.last,
		})
	}
	return parts, nil
}

// pageCap is the per-part page limit, or zero when page splitting is off.
func (s *Splitter) pageCap() int {
	if !s.run.SplitByPages {
		return 0
	}
	return s.run.MaxPagesPerPart
}

func (s *Splitter) single(src *models.SourceFile, dir string, size int64, pages int) ([]models.Part, *models.PipelineError) {
	out := filepath.Join(dir, src.Name)
	if err := copyFile(src.Path, out); err != nil {
		return nil, models.NewError(models.KindFilePreparation, models.CodeCopySource, "failed to copy source into temp dir", err)
	}
	return []models.Part{{
		SourcePath:     src.Path,
		Path:           out,
		Index:          1,
		EstimatedBytes: size,
		FirstPage:      1,
		LastPage:       pages,
	}}, nil
}

// planRanges walks pages in order, cutting after a page once the current
// part holds maxPages pages or its estimated size reaches the chunk margin.
// No cut happens after the final page, so the last part takes the remainder.
func planRanges(pages int, size, chunkBytes int64, maxPages int) []pageRange {
	perPage := float64(size) / float64(pages)
	threshold := splitMargin * float64(chunkBytes)

	var ranges []pageRange
	first, count, acc := 1, 0, 0.0
	for p := 1; p <= pages; p++ {
		count++
		acc += perPage
		if p == pages {
			break
		}
		if (maxPages > 0 && count >= maxPages) || (chunkBytes > 0 && acc >= threshold) {
			ranges = append(ranges, pageRange{first, p})
			first, count, acc = p+1, 0, 0
		}
	}
	return append(ranges, pageRange{first, pages})
}

// estimatePartCount is used for zero padding only.
func estimatePartCount(pages int, size, chunkBytes int64, maxPages int) int {
	est := 1
	if chunkBytes > 0 {
		est = int((size + chunkBytes - 1) / chunkBytes)
	}
	if maxPages > 0 {
		est = max(est, (pages+maxPages-1)/maxPages)
	}
	return est
}

func partIndexWidth(n int) int {
	switch {
	case n >= 1000:
		return 4
	case n >= 100:
		return 3
	default:
		return 2
	}
}

// partFileName renders "<base>.split#NN<ext>".
func partFileName(name string, index, width int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.split#%0*d%s", strings.TrimSuffix(name, ext), width, index, ext)
}

func removeParts(parts []models.Part) {
	for _, p := range parts {
		_ = os.Remove(p.Path)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
