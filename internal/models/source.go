package models

import (
	"path/filepath"
	"strings"
)

// SourceFile is one document found in the input folder. Its status fields are
// mutated only by the session worker; observers receive copies via Snapshot.
type SourceFile struct {
	Path      string
	Name      string
	SizeBytes int64
	// PageCount is zero when unknown (non-PDF inputs).
	PageCount int
	Selected  bool

	Status              string
	ResultSummary       string
	EngineStatus        string
	JSONStatus          string
	SearchablePDFStatus string
}

// NewSourceFile builds a selected SourceFile for an absolute path.
func NewSourceFile(path string, size int64, pages int) *SourceFile {
	return &SourceFile{
		Path:      path,
		Name:      filepath.Base(path),
		SizeBytes: size,
		PageCount: pages,
		Selected:  true,
		Status:    StatusQueued,
	}
}

// IsPDF reports whether the file is a PDF by extension.
func (f *SourceFile) IsPDF() bool {
	return strings.EqualFold(filepath.Ext(f.Path), ".pdf")
}

// BaseName returns the file name without its extension.
func (f *SourceFile) BaseName() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// Snapshot returns a copy that is safe to hand to another goroutine.
func (f *SourceFile) Snapshot() SourceFile {
	return *f
}

// Part is one contiguous page range of a SourceFile, materialized as a temp file.
type Part struct {
	SourcePath string
	Path       string
	// Index is 1-based.
	Index          int
	EstimatedBytes int64
	FirstPage      int
	LastPage       int
}

// PageCount is the number of pages covered by the part.
func (p Part) PageCount() int {
	return p.LastPage - p.FirstPage + 1
}

// Name is the part's file name.
func (p Part) Name() string {
	return filepath.Base(p.Path)
}
