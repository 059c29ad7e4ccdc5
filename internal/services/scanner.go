package services

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var supportedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// IsSupported reports whether name has an extension the OCR service accepts.
func IsSupported(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ScanInput lists the supported files directly inside dir, sorted by name.
// Subfolders, including the results and post-move folders, are not entered.
func ScanInput(dir string) ([]*models.SourceFile, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read input folder %s: %w", abs, err)
	}

	var files []*models.SourceFile
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsSupported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.Warn("Skipping unreadable file.", "file", e.Name(), "error", err)
			continue
		}
		path := filepath.Join(abs, e.Name())
		pages := 0
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			if pages, err = api.PageCountFile(path); err != nil {
				slog.Warn("Could not read page count.", "file", path, "error", err)
				pages = 0
			}
		}
		files = append(files, models.NewSourceFile(path, info.Size(), pages))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
