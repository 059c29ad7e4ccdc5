package services

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// Workspace owns the session temp root. The root is created on first use and
// removed by Close, which the session defers on every exit path.
type Workspace struct {
	base string
	now  func() time.Time

	mu     sync.Mutex
	root   string
	closed bool
}

// NewWorkspace returns a Workspace rooted under base (os.TempDir when empty).
func NewWorkspace(base string) *Workspace {
	return &Workspace{base: base, now: time.Now}
}

// Root returns the session temp root, creating it on first call.
func (w *Workspace) Root() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", models.NewError(models.KindFatalSession, models.CodeSessionTemp, "workspace already released", nil)
	}
	if w.root != "" {
		return w.root, nil
	}
	if w.base != "" {
		if err := os.MkdirAll(w.base, 0o755); err != nil {
			return "", models.NewError(models.KindFatalSession, models.CodeSessionTemp, "failed to create temp base", err)
		}
	}
	root, err := os.MkdirTemp(w.base, "ocrflow-"+w.now().Format("20060102-150405")+"-*")
	if err != nil {
		return "", models.NewError(models.KindFatalSession, models.CodeSessionTemp, "failed to create session temp dir", err)
	}
	w.root = root
	slog.Debug("Created session temp root.", "path", root)
	return root, nil
}

// Close removes the session temp root and everything below it.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.root == "" {
		return nil
	}
	root := w.root
	w.root = ""
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("failed to remove session temp dir %s: %w", root, err)
	}
	return nil
}

// FileScope is the per-file temp area: one dir for parts, one for part results.
type FileScope struct {
	Dir        string
	PartsDir   string
	ResultsDir string
}

// FileScope creates the temp directories for the file at index.
func (w *Workspace) FileScope(index int, src *models.SourceFile) (*FileScope, error) {
	root, err := w.Root()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(root, fmt.Sprintf("%04d-%s", index, sanitizeName(src.BaseName())))
	scope := &FileScope{
		Dir:        dir,
		PartsDir:   filepath.Join(dir, "parts"),
		ResultsDir: filepath.Join(dir, "results"),
	}
	for _, d := range []string{scope.PartsDir, scope.ResultsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			_ = os.RemoveAll(dir)
			return nil, models.NewError(models.KindFatalSession, models.CodeSessionTemp, "failed to create file temp dir", err)
		}
	}
	return scope, nil
}

// Close removes the file's temp directories.
func (s *FileScope) Close() error {
	return os.RemoveAll(s.Dir)
}

func sanitizeName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if len(cleaned) > 80 {
		cleaned = cleaned[:80]
	}
	return cleaned
}

// maxRenameAttempts bounds the " (n)" search.
const maxRenameAttempts = 10000

// numberedPath inserts " (n)" before the extension.
func numberedPath(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(path, ext), n, ext)
}

// reserve claims a target path according to policy. For rename and skip the
// returned file was created exclusively and must be filled by the caller.
// A nil file with an empty target means the write is skipped.
func reserve(dst string, policy config.CollisionPolicy) (string, *os.File, error) {
	switch policy {
	case config.CollisionOverwrite:
		return dst, nil, nil
	case config.CollisionSkip:
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			return "", nil, nil
		}
		if err != nil {
			return "", nil, err
		}
		return dst, f, nil
	case config.CollisionRename:
		for n := 0; n < maxRenameAttempts; n++ {
			candidate := dst
			if n > 0 {
				candidate = numberedPath(dst, n)
			}
			f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err == nil {
				return candidate, f, nil
			}
			if !errors.Is(err, fs.ErrExist) {
				return "", nil, err
			}
		}
		return "", nil, fmt.Errorf("no free name for %s after %d attempts", dst, maxRenameAttempts)
	default:
		return "", nil, fmt.Errorf("unknown collision policy %q", policy)
	}
}

// WriteWithPolicy writes the content of r to dst under policy. It returns the
// path actually written and false when the write was skipped.
func WriteWithPolicy(dst string, r io.Reader, policy config.CollisionPolicy) (string, bool, error) {
	target, f, err := reserve(dst, policy)
	if err != nil {
		return "", false, err
	}
	if target == "" {
		return "", false, nil
	}
	if f == nil {
		return target, true, writeAtomically(target, r)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(target)
		return "", false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(target)
		return "", false, err
	}
	return target, true, nil
}

// writeAtomically replaces dst via a temp file in the same directory.
func writeAtomically(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// CopyWithPolicy copies src to dst under policy.
func CopyWithPolicy(src, dst string, policy config.CollisionPolicy) (string, bool, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", false, err
	}
	defer in.Close()
	return WriteWithPolicy(dst, in, policy)
}

// MoveWithPolicy moves src to dst under policy, falling back to copy and
// remove when a rename across devices is not possible.
func MoveWithPolicy(src, dst string, policy config.CollisionPolicy) (string, bool, error) {
	target, f, err := reserve(dst, policy)
	if err != nil {
		return "", false, err
	}
	if target == "" {
		return "", false, nil
	}
	if f != nil {
		_ = f.Close()
	}
	if err := os.Rename(src, target); err == nil {
		return target, true, nil
	}

	in, err := os.Open(src)
	if err != nil {
		if f != nil {
			_ = os.Remove(target)
		}
		return "", false, err
	}
	copyErr := writeAtomically(target, in)
	in.Close()
	if copyErr != nil {
		if f != nil {
			_ = os.Remove(target)
		}
		return "", false, copyErr
	}
	if err := os.Remove(src); err != nil {
		return target, true, fmt.Errorf("copied to %s but failed to remove source: %w", target, err)
	}
	return target, true, nil
}

// PostProcessor moves originals into the success or failure subfolder.
type PostProcessor struct {
	run config.RunConfig
}

func NewPostProcessor(run config.RunConfig) *PostProcessor {
	return &PostProcessor{run: run}
}

// Wants reports whether a file with outcome is moved at all.
func (p *PostProcessor) Wants(outcome models.FileOutcome) bool {
	return (outcome == models.OutcomeSuccess && p.run.MoveOnSuccess) ||
		(outcome == models.OutcomeError && p.run.MoveOnFailure)
}

// Move relocates src according to outcome. It returns an empty path when no
// move is configured for the outcome or the move was skipped by policy.
// Interrupted files are never moved.
func (p *PostProcessor) Move(src *models.SourceFile, outcome models.FileOutcome) (string, error) {
	var folder string
	switch {
	case outcome == models.OutcomeSuccess && p.run.MoveOnSuccess:
		folder = p.run.SuccessFolder
	case outcome == models.OutcomeError && p.run.MoveOnFailure:
		folder = p.run.FailureFolder
	default:
		return "", nil
	}

	dir := filepath.Join(filepath.Dir(src.Path), folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	target, moved, err := MoveWithPolicy(src.Path, filepath.Join(dir, src.Name), p.run.Collision)
	if err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src.Path, err)
	}
	if !moved {
		return "", nil
	}
	return target, nil
}
