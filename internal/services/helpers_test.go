package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
)

// pageWidth gives every page of a generated PDF a distinct MediaBox width so
// page order can be checked after splitting.
func pageWidth(page int) float64 {
	return float64(200 + page)
}

// writeTestPDF writes a minimal valid PDF with n empty pages.
func writeTestPDF(t *testing.T, path string, n int) {
	t.Helper()
	var buf bytes.Buffer
	offsets := make([]int, 0, n+2)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	var kids bytes.Buffer
	for i := 0; i < n; i++ {
		fmt.Fprintf(&kids, "%d 0 R ", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [ %s] /Count %d >>", kids.String(), n))
	for i := 1; i <= n; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %.0f 300] /Resources << >> >>", pageWidth(i)))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func sourceFor(t *testing.T, path string) *models.SourceFile {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return models.NewSourceFile(path, info.Size(), 0)
}

// fakeClient is a scripted JobClient. Poll returns statuses in order and
// repeats the last one.
type fakeClient struct {
	mu sync.Mutex

	submitResp ocrclient.SubmitResponse
	submitErr  error
	statuses   []ocrclient.RawStatus
	pollErr    error
	payload    models.ResultPayload
	fetchErr   error
	deleteErr  error

	// onPoll runs after each poll with the running poll count.
	onPoll func(n int)

	submits int
	polls   int
	fetches int
	deleted []models.JobHandle
}

func (c *fakeClient) Submit(ctx context.Context, partPath string, opts ocrclient.SubmitOptions) (ocrclient.SubmitResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	return c.submitResp, c.submitErr
}

func (c *fakeClient) Poll(ctx context.Context, handle models.JobHandle) (ocrclient.RawStatus, error) {
	c.mu.Lock()
	c.polls++
	n := c.polls
	var status ocrclient.RawStatus
	if len(c.statuses) > 0 {
		status = c.statuses[min(n, len(c.statuses))-1]
	}
	hook := c.onPoll
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return status, c.pollErr
}

func (c *fakeClient) FetchResult(ctx context.Context, handle models.JobHandle) (models.ResultPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++
	return c.payload, c.fetchErr
}

func (c *fakeClient) DeleteJob(ctx context.Context, handle models.JobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != nil {
		return c.deleteErr
	}
	c.deleted = append(c.deleted, handle)
	return nil
}

// recorder is an Observer that keeps every event.
type recorder struct {
	mu       sync.Mutex
	statuses []models.StatusEvent
	results  []models.FileResultEvent
	summary  *models.SessionSummary
}

func (r *recorder) OnStatus(e models.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, e)
}

func (r *recorder) OnFileResult(e models.FileResultEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, e)
}

func (r *recorder) OnSessionEnd(s models.SessionSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
}

func (r *recorder) stages(fileIndex int) []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Stage
	for _, e := range r.statuses {
		if e.FileIndex == fileIndex {
			out = append(out, e.Stage)
		}
	}
	return out
}
