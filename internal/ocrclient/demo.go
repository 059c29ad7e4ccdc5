package ocrclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// DemoClient is an in-process stand-in for the OCR service. It answers in the
// codes of the configured flow and reports success after PendingPolls polls.
type DemoClient struct {
	Flow         config.FlowKind
	PendingPolls int
	// Immediate makes Submit answer with the payload directly.
	Immediate bool

	mu   sync.Mutex
	jobs map[models.JobHandle]*demoJob
}

type demoJob struct {
	path  string
	opts  SubmitOptions
	polls int
}

// NewDemoClient returns a DemoClient for flow.
func NewDemoClient(flow config.FlowKind, pendingPolls int) *DemoClient {
	return &DemoClient{Flow: flow, PendingPolls: pendingPolls, jobs: make(map[models.JobHandle]*demoJob)}
}

func (c *DemoClient) Submit(ctx context.Context, partPath string, opts SubmitOptions) (SubmitResponse, error) {
	if _, err := os.Stat(partPath); err != nil {
		return SubmitResponse{}, &RemoteError{Class: ClassRemote, Code: "E_FILE", Message: "part is not readable", Detail: err.Error()}
	}
	if c.Immediate {
		payload, err := demoPayload(partPath, opts)
		if err != nil {
			return SubmitResponse{}, err
		}
		return SubmitResponse{Code: c.code(models.JobSucceeded), Payload: &payload}, nil
	}

	handle := models.JobHandle(uuid.NewString())
	c.mu.Lock()
	if c.jobs == nil {
		c.jobs = make(map[models.JobHandle]*demoJob)
	}
	c.jobs[handle] = &demoJob{path: partPath, opts: opts}
	c.mu.Unlock()
	return SubmitResponse{Handle: handle, Code: c.code(models.JobRegistered)}, nil
}

func (c *DemoClient) Poll(ctx context.Context, handle models.JobHandle) (RawStatus, error) {
	c.mu.Lock()
	job, ok := c.jobs[handle]
	if ok {
		job.polls++
	}
	c.mu.Unlock()
	if !ok {
		return RawStatus{}, &RemoteError{Class: ClassRemote, Code: CodeNotFound, Message: "unknown job", Detail: string(handle)}
	}
	if job.polls <= c.PendingPolls {
		return RawStatus{Code: c.code(models.JobInProgress)}, nil
	}
	status := RawStatus{Code: c.code(models.JobSucceeded)}
	if c.Flow == config.FlowReception {
		payload, err := demoPayload(job.path, job.opts)
		if err != nil {
			return RawStatus{}, err
		}
		status.Payload = &payload
	}
	return status, nil
}

func (c *DemoClient) FetchResult(ctx context.Context, handle models.JobHandle) (models.ResultPayload, error) {
	c.mu.Lock()
	job, ok := c.jobs[handle]
	c.mu.Unlock()
	if !ok {
		return models.ResultPayload{}, &RemoteError{Class: ClassRemote, Code: CodeNotFound, Message: "unknown job", Detail: string(handle)}
	}
	return demoPayload(job.path, job.opts)
}

func (c *DemoClient) DeleteJob(ctx context.Context, handle models.JobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[handle]; !ok {
		return &RemoteError{Class: ClassRemote, Code: CodeNotFound, Message: "unknown job", Detail: string(handle)}
	}
	delete(c.jobs, handle)
	return nil
}

func (c *DemoClient) code(state models.JobState) string {
	if c.Flow == config.FlowUnit {
		switch state {
		case models.JobRegistered:
			return UnitRegistered
		case models.JobSucceeded:
			return UnitSucceeded
		case models.JobFailed:
			return UnitFailed
		default:
			return UnitInProgress
		}
	}
	switch state {
	case models.JobRegistered:
		return ReceptionRegistered
	case models.JobSucceeded:
		return ReceptionSucceeded
	case models.JobFailed:
		return ReceptionFailed
	default:
		return ReceptionInProgress
	}
}

func demoPayload(path string, opts SubmitOptions) (models.ResultPayload, error) {
	doc := map[string]any{
		"file":     filepath.Base(path),
		"language": opts.Language,
		"text":     fmt.Sprintf("demo OCR text for %s", filepath.Base(path)),
	}
	if opts.ExtractClasses {
		doc["model"] = opts.Model
		doc["parts"] = []map[string]string{
			{"class_name": "document_title", "text": filepath.Base(path)},
			{"class_name": "issue_date", "text": "2024-01-01"},
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return models.ResultPayload{}, fmt.Errorf("marshal demo payload: %w", err)
	}
	payload := models.ResultPayload{JSON: data}
	if opts.WantPDF {
		pdf, err := os.ReadFile(path)
		if err != nil {
			return models.ResultPayload{}, &RemoteError{Class: ClassRemote, Code: "E_FILE", Message: "part is not readable", Detail: err.Error()}
		}
		payload.SearchablePDF = pdf
	}
	return payload, nil
}
