package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// WorkflowNotifier starts a Cloud Workflows execution when a session ends so
// downstream steps can pick up the uploaded artifacts.
type WorkflowNotifier struct {
	client  *executions.Client
	parent  string
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID, bucket, prefix string) (*WorkflowNotifier, error) {
	if projectID == "" || workflowID == "" {
		return nil, fmt.Errorf("project id and workflow id must be set")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		client:  client,
		parent:  fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
	}, nil
}

func (n *WorkflowNotifier) Close() error {
	return n.client.Close()
}

// WorkflowArgument is the JSON argument passed to the execution.
func WorkflowArgument(s models.SessionSummary, bucket, prefix string) (string, error) {
	payload := map[string]interface{}{
		"sessionId":   s.SessionID,
		"state":       string(s.State),
		"total":       s.Total,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"interrupted": s.Interrupted,
	}
	if bucket != "" {
		payload["artifactBucket"] = bucket
		payload["artifactPrefix"] = prefix
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return string(b), nil
}

// Notify triggers one execution for the finished session.
func (n *WorkflowNotifier) Notify(ctx context.Context, s models.SessionSummary) error {
	arg, err := WorkflowArgument(s, n.bucket, n.prefix)
	if err != nil {
		return err
	}
	req := &executionspb.CreateExecutionRequest{
		Parent:    n.parent,
		Execution: &executionspb.Execution{Argument: arg},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Triggered workflow.", "sessionId", s.SessionID, "execution", exec.GetName())
	return nil
}

func (n *WorkflowNotifier) OnStatus(models.StatusEvent)         {}
func (n *WorkflowNotifier) OnFileResult(models.FileResultEvent) {}

func (n *WorkflowNotifier) OnSessionEnd(s models.SessionSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.Notify(ctx, s); err != nil {
		slog.Error("Workflow notification failed.", "sessionId", s.SessionID, "error", err)
	}
}
