// Package ocrclient defines the contract of the remote OCR job service and the
// flow strategies that normalize its protocol variants into one state machine.
package ocrclient

import (
	"context"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// SubmitOptions are forwarded with every part submission.
type SubmitOptions struct {
	Language       string
	Model          string
	ExtractClasses bool
	WantPDF        bool
}

// OptionsFromRun builds SubmitOptions from a run snapshot.
func OptionsFromRun(run config.RunConfig) SubmitOptions {
	return SubmitOptions{
		Language:       run.Options.Language,
		Model:          run.Options.Model,
		ExtractClasses: run.Options.ExtractClasses,
		WantPDF:        run.WantsPDF(),
	}
}

// SubmitResponse is the raw reply to a submission.
type SubmitResponse struct {
	Handle  models.JobHandle
	Code    string
	Message string
	// Payload is set by services that answer synchronously.
	Payload *models.ResultPayload
}

// RawStatus is the raw reply to a poll.
type RawStatus struct {
	Code    string
	Message string
	// Payload is set by protocols that return the result with the final status.
	Payload *models.ResultPayload
}

// JobClient is the network collaborator that talks to the OCR service.
// Implementations return *RemoteError for structured failures.
type JobClient interface {
	Submit(ctx context.Context, partPath string, opts SubmitOptions) (SubmitResponse, error)
	Poll(ctx context.Context, handle models.JobHandle) (RawStatus, error)
	FetchResult(ctx context.Context, handle models.JobHandle) (models.ResultPayload, error)
	DeleteJob(ctx context.Context, handle models.JobHandle) error
}
