package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindFilePreparation  ErrorKind = "FilePreparationError"
	KindSubmission       ErrorKind = "SubmissionError"
	KindPolling          ErrorKind = "PollingError"
	KindRemoteProcessing ErrorKind = "RemoteProcessingError"
	KindTimeout          ErrorKind = "TimeoutError"
	KindUserInterrupt    ErrorKind = "UserInterrupt"
	KindAggregation      ErrorKind = "AggregationError"
	KindFatalSession     ErrorKind = "FatalSessionError"
)

// Machine-readable codes surfaced for support diagnostics.
const (
	CodeSplitPartWrite   = "SPLIT_PART_WRITE_ERROR"
	CodeSplitInterrupted = "SPLIT_INTERRUPTED"
	CodeSplitZeroPages   = "SPLIT_ZERO_PAGES"
	CodePDFRead          = "PDF_READ_ERROR"
	CodeCopySource       = "SOURCE_COPY_ERROR"
	CodeSubmitFailed     = "SUBMIT_FAILED"
	CodeNoJobHandle      = "NO_JOB_HANDLE"
	CodePollFailed       = "POLL_FAILED"
	CodeRemoteFailed     = "REMOTE_FAILED"
	CodePollTimeout      = "POLL_TIMEOUT"
	CodeFetchFailed      = "FETCH_FAILED"
	CodeUserInterrupt    = "USER_INTERRUPT"
	CodeOutputWrite      = "OUTPUT_WRITE_ERROR"
	CodeSessionTemp      = "SESSION_TEMP_ERROR"
	CodeSessionCrash     = "SESSION_UNEXPECTED_ERROR"
)

// PipelineError is the normalized (code, message, detail) error carried through
// the pipeline and reported per file.
type PipelineError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Detail  string
	Err     error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsInterrupt reports whether the error came from cooperative cancellation.
func (e *PipelineError) IsInterrupt() bool {
	return e != nil && e.Kind == KindUserInterrupt
}

// IsFatal reports whether the error must halt the whole session.
func (e *PipelineError) IsFatal() bool {
	return e != nil && e.Kind == KindFatalSession
}

// NewError builds a PipelineError.
func NewError(kind ErrorKind, code, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Code: code, Message: message, Err: err}
}

// WithDetail returns a copy of e carrying detail.
func (e *PipelineError) WithDetail(detail string) *PipelineError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// Interrupted is the error for a stop observed at a checkpoint.
func Interrupted(code, where string) *PipelineError {
	return &PipelineError{Kind: KindUserInterrupt, Code: code, Message: "interrupted by user during " + where}
}

// AsPipelineError extracts a *PipelineError from err, if any.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
