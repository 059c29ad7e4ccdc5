package ocrclient

import (
	"fmt"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// SubmitOutcome is the normalized result of a submission.
type SubmitOutcome struct {
	Handle  models.JobHandle
	Status  models.JobStatus
	Payload *models.ResultPayload
}

// JobFlow interprets one protocol variant. The poller depends only on this
// interface and never on raw status codes.
type JobFlow interface {
	Name() string
	InterpretSubmitResponse(resp SubmitResponse) SubmitOutcome
	InterpretPollResponse(raw RawStatus) models.JobStatus
	// FetchesSeparately reports whether the payload must be fetched after success.
	FetchesSeparately() bool
}

// NewFlow returns the strategy for kind.
func NewFlow(kind config.FlowKind) (JobFlow, error) {
	switch kind {
	case config.FlowReception:
		return ReceptionFlow{}, nil
	case config.FlowUnit:
		return UnitFlow{}, nil
	default:
		return nil, fmt.Errorf("unknown flow kind %q", kind)
	}
}

// Reception protocol codes.
const (
	ReceptionRegistered = "0"
	ReceptionInProgress = "1"
	ReceptionSucceeded  = "2"
	ReceptionFailed     = "3"
)

// ReceptionFlow submits for a reception id; status 2 is success (with the
// result inline) and 3 is failure.
type ReceptionFlow struct{}

func (ReceptionFlow) Name() string { return string(config.FlowReception) }

func (ReceptionFlow) FetchesSeparately() bool { return false }

func (f ReceptionFlow) InterpretSubmitResponse(resp SubmitResponse) SubmitOutcome {
	if resp.Payload != nil {
		return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobSucceeded, Raw: resp.Code}, Payload: resp.Payload}
	}
	if resp.Code == ReceptionFailed {
		return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobFailed, Reason: resp.Message, Raw: resp.Code}}
	}
	return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobRegistered, Raw: resp.Code}}
}

func (ReceptionFlow) InterpretPollResponse(raw RawStatus) models.JobStatus {
	switch raw.Code {
	case ReceptionSucceeded:
		return models.JobStatus{State: models.JobSucceeded, Raw: raw.Code}
	case ReceptionFailed:
		return models.JobStatus{State: models.JobFailed, Reason: raw.Message, Raw: raw.Code}
	case ReceptionRegistered:
		return models.JobStatus{State: models.JobRegistered, Raw: raw.Code}
	default:
		return models.JobStatus{State: models.JobInProgress, Raw: raw.Code}
	}
}

// Unit protocol processing statuses.
const (
	UnitRegistered = "100"
	UnitInProgress = "200"
	UnitSucceeded  = "300"
	UnitFailed     = "400"
)

// UnitFlow submits for a unit id; processing status 300 is success and 400 is
// failure. The result is fetched with a separate call.
type UnitFlow struct{}

func (UnitFlow) Name() string { return string(config.FlowUnit) }

func (UnitFlow) FetchesSeparately() bool { return true }

func (UnitFlow) InterpretSubmitResponse(resp SubmitResponse) SubmitOutcome {
	if resp.Payload != nil {
		return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobSucceeded, Raw: resp.Code}, Payload: resp.Payload}
	}
	if resp.Code == UnitFailed {
		return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobFailed, Reason: resp.Message, Raw: resp.Code}}
	}
	return SubmitOutcome{Handle: resp.Handle, Status: models.JobStatus{State: models.JobRegistered, Raw: resp.Code}}
}

func (UnitFlow) InterpretPollResponse(raw RawStatus) models.JobStatus {
	switch raw.Code {
	case UnitSucceeded:
		return models.JobStatus{State: models.JobSucceeded, Raw: raw.Code}
	case UnitFailed:
		return models.JobStatus{State: models.JobFailed, Reason: raw.Message, Raw: raw.Code}
	case UnitRegistered:
		return models.JobStatus{State: models.JobRegistered, Raw: raw.Code}
	default:
		return models.JobStatus{State: models.JobInProgress, Raw: raw.Code}
	}
}
