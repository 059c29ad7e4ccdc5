package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

func TestObserverFuncsIgnoresNilFields(t *testing.T) {
	var ended models.SessionSummary
	obs := ObserverFuncs{SessionEnd: func(s models.SessionSummary) { ended = s }}

	assert.NotPanics(t, func() {
		obs.OnStatus(models.StatusEvent{FileIndex: 1})
		obs.OnFileResult(models.FileResultEvent{FileIndex: 1})
	})
	obs.OnSessionEnd(models.SessionSummary{SessionID: "s1", Total: 2})
	assert.Equal(t, "s1", ended.SessionID)
	assert.Equal(t, 2, ended.Total)
}

func TestChannelObserverPreservesOrderAndCloses(t *testing.T) {
	obs := NewChannelObserver(4)
	obs.OnStatus(models.StatusEvent{FileIndex: 0, Label: "準備中"})
	obs.OnFileResult(models.FileResultEvent{FileIndex: 0, Outcome: models.OutcomeSuccess})
	obs.OnSessionEnd(models.SessionSummary{State: models.SessionCompleted})

	var got []Event
	for e := range obs.Events() {
		got = append(got, e)
	}
	require.Len(t, got, 3)
	require.NotNil(t, got[0].Status)
	assert.Equal(t, "準備中", got[0].Status.Label)
	require.NotNil(t, got[1].FileResult)
	assert.Equal(t, models.OutcomeSuccess, got[1].FileResult.Outcome)
	require.NotNil(t, got[2].Summary)
	assert.Equal(t, models.SessionCompleted, got[2].Summary.State)
}
