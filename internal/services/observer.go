package services

import "github.com/Lllllllleong/ocrdocumentflow/internal/models"

// Observer receives session events in order, on the session worker
// goroutine. Implementations must not block for long.
type Observer interface {
	OnStatus(models.StatusEvent)
	OnFileResult(models.FileResultEvent)
	OnSessionEnd(models.SessionSummary)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Status     func(models.StatusEvent)
	FileResult func(models.FileResultEvent)
	SessionEnd func(models.SessionSummary)
}

func (o ObserverFuncs) OnStatus(e models.StatusEvent) {
	if o.Status != nil {
		o.Status(e)
	}
}

func (o ObserverFuncs) OnFileResult(e models.FileResultEvent) {
	if o.FileResult != nil {
		o.FileResult(e)
	}
}

func (o ObserverFuncs) OnSessionEnd(s models.SessionSummary) {
	if o.SessionEnd != nil {
		o.SessionEnd(s)
	}
}

// Event is one message on a ChannelObserver. Exactly one field is set.
type Event struct {
	Status     *models.StatusEvent
	FileResult *models.FileResultEvent
	Summary    *models.SessionSummary
}

// ChannelObserver forwards events to a channel for a consumer on another
// goroutine. The channel is closed after the session end event.
type ChannelObserver struct {
	events chan Event
}

func NewChannelObserver(buffer int) *ChannelObserver {
	return &ChannelObserver{events: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (c *ChannelObserver) Events() <-chan Event {
	return c.events
}

func (c *ChannelObserver) OnStatus(e models.StatusEvent) {
	c.events <- Event{Status: &e}
}

func (c *ChannelObserver) OnFileResult(e models.FileResultEvent) {
	c.events <- Event{FileResult: &e}
}

func (c *ChannelObserver) OnSessionEnd(s models.SessionSummary) {
	c.events <- Event{Summary: &s}
	close(c.events)
}
