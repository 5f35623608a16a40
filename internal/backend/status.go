package backend

import (
	"context"

	"github.com/looplab/fsm"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Status is the backend's connection state.
type Status string

const (
	StatusUnopened          Status = "unopened"
	StatusOpeningOriginal   Status = "opening_original"
	StatusOpenedOriginal    Status = "opened_original"
	StatusOpeningAfterError Status = "opening_after_error"
	StatusOpenedAfterError  Status = "opened_after_error"
	StatusClosed            Status = "closed"
)

// IsOpen reports whether the status has a usable connection.
func (s Status) IsOpen() bool {
	return s == StatusOpenedOriginal || s == StatusOpenedAfterError
}

const (
	eventOpen       = "open"
	eventOpened     = "opened"
	eventOpenFailed = "open_failed"
	eventGiveUp     = "give_up"
	eventClose      = "close"
)

func newStatusMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusUnopened),
		fsm.Events{
			{Name: eventOpen, Src: []string{string(StatusUnopened), string(StatusClosed)}, Dst: string(StatusOpeningOriginal)},
			{Name: eventOpened, Src: []string{string(StatusOpeningOriginal)}, Dst: string(StatusOpenedOriginal)},
			{Name: eventOpened, Src: []string{string(StatusOpeningAfterError)}, Dst: string(StatusOpenedAfterError)},
			{Name: eventOpenFailed, Src: []string{string(StatusOpeningOriginal)}, Dst: string(StatusOpeningAfterError)},
			{Name: eventGiveUp, Src: []string{string(StatusOpeningOriginal), string(StatusOpeningAfterError)}, Dst: string(StatusClosed)},
			{Name: eventClose, Src: []string{
				string(StatusUnopened),
				string(StatusOpeningOriginal),
				string(StatusOpenedOriginal),
				string(StatusOpeningAfterError),
				string(StatusOpenedAfterError),
			}, Dst: string(StatusClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logging.Debug("Backend status %s -> %s (%s)", e.Src, e.Dst, e.Event)
				metrics.SetBackendStatus(e.Dst)
			},
		},
	)
}

// fire triggers event if the current status allows it. Callers hold b.mu.
func (b *Backend) fire(event string) {
	if !b.status.Can(event) {
		return
	}
	if err := b.status.Event(context.Background(), event); err != nil {
		logging.Warn("Backend status event %s from %s failed: %v", event, b.status.Current(), err)
	}
}
