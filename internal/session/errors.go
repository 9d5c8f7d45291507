package session

import (
	"fmt"

	"github.com/claudian/claudian/internal/claude"
)

var (
	// ErrRunning is returned when a run is started while one is active.
	ErrRunning = fmt.Errorf("a run is already in progress")
	// ErrEmptyPrompt is returned when the prompt is blank after trimming.
	ErrEmptyPrompt = claude.ErrEmptyPrompt
	// ErrNotRunning is returned by cancel when no run is active. The session
	// is closed instead.
	ErrNotRunning = fmt.Errorf("no run in progress")
	// ErrUnknownCard is returned when toggling a card id that is not shown.
	ErrUnknownCard = fmt.Errorf("unknown tool card")
	// ErrDisposed is returned once the controller has been disposed.
	ErrDisposed = fmt.Errorf("session disposed")
)
