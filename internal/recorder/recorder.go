// Package recorder drives one replay page and the in-browser recording
// agent through a capture: open, start, optional pause/resume, stop, save.
//
// Any step that touches browser-global state (opening a tab, focusing it,
// asking the agent which tab is active) runs under the shared fair lock.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Browser is the shared browser instance.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// Agent returns a handle to the recording extension.
	Agent(ctx context.Context) (Agent, error)
}

// Page is one browser tab.
type Page interface {
	// Navigate loads url and waits until the DOM is interactive.
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	BringToFront(ctx context.Context) error
	Close() error
}

// Agent is the recording extension's RPC surface.
type Agent interface {
	ActiveTab(ctx context.Context) (int, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context, tab int) error
	Pause(ctx context.Context, tab int) error
	Resume(ctx context.Context, tab int) error
	// Save exports the recording and returns the artifact path.
	Save(ctx context.Context, tab int) (string, error)
}

// Locker is the shared browser lock. WaitTurn blocks until earlier
// holders are done without taking the lock.
type Locker interface {
	Acquire(ctx context.Context) error
	WaitTurn(ctx context.Context) error
	Release()
}

const (
	DefaultPlaySelector = ".acorn-play-button, .vjs-play-control"
	DefaultPlayTimeout  = 30 * time.Second
)

var (
	ErrNotOpened  = errors.New("recorder: session not opened")
	ErrNotStarted = errors.New("recorder: recording not started")
	ErrNotStopped = errors.New("recorder: recording not stopped")
	ErrClosed     = errors.New("recorder: session closed")
)

// NavigationError means the replay page never showed its play control.
type NavigationError struct {
	URL      string
	Selector string
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("recorder: %s: play control %q not visible: %v", e.URL, e.Selector, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// AgentError is a failure reported by the recording extension.
type AgentError struct {
	Op  string
	Tab int
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("recorder: agent %s (tab %d): %v", e.Op, e.Tab, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }
