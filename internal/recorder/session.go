package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"replaycap/pkg/logx"
)

type State int

const (
	StateNew State = iota
	StateOpened
	StateRecording
	StatePaused
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpened:
		return "opened"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Options struct {
	PlaySelector string
	PlayTimeout  time.Duration
	Logger       logx.Logger
}

// Session records one replay. Its methods are safe to call from different
// goroutines but run one at a time. State, Tab and Movie never wait on a
// running step.
type Session struct {
	id      string
	url     string
	browser Browser
	lock    Locker
	opts    Options
	log     logx.Logger

	// op serializes steps; mu guards the fields readable from outside.
	op    sync.Mutex
	page  Page
	agent Agent

	mu    sync.Mutex
	state State
	tab   int
	movie string
}

func NewSession(url string, browser Browser, lock Locker, opts Options) *Session {
	if strings.TrimSpace(opts.PlaySelector) == "" {
		opts.PlaySelector = DefaultPlaySelector
	}
	if opts.PlayTimeout <= 0 {
		opts.PlayTimeout = DefaultPlayTimeout
	}
	id := uuid.NewString()
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		id:      id,
		url:     url,
		browser: browser,
		lock:    lock,
		opts:    opts,
		log:     log.With(logx.String("session", id)),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) URL() string { return s.url }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tab is the agent's tab id, valid once Start succeeded.
func (s *Session) Tab() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

// Movie is the artifact path returned by the last successful Save.
func (s *Session) Movie() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movie
}

// Open creates the tab, loads the replay, presses play and binds the agent.
func (s *Session) Open(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	switch s.state {
	case StateNew:
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("recorder: open in state %s", s.state)
	}

	page, err := s.newPage(ctx)
	if err != nil {
		return err
	}
	s.page = page

	// Let tabs queued ahead of us finish focusing before the load starts.
	if err := s.lock.WaitTurn(ctx); err != nil {
		return err
	}
	if err := page.Navigate(ctx, s.url); err != nil {
		return fmt.Errorf("recorder: navigate %s: %w", s.url, err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.opts.PlayTimeout)
	err = page.WaitVisible(wctx, s.opts.PlaySelector)
	cancel()
	if err != nil {
		return &NavigationError{URL: s.url, Selector: s.opts.PlaySelector, Err: err}
	}
	if err := page.Click(ctx, s.opts.PlaySelector); err != nil {
		return fmt.Errorf("recorder: click play: %w", err)
	}

	agent, err := s.browser.Agent(ctx)
	if err != nil {
		return &AgentError{Op: "attach", Err: err}
	}
	s.agent = agent
	s.setState(StateOpened)
	s.log.Debug("session opened", logx.String("url", s.url))
	return nil
}

func (s *Session) newPage(ctx context.Context) (Page, error) {
	if err := s.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Release()
	page, err := s.browser.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("recorder: new page: %w", err)
	}
	return page, nil
}

// Start focuses the tab and begins capture. The tab must stay focused
// until the agent has resolved which tab is active, so the whole step
// holds the browser lock.
func (s *Session) Start(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	switch s.state {
	case StateOpened:
	case StateNew:
		return ErrNotOpened
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("recorder: start in state %s", s.state)
	}

	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Release()

	if err := s.page.BringToFront(ctx); err != nil {
		return fmt.Errorf("recorder: bring to front: %w", err)
	}
	tab, err := s.agent.ActiveTab(ctx)
	if err != nil {
		return &AgentError{Op: "getActiveTab", Err: err}
	}
	if err := s.agent.Start(ctx); err != nil {
		return &AgentError{Op: "start", Tab: tab, Err: err}
	}
	s.mu.Lock()
	s.tab = tab
	s.state = StateRecording
	s.mu.Unlock()
	s.log.Info("recording started", logx.Int("tab", tab))
	return nil
}

func (s *Session) Pause(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.requireRecording(StateRecording); err != nil {
		return err
	}
	if err := s.agent.Pause(ctx, s.tab); err != nil {
		return &AgentError{Op: "pause", Tab: s.tab, Err: err}
	}
	s.setState(StatePaused)
	return nil
}

func (s *Session) Resume(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.requireRecording(StatePaused); err != nil {
		return err
	}
	if err := s.agent.Resume(ctx, s.tab); err != nil {
		return &AgentError{Op: "resume", Tab: s.tab, Err: err}
	}
	s.setState(StateRecording)
	return nil
}

// Stop finalizes capture in the agent.
func (s *Session) Stop(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.requireRecording(StateRecording, StatePaused); err != nil {
		return err
	}
	if err := s.agent.Stop(ctx, s.tab); err != nil {
		return &AgentError{Op: "stop", Tab: s.tab, Err: err}
	}
	s.setState(StateStopped)
	s.log.Info("recording stopped", logx.Int("tab", s.tab))
	return nil
}

// Save exports the stopped recording and returns its path.
func (s *Session) Save(ctx context.Context) (string, error) {
	s.op.Lock()
	defer s.op.Unlock()
	switch s.state {
	case StateStopped:
	case StateClosed:
		return "", ErrClosed
	case StateNew, StateOpened:
		return "", ErrNotStarted
	default:
		return "", ErrNotStopped
	}
	path, err := s.agent.Save(ctx, s.tab)
	if err == nil && strings.TrimSpace(path) == "" {
		err = fmt.Errorf("empty artifact path")
	}
	if err != nil {
		return "", &AgentError{Op: "save", Tab: s.tab, Err: err}
	}
	s.mu.Lock()
	s.movie = path
	s.mu.Unlock()
	s.log.Info("recording saved", logx.String("movie", path))
	return path, nil
}

// Close releases the tab. It is safe to call more than once and in any
// state.
func (s *Session) Close() error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.setState(StateClosed)
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	return err
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) requireRecording(allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	switch s.state {
	case StateNew, StateOpened:
		return ErrNotStarted
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("recorder: invalid in state %s", s.state)
	}
}
