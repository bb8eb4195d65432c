// Package scheduler admits prepared capture jobs into a bounded pool of
// recording sessions and stops each one after its configured duration.
//
// A poll tick lists PREPARED captures (oldest first) up to the free
// capacity. Each admitted capture is registered before any asynchronous
// work starts, so a slow preparation still occupies its slot. The job
// then mirrors the replay's assets, opens and starts a recording session,
// marks the capture RECORDING and arms a one-shot stop timer at
// recording_start_at + duration.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"replaycap/internal/capture"
	"replaycap/internal/eventbus"
	"replaycap/internal/recorder"
	"replaycap/pkg/logx"
)

type activeRecording struct {
	capture  *capture.Capture
	session  *recorder.Session
	admitted time.Time
	started  *time.Time
	stopAt   *time.Time
	timer    *time.Timer
}

type Service struct {
	deps Deps
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	mu     sync.Mutex
	cfg    Config
	active map[int64]*activeRecording
	c      *cron.Cron
	entry  cron.EntryID
	runCtx context.Context
	halted bool

	statsMu     sync.Mutex
	lastTick    time.Time
	lastTickErr string
	admitted    uint64
	stopped     uint64
	failed      uint64
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	bus := deps.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		deps:   deps,
		log:    log,
		bus:    bus,
		now:    now,
		cfg:    cfg.withDefaults(),
		active: map[int64]*activeRecording{},
	}
}

// Start runs one tick immediately, then polls every PollInterval until
// Stop. Ticks never overlap.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}
	s.runCtx = ctx
	s.halted = false
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := s.scheduleLocked(ctx); err != nil {
		s.c = nil
		s.mu.Unlock()
		return err
	}
	interval := s.cfg.PollInterval
	capacity := s.cfg.Capacity
	s.mu.Unlock()

	s.failOrphans(ctx)
	_ = s.Tick(ctx)

	s.mu.Lock()
	if s.c != nil {
		s.c.Start()
	}
	s.mu.Unlock()
	s.log.Info("scheduler started", logx.Int("capacity", capacity), logx.Duration("poll_interval", interval))
	return nil
}

func (s *Service) scheduleLocked(ctx context.Context) error {
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), func() { _ = s.Tick(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: poll schedule: %w", err)
	}
	s.entry = id
	return nil
}

// Stop halts polling and disarms pending stop timers. Active sessions are
// left as they are.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.halted = true
	for _, rec := range s.active {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	active := len(s.active)
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Int("active", active))
}

// Apply changes capacity and poll interval on a running scheduler.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c != nil && old.PollInterval != cfg.PollInterval {
		s.c.Remove(s.entry)
		if err := s.scheduleLocked(s.runCtx); err != nil {
			s.log.Warn("poll reschedule failed", logx.Err(err))
		}
	}
	if old.Capacity != cfg.Capacity || old.PollInterval != cfg.PollInterval {
		s.log.Info("scheduler reconfigured", logx.Int("capacity", cfg.Capacity), logx.Duration("poll_interval", cfg.PollInterval))
	}
}

// Tick performs one admission pass. A store failure skips the pass.
func (s *Service) Tick(ctx context.Context) error {
	s.mu.Lock()
	free := s.cfg.Capacity - len(s.active)
	// Admitted jobs stay PREPARED until recording starts, so they can
	// appear in the listing; ask for enough rows to look past them.
	limit := free + len(s.active)
	s.mu.Unlock()

	if free <= 0 {
		s.noteTick(nil)
		return nil
	}
	list, err := s.deps.Store.ListByStatus(ctx, capture.StatusPrepared, limit)
	s.noteTick(err)
	if err != nil {
		s.log.Warn("poll skipped: store query failed", logx.Err(err))
		return err
	}
	for _, c := range list {
		if !s.admit(ctx, c) && s.full() {
			break
		}
	}
	return nil
}

func (s *Service) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) >= s.cfg.Capacity
}

func (s *Service) noteTick(err error) {
	s.statsMu.Lock()
	s.lastTick = s.now()
	s.lastTickErr = ""
	if err != nil {
		s.lastTickErr = err.Error()
	}
	s.statsMu.Unlock()
}

// admit registers c and spawns its job. It reports false when c is already
// active or no slot is free.
func (s *Service) admit(ctx context.Context, c *capture.Capture) bool {
	s.mu.Lock()
	if _, ok := s.active[c.ID]; ok || len(s.active) >= s.cfg.Capacity {
		s.mu.Unlock()
		return false
	}
	rec := &activeRecording{capture: c, admitted: s.now()}
	s.active[c.ID] = rec
	s.mu.Unlock()

	s.statsMu.Lock()
	s.admitted++
	s.statsMu.Unlock()

	log := s.log.With(logx.CaptureID(c.ID))
	log.Info("capture admitted", logx.String("link", c.OriginalLink), logx.Int("duration", c.Duration))
	s.publish(eventbus.CaptureAdmitted, c.ID, capture.StatusPrepared, "", "")

	s.deps.Runner.Go(fmt.Sprintf("capture.%d", c.ID), func(ctx context.Context) error {
		return s.record(ctx, rec)
	})
	return true
}

// Active lists the registry by capture id.
func (s *Service) Active() []ActiveInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveInfo, 0, len(s.active))
	for id, rec := range s.active {
		info := ActiveInfo{CaptureID: id, Admitted: rec.admitted, State: "preparing", StartedAt: rec.started, StopAt: rec.stopAt}
		if rec.session != nil {
			info.SessionID = rec.session.ID()
			info.State = rec.session.State().String()
			info.Tab = rec.session.Tab()
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ActiveInfo) int { return cmp.Compare(a.CaptureID, b.CaptureID) })
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:      s.c != nil,
		Capacity:     s.cfg.Capacity,
		Active:       len(s.active),
		PollInterval: s.cfg.PollInterval,
	}
	s.mu.Unlock()
	s.statsMu.Lock()
	snap.LastTick = s.lastTick
	snap.LastTickErr = s.lastTickErr
	snap.Admitted = s.admitted
	snap.Stopped = s.stopped
	snap.Failed = s.failed
	s.statsMu.Unlock()
	return snap
}

func (s *Service) publish(typ string, id int64, st capture.Status, movie, errText string) {
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.CaptureData{
		CaptureID: id,
		Status:    st.String(),
		Movie:     movie,
		Error:     errText,
	}})
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
