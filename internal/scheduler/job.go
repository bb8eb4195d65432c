package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"replaycap/internal/capture"
	"replaycap/internal/eventbus"
	"replaycap/internal/recorder"
	"replaycap/pkg/logx"
)

const (
	storeTimeout = 10 * time.Second
	orphanBatch  = 500
)

var errInterrupted = errors.New("recording interrupted by restart")

// record prepares, opens and starts one admitted capture, then arms its
// stop timer. Any failure frees the slot and marks the capture FAILED.
func (s *Service) record(ctx context.Context, rec *activeRecording) (err error) {
	c := rec.capture
	log := s.log.With(logx.CaptureID(c.ID))
	recording := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture %d: panic: %v", c.ID, r)
			log.Error("capture job panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		if err == nil {
			return
		}
		if !recording && ctx.Err() != nil {
			// Shutdown before the capture went live: leave it PREPARED
			// for the next process.
			s.release(rec)
			log.Info("capture released on shutdown", logx.Err(err))
			err = nil
			return
		}
		s.fail(ctx, rec, err)
	}()

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	m, err := capture.ParseMeeting(c.OriginalLink)
	if err != nil {
		return err
	}
	if s.deps.Assets != nil {
		res := s.deps.Assets.Fetch(ctx, m.PresentationURL(), m.AssetDir(cfg.AssetRoot))
		log.Info("assets prepared",
			logx.Int("fetched", res.Fetched),
			logx.Int("skipped", res.Skipped),
			logx.Int("failed", res.Failed))
	}

	opts := cfg.Session
	opts.Logger = log
	sess := recorder.NewSession(c.OriginalLink, s.deps.Browser, s.deps.Lock, opts)
	s.mu.Lock()
	rec.session = sess
	s.mu.Unlock()

	if err := sess.Open(ctx); err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}

	started := s.now()
	tab := sess.Tab()
	if err := s.update(ctx, c.ID, capture.Fields{
		Status:           capture.Ptr(capture.StatusRecording),
		RecordingStartAt: &started,
		Tab:              &tab,
	}); err != nil {
		// The agent is already capturing; end it before the tab goes away.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		if serr := sess.Stop(sctx); serr != nil {
			log.Warn("stop after failed store write", logx.Err(serr))
		}
		cancel()
		return fmt.Errorf("mark recording: %w", err)
	}
	recording = true
	s.publish(eventbus.CaptureRecording, c.ID, capture.StatusRecording, "", "")

	stopAt := started.Add(c.Length())
	delay := stopDelay(stopAt, s.now())
	s.mu.Lock()
	rec.started = &started
	rec.stopAt = &stopAt
	if !s.halted {
		rec.timer = time.AfterFunc(delay, func() {
			s.deps.Runner.Go(fmt.Sprintf("capture.stop.%d", c.ID), func(ctx context.Context) error {
				return s.stop(ctx, c.ID)
			})
		})
	}
	armed := rec.timer != nil
	s.mu.Unlock()

	log.Info("capture recording", logx.Int("tab", tab), logx.Time("stop_at", stopAt), logx.Bool("armed", armed))
	return nil
}

// stop finalizes capture id. A capture that is no longer registered is
// ignored.
func (s *Service) stop(ctx context.Context, id int64) error {
	s.mu.Lock()
	rec, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	log := s.log.With(logx.CaptureID(id))
	sess := rec.session
	if sess == nil {
		return nil
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close session failed", logx.Err(err))
		}
	}()

	if err := sess.Stop(ctx); err != nil {
		s.markFailed(ctx, id, err)
		return err
	}
	movie, err := sess.Save(ctx)
	if err != nil {
		s.markFailed(ctx, id, err)
		return err
	}
	ended := s.now()
	if err := s.update(ctx, id, capture.Fields{
		Status:         capture.Ptr(capture.StatusStopped),
		RecordingEndAt: &ended,
		Movie:          &movie,
	}); err != nil {
		log.Error("mark stopped failed", logx.Err(err), logx.String("movie", movie))
		return err
	}

	s.statsMu.Lock()
	s.stopped++
	s.statsMu.Unlock()
	s.publish(eventbus.CaptureStopped, id, capture.StatusStopped, movie, "")
	log.Info("capture stopped", logx.String("movie", movie))
	return nil
}

// fail unregisters rec, releases its tab and records the failure.
func (s *Service) fail(ctx context.Context, rec *activeRecording, cause error) {
	s.release(rec)
	s.markFailed(ctx, rec.capture.ID, cause)
}

// release unregisters rec and closes its tab without touching the store.
func (s *Service) release(rec *activeRecording) {
	id := rec.capture.ID
	s.mu.Lock()
	if cur, ok := s.active[id]; ok && cur == rec {
		delete(s.active, id)
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	sess := rec.session
	s.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
}

func (s *Service) markFailed(ctx context.Context, id int64, cause error) {
	msg := cause.Error()
	log := s.log.With(logx.CaptureID(id))
	log.Error("capture failed", logx.Err(cause))
	if err := s.update(ctx, id, capture.Fields{
		Status: capture.Ptr(capture.StatusFailed),
		Error:  &msg,
	}); err != nil {
		log.Warn("mark failed failed", logx.Err(err))
	}
	s.statsMu.Lock()
	s.failed++
	s.statsMu.Unlock()
	s.publish(eventbus.CaptureFailed, id, capture.StatusFailed, "", msg)
}

// failOrphans marks captures left RECORDING by a previous process. Their
// browser tabs are gone, so they can never be stopped.
func (s *Service) failOrphans(ctx context.Context) {
	for {
		list, err := s.deps.Store.ListByStatus(ctx, capture.StatusRecording, orphanBatch)
		if err != nil {
			s.log.Warn("orphan scan failed", logx.Err(err))
			return
		}
		for _, c := range list {
			msg := errInterrupted.Error()
			if err := s.update(ctx, c.ID, capture.Fields{
				Status: capture.Ptr(capture.StatusFailed),
				Error:  &msg,
			}); err != nil {
				s.log.Warn("orphan update failed", logx.CaptureID(c.ID), logx.Err(err))
				return
			}
			s.log.Warn("orphaned recording marked failed", logx.CaptureID(c.ID))
		}
		if len(list) < orphanBatch {
			return
		}
	}
}

// update writes f even when ctx was canceled mid-job, so a shutdown still
// leaves the row consistent.
func (s *Service) update(ctx context.Context, id int64, f capture.Fields) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	return s.deps.Store.Update(wctx, id, f)
}

// stopDelay is how long to wait from now until stopAt; never negative.
func stopDelay(stopAt, now time.Time) time.Duration {
	if d := stopAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
