package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"replaycap/internal/capture"
	"replaycap/pkg/logx"
)

// fileStore keeps every capture in memory and persists to:
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only mutations since the snapshot)
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	snapPath string
	journal  *os.File
	byID     map[int64]*capture.Capture
	nextID   int64
	writes   int
}

type journalRecord struct {
	Op      string           `json:"op"` // "put"
	Capture *capture.Capture `json:"capture"`
}

const compactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, snapPath: prefix + ".snapshot.json", byID: map[int64]*capture.Capture{}}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap("load snapshot", err)
	}
	journalPath := prefix + ".journal.jsonl"
	if err := s.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrap("replay journal", err)
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Create(ctx context.Context, c *capture.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreateAt.IsZero() {
		c.CreateAt = time.Now()
	}
	s.nextID++
	c.ID = s.nextID
	cp := clone(c)
	s.byID[cp.ID] = cp
	return wrap("create", s.appendLocked(cp))
}

func (s *fileStore) Get(ctx context.Context, id int64) (*capture.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (s *fileStore) ListByStatus(ctx context.Context, status capture.Status, limit int) ([]*capture.Capture, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*capture.Capture, 0, limit)
	for _, c := range s.sortedLocked() {
		if c.Status == status {
			out = append(out, clone(c))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *fileStore) List(ctx context.Context, limit int) ([]*capture.Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedLocked()
	out := make([]*capture.Capture, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clone(all[i]))
	}
	return out, nil
}

func (s *fileStore) Update(ctx context.Context, id int64, f capture.Fields) error {
	if f.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	f.Apply(c)
	return wrap("update", s.appendLocked(c))
}

func (s *fileStore) sortedLocked() []*capture.Capture {
	all := make([]*capture.Capture, 0, len(s.byID))
	for _, c := range s.byID {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (s *fileStore) appendLocked(c *capture.Capture) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(journalRecord{Op: "put", Capture: c}); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.sortedLocked()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []*capture.Capture
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, c := range list {
		s.put(c)
	}
	return nil
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Capture == nil {
			// torn tail write
			continue
		}
		s.put(r.Capture)
	}
	return sc.Err()
}

func (s *fileStore) put(c *capture.Capture) {
	s.byID[c.ID] = c
	if c.ID > s.nextID {
		s.nextID = c.ID
	}
}

func clone(c *capture.Capture) *capture.Capture {
	cp := *c
	if c.RecordingStartAt != nil {
		t := *c.RecordingStartAt
		cp.RecordingStartAt = &t
	}
	if c.RecordingEndAt != nil {
		t := *c.RecordingEndAt
		cp.RecordingEndAt = &t
	}
	if c.Tab != nil {
		v := *c.Tab
		cp.Tab = &v
	}
	return &cp
}
