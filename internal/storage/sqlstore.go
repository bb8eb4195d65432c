package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"replaycap/internal/capture"
	"replaycap/pkg/logx"
)

// sqlStore implements Store over database/sql. The two SQL drivers differ
// only in placeholder syntax and migrations.
type sqlStore struct {
	db     *sql.DB
	log    logx.Logger
	driver string
	// dollar switches "?" placeholders to "$n" (postgres).
	dollar bool
}

const captureColumns = `id, original_link, duration, create_at, recording_start_at, recording_end_at, tab, movie, status, err`

func (s *sqlStore) bind(q string) string {
	if !s.dollar {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Create(ctx context.Context, c *capture.Capture) error {
	if c.CreateAt.IsZero() {
		c.CreateAt = time.Now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.bind(
		`INSERT INTO captures(original_link, duration, create_at, recording_start_at, recording_end_at, tab, movie, status, err)
		 VALUES(?,?,?,?,?,?,?,?,?) RETURNING id`),
		c.OriginalLink, c.Duration, c.CreateAt.Unix(),
		unixOrNil(c.RecordingStartAt), unixOrNil(c.RecordingEndAt), intOrNil(c.Tab),
		nullStr(c.Movie), int(c.Status), nullStr(c.Error),
	).Scan(&id)
	if err != nil {
		return wrap("create", err)
	}
	c.ID = id
	return nil
}

func (s *sqlStore) Get(ctx context.Context, id int64) (*capture.Capture, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`SELECT `+captureColumns+` FROM captures WHERE id = ?`), id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, wrap("get", err)
}

func (s *sqlStore) ListByStatus(ctx context.Context, status capture.Status, limit int) ([]*capture.Capture, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT `+captureColumns+` FROM captures WHERE status = ? ORDER BY id ASC LIMIT ?`),
		int(status), limit)
	if err != nil {
		return nil, wrap("list by status", err)
	}
	return collect(rows, "list by status")
}

func (s *sqlStore) List(ctx context.Context, limit int) ([]*capture.Capture, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.bind(
		`SELECT `+captureColumns+` FROM captures ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, wrap("list", err)
	}
	return collect(rows, "list")
}

func (s *sqlStore) Update(ctx context.Context, id int64, f capture.Fields) error {
	if f.Empty() {
		return nil
	}
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if f.Status != nil {
		add("status", int(*f.Status))
	}
	if f.RecordingStartAt != nil {
		add("recording_start_at", f.RecordingStartAt.Unix())
	}
	if f.RecordingEndAt != nil {
		add("recording_end_at", f.RecordingEndAt.Unix())
	}
	if f.Tab != nil {
		add("tab", *f.Tab)
	}
	if f.Movie != nil {
		add("movie", nullStr(*f.Movie))
	}
	if f.Error != nil {
		add("err", nullStr(*f.Error))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE captures SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return wrap("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(r rowScanner) (*capture.Capture, error) {
	var (
		c          capture.Capture
		createAt   int64
		start, end sql.NullInt64
		tab        sql.NullInt64
		movie, msg sql.NullString
		status     int
	)
	if err := r.Scan(&c.ID, &c.OriginalLink, &c.Duration, &createAt, &start, &end, &tab, &movie, &status, &msg); err != nil {
		return nil, err
	}
	c.CreateAt = time.Unix(createAt, 0)
	if start.Valid {
		t := time.Unix(start.Int64, 0)
		c.RecordingStartAt = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		c.RecordingEndAt = &t
	}
	if tab.Valid {
		v := int(tab.Int64)
		c.Tab = &v
	}
	c.Movie = movie.String
	c.Error = msg.String
	c.Status = capture.Status(status)
	return &c, nil
}

func collect(rows *sql.Rows, op string) ([]*capture.Capture, error) {
	defer rows.Close()
	var out []*capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, c)
	}
	return out, wrap(op, rows.Err())
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
