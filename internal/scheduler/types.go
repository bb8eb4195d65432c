package scheduler

import (
	"context"
	"time"

	"replaycap/internal/assets"
	"replaycap/internal/capture"
	"replaycap/internal/eventbus"
	"replaycap/internal/recorder"
	"replaycap/pkg/logx"
)

const (
	DefaultCapacity     = 10
	DefaultPollInterval = time.Second
)

type Config struct {
	// Capacity is the maximum number of concurrently active recordings.
	Capacity     int
	PollInterval time.Duration
	// AssetRoot is where replay assets are mirrored before recording.
	AssetRoot string
	Session   recorder.Options
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.AssetRoot == "" {
		c.AssetRoot = "storage"
	}
	return c
}

// Store is the slice of the capture repository the scheduler needs.
type Store interface {
	ListByStatus(ctx context.Context, status capture.Status, limit int) ([]*capture.Capture, error)
	Update(ctx context.Context, id int64, f capture.Fields) error
}

// Fetcher prepares a replay's assets on disk.
type Fetcher interface {
	Fetch(ctx context.Context, baseURL, targetDir string) assets.Result
}

// Runner hosts job goroutines. *supervisor.Supervisor satisfies it.
type Runner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type Deps struct {
	Store   Store
	Browser recorder.Browser
	Lock    recorder.Locker
	Assets  Fetcher
	Runner  Runner
	Bus     eventbus.Bus
	Log     logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// ActiveInfo describes one registry entry.
type ActiveInfo struct {
	CaptureID int64      `json:"capture_id"`
	SessionID string     `json:"session_id,omitempty"`
	State     string     `json:"state"`
	Tab       int        `json:"tab,omitempty"`
	Admitted  time.Time  `json:"admitted"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StopAt    *time.Time `json:"stop_at,omitempty"`
}

type Snapshot struct {
	Running      bool          `json:"running"`
	Capacity     int           `json:"capacity"`
	Active       int           `json:"active"`
	PollInterval time.Duration `json:"poll_interval"`
	LastTick     time.Time     `json:"last_tick"`
	LastTickErr  string        `json:"last_tick_err,omitempty"`
	Admitted     uint64        `json:"admitted"`
	Stopped      uint64        `json:"stopped"`
	Failed       uint64        `json:"failed"`
}
