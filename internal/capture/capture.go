// Package capture holds the capture job model shared by the store, the
// scheduler and the HTTP API.
package capture

import "time"

// Capture is one recording job.
type Capture struct {
	ID               int64      `json:"id"`
	OriginalLink     string     `json:"original_link"`
	Duration         int        `json:"duration"`
	CreateAt         time.Time  `json:"create_at"`
	RecordingStartAt *time.Time `json:"recording_start_at,omitempty"`
	RecordingEndAt   *time.Time `json:"recording_end_at,omitempty"`
	Tab              *int       `json:"tab,omitempty"`
	Movie            string     `json:"movie,omitempty"`
	Status           Status     `json:"status"`
	Error            string     `json:"error,omitempty"`
}

// Length is the configured recording duration.
func (c *Capture) Length() time.Duration { return time.Duration(c.Duration) * time.Second }

// StopAt is the instant the recording should end. ok is false until the
// recording has started.
func (c *Capture) StopAt() (t time.Time, ok bool) {
	if c.RecordingStartAt == nil {
		return time.Time{}, false
	}
	return c.RecordingStartAt.Add(c.Length()), true
}

// Fields is a partial update. Only non-nil members are written.
type Fields struct {
	Status           *Status
	RecordingStartAt *time.Time
	RecordingEndAt   *time.Time
	Tab              *int
	Movie            *string
	Error            *string
}

func (f Fields) Empty() bool {
	return f.Status == nil && f.RecordingStartAt == nil && f.RecordingEndAt == nil &&
		f.Tab == nil && f.Movie == nil && f.Error == nil
}

// Apply copies the set fields onto c.
func (f Fields) Apply(c *Capture) {
	if f.Status != nil {
		c.Status = *f.Status
	}
	if f.RecordingStartAt != nil {
		t := *f.RecordingStartAt
		c.RecordingStartAt = &t
	}
	if f.RecordingEndAt != nil {
		t := *f.RecordingEndAt
		c.RecordingEndAt = &t
	}
	if f.Tab != nil {
		v := *f.Tab
		c.Tab = &v
	}
	if f.Movie != nil {
		c.Movie = *f.Movie
	}
	if f.Error != nil {
		c.Error = *f.Error
	}
}

// Ptr is a small helper for building Fields literals.
func Ptr[T any](v T) *T { return &v }
