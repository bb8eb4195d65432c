package capture

import (
	"fmt"
	"strings"
)

// Status is a capture job's lifecycle position. Values are persisted as
// integers, so the order below is part of the storage format.
type Status int

const (
	StatusPending Status = iota
	StatusPreparing
	StatusPrepared
	StatusRecording
	StatusStopped
	StatusRecorded
	StatusDone
	StatusFailed
)

var statusNames = [...]string{
	StatusPending:   "pending",
	StatusPreparing: "preparing",
	StatusPrepared:  "prepared",
	StatusRecording: "recording",
	StatusStopped:   "stopped",
	StatusRecorded:  "recorded",
	StatusDone:      "done",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) Valid() bool { return s >= StatusPending && s <= StatusFailed }

// Terminal reports whether the scheduler will never touch the job again.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusRecorded || s == StatusDone || s == StatusFailed
}

func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for i, n := range statusNames {
		if n == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capture status %q", raw)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid capture status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
