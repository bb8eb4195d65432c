package capture

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestParseMeeting(t *testing.T) {
	m, err := ParseMeeting("https://bbb.example.org/playback/presentation/2.3/?meetingId=abc-123")
	if err != nil {
		t.Fatalf("ParseMeeting: %v", err)
	}
	if m.Host != "bbb.example.org" || m.MeetingID != "abc-123" {
		t.Fatalf("unexpected meeting: %+v", m)
	}
	if got, want := m.PresentationURL(), "https://bbb.example.org/presentation/abc-123"; got != want {
		t.Fatalf("PresentationURL = %q, want %q", got, want)
	}
	if got, want := m.AssetDir("storage"), filepath.Join("storage", "bbb.example.org", "presentation", "abc-123"); got != want {
		t.Fatalf("AssetDir = %q, want %q", got, want)
	}
}

func TestParseMeetingKeepsPort(t *testing.T) {
	tests := []struct {
		link    string
		host    string
		origin  string
		hostDir string
	}{
		{"https://bbb.example.org:8443/playback/?meetingId=m1", "bbb.example.org:8443", "https://bbb.example.org:8443", "bbb.example.org_8443"},
		{"http://[::1]:8080/playback/?meetingId=m1", "[::1]:8080", "http://[::1]:8080", "__1_8080"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			m, err := ParseMeeting(tt.link)
			if err != nil {
				t.Fatalf("ParseMeeting: %v", err)
			}
			if m.Host != tt.host || m.Origin != tt.origin {
				t.Fatalf("unexpected meeting: %+v", m)
			}
			if got, want := m.AssetDir("storage"), filepath.Join("storage", tt.hostDir, "presentation", "m1"); got != want {
				t.Fatalf("AssetDir = %q, want %q", got, want)
			}
		})
	}
}

func TestParseMeetingRejects(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{"no meeting id", "https://bbb.example.org/playback/presentation/2.3/"},
		{"bad scheme", "ftp://bbb.example.org/?meetingId=x"},
		{"traversal", "https://bbb.example.org/?meetingId=.."},
		{"slash", "https://bbb.example.org/?meetingId=a/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMeeting(tt.link); err == nil {
				t.Fatalf("expected error for %q", tt.link)
			}
		})
	}
	if _, err := ParseMeeting("https://h/?x=1"); !errors.Is(err, ErrNoMeetingID) {
		t.Fatalf("expected ErrNoMeetingID, got %v", err)
	}
}

func TestStatusText(t *testing.T) {
	for s := StatusPending; s <= StatusFailed; s++ {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", s, err)
		}
		var back Status
		if err := back.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", b, err)
		}
		if back != s {
			t.Fatalf("got %v, want %v", back, s)
		}
	}
	if StatusPrepared != 2 || StatusDone != 6 {
		t.Fatal("persisted status ordinals changed")
	}
	if _, err := ParseStatus("nope"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestFieldsApply(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := &Capture{ID: 1, Duration: 90, Status: StatusPrepared}
	Fields{Status: Ptr(StatusRecording), RecordingStartAt: &start, Tab: Ptr(7)}.Apply(c)

	if c.Status != StatusRecording || *c.Tab != 7 {
		t.Fatalf("unexpected capture: %+v", c)
	}
	at, ok := c.StopAt()
	if !ok || !at.Equal(start.Add(90*time.Second)) {
		t.Fatalf("StopAt = %v, %v", at, ok)
	}
	if !(Fields{}).Empty() {
		t.Fatal("zero Fields should be empty")
	}
}
