package capture

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var ErrNoMeetingID = errors.New("capture: link has no meetingId")

// hostDir keeps an explicit port in the directory name in a form every
// filesystem accepts.
var hostDir = strings.NewReplacer(":", "_", "[", "", "]", "")

// Meeting locates a replay on its origin server. Host includes the port
// when the link names one.
type Meeting struct {
	Host      string
	Origin    string
	MeetingID string
}

// ParseMeeting extracts the replay origin and meeting id from a playback
// link such as https://bbb.example.org/playback/presentation/2.3/?meetingId=abc.
func ParseMeeting(link string) (Meeting, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return Meeting{}, fmt.Errorf("capture: parse link: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Meeting{}, fmt.Errorf("capture: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Meeting{}, errors.New("capture: link has no host")
	}
	id := strings.TrimSpace(u.Query().Get("meetingId"))
	if id == "" {
		return Meeting{}, ErrNoMeetingID
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Meeting{}, fmt.Errorf("capture: invalid meetingId %q", id)
	}
	return Meeting{
		Host:      u.Host,
		Origin:    u.Scheme + "://" + u.Host,
		MeetingID: id,
	}, nil
}

// PresentationURL is the base URL the replay's assets are served from.
func (m Meeting) PresentationURL() string {
	return m.Origin + "/presentation/" + url.PathEscape(m.MeetingID)
}

// AssetDir is where the replay's assets are mirrored under root.
func (m Meeting) AssetDir(root string) string {
	return filepath.Join(root, hostDir.Replace(m.Host), "presentation", m.MeetingID)
}
