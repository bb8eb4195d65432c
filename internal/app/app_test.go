package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"replaycap/internal/capture"
	"replaycap/internal/config"
	"replaycap/internal/recorder/recordertest"
	"replaycap/internal/scheduler"
)

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		path    string
		wantErr bool
	}{
		{name: "default sqlite", in: config.StorageConfig{}, driver: "sqlite", path: "replaycap.db"},
		{name: "sqlite3 alias", in: config.StorageConfig{Driver: "sqlite3", Path: "x.db"}, driver: "sqlite", path: "x.db"},
		{name: "file", in: config.StorageConfig{Driver: "file"}, driver: "file", path: "replaycap_store"},
		{name: "postgres", in: config.StorageConfig{Driver: "postgres", DSN: "postgres://u@h/db"}, driver: "postgres"},
		{name: "postgres without dsn", in: config.StorageConfig{Driver: "postgres"}, wantErr: true},
		{name: "bad busy timeout", in: config.StorageConfig{BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Driver != tt.driver || got.Path != tt.path {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestMapSchedulerConfigDefaults(t *testing.T) {
	got := mapSchedulerConfig(&config.Config{})
	if got.AssetRoot != config.DefaultStorageRoot {
		t.Fatalf("asset root = %q", got.AssetRoot)
	}
	if got.PollInterval != scheduler.DefaultPollInterval {
		t.Fatalf("poll interval = %s", got.PollInterval)
	}

	got = mapSchedulerConfig(&config.Config{
		Scheduler: config.SchedulerConfig{Capacity: 3, PollInterval: "5s"},
		Recorder:  config.RecorderConfig{PlaySelector: ".play", PlayTimeout: "2s"},
		Assets:    config.AssetsConfig{StorageRoot: "/data"},
	})
	if got.Capacity != 3 || got.PollInterval != 5*time.Second || got.AssetRoot != "/data" {
		t.Fatalf("got %+v", got)
	}
	if got.Session.PlaySelector != ".play" || got.Session.PlayTimeout != 2*time.Second {
		t.Fatalf("session = %+v", got.Session)
	}
}

func TestMapBrowserConfigHidesOwnEnv(t *testing.T) {
	got := mapBrowserConfig(&config.Config{})
	if len(got.HiddenEnv) != 1 || got.HiddenEnv[0] != config.EnvPrefix {
		t.Fatalf("hidden env = %v", got.HiddenEnv)
	}
	got = mapBrowserConfig(&config.Config{Recorder: config.RecorderConfig{HiddenEnv: []string{"SECRET_"}}})
	if len(got.HiddenEnv) != 1 || got.HiddenEnv[0] != "SECRET_" {
		t.Fatalf("hidden env = %v", got.HiddenEnv)
	}
}

func TestMapAssetsConfigFiles(t *testing.T) {
	got := mapAssetsConfig(&config.Config{Assets: config.AssetsConfig{
		Concurrency: 2,
		Timeout:     "3s",
		Files:       []config.AssetFile{{Path: " shapes.svg ", Enabled: true}, {Path: "video/webcams.webm"}},
	}})
	if got.Concurrency != 2 || got.Timeout != 3*time.Second {
		t.Fatalf("got %+v", got)
	}
	if len(got.Files) != 2 || got.Files[0].Path != "shapes.svg" || !got.Files[0].Enabled || got.Files[1].Enabled {
		t.Fatalf("files = %+v", got.Files)
	}
}

type offline struct{}

func (offline) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAppRecordsAndReloads(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	const tmpl = `{
  "logging": {"level": "error", "console": true},
  "storage": {"driver": "file", "path": %q},
  "scheduler": {"capacity": %d, "poll_interval": "1s"},
  "recorder": {"extension_dir": "", "play_timeout": "50ms"},
  "assets": {"storage_root": %q},
  "http": {"enabled": false}
}`
	store := filepath.Join(dir, "captures")
	root := filepath.Join(dir, "storage")
	writeConfig(t, cfgPath, fmt.Sprintf(tmpl, store, 2, root))

	b := recordertest.NewBrowser()
	a, err := New(cfgPath, Options{
		Browser:    b,
		HTTPClient: &http.Client{Transport: offline{}},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	c := &capture.Capture{
		OriginalLink: "https://bbb.example.org/playback/presentation/2.3/?meetingId=m1",
		Status:       capture.StatusPrepared,
	}
	if err := a.Store().Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			_ = a.Stop(context.Background(), StopAppStop)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := a.Store().Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == capture.StatusStopped {
			if got.Movie == "" || got.RecordingStartAt == nil || got.RecordingEndAt == nil {
				t.Fatalf("stopped capture incomplete: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want stopped", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	writeConfig(t, cfgPath, fmt.Sprintf(tmpl, store, 5, root))
	if err := a.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	deadline = time.Now().Add(3 * time.Second)
	for a.Scheduler().Snapshot().Capacity != 5 {
		if time.Now().After(deadline) {
			t.Fatalf("capacity = %d after reload", a.Scheduler().Snapshot().Capacity)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopped = true
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("supervisor context still live after stop")
	}
}
