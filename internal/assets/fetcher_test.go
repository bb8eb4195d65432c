package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"replaycap/pkg/logx"
)

const testManifest = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink">
  <image id="image1" xlink:href="presentation/d1/slide-1.png"/>
  <image id="image2" xlink:href="presentation/d1/slide-2.png"/>
  <image id="image3" xlink:href="presentation/d1/slide-3.png"/>
  <image id="image4" xlink:href="presentation/d1/slide-4.png"/>
  <image id="image5" xlink:href="presentation/d1/slide-5.png"/>
  <image id="dup" xlink:href="presentation/d1/slide-1.png"/>
  <g><image xlink:href="presentation/nested.png"/></g>
</svg>`

type replayServer struct {
	*httptest.Server
	requests atomic.Int32
}

// newReplayServer serves a replay under /presentation/m1. Paths listed in
// broken answer 500; paths in truncated send half a body and hang up.
func newReplayServer(t *testing.T, broken, truncated map[string]bool) *replayServer {
	t.Helper()
	rs := &replayServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.requests.Add(1)
		rel := strings.TrimPrefix(r.URL.Path, "/presentation/m1/")
		switch {
		case broken[rel]:
			http.Error(w, "boom", http.StatusInternalServerError)
		case truncated[rel]:
			w.Header().Set("Content-Length", "1000")
			_, _ = w.Write([]byte("partial"))
		case rel == "shapes.svg":
			_, _ = w.Write([]byte(testManifest))
		default:
			_, _ = fmt.Fprintf(w, "content of %s", rel)
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func testConfig() Config {
	return Config{
		Files:       []File{{Path: "metadata.xml", Enabled: true}, {Path: "shapes.svg", Enabled: true}, {Path: "cursor.xml"}},
		Concurrency: 3,
	}
}

func TestFetchDownloadsFixedAndManifestFiles(t *testing.T) {
	srv := newReplayServer(t, nil, nil)
	dir := t.TempDir()
	f := New(testConfig(), srv.Client(), logx.Nop())

	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if res.Failed != 0 || res.Fetched != 7 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	b, err := os.ReadFile(filepath.Join(dir, "presentation", "d1", "slide-3.png"))
	if err != nil {
		t.Fatalf("slide missing: %v", err)
	}
	if string(b) != "content of presentation/d1/slide-3.png" {
		t.Fatalf("slide content = %q", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "cursor.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("disabled file should not be fetched")
	}
	if _, err := os.Stat(filepath.Join(dir, "presentation", "nested.png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("nested images are not part of the manifest")
	}
}

func TestFetchIsIdempotent(t *testing.T) {
	srv := newReplayServer(t, nil, nil)
	dir := t.TempDir()
	f := New(testConfig(), srv.Client(), logx.Nop())

	first := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if first.Failed != 0 {
		t.Fatalf("first fetch failed: %+v", first)
	}
	before := srv.requests.Load()

	second := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if got := srv.requests.Load() - before; got != 0 {
		t.Fatalf("second fetch issued %d requests, want 0", got)
	}
	if second.Skipped != 7 || second.Fetched != 0 {
		t.Fatalf("unexpected second result: %+v", second)
	}
}

func TestFetchRefetchesEmptyFile(t *testing.T) {
	srv := newReplayServer(t, nil, nil)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metadata.xml"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Files = []File{{Path: "metadata.xml", Enabled: true}}
	f := New(cfg, srv.Client(), logx.Nop())

	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if res.Fetched != 1 {
		t.Fatalf("empty file should be refetched: %+v", res)
	}
}

func TestFetchIsolatesFailures(t *testing.T) {
	srv := newReplayServer(t,
		map[string]bool{"presentation/d1/slide-2.png": true},
		map[string]bool{"presentation/d1/slide-4.png": true},
	)
	dir := t.TempDir()
	f := New(testConfig(), srv.Client(), logx.Nop())

	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if res.Failed != 2 || res.Fetched != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, name := range []string{"slide-2.png", "slide-4.png"} {
		if _, err := os.Stat(filepath.Join(dir, "presentation", "d1", name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s: failed download left a file behind", name)
		}
	}
	for _, name := range []string{"slide-1.png", "slide-3.png", "slide-5.png"} {
		if _, err := os.Stat(filepath.Join(dir, "presentation", "d1", name)); err != nil {
			t.Fatalf("%s missing: %v", name, err)
		}
	}
	var fe *FetchError
	if len(res.Errors) != 2 || !errors.As(res.Errors[0], &fe) {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestFetchWithoutManifest(t *testing.T) {
	srv := newReplayServer(t, map[string]bool{"shapes.svg": true}, nil)
	dir := t.TempDir()
	f := New(testConfig(), srv.Client(), logx.Nop())

	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if res.Fetched != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFetchBoundsConcurrentDownloads(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/presentation/m1/")
		if rel == "shapes.svg" {
			_, _ = w.Write([]byte(testManifest))
			return
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		_, _ = fmt.Fprintf(w, "content of %s", rel)
	}))
	defer srv.Close()

	cfg := Config{Files: []File{{Path: "shapes.svg", Enabled: true}}, Concurrency: 2}
	f := New(cfg, srv.Client(), logx.Nop())
	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", t.TempDir())
	if res.Failed != 0 || res.Fetched != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("peak concurrent downloads = %d, want <= 2", got)
	}
	if got := peak.Load(); got < 1 {
		t.Fatalf("no slide downloads observed")
	}
}

func TestFetchContinuesPastFailedFixedFile(t *testing.T) {
	srv := newReplayServer(t, map[string]bool{"metadata.xml": true}, nil)
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Files = []File{
		{Path: "metadata.xml", Enabled: true},
		{Path: "panzooms.xml", Enabled: true},
		{Path: "shapes.svg", Enabled: true},
	}
	f := New(cfg, srv.Client(), logx.Nop())

	res := f.Fetch(context.Background(), srv.URL+"/presentation/m1", dir)
	if res.Failed != 1 || res.Fetched != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("failed fixed file left behind")
	}
	for _, rel := range []string{"panzooms.xml", "shapes.svg", filepath.Join("presentation", "d1", "slide-5.png")} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Fatalf("%s missing: %v", rel, err)
		}
	}
}

func TestParseManifest(t *testing.T) {
	refs, err := parseManifest(strings.NewReader(`<svg xmlns:xlink="http://www.w3.org/1999/xlink">
		<image xlink:href="a.png"/><image href="b.png"/><image xlink:href="https://cdn/x.png"/>
		<image xlink:href="data:image/png;base64,AAAA"/></svg>`))
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if len(refs) != 2 || refs[0] != "a.png" || refs[1] != "b.png" {
		t.Fatalf("refs = %v", refs)
	}
	if _, err := parseManifest(strings.NewReader(`<html/>`)); err == nil {
		t.Fatal("expected error for non-svg root")
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	b := &batch{dir: "/srv/assets"}
	for _, rel := range []string{"../etc/passwd", "a/../../b", "/"} {
		if _, err := b.resolve(rel); !errors.Is(err, errEscapesDir) {
			t.Fatalf("resolve(%q) err = %v", rel, err)
		}
	}
	got, err := b.resolve("presentation/x/slide..1.png")
	if err != nil || got != filepath.Join("/srv/assets", "presentation", "x", "slide..1.png") {
		t.Fatalf("resolve = %q, %v", got, err)
	}
}
