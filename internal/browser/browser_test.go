package browser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtensionID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"chrome-extension://mmijlbbbhgjcbeinnnjjhflfobldddkc/_generated_background_page.html", "mmijlbbbhgjcbeinnnjjhflfobldddkc"},
		{"chrome-extension://abc", "abc"},
	}
	for _, tt := range tests {
		if got := extensionID(tt.in); got != tt.want {
			t.Fatalf("extensionID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtensionName(t *testing.T) {
	dir := t.TempDir()
	if _, err := extensionName(dir); err == nil {
		t.Fatal("expected error for missing manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"name":"Replay Recorder","manifest_version":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	name, err := extensionName(dir)
	if err != nil || name != "Replay Recorder" {
		t.Fatalf("extensionName = %q, %v", name, err)
	}
}

func TestFilteredEnv(t *testing.T) {
	env := []string{"PATH=/bin", "REPLAYCAP_DB_DSN=postgres://secret", "HOME=/root", "DISPLAY=:99"}
	got := filteredEnv(env, []string{"REPLAYCAP_"})
	if strings.Join(got, ",") != "PATH=/bin,HOME=/root,DISPLAY=:99" {
		t.Fatalf("filteredEnv = %v", got)
	}
}
