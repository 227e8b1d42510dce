package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStatusFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.status.json")
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sf := &StatusFile{
		PID:             123,
		StartedAt:       started,
		ConnectionState: StateError,
		ActiveSessions:  2,
		ErrorMessage:    "no credentials",
	}
	if err := WriteStatusFile(path, sf); err != nil {
		t.Fatalf("WriteStatusFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("status file mode = %o, want 600", perm)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}

	got, err := ReadStatusFile(path)
	if err != nil {
		t.Fatalf("ReadStatusFile: %v", err)
	}
	st := got.State(started.Add(90 * time.Second))
	if !st.Running || st.PID != 123 || st.ConnectionState != StateError || st.ActiveSessions != 2 {
		t.Errorf("State() = %+v", st)
	}
	if st.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", st.UptimeSeconds)
	}
	if st.ErrorMessage != "no credentials" {
		t.Errorf("ErrorMessage = %q", st.ErrorMessage)
	}
}

func TestReadStatusFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.status.json")
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStatusFile(path); err == nil {
		t.Error("ReadStatusFile should fail on malformed json")
	}
}
