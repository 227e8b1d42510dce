package relay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCreds(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCredentials(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fallback string
		wantErr  error
		wantURL  string
	}{
		{
			name:    "complete",
			content: `{"relayUrl":"wss://relay.example.com/ws","token":"tok","machineId":"m1"}`,
			wantURL: "wss://relay.example.com/ws",
		},
		{
			name:     "fallback url",
			content:  `{"token":"tok"}`,
			fallback: "ws://localhost:9000/ws",
			wantURL:  "ws://localhost:9000/ws",
		},
		{
			name:    "missing token",
			content: `{"relayUrl":"wss://relay.example.com/ws"}`,
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "missing url",
			content: `{"token":"tok"}`,
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "malformed",
			content: `{"token":`,
			wantErr: ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(writeCreds(t, tt.content), tt.fallback)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials: %v", err)
			}
			if creds.RelayURL != tt.wantURL {
				t.Errorf("RelayURL = %q, want %q", creds.RelayURL, tt.wantURL)
			}
			if creds.MachineID == "" {
				t.Error("MachineID should default to a non-empty value")
			}
		})
	}
}

func TestLoadCredentials_Missing(t *testing.T) {
	_, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.json"), "")
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}
