package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Credential errors.
var (
	// ErrNoCredentials is returned when the credentials file does not exist.
	ErrNoCredentials = errors.New("relay: no credentials found")

	// ErrInvalidCredentials is returned when the credentials file cannot be used.
	ErrInvalidCredentials = errors.New("relay: invalid credentials")
)

// Credentials are written by the login flow and only read here.
type Credentials struct {
	RelayURL  string `json:"relayUrl"`
	Token     string `json:"token"`
	MachineID string `json:"machineId,omitempty"`
}

// LoadCredentials reads credentials from path. fallbackURL is used when the
// file does not name a relay.
func LoadCredentials(path, fallbackURL string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w (%s)", ErrNoCredentials, path)
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if creds.RelayURL == "" {
		creds.RelayURL = fallbackURL
	}
	if creds.Token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrInvalidCredentials)
	}
	if creds.RelayURL == "" {
		return nil, fmt.Errorf("%w: relay url is empty", ErrInvalidCredentials)
	}
	if creds.MachineID == "" {
		creds.MachineID = defaultMachineID()
	}
	return &creds, nil
}

// defaultMachineID identifies this machine when the login flow did not assign an id.
func defaultMachineID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}
