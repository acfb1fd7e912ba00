package bridgeclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the client-side record written at setup time: where the
// bridge lives and the shared secret minted during the handshake.
type Credentials struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// CredentialsPath returns the client config location under the bridge home.
func CredentialsPath(homeDir string) string {
	return filepath.Join(homeDir, "client.json")
}

// LoadCredentials reads the saved client record. A missing file is not an
// error; it returns empty credentials so callers can fall back to setup.
func LoadCredentials(homeDir string) (Credentials, error) {
	raw, err := os.ReadFile(CredentialsPath(homeDir))
	if os.IsNotExist(err) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read client credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse client credentials: %w", err)
	}
	return creds, nil
}

// SaveCredentials persists the client record with owner-only permissions.
func SaveCredentials(homeDir string, creds Credentials) error {
	if err := os.MkdirAll(homeDir, 0o700); err != nil {
		return fmt.Errorf("create bridge home: %w", err)
	}
	raw, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode client credentials: %w", err)
	}
	path := CredentialsPath(homeDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write client credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install client credentials: %w", err)
	}
	return nil
}
