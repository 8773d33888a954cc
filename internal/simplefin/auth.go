package simplefin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// AuthState is the saved SimpleFIN access grant. Claim tokens are
// single-use, so the access URL they yield must be persisted.
type AuthState struct {
	ClaimedAt  time.Time `json:"claimed_at"`
	AccessURL  string    `json:"access_url"`
	ClaimToken string    `json:"claim_token_hint"`
}

// LoadOrClaimAuth returns the saved access grant if one exists, otherwise
// claims the given token and persists the result.
func LoadOrClaimAuth(token string) (*AuthState, error) {
	stateFile, err := stateFilePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve auth state path: %w", err)
	}

	if auth, err := loadAuthState(stateFile); err == nil && auth.AccessURL != "" {
		slog.Debug("using saved SimpleFIN access URL",
			"claimed_at", auth.ClaimedAt.Format("2006-01-02"))
		return auth, nil
	}

	accessURL, err := claimToken(token)
	if err != nil {
		return nil, fmt.Errorf("failed to claim token: %w", err)
	}

	auth := &AuthState{
		AccessURL:  accessURL,
		ClaimedAt:  time.Now(),
		ClaimToken: tokenHint(token),
	}
	if err := saveAuthState(stateFile, auth); err != nil {
		return nil, fmt.Errorf("failed to save auth state: %w", err)
	}

	slog.Info("claimed SimpleFIN access URL", "state_file", stateFile)
	return auth, nil
}

func stateFilePath() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, ".local", "share")
	}

	dir := filepath.Join(dataDir, "tally")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "simplefin_auth.json"), nil
}

func loadAuthState(path string) (*AuthState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var auth AuthState
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func saveAuthState(path string, auth *AuthState) error {
	data, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// tokenHint keeps just enough of the token to tell grants apart in the
// state file without storing the secret itself.
func tokenHint(token string) string {
	if len(token) > 16 {
		return token[:8] + "..." + token[len(token)-8:]
	}
	return "short_token"
}
