package certgen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// State is the persisted record of the last successful generation:
// when the issued bundle expires and a hash of the config that
// produced it, so a later run can tell whether the config changed.
type State struct {
	Expire       time.Time `json:"expire"`
	ConfigSHA256 string    `json:"config_sha256"`
}

// ConfigHash hashes raw config bytes the same way State.ConfigSHA256
// is computed, so callers can populate a new State after a successful
// generation.
func ConfigHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// LoadState reads a State from path. A missing file is not an error;
// it reports a zero State and ok=false so callers can distinguish
// "never generated" from a corrupt state file.
func LoadState(path string) (state State, ok bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("certgen: read state file: %w", err)
	}
	if err := json.Unmarshal(b, &state); err != nil {
		return State{}, false, fmt.Errorf("certgen: parse state file: %w", err)
	}
	return state, true, nil
}

// SaveState writes state to path as JSON.
func SaveState(path string, state State) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("certgen: encode state file: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("certgen: write state file: %w", err)
	}
	return nil
}

// ShouldRegenerate decides whether a new bundle must be issued, given
// the previous state (if any), the raw config bytes that produced the
// candidate run, the configured overwrite policy, and whether the CA
// file is still present on disk. Regeneration triggers when there is
// no prior state, the CA file has gone missing, the config changed, or
// the overwrite policy's own condition is met.
func ShouldRegenerate(prev State, havePrev bool, rawConfig []byte, policy OverwritePolicy, caFileExists bool, now time.Time) bool {
	if !havePrev || !caFileExists {
		return true
	}
	if prev.ConfigSHA256 != ConfigHash(rawConfig) {
		return true
	}
	switch policy {
	case OverwriteAlways:
		return true
	case OverwriteExpired:
		return !now.Before(prev.Expire)
	case OverwriteNever:
		return false
	default:
		return true
	}
}
