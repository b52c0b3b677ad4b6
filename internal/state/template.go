package state

import (
	"os"
	"path/filepath"
)

// defaultConfig seeds a state directory that survived a restore without a
// configuration file (or a genuinely cold start with nothing to pull).
const defaultConfig = `{
  "port": 18789,
  "model": {
    "primary": "default"
  },
  "channels": [],
  "heartbeat": {
    "every": "5m"
  }
}
`

// InitConfigIfMissing writes the built-in config template to the current
// config path when neither the current nor the legacy filename exists.
// It returns true when the template was written.
func InitConfigIfMissing(l Layout) (bool, error) {
	if FileExists(l.LocalConfig()) || FileExists(l.LocalLegacyConfig()) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.LocalConfig()), 0o750); err != nil {
		return false, err
	}
	if err := os.WriteFile(l.LocalConfig(), []byte(defaultConfig), 0o600); err != nil {
		return false, err
	}
	return true, nil
}
