package state

import (
	"bytes"
	"encoding/json"
	"os"
)

// Rule is one backward-compatibility cleanup applied to the gateway config.
// Rules are pure transforms over the decoded document and run in order.
type Rule struct {
	Name  string
	Apply func(doc map[string]any) bool // reports whether the doc changed
}

// LegacyRules removes or rewrites fields written by older gateway releases.
// Each rule stands alone so it can be tested and retired independently.
var LegacyRules = []Rule{
	{
		Name: "drop-relaybot-token",
		Apply: func(doc map[string]any) bool {
			return deleteKey(doc, "relaybotToken")
		},
	},
	{
		Name: "rename-relaybot-api-key",
		Apply: func(doc map[string]any) bool {
			v, ok := doc["relaybot_api_key"]
			if !ok {
				return false
			}
			if _, exists := doc["api_key"]; !exists {
				doc["api_key"] = v
			}
			delete(doc, "relaybot_api_key")
			return true
		},
	},
	{
		Name: "drop-legacy-bridge",
		Apply: func(doc map[string]any) bool {
			return deleteKey(doc, "bridge")
		},
	},
	{
		Name: "drop-legacy-channel-list",
		Apply: func(doc map[string]any) bool {
			return deleteKey(doc, "legacyChannels")
		},
	},
	{
		Name: "flatten-model-string",
		Apply: func(doc map[string]any) bool {
			// Older releases stored "model" as a bare string; the gateway
			// now expects {"primary": ...}.
			s, ok := doc["model"].(string)
			if !ok {
				return false
			}
			doc["model"] = map[string]any{"primary": s}
			return true
		},
	},
	{
		Name: "default-port",
		Apply: func(doc map[string]any) bool {
			if _, ok := doc["port"]; ok {
				return false
			}
			doc["port"] = float64(18789)
			return true
		},
	},
}

func deleteKey(doc map[string]any, key string) bool {
	if _, ok := doc[key]; !ok {
		return false
	}
	delete(doc, key)
	return true
}

// Transform applies rules to doc and reports whether anything changed.
func Transform(doc map[string]any, rules []Rule) bool {
	changed := false
	for _, r := range rules {
		if r.Apply(doc) {
			changed = true
		}
	}
	return changed
}

// NormalizeConfig loads the gateway config at path, applies LegacyRules,
// and rewrites the file only when a rule fired. A missing file is a no-op.
func NormalizeConfig(path string) (bool, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path derives from Layout
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	if !Transform(doc, LegacyRules) {
		return false, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, buf.Bytes(), 0o600)
}
