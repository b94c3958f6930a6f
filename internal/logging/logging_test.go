package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerJSONLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: Warn, Format: "json", Output: &buf})

	log.Debugf("dropped %d", 1)
	log.Infof("dropped %d", 2)
	log.Warnf("kept %d", 3)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "kept 3" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	for s, exp := range map[string]Level{"debug": Debug, "WARN": Warn, "error": Error, "bogus": Info} {
		if act := ParseLevel(s); act != exp {
			t.Errorf("%s: expected %v, got %v", s, exp, act)
		}
	}
}
