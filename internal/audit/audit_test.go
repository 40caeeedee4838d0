package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
)

func TestLog_WritesStructuredEvent(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{Env: "prod", Level: "info", Output: &buf})
	t.Cleanup(func() { logger.Init(logger.Config{Level: "error"}) })

	Log(context.Background(), EventLogin, map[string]any{"domain": "https://pass.example.com", "mfa": false})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if entry["event"] != EventLogin || entry["domain"] != "https://pass.example.com" || entry["mfa"] != false {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["logger"] != "audit" {
		t.Fatalf("expected audit logger name, got %v", entry["logger"])
	}
	if entry["ts"] == "" {
		t.Fatalf("missing ts")
	}
}
