package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestContextHelpersAttachFields(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.WithComponent("sweeper").WithAccountID("acct-1").WithAssetID("asset-9").Info("pass finished")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "sweeper" {
		t.Errorf("component = %v, want sweeper", entry["component"])
	}
	if entry["account_id"] != "acct-1" {
		t.Errorf("account_id = %v, want acct-1", entry["account_id"])
	}
	if entry["asset_id"] != "asset-9" {
		t.Errorf("asset_id = %v, want asset-9", entry["asset_id"])
	}
}

func TestErrorIncludesStack(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.Error("boom", "cause", "test")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	stack, ok := entry["stack"].(string)
	if !ok || stack == "" {
		t.Error("error entry must carry a stack trace")
	}
}
