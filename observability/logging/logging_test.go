package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("lotteryd", "dev", Options{Output: &buf})
	defer closer.Close()

	logger.Debug("draw complete", "lottery", "nll1abc", "jwt_secret", "hunter2")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["message"] != "draw complete" {
		t.Fatalf("unexpected message %v", line["message"])
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("dev env should log debug, got %v", line["severity"])
	}
	if line["service"] != "lotteryd" || line["env"] != "dev" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if line["jwt_secret"] != RedactedValue {
		t.Fatalf("secret leaked: %v", line["jwt_secret"])
	}
	if line["lottery"] != "nll1abc" {
		t.Fatalf("plain attribute altered: %v", line["lottery"])
	}
}

func TestSetupTeesIntoRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotteryd.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("lotteryd", "", Options{Output: &buf, File: path})
	logger.Info("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"started"`) {
		t.Fatalf("file sink missing line: %q", data)
	}
	if buf.Len() == 0 {
		t.Fatalf("stdout sink missing line")
	}
}

func TestRedact(t *testing.T) {
	cases := []struct {
		attr slog.Attr
		want string
	}{
		{slog.String("Authorization", "Bearer abc"), RedactedValue},
		{slog.String("header", "Bearer abc.def"), "Bearer " + RedactedValue},
		{slog.String("randomness", "00ff"), RedactedValue},
		{slog.String("error", "token expired"), "token expired"},
		{slog.String("lottery", "nll1xyz"), "nll1xyz"},
	}
	for _, tc := range cases {
		if got := Redact(tc.attr).Value.String(); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.attr.Key, got, tc.want)
		}
	}
	for _, key := range RedactionAllowlist() {
		if IsSensitive(key) {
			t.Fatalf("allowlisted key %q treated as sensitive", key)
		}
	}
}
