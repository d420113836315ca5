package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_ValidateOnly(t *testing.T) {
	path := writeConfig(t, `{
		"api": {"base_url": "https://api.example.org/3", "access_token": "tok"},
		"storage": {"kind": "sqlite", "dsn": "file:ignored.db"}
	}`)

	var stderr bytes.Buffer
	if code := run([]string{"-config", path, "-validate"}, &stderr); code != exitOK {
		t.Fatalf("run(-validate)=%d, want %d; stderr=%s", code, exitOK, stderr.String())
	}
}

func TestRun_InvalidConfigExitsSetup(t *testing.T) {
	path := writeConfig(t, `{
		"api": {"base_url": "", "access_token": ""},
		"storage": {"kind": "oracle", "dsn": ""}
	}`)

	var stderr bytes.Buffer
	if code := run([]string{"-config", path, "-validate"}, &stderr); code != exitSetup {
		t.Fatalf("run()=%d, want %d", code, exitSetup)
	}
}

func TestRun_MissingConfigExitsSetup(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-config", "/nonexistent/config.json"}, &stderr); code != exitSetup {
		t.Fatalf("run()=%d, want %d", code, exitSetup)
	}
}

func TestRun_UnknownFlagExitsSetup(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"-definitely-not-a-flag"}, &stderr); code != exitSetup {
		t.Fatalf("run()=%d, want %d", code, exitSetup)
	}
}

func TestRun_UnknownMetricsBackendExitsSetup(t *testing.T) {
	path := writeConfig(t, `{
		"api": {"base_url": "https://api.example.org/3", "access_token": "tok"},
		"storage": {"kind": "sqlite", "dsn": "file:ignored.db"}
	}`)

	var stderr bytes.Buffer
	if code := run([]string{"-config", path, "-metrics-backend", "statsd"}, &stderr); code != exitSetup {
		t.Fatalf("run()=%d, want %d", code, exitSetup)
	}
}
