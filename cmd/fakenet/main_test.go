package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fakenet/internal/config"
	"fakenet/internal/log"
	"fakenet/internal/status"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "fakenet dev") {
		t.Fatalf("version output = %q", out)
	}
}

func TestConfigInitAndCheck(t *testing.T) {
	log.SetOutput(io.Discard)
	path := filepath.Join(t.TempDir(), "fakenet.toml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := execute(t, "config", "init", path); err == nil {
		t.Fatalf("config init overwrote an existing file")
	}
	if _, err := execute(t, "config", "init", "--force", path); err != nil {
		t.Fatalf("config init --force: %v", err)
	}

	out, err := execute(t, "config", "check", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, ": ok") || !strings.Contains(out, "interface id random") {
		t.Fatalf("config check output = %q", out)
	}
}

func TestRunNeedsConfig(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatalf("run without a config succeeded")
	}
}

func TestStatusFileMirrorsOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.jsonl")
	var out bytes.Buffer
	sink, closeSink, err := newSink(config.StatusConfig{Format: config.FormatEvents, File: path}, &out)
	if err != nil {
		t.Fatalf("newSink: %v", err)
	}
	if err := sink.Emit(&status.Interface{Name: "tap0", MAC: "02:00:00:00:00:01"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	closeSink()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if out.Len() == 0 || string(data) != out.String() {
		t.Fatalf("status file = %q, stdout = %q", data, out.String())
	}
}
