package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigSetAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, "--config", path, "config", "set", "ollama.url", "http://gpu-box:11434"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(data), "gpu-box") {
		t.Errorf("saved config missing value:\n%s", data)
	}

	out, err := execute(t, "--config", path, "config", "show", "ollama.url")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.TrimSpace(out) != "http://gpu-box:11434" {
		t.Errorf("show = %q", out)
	}

	if _, err := execute(t, "--config", path, "config", "show", "no.such.key"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestConfigUseUnknownProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "--config", path, "config", "use", "missing"); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestParseSeed(t *testing.T) {
	got, err := parseSeed([]string{"topic=go", "depth=2"})
	if err != nil {
		t.Fatal(err)
	}
	if got["topic"] != "go" || got["depth"] != "2" {
		t.Errorf("seed = %v", got)
	}
	if v, err := parseSeed(nil); err != nil || v != nil {
		t.Errorf("empty seed = %v, %v", v, err)
	}
	if _, err := parseSeed([]string{"novalue"}); err == nil {
		t.Error("expected error for missing '='")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("loud", "", false, false); err == nil {
		t.Error("expected error for bad level")
	}
	logFile := filepath.Join(t.TempDir(), "nora.log")
	logger, err := newLogger("debug", logFile, false, false)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hello from test")
	_ = logger.Sync()
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file = %q", data)
	}
}
