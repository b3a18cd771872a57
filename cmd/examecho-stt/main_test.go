package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/errs"
)

// writeConfig points the pipeline at a shell script that stands in for
// ffmpeg and always produces half a second of 16 kHz audio.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	if err := audio.WriteWAVFile(fixture, make([]float32, 8000), 16000); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	script := filepath.Join(dir, "fake-ffmpeg")
	body := fmt.Sprintf("#!/bin/sh\nfor last; do :; done\ncp %q \"$last\"\n", fixture)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	cfg := fmt.Sprintf(`audio:
  ffmpeg_command: %s
  vad_enabled: false
stt:
  default_backend: mock
job_store:
  path: %s
  retention_mode: persistent
`, script, filepath.Join(dir, "jobs.db"))
	path := filepath.Join(dir, "examecho.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	input := filepath.Join(dir, "answer.mp3")
	if err := os.WriteFile(input, []byte("not really mp3"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path, input
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "absent.env")))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestTranscribeCommandPrintsTranscript(t *testing.T) {
	cfgPath, input := writeConfig(t)

	out, _, err := run(t, "transcribe", input, "--config", cfgPath, "--lang", "de")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if strings.TrimSpace(out) != "[mock transcript lang=de seconds=0.50]" {
		t.Fatalf("unexpected output %q", out)
	}

	out, _, err = run(t, "jobs", "--config", cfgPath)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "cli") || !strings.Contains(out, "answer.mp3") || !strings.Contains(out, "done") {
		t.Fatalf("expected the cli job in history, got %q", out)
	}
}

func TestTranscribeCommandErrors(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, _, err := run(t, "transcribe", filepath.Join(t.TempDir(), "missing.wav"), "--config", cfgPath)
	if !errs.IsCode(err, errs.CodeFileNotFound) || exitCode(err) != 2 {
		t.Fatalf("expected FileNotFound with exit 2, got %v", err)
	}

	_, input := writeConfig(t)
	_, _, err = run(t, "transcribe", input, "--config", cfgPath, "--backend", "whisper-xl")
	if !errs.IsCode(err, errs.CodeUnsupportedBackend) || exitCode(err) != 4 {
		t.Fatalf("expected UnsupportedBackend with exit 4, got %v", err)
	}

	if _, _, err := run(t, "transcribe"); err == nil {
		t.Fatalf("expected an argument error")
	}
}

func TestBackendsAndVersionCommands(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, _, err := run(t, "backends", "--config", cfgPath, "--warm", "mock")
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two backends, got %q", out)
	}
	mock := strings.Fields(lines[2])
	if len(mock) != 4 || mock[0] != "mock" || mock[1] != "*" || mock[2] != "true" || mock[3] != "cpu" {
		t.Fatalf("unexpected mock row %q", lines[2])
	}

	out, _, err = run(t, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output %q %v", out, err)
	}
}
