package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.TargetSampleRate != 16000 || cfg.Audio.TargetChannels != 1 {
		t.Fatalf("expected mono 16 kHz target, got %d/%d", cfg.Audio.TargetSampleRate, cfg.Audio.TargetChannels)
	}
	if cfg.STT.TimeoutMS != 60000 {
		t.Fatalf("expected 60s default timeout, got %d", cfg.STT.TimeoutMS)
	}
	if cfg.STT.ChunkSeparator != " " {
		t.Fatalf("expected single space separator, got %q", cfg.STT.ChunkSeparator)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXAMECHO_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("EXAMECHO_BUS_USERNAME", "alice")
	t.Setenv("EXAMECHO_BUS_PASSWORD", "secret")
	t.Setenv("EXAMECHO_BUS_TLS_INSECURE", "true")
	t.Setenv("EXAMECHO_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("EXAMECHO_NODE_ID", "test-node")
	t.Setenv("EXAMECHO_NODE_HEARTBEAT_INTERVAL_MS", "1500")
	t.Setenv("EXAMECHO_NODE_HEARTBEAT_TIMEOUT_MS", "5000")
	t.Setenv("EXAMECHO_JOB_STORE_PATH", "./tmp.db")
	t.Setenv("EXAMECHO_JOB_STORE_RETENTION_DAYS", "7")
	t.Setenv("EXAMECHO_JOB_STORE_MAX_JOBS", "123")
	t.Setenv("EXAMECHO_JOB_STORE_VACUUM_ON_START", "true")
	t.Setenv("EXAMECHO_AUDIO_VAD_ENABLED", "false")
	t.Setenv("EXAMECHO_AUDIO_CHUNK_DURATION_SEC", "30.5")
	t.Setenv("EXAMECHO_STT_DEFAULT_BACKEND", "remote-pipeline")
	t.Setenv("EXAMECHO_STT_WARMUP", "local, remote-pipeline")
	t.Setenv("EXAMECHO_STT_ACCELERATOR", "cpu")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Node.ID != "test-node" || cfg.Node.HeartbeatInterval != 1500 || cfg.Node.HeartbeatTimeout != 5000 {
		t.Fatalf("expected node overrides, got %+v", cfg.Node)
	}
	if cfg.JobStore.Path != "./tmp.db" || cfg.JobStore.RetentionDays != 7 || cfg.JobStore.MaxJobs != 123 {
		t.Fatalf("expected job store overrides, got %+v", cfg.JobStore)
	}
	if !cfg.JobStore.VacuumOnStart {
		t.Fatalf("expected job store vacuum flag override")
	}
	if cfg.Audio.VADEnabled {
		t.Fatalf("expected vad disabled")
	}
	if cfg.Audio.ChunkDurationSec != 30.5 {
		t.Fatalf("expected chunk duration 30.5, got %v", cfg.Audio.ChunkDurationSec)
	}
	if cfg.STT.DefaultBackend != "remote-pipeline" {
		t.Fatalf("expected default backend override, got %q", cfg.STT.DefaultBackend)
	}
	if len(cfg.STT.Warmup) != 2 || cfg.STT.Warmup[1] != "remote-pipeline" {
		t.Fatalf("expected warmup list, got %v", cfg.STT.Warmup)
	}
	if cfg.STT.Accelerator != "cpu" {
		t.Fatalf("expected accelerator override")
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examecho.yaml")
	data := []byte("audio:\n  vad_mode: 7\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected vad_mode validation error")
	}

	data = []byte("stt:\n  default_backend: exec\n  exec:\n    command: ./bin/stt --json\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Exec.Command != "./bin/stt --json" {
		t.Fatalf("expected exec command from file, got %q", cfg.STT.Exec.Command)
	}
	if cfg.STT.Language != "en" {
		t.Fatalf("expected defaults preserved for unset keys")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLogLevel(t *testing.T) {
	if lvl := (TelemetryConfig{LogLevel: "debug"}).SlogLevel(); lvl != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", lvl)
	}
	if lvl := (TelemetryConfig{LogLevel: "WARN"}).SlogLevel(); lvl != slog.LevelWarn {
		t.Fatalf("expected warn, got %v", lvl)
	}
	t.Setenv("EXAMECHO_TELEMETRY_LOG_LEVEL", "verbose")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected log level validation error")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "examecho.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if len(cfg.STT.Warmup) != 1 || cfg.STT.Warmup[0] != "local" {
		t.Fatalf("expected local warm-up, got %v", cfg.STT.Warmup)
	}
}
