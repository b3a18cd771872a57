package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	// PrometheusBind adds a metrics-only listener next to /metrics on the
	// main HTTP server. Empty disables it.
	PrometheusBind string `yaml:"prometheus_bind"`
}

// SlogLevel maps log_level onto slog. Unknown values mean info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(t.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

type HTTPConfig struct {
	Bind          string `yaml:"bind"`
	Port          int    `yaml:"port"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	UploadTempDir string `yaml:"upload_temp_dir"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	JobStore    JobStoreConfig  `yaml:"job_store"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type JobStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig drives the transcode, trim and chunk stages.
type AudioConfig struct {
	FFmpegCommand    string  `yaml:"ffmpeg_command"`
	WorkDir          string  `yaml:"work_dir"`
	TargetSampleRate int     `yaml:"target_sample_rate"`
	TargetChannels   int     `yaml:"target_channels"`
	VADEnabled       bool    `yaml:"vad_enabled"`
	VADMode          int     `yaml:"vad_mode"`
	ChunkDurationSec float64 `yaml:"chunk_duration_sec"`
}

type STTConfig struct {
	DefaultBackend string            `yaml:"default_backend"`
	Language       string            `yaml:"language"`
	TimeoutMS      int               `yaml:"timeout_ms"`
	MaxConcurrency int               `yaml:"max_concurrency"`
	Warmup         []string          `yaml:"warmup"`
	Accelerator    string            `yaml:"accelerator"` // auto, cpu, cuda
	ChunkSeparator string            `yaml:"chunk_separator"`
	Local          LocalBackendConfig  `yaml:"local"`
	Remote         RemoteBackendConfig `yaml:"remote"`
	Exec           ExecBackendConfig   `yaml:"exec"`
}

type LocalBackendConfig struct {
	ModelPath string `yaml:"model_path"`
	Threads   int    `yaml:"threads"`
}

type RemoteBackendConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

type ExecBackendConfig struct {
	Command string `yaml:"command"`
}

func Default() Config {
	return Config{
		RuntimeName: "examecho-stt",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        8080,
			MaxUploadMB: 64,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "examecho-stt-1",
			Role:              "stt",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "stt.transcribe", Tier: "balanced"},
			},
		},
		JobStore: JobStoreConfig{
			Path:          "./data/examecho-jobs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Audio: AudioConfig{
			FFmpegCommand:    "ffmpeg",
			TargetSampleRate: 16000,
			TargetChannels:   1,
			VADEnabled:       true,
			VADMode:          2,
			ChunkDurationSec: 90,
		},
		STT: STTConfig{
			DefaultBackend: "local",
			Language:       "en",
			TimeoutMS:      60000,
			MaxConcurrency: 2,
			Accelerator:    "auto",
			ChunkSeparator: " ",
			Local: LocalBackendConfig{
				ModelPath: "./models/ggml-base.bin",
				Threads:   4,
			},
			Remote: RemoteBackendConfig{
				Model: "whisper-1",
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "EXAMECHO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "EXAMECHO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "EXAMECHO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "EXAMECHO_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "EXAMECHO_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.HTTP.UploadTempDir, "EXAMECHO_HTTP_UPLOAD_TEMP_DIR")
	overrideString(&cfg.Telemetry.LogLevel, "EXAMECHO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "EXAMECHO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "EXAMECHO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "EXAMECHO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "EXAMECHO_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "EXAMECHO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "EXAMECHO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "EXAMECHO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "EXAMECHO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "EXAMECHO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "EXAMECHO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "EXAMECHO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "EXAMECHO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "EXAMECHO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "EXAMECHO_NODE_ID")
	overrideString(&cfg.Node.Role, "EXAMECHO_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "EXAMECHO_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "EXAMECHO_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.JobStore.Path, "EXAMECHO_JOB_STORE_PATH")
	overrideString(&cfg.JobStore.RetentionMode, "EXAMECHO_JOB_STORE_RETENTION_MODE")
	overrideInt(&cfg.JobStore.RetentionDays, "EXAMECHO_JOB_STORE_RETENTION_DAYS")
	overrideInt(&cfg.JobStore.MaxJobs, "EXAMECHO_JOB_STORE_MAX_JOBS")
	overrideBool(&cfg.JobStore.VacuumOnStart, "EXAMECHO_JOB_STORE_VACUUM_ON_START")
	overrideString(&cfg.Audio.FFmpegCommand, "EXAMECHO_AUDIO_FFMPEG_COMMAND")
	overrideString(&cfg.Audio.WorkDir, "EXAMECHO_AUDIO_WORK_DIR")
	overrideInt(&cfg.Audio.TargetSampleRate, "EXAMECHO_AUDIO_TARGET_SAMPLE_RATE")
	overrideInt(&cfg.Audio.TargetChannels, "EXAMECHO_AUDIO_TARGET_CHANNELS")
	overrideBool(&cfg.Audio.VADEnabled, "EXAMECHO_AUDIO_VAD_ENABLED")
	overrideInt(&cfg.Audio.VADMode, "EXAMECHO_AUDIO_VAD_MODE")
	overrideFloat(&cfg.Audio.ChunkDurationSec, "EXAMECHO_AUDIO_CHUNK_DURATION_SEC")
	overrideString(&cfg.STT.DefaultBackend, "EXAMECHO_STT_DEFAULT_BACKEND")
	overrideString(&cfg.STT.Language, "EXAMECHO_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "EXAMECHO_STT_TIMEOUT_MS")
	overrideInt(&cfg.STT.MaxConcurrency, "EXAMECHO_STT_MAX_CONCURRENCY")
	overrideStringSlice(&cfg.STT.Warmup, "EXAMECHO_STT_WARMUP")
	overrideString(&cfg.STT.Accelerator, "EXAMECHO_STT_ACCELERATOR")
	overrideString(&cfg.STT.Local.ModelPath, "EXAMECHO_STT_LOCAL_MODEL_PATH")
	overrideInt(&cfg.STT.Local.Threads, "EXAMECHO_STT_LOCAL_THREADS")
	overrideString(&cfg.STT.Remote.Endpoint, "EXAMECHO_STT_REMOTE_ENDPOINT")
	overrideString(&cfg.STT.Remote.APIKey, "EXAMECHO_STT_REMOTE_API_KEY")
	overrideString(&cfg.STT.Remote.Model, "EXAMECHO_STT_REMOTE_MODEL")
	overrideString(&cfg.STT.Exec.Command, "EXAMECHO_STT_EXEC_COMMAND")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.JobStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.JobStore.Path == "" {
			return errors.New("job_store.path must not be empty")
		}
	default:
		return errors.New("job_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.JobStore.RetentionDays < 0 {
		return errors.New("job_store.retention_days must be >= 0")
	}
	if strings.TrimSpace(cfg.Audio.FFmpegCommand) == "" {
		return errors.New("audio.ffmpeg_command must not be empty")
	}
	if cfg.Audio.TargetSampleRate <= 0 {
		return errors.New("audio.target_sample_rate must be positive")
	}
	if cfg.Audio.TargetChannels <= 0 {
		return errors.New("audio.target_channels must be positive")
	}
	if cfg.Audio.VADMode < 0 || cfg.Audio.VADMode > 3 {
		return errors.New("audio.vad_mode must be between 0 and 3")
	}
	if cfg.Audio.VADEnabled {
		switch cfg.Audio.TargetSampleRate {
		case 8000, 16000, 32000, 48000:
		default:
			return errors.New("audio.target_sample_rate must be 8000|16000|32000|48000 when vad is enabled")
		}
	}
	if cfg.STT.DefaultBackend == "" {
		return errors.New("stt.default_backend must not be empty")
	}
	if cfg.STT.TimeoutMS < 0 {
		return errors.New("stt.timeout_ms must be >= 0")
	}
	if cfg.STT.MaxConcurrency <= 0 {
		return errors.New("stt.max_concurrency must be >= 1")
	}
	switch cfg.STT.Accelerator {
	case "auto", "cpu", "cuda":
	default:
		return errors.New("stt.accelerator must be one of auto|cpu|cuda")
	}
	return nil
}
