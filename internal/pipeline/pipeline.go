// Package pipeline assembles the transcode, trim and recognition stages from
// configuration. Both the daemon and the CLI build their orchestrator here.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/audio/vad"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/examecho/examecho-stt/internal/stt/remote"
	"github.com/examecho/examecho-stt/internal/stt/whispercpp"
)

type Pipeline struct {
	Preprocessor *audio.Preprocessor
	Registry     *stt.Registry
	Orchestrator *stt.Orchestrator
}

func Build(cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	transcoder, err := audio.NewFFmpegTranscoder(cfg.Audio, logger)
	if err != nil {
		return nil, err
	}
	var classifiers audio.ClassifierFactory
	if cfg.Audio.VADEnabled {
		classifiers = vad.New
	}
	pre := audio.NewPreprocessor(cfg.Audio, transcoder, classifiers, logger)

	registry := stt.NewRegistry(logger)
	if err := RegisterBackends(registry, cfg, logger); err != nil {
		return nil, err
	}
	orch, err := stt.NewOrchestrator(cfg.STT, pre, registry, logger)
	if err != nil {
		return nil, err
	}
	return &Pipeline{Preprocessor: pre, Registry: registry, Orchestrator: orch}, nil
}

// RegisterBackends adds every backend kind the configuration can serve.
// Remote and exec are only registered when they have somewhere to go, so
// asking for them otherwise fails as an unsupported backend.
func RegisterBackends(registry *stt.Registry, cfg config.Config, logger *slog.Logger) error {
	specs := map[stt.Kind]stt.Spec{
		stt.KindLocal: {
			Factory: whispercpp.Factory(cfg.STT.Local, logger),
			Probe:   stt.NewAcceleratorProbe(cfg.STT.Accelerator, logger),
		},
		stt.KindMock: {
			Factory: func(context.Context, stt.Device) (stt.Recognizer, error) {
				return stt.NewMockRecognizer(), nil
			},
		},
	}
	if cfg.STT.Remote.APIKey != "" || cfg.STT.Remote.Endpoint != "" {
		specs[stt.KindRemote] = stt.Spec{Factory: remote.Factory(cfg.STT.Remote, cfg.Audio.WorkDir)}
	}
	if strings.TrimSpace(cfg.STT.Exec.Command) != "" {
		execCfg, workDir := cfg.STT.Exec, cfg.Audio.WorkDir
		specs[stt.KindExec] = stt.Spec{
			Factory: func(context.Context, stt.Device) (stt.Recognizer, error) {
				return stt.NewExecRecognizer(execCfg, workDir)
			},
		}
	}

	for _, kind := range stt.Kinds() {
		spec, ok := specs[kind]
		if !ok {
			continue
		}
		if err := registry.Register(kind, spec); err != nil {
			return fmt.Errorf("register backends: %w", err)
		}
	}
	return nil
}

// WarmupKinds parses stt.warmup, skipping kinds that were not registered.
func WarmupKinds(cfg config.STTConfig, registry *stt.Registry, logger *slog.Logger) []stt.Kind {
	registered := make(map[stt.Kind]bool)
	for _, info := range registry.Snapshot() {
		registered[info.Kind] = true
	}
	var kinds []stt.Kind
	for _, name := range cfg.Warmup {
		kind, err := stt.ParseKind(name)
		if err != nil || !registered[kind] {
			logger.Warn("skipping warmup for unavailable backend", slog.String("backend", name))
			continue
		}
		kinds = append(kinds, kind)
	}
	return kinds
}
