// Package audio turns arbitrary input files into mono PCM ready for a speech
// backend: transcode, decode, trim silence and split into bounded chunks.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/mattn/go-shellwords"
)

const maxDiagnostics = 4096

// Format is the PCM layout a transcoder must produce.
type Format struct {
	SampleRate int
	Channels   int
}

// Transcoder converts an input file into 16-bit PCM WAV. Implementations
// never modify inputPath. An empty outputPath selects a derived path.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath string, target Format, outputPath string) (string, error)
}

type FFmpegTranscoder struct {
	cmd     []string
	workDir string
	logger  *slog.Logger
}

func NewFFmpegTranscoder(cfg config.AudioConfig, logger *slog.Logger) (*FFmpegTranscoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.FFmpegCommand)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("ffmpeg command is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegTranscoder{cmd: args, workDir: cfg.WorkDir, logger: logger}, nil
}

// DerivedOutputPath names the transcoded sibling of inputPath, for example
// talk.mp3 becomes talk_16k.wav. A non-empty workDir replaces the directory.
func DerivedOutputPath(inputPath string, sampleRate int, workDir string) string {
	dir := filepath.Dir(inputPath)
	if workDir != "" {
		dir = workDir
	}
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	suffix := "_" + strconv.Itoa(sampleRate/1000) + "k"
	out := filepath.Join(dir, base+suffix+".wav")
	if filepath.Clean(out) == filepath.Clean(inputPath) {
		out = filepath.Join(dir, base+suffix+".pcm.wav")
	}
	return out
}

// RequestOutputPath is DerivedOutputPath tagged with requestID, for example
// talk_16k.3f2a.wav. An empty requestID gives the plain derived path.
func RequestOutputPath(inputPath string, sampleRate int, workDir, requestID string) string {
	out := DerivedOutputPath(inputPath, sampleRate, workDir)
	if requestID == "" {
		return out
	}
	return strings.TrimSuffix(out, ".wav") + "." + requestID + ".wav"
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, inputPath string, target Format, outputPath string) (string, error) {
	const op = "audio.transcode"

	info, err := os.Stat(inputPath)
	if err != nil {
		return "", errs.FileNotFound(op, inputPath, err)
	}
	if info.IsDir() {
		return "", errs.FileNotFound(op, inputPath, errors.New("path is a directory"))
	}
	if target.SampleRate <= 0 || target.Channels <= 0 {
		return "", errs.New(errs.KindConfig, errs.CodeInvalidConfig, op, fmt.Sprintf("invalid target format %d Hz/%d ch", target.SampleRate, target.Channels))
	}
	if outputPath == "" {
		outputPath = DerivedOutputPath(inputPath, target.SampleRate, t.workDir)
	}

	bin, err := exec.LookPath(t.cmd[0])
	if err != nil {
		return "", errs.ToolUnavailable(op, t.cmd[0], err)
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args,
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(target.Channels),
		"-ar", strconv.Itoa(target.SampleRate),
		outputPath,
	)

	command := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	t.logger.Debug("transcoding audio", slog.String("input", inputPath), slog.String("output", outputPath))
	if err := command.Run(); err != nil {
		removeQuietly(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errs.TranscodeFailed(op, "transcoding interrupted", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrPermission) {
			return "", errs.ToolUnavailable(op, t.cmd[0], err)
		}
		return "", errs.TranscodeFailed(op, tail(stderr.String(), maxDiagnostics), err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", errs.TranscodeFailed(op, "tool reported success but produced no output", err)
	}
	return outputPath, nil
}

func removeQuietly(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("failed to remove partial output", slog.String("path", path), slog.String("error", err.Error()))
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
