package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/examecho/examecho-stt/internal/audio"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/mattn/go-shellwords"
)

// execRecognizer runs an external command per call. The command receives
// --audio <wav> [--language <code>] --sample-rate <hz> and prints JSON: one
// object, an array of objects, or one object per line.
type execRecognizer struct {
	cmd     []string
	tempDir string
}

type execRecord struct {
	Text          string         `json:"text"`
	GeneratedText string         `json:"generated_text"`
	Generated     *GeneratedText `json:"generated"`
}

func (r execRecord) record() Record {
	rec := Record{Text: r.Text, Generated: r.Generated}
	if rec.Generated == nil && r.GeneratedText != "" {
		rec.Generated = &GeneratedText{Text: r.GeneratedText}
	}
	return rec
}

func NewExecRecognizer(cfg config.ExecBackendConfig, tempDir string) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt exec command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("stt exec command: %w", err)
	}
	return &execRecognizer{cmd: args, tempDir: tempDir}, nil
}

func (r *execRecognizer) ConcurrencySafe() bool { return true }

func (r *execRecognizer) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Output, error) {
	file, err := os.CreateTemp(r.tempDir, "examecho_stt_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, samples, sampleRate); err != nil {
		return nil, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name(), "--sample-rate", strconv.Itoa(sampleRate))
	if opts.Language != "" {
		cmdArgs = append(cmdArgs, "--language", opts.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseExecOutput(stdout.Bytes())
}

func parseExecOutput(data []byte) (Output, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return RecordListResult{}, nil
	}
	switch data[0] {
	case '[':
		var recs []execRecord
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("decode stt response: %w", err)
		}
		out := RecordListResult{Records: make([]Record, len(recs))}
		for i, rec := range recs {
			out.Records[i] = rec.record()
		}
		return out, nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		var first execRecord
		if err := dec.Decode(&first); err != nil {
			return nil, fmt.Errorf("decode stt response: %w", err)
		}
		if !dec.More() {
			return TextResult{first.record()}, nil
		}
		return StreamResult{Records: decodeRecords(data)}, nil
	default:
		return nil, fmt.Errorf("decode stt response: unexpected output %q", truncate(data, 64))
	}
}

func decodeRecords(data []byte) func(yield func(Record, error) bool) {
	return func(yield func(Record, error) bool) {
		dec := json.NewDecoder(bytes.NewReader(data))
		for {
			var rec execRecord
			err := dec.Decode(&rec)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Record{}, fmt.Errorf("decode stt record: %w", err))
				return
			}
			if !yield(rec.record(), nil) {
				return
			}
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
