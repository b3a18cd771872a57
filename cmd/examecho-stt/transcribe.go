package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/examecho/examecho-stt/internal/bus"
	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/examecho/examecho-stt/internal/jobstore"
	"github.com/examecho/examecho-stt/internal/pipeline"
	"github.com/examecho/examecho-stt/internal/protocol"
	"github.com/examecho/examecho-stt/internal/stt"
	"github.com/spf13/cobra"
)

type transcribeOptions struct {
	backend string
	lang    string
	viaBus  bool
	asJSON  bool
}

func newTranscribeCmd(global *globalOptions) *cobra.Command {
	opts := &transcribeOptions{}
	cmd := &cobra.Command{
		Use:   "transcribe FILE",
		Short: "Transcribe one audio or video file",
		Long: `Transcribe one audio or video file.

The pipeline runs in this process unless --bus is given, in which case the
request is sent to a running examechod over NATS. The file must then be
readable by the daemon at the same path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			req := protocol.TranscribeRequest{Path: path, Language: opts.lang, Backend: opts.backend}

			var reply protocol.TranscribeReply
			if opts.viaBus {
				reply, err = transcribeOverBus(cmd.Context(), cfg, req, logger)
			} else {
				reply, err = transcribeInProcess(cmd.Context(), cfg, req, logger)
			}
			if err != nil {
				return err
			}
			return printReply(cmd, reply, opts.asJSON)
		},
	}
	cmd.Flags().StringVarP(&opts.backend, "backend", "b", "", "backend kind: local, remote-pipeline, exec or mock (default from stt.default_backend)")
	cmd.Flags().StringVarP(&opts.lang, "lang", "l", "", "language code (default from stt.language)")
	cmd.Flags().BoolVar(&opts.viaBus, "bus", false, "send the request to a running daemon over NATS")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full reply as JSON")
	return cmd
}

func transcribeInProcess(ctx context.Context, cfg config.Config, req protocol.TranscribeRequest, logger *slog.Logger) (protocol.TranscribeReply, error) {
	p, err := pipeline.Build(cfg, logger)
	if err != nil {
		return protocol.TranscribeReply{}, err
	}
	defer p.Registry.Close()

	jobs, err := jobstore.Open(ctx, cfg.JobStore, logger)
	if err != nil {
		return protocol.TranscribeReply{}, fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	svc := stt.NewService(ctx, p.Orchestrator, nil, jobs, logger)
	defer svc.Close()

	res, err := svc.Transcribe(ctx, stt.Request{InputPath: req.Path, Language: req.Language, Backend: req.Backend}, "cli", "")
	if err != nil {
		return protocol.TranscribeReply{}, err
	}
	return protocol.TranscribeReply{
		JobID:    res.JobID,
		Text:     res.Transcript.Text,
		Empty:    res.Transcript.Empty,
		Language: res.Transcript.Language,
		Backend:  string(res.Transcript.Backend),
	}, nil
}

func transcribeOverBus(ctx context.Context, cfg config.Config, req protocol.TranscribeRequest, logger *slog.Logger) (protocol.TranscribeReply, error) {
	client, err := bus.Connect(ctx, cfg.Bus, "examecho-stt-cli", logger)
	if err != nil {
		return protocol.TranscribeReply{}, err
	}
	defer client.Close()

	// The daemon applies stt.timeout_ms itself; leave room for the reply.
	wait := time.Duration(cfg.STT.TimeoutMS)*time.Millisecond + 5*time.Second
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var reply protocol.TranscribeReply
	if err := client.RequestJSON(ctx, protocol.SubjectTranscribeRequest, req, &reply); err != nil {
		return reply, err
	}
	if reply.Error != nil {
		return reply, errs.New(errs.Kind(reply.Error.Kind), errs.Code(reply.Error.Code), "bus", reply.Error.Message)
	}
	return reply, nil
}

func printReply(cmd *cobra.Command, reply protocol.TranscribeReply, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	if reply.Empty {
		fmt.Fprintln(cmd.ErrOrStderr(), "no speech recognized")
		return nil
	}
	_, err := fmt.Fprintln(out, reply.Text)
	return err
}
