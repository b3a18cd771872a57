package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/examecho/examecho-stt/internal/bus"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/examecho/examecho-stt/internal/jobstore"
	"github.com/examecho/examecho-stt/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Service is the front door shared by the HTTP routes and the bus. It
// records each job, runs the orchestrator and broadcasts the transcript.
type Service struct {
	orchestrator *Orchestrator
	bus          *bus.Client
	jobs         *jobstore.Store
	logger       *slog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	sub          *nats.Subscription
	wg           sync.WaitGroup
	ready        atomic.Bool
}

// Result pairs a finished job id with its transcript.
type Result struct {
	JobID      string
	Transcript *Transcript
}

func NewService(parent context.Context, orchestrator *Orchestrator, busClient *bus.Client, jobs *jobstore.Store, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orchestrator: orchestrator,
		bus:          busClient,
		jobs:         jobs,
		logger:       logger.With(slog.String("component", "stt.service")),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to bus requests when a bus is configured.
func (s *Service) Start() error {
	if s.bus == nil {
		s.ready.Store(true)
		return nil
	}
	sub, err := s.bus.Conn().QueueSubscribe(protocol.SubjectTranscribeRequest, protocol.QueueTranscribe, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe transcribe requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready.Load()
}

func (s *Service) Orchestrator() *Orchestrator {
	return s.orchestrator
}

func (s *Service) Jobs() *jobstore.Store {
	return s.jobs
}

// Transcribe runs one job end to end. source names the entry point for the
// job history, for example "http" or "bus".
func (s *Service) Transcribe(ctx context.Context, req Request, source, jobID string) (Result, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	backend := req.Backend
	if backend == "" {
		backend = string(s.orchestrator.DefaultKind())
	}
	if err := s.jobs.StartJob(ctx, jobstore.Job{
		ID:        jobID,
		Source:    source,
		InputName: filepath.Base(req.InputPath),
		Backend:   backend,
		Language:  req.Language,
	}); err != nil {
		s.logger.Warn("failed to record job start", slog.String("job_id", jobID), slogError(err))
	}

	transcript, err := s.orchestrator.Transcribe(ctx, req)
	s.finish(jobID, transcript, err)
	if err != nil {
		s.logger.Warn("transcription failed",
			slog.String("job_id", jobID),
			slog.String("code", string(errs.CodeOf(err))),
			slogError(err))
		return Result{JobID: jobID}, err
	}

	s.publishTranscript(jobID, transcript)
	return Result{JobID: jobID, Transcript: transcript}, nil
}

func (s *Service) finish(jobID string, transcript *Transcript, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()

	outcome := jobstore.Outcome{Status: jobstore.StatusFailed}
	if err != nil {
		outcome.ErrorCode = string(errs.CodeOf(err))
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.ErrorCode = "Timeout"
		}
		outcome.ErrorMessage = err.Error()
	} else {
		outcome.Status = jobstore.StatusDone
		if transcript.Empty {
			outcome.Status = jobstore.StatusEmpty
		}
		outcome.Text = transcript.Text
		outcome.AudioSec = transcript.DurationSec
		payload, _ := json.Marshal(map[string]any{
			"chunks":  transcript.Chunks,
			"trimmed": transcript.Trimmed,
			"device":  transcript.Device,
		})
		if aerr := s.jobs.AppendEvent(ctx, jobstore.Event{JobID: jobID, Type: "transcribed", Payload: payload}); aerr != nil {
			s.logger.Warn("failed to record job event", slog.String("job_id", jobID), slogError(aerr))
		}
	}
	if ferr := s.jobs.FinishJob(ctx, jobID, outcome); ferr != nil {
		s.logger.Warn("failed to record job outcome", slog.String("job_id", jobID), slogError(ferr))
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TranscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode transcribe request", slogError(err))
		s.reply(msg, protocol.TranscribeReply{Error: &protocol.Failure{Code: "BadRequest", Message: err.Error()}})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.Transcribe(s.ctx, Request{InputPath: req.Path, Language: req.Language, Backend: req.Backend}, "bus", req.JobID)
		reply := protocol.TranscribeReply{JobID: res.JobID, Backend: req.Backend, Language: req.Language}
		if err != nil {
			reply.Error = FailureOf(err)
		} else {
			reply.Text = res.Transcript.Text
			reply.Empty = res.Transcript.Empty
			reply.Backend = string(res.Transcript.Backend)
			reply.Language = res.Transcript.Language
		}
		s.reply(msg, reply)
	}()
}

func (s *Service) reply(msg *nats.Msg, reply protocol.TranscribeReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal transcribe reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send transcribe reply", slogError(err))
	}
}

func (s *Service) publishTranscript(jobID string, t *Transcript) {
	if s.bus == nil || t.Empty {
		return
	}
	msg := protocol.Transcript{
		JobID:       jobID,
		Text:        t.Text,
		Language:    t.Language,
		Backend:     string(t.Backend),
		Device:      string(t.Device),
		DurationSec: t.DurationSec,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, msg); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

// FailureOf converts a pipeline error to its wire form.
func FailureOf(err error) *protocol.Failure {
	if err == nil {
		return nil
	}
	f := &protocol.Failure{Code: "Internal", Message: err.Error()}
	var typed *errs.Error
	if errors.As(err, &typed) {
		f.Code = string(typed.Code)
		f.Kind = string(typed.Kind)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		f.Code = "Timeout"
	}
	return f
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
