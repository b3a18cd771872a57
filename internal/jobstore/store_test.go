package jobstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/examecho/examecho-stt/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.JobStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "jobs.db")
	}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })
	return js
}

func TestOpenEphemeral(t *testing.T) {
	js := openStore(t, config.JobStoreConfig{RetentionMode: "ephemeral"})
	if err := js.StartJob(context.Background(), Job{ID: "a"}); err != nil {
		t.Fatalf("ephemeral start should be a no-op: %v", err)
	}
	jobs, err := js.Recent(context.Background(), 10)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected nothing recorded, got %v %v", jobs, err)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	js := openStore(t, config.JobStoreConfig{RetentionMode: "session"})

	if err := js.StartJob(ctx, Job{ID: "job-1", Source: "http", InputName: "answer.webm", Backend: "local", Language: "en"}); err != nil {
		t.Fatalf("start job: %v", err)
	}
	if err := js.AppendEvent(ctx, Event{JobID: "job-1", Type: "preprocessed", Payload: []byte(`{"chunks":1}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := js.FinishJob(ctx, "job-1", Outcome{Status: StatusDone, Text: "hello there", AudioSec: 4.5}); err != nil {
		t.Fatalf("finish job: %v", err)
	}

	jobs, err := js.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	job := jobs[0]
	if job.Status != StatusDone || job.Text != "hello there" || job.AudioSec != 4.5 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.FinishedAt == nil {
		t.Fatalf("expected finished timestamp")
	}

	events, err := js.Events(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || string(events[0].Payload) != `{"chunks":1}` {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := js.FinishJob(ctx, "missing", Outcome{Status: StatusFailed}); err == nil {
		t.Fatalf("expected error finishing unknown job")
	}
}

func TestPruneByDaysAndJobs(t *testing.T) {
	ctx := context.Background()
	js := openStore(t, config.JobStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxJobs: 1})

	js.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := js.StartJob(ctx, Job{ID: "old"}); err != nil {
		t.Fatalf("start job: %v", err)
	}
	if err := js.AppendEvent(ctx, Event{JobID: "old", Type: "note"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	js.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"new-1", "new-2"} {
		if err := js.StartJob(ctx, Job{ID: id}); err != nil {
			t.Fatalf("start job: %v", err)
		}
	}
	if err := js.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := js.Events(ctx, "old", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old job events pruned")
	}
	jobs, err := js.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "new-2" {
		t.Fatalf("expected only newest job kept, got %+v", jobs)
	}
}
