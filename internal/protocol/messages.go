package protocol

import "time"

// TranscribeRequest asks a node to transcribe a file it can read locally.
type TranscribeRequest struct {
	JobID    string `json:"job_id,omitempty"`
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Backend  string `json:"backend,omitempty"`
}

// Failure is the wire form of a typed pipeline error.
type Failure struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type TranscribeReply struct {
	JobID    string   `json:"job_id"`
	Text     string   `json:"text"`
	Empty    bool     `json:"empty"`
	Language string   `json:"language,omitempty"`
	Backend  string   `json:"backend,omitempty"`
	Error    *Failure `json:"error,omitempty"`
}

// Transcript is broadcast once per finished job.
type Transcript struct {
	JobID       string    `json:"job_id"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Backend     string    `json:"backend"`
	Device      string    `json:"device,omitempty"`
	DurationSec float64   `json:"duration_sec"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectTranscribeRequest = "stt.transcribe.request"
	SubjectTranscriptFinal   = "stt.text.final"
	QueueTranscribe          = "examecho-stt"

	SubjectNodeAnnounce  = "ctrl.node.announce"
	SubjectNodeHeartbeat = "ctrl.node.heartbeat"
)
