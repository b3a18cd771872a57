package stt

import (
	"strings"

	"github.com/examecho/examecho-stt/internal/errs"
)

// Kind selects a speech recognition backend.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote-pipeline"
	KindExec   Kind = "exec"
	KindMock   Kind = "mock"
)

func Kinds() []Kind {
	return []Kind{KindLocal, KindRemote, KindExec, KindMock}
}

// ParseKind accepts a backend name case-insensitively. Unknown names fail
// with UnsupportedBackend carrying the raw value.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case KindLocal, KindRemote, KindExec, KindMock:
		return k, nil
	}
	return "", errs.UnsupportedBackend("stt.parse_kind", value)
}
