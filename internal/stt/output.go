package stt

import (
	"fmt"
	"iter"
)

// Output is what a backend returns for one call. It is one of TextResult,
// RecordListResult or StreamResult.
type Output interface {
	output()
}

type GeneratedText struct {
	Text string `json:"text"`
}

// Record is one recognized utterance. Backends fill either Text or
// Generated.
type Record struct {
	Text      string         `json:"text"`
	Generated *GeneratedText `json:"generated,omitempty"`
}

func (r Record) text() string {
	if r.Text != "" {
		return r.Text
	}
	if r.Generated != nil {
		return r.Generated.Text
	}
	return ""
}

type TextResult struct {
	Record
}

type RecordListResult struct {
	Records []Record
}

// StreamResult yields records lazily. Normalize stops after the first one.
type StreamResult struct {
	Records iter.Seq2[Record, error]
}

func (TextResult) output()       {}
func (RecordListResult) output() {}
func (StreamResult) output()     {}

func Text(s string) TextResult {
	return TextResult{Record{Text: s}}
}

// Normalize reduces any output shape to the text of its first record, or
// "" when there is none.
func Normalize(out Output) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case TextResult:
		return v.text(), nil
	case RecordListResult:
		if len(v.Records) == 0 {
			return "", nil
		}
		return v.Records[0].text(), nil
	case StreamResult:
		if v.Records == nil {
			return "", nil
		}
		for rec, err := range v.Records {
			if err != nil {
				return "", fmt.Errorf("read output stream: %w", err)
			}
			return rec.text(), nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("unknown output type %T", out)
	}
}
