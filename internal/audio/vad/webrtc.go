// Package vad adapts the WebRTC voice activity detector to audio.Classifier.
package vad

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/baabaaox/go-webrtcvad"
	"github.com/examecho/examecho-stt/internal/audio"
)

type WebRTC struct {
	inst webrtcvad.VadInst
	buf  []byte
}

// New is an audio.ClassifierFactory. Every call creates a fresh detector so
// results do not depend on previously classified audio.
func New(mode int) (audio.Classifier, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad mode %d out of range 0..3", mode)
	}
	inst := webrtcvad.Create()
	if inst == nil {
		return nil, errors.New("create webrtc vad instance")
	}
	if err := webrtcvad.Init(inst); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("init webrtc vad: %w", err)
	}
	if err := webrtcvad.SetMode(inst, mode); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("set webrtc vad mode: %w", err)
	}
	return &WebRTC{inst: inst}, nil
}

func (w *WebRTC) IsSpeech(frame []int16, sampleRate int) (bool, error) {
	if err := validFrame(sampleRate, len(frame)); err != nil {
		return false, err
	}
	if cap(w.buf) < len(frame)*2 {
		w.buf = make([]byte, len(frame)*2)
	}
	buf := w.buf[:len(frame)*2]
	for i, s := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	active, err := webrtcvad.Process(w.inst, sampleRate, buf, len(frame))
	if err != nil {
		return false, fmt.Errorf("webrtc vad process: %w", err)
	}
	return active, nil
}

func (w *WebRTC) Close() error {
	if w.inst != nil {
		webrtcvad.Free(w.inst)
		w.inst = nil
	}
	return nil
}

func validFrame(sampleRate, samples int) error {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d: must be 8000, 16000, 32000 or 48000", sampleRate)
	}
	perMs := sampleRate / 1000
	switch samples {
	case 10 * perMs, 20 * perMs, 30 * perMs:
		return nil
	}
	return fmt.Errorf("unsupported frame of %d samples at %d Hz: must be 10, 20 or 30 ms", samples, sampleRate)
}
