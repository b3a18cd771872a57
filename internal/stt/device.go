package stt

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// Device is where a backend runs inference.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// DeviceProbe answers which device a new handle should use. It is queried
// once per handle.
type DeviceProbe interface {
	Probe(ctx context.Context) Device
}

// FixedDevice always reports itself.
type FixedDevice Device

func (d FixedDevice) Probe(context.Context) Device {
	return Device(d)
}

// AcceleratorProbe picks CUDA when the preference allows it and
// `nvidia-smi -L` lists at least one GPU.
type AcceleratorProbe struct {
	Preference string
	Command    []string
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewAcceleratorProbe(preference string, logger *slog.Logger) *AcceleratorProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &AcceleratorProbe{
		Preference: preference,
		Command:    []string{"nvidia-smi", "-L"},
		Timeout:    5 * time.Second,
		Logger:     logger,
	}
}

func (p *AcceleratorProbe) Probe(ctx context.Context) Device {
	if p.Preference == string(DeviceCPU) {
		return DeviceCPU
	}
	if p.gpuPresent(ctx) {
		return DeviceCUDA
	}
	if p.Preference == string(DeviceCUDA) {
		p.Logger.Warn("cuda requested but no usable gpu found, falling back to cpu")
	}
	return DeviceCPU
}

func (p *AcceleratorProbe) gpuPresent(ctx context.Context) bool {
	if len(p.Command) == 0 {
		return false
	}
	bin, err := exec.LookPath(p.Command[0])
	if err != nil {
		return false
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, bin, p.Command[1:]...).Output()
	if err != nil {
		p.Logger.Debug("gpu probe failed", slogError(err))
		return false
	}
	return bytes.Contains(out, []byte("GPU"))
}
