package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/examecho/examecho-stt/internal/errs"
)

// Factory builds a recognizer on the device chosen for its handle.
type Factory func(ctx context.Context, device Device) (Recognizer, error)

// Spec describes how to create one backend kind. A nil Probe means CPU.
type Spec struct {
	Factory Factory
	Probe   DeviceProbe
}

// Handle is a loaded backend owned by the Registry. Callers borrow it for
// the duration of a call.
type Handle struct {
	kind       Kind
	device     Device
	recognizer Recognizer
	concurrent bool
	loadedAt   time.Time
	lock       chan struct{}
}

func (h *Handle) Kind() Kind       { return h.kind }
func (h *Handle) Device() Device   { return h.device }
func (h *Handle) Concurrent() bool { return h.concurrent }

// Transcribe runs one inference, holding the handle exclusively unless the
// recognizer is concurrency safe. Waiting for the handle honours ctx.
func (h *Handle) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (Output, error) {
	if !h.concurrent {
		select {
		case h.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-h.lock }()
	}
	return h.recognizer.Transcribe(ctx, samples, sampleRate, opts)
}

type HandleInfo struct {
	Kind       Kind      `json:"kind"`
	Loaded     bool      `json:"loaded"`
	Device     Device    `json:"device,omitempty"`
	Concurrent bool      `json:"concurrent"`
	LoadedAt   time.Time `json:"loaded_at,omitzero"`
}

type slot struct {
	spec   Spec
	lock   chan struct{}
	handle atomic.Pointer[Handle]
}

// Registry holds at most one handle per kind. Handles are created on first
// use and live until Close.
type Registry struct {
	mu     sync.Mutex
	slots  map[Kind]*slot
	closed bool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		slots:  make(map[Kind]*slot),
		logger: logger.With(slog.String("component", "stt.registry")),
	}
}

func (r *Registry) Register(kind Kind, spec Spec) error {
	if spec.Factory == nil {
		return fmt.Errorf("register %s: factory is nil", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("register %s: registry is closed", kind)
	}
	if _, exists := r.slots[kind]; exists {
		return fmt.Errorf("register %s: already registered", kind)
	}
	r.slots[kind] = &slot{spec: spec, lock: make(chan struct{}, 1)}
	return nil
}

func (r *Registry) lookup(kind Kind) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[kind]
	return s, ok
}

type initResult struct {
	handle *Handle
	err    error
}

// GetOrCreate returns the handle for kind, initializing it on first use.
// Concurrent first calls share a single initialization. Initialization is
// not tied to ctx: a caller that gives up leaves it running for the next
// one. Failures are not cached.
func (r *Registry) GetOrCreate(ctx context.Context, kind Kind) (*Handle, error) {
	const op = "stt.registry"
	s, ok := r.lookup(kind)
	if !ok {
		return nil, errs.New(errs.KindConfig, errs.CodeUnsupportedBackend, op, fmt.Sprintf("backend %q is not configured", kind))
	}
	if h := s.handle.Load(); h != nil {
		return h, nil
	}

	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h := s.handle.Load(); h != nil {
		<-s.lock
		return h, nil
	}

	done := make(chan initResult, 1)
	go func() {
		defer func() { <-s.lock }()
		h, err := r.initialize(context.WithoutCancel(ctx), kind, s.spec)
		if err == nil {
			err = r.publish(kind, s, h)
		}
		done <- initResult{handle: h, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, errs.TranscriptionFailed(op, fmt.Sprintf("initialize %s backend: %v", kind, res.err), res.err)
		}
		return res.handle, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) initialize(ctx context.Context, kind Kind, spec Spec) (h *Handle, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("backend initialization panicked: %v", p)
		}
	}()

	start := time.Now()
	device := DeviceCPU
	if spec.Probe != nil {
		device = spec.Probe.Probe(ctx)
	}
	rec, err := spec.Factory(ctx, device)
	if err != nil {
		r.logger.Warn("backend initialization failed", slog.String("kind", string(kind)), slog.String("device", string(device)), slogError(err))
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("factory returned no recognizer")
	}
	concurrent := false
	if cs, ok := rec.(ConcurrencySafe); ok {
		concurrent = cs.ConcurrencySafe()
	}
	r.logger.Info("backend initialized",
		slog.String("kind", string(kind)),
		slog.String("device", string(device)),
		slog.Bool("concurrent", concurrent),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Handle{
		kind:       kind,
		device:     device,
		recognizer: rec,
		concurrent: concurrent,
		loadedAt:   time.Now().UTC(),
		lock:       make(chan struct{}, 1),
	}, nil
}

// publish makes h visible to callers. A registry closed while h was being
// built releases it instead.
func (r *Registry) publish(kind Kind, s *slot, h *Handle) error {
	r.mu.Lock()
	if !r.closed {
		s.handle.Store(h)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	if err := closeRecognizer(h.recognizer); err != nil {
		r.logger.Warn("failed to release backend built after close", slog.String("kind", string(kind)), slogError(err))
	}
	return errors.New("registry is closed")
}

// Has reports whether kind was registered.
func (r *Registry) Has(kind Kind) bool {
	_, ok := r.lookup(kind)
	return ok
}

func (r *Registry) Loaded(kind Kind) bool {
	s, ok := r.lookup(kind)
	return ok && s.handle.Load() != nil
}

// Snapshot lists every registered kind in name order.
func (r *Registry) Snapshot() []HandleInfo {
	r.mu.Lock()
	infos := make([]HandleInfo, 0, len(r.slots))
	for kind, s := range r.slots {
		info := HandleInfo{Kind: kind}
		if h := s.handle.Load(); h != nil {
			info.Loaded = true
			info.Device = h.device
			info.Concurrent = h.concurrent
			info.LoadedAt = h.loadedAt
		}
		infos = append(infos, info)
	}
	r.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

// Warm initializes the given kinds ahead of traffic. It returns every
// failure joined; successful kinds stay loaded.
func (r *Registry) Warm(ctx context.Context, kinds ...Kind) error {
	var failures []error
	for _, kind := range kinds {
		if _, err := r.GetOrCreate(ctx, kind); err != nil {
			failures = append(failures, fmt.Errorf("warm %s: %w", kind, err))
		}
	}
	return errors.Join(failures...)
}

// Close releases loaded handles. Initializations still running when Close
// is called release their backend as soon as it is built.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var failures []error
	for kind, s := range r.slots {
		h := s.handle.Swap(nil)
		if h == nil {
			continue
		}
		if err := closeRecognizer(h.recognizer); err != nil {
			failures = append(failures, fmt.Errorf("close %s: %w", kind, err))
		}
	}
	return errors.Join(failures...)
}

func closeRecognizer(rec Recognizer) error {
	if closer, ok := rec.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
