// Package model owns the single resident whisper model.
//
// Loads are serialized. The resident handle sits behind a read/write lock:
// a transcription holds the read lock for the whole inference call, and a
// model switch takes the write lock only to swap handles. A switch therefore
// waits for in-flight transcriptions on the old model, new transcriptions
// wait for the swap, and no inference ever sees its handle closed underneath
// it. The replacement is initialized before the old model is released, so a
// failed switch leaves the previous model serving.
package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fmueller/whisperd/internal/device"
	"github.com/fmueller/whisperd/internal/whisper"
	"go.uber.org/zap"
)

// maxUseAttempts bounds how often Use re-ensures a model that concurrent
// switches keep replacing.
const maxUseAttempts = 3

type Handle struct {
	Name     string
	Device   device.Info
	Model    whisper.ResolvedModel
	Instance whisper.Instance
	LoadedAt time.Time
}

// Status is a point-in-time view of the resident model.
type Status struct {
	Ready     bool
	ModelName string
	Device    string
}

type Loader struct {
	backend   whisper.Backend
	artifacts Artifacts
	probe     device.Probe
	logger    *zap.Logger

	loadMu  sync.Mutex
	mu      sync.RWMutex
	current *Handle
	status  atomic.Pointer[Status]
}

func NewLoader(backend whisper.Backend, artifacts Artifacts, probe device.Probe, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if probe == nil {
		probe = device.Static{Kind: device.CPU, Backend: "cpu"}
	}

	l := &Loader{
		backend:   backend,
		artifacts: artifacts,
		probe:     probe,
		logger:    logger,
	}
	l.status.Store(&Status{})
	return l
}

// EnsureLoaded makes name the resident model. Asking for the resident model
// again returns the existing handle without touching the backend. Run
// inference through Use; a handle returned here may be replaced at any time.
func (l *Loader) EnsureLoaded(ctx context.Context, name string) (*Handle, error) {
	name = whisper.CanonicalName(name)
	if name == "" {
		name = whisper.DefaultModel
	}

	if h := l.resident(name); h != nil {
		l.logger.Debug("model already loaded", zap.String("model", name))
		return h, nil
	}

	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	if h := l.resident(name); h != nil {
		return h, nil
	}

	info := l.probe.Detect(ctx)
	l.logger.Info("loading model", zap.String("model", name), zap.String("device", info.String()), zap.String("backend", l.backend.Name()))

	resolved, err := l.artifacts.Ensure(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", whisper.ErrModelLoad, name, err)
	}

	started := time.Now()
	inst, err := l.backend.Load(ctx, whisper.LoadSpec{Model: resolved, Device: info})
	if err != nil {
		l.logger.Error("model load failed", zap.String("model", name), zap.String("device", info.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %q on %s: %w", whisper.ErrModelLoad, name, info, err)
	}

	next := &Handle{
		Name:     name,
		Device:   info,
		Model:    resolved,
		Instance: inst,
		LoadedAt: time.Now(),
	}

	l.mu.Lock()
	previous := l.current
	l.current = next
	l.status.Store(&Status{Ready: true, ModelName: next.Name, Device: next.Device.String()})
	l.mu.Unlock()

	if previous != nil {
		l.release(previous)
	}

	l.logger.Info("model loaded", zap.String("model", name), zap.String("device", info.String()), zap.Duration("elapsed", time.Since(started)))
	return next, nil
}

// Use runs fn against the resident model named name, loading it first if
// needed. The handle stays valid until fn returns.
func (l *Loader) Use(ctx context.Context, name string, fn func(*Handle) error) error {
	name = whisper.CanonicalName(name)
	if name == "" {
		name = whisper.DefaultModel
	}

	for attempt := 0; attempt < maxUseAttempts; attempt++ {
		if ran, err := l.withResident(name, fn); ran {
			return err
		}
		if _, err := l.EnsureLoaded(ctx, name); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %q was replaced by concurrent model switches", whisper.ErrModelLoad, name)
}

func (l *Loader) withResident(name string, fn func(*Handle) error) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current == nil || l.current.Name != name {
		return false, nil
	}
	return true, fn(l.current)
}

func (l *Loader) Status() Status {
	return *l.status.Load()
}

// Close releases the resident model.
func (l *Loader) Close() error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	l.mu.Lock()
	previous := l.current
	l.current = nil
	l.status.Store(&Status{})
	l.mu.Unlock()

	if previous == nil {
		return nil
	}
	return l.release(previous)
}

func (l *Loader) resident(name string) *Handle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.current != nil && l.current.Name == name {
		return l.current
	}
	return nil
}

func (l *Loader) release(h *Handle) error {
	if err := h.Instance.Close(); err != nil {
		l.logger.Warn("failed to release model", zap.String("model", h.Name), zap.Error(err))
		return err
	}
	l.logger.Info("model released", zap.String("model", h.Name))
	return nil
}
