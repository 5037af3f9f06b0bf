// Package audio provides audio device enumeration, capture, resampling,
// and playback built on malgo (the cgo binding to miniaudio).
package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/core"
)

// Registry enumerates audio endpoints, assigns stable identities, and
// watches the configured device for loss (spec §4.1).
type Registry struct {
	ctx *malgo.AllocatedContext
}

// NewRegistry wraps an already-initialized malgo context. The context is
// owned by the caller (typically the Runtime Supervisor), not by Registry.
func NewRegistry(ctx *malgo.AllocatedContext) *Registry {
	return &Registry{ctx: ctx}
}

func (r *Registry) hostAPI() string {
	return fmt.Sprintf("%d", r.ctx.Backend)
}

// ListInputs enumerates capture-capable devices.
func (r *Registry) ListInputs() ([]core.DeviceId, error) {
	return r.list(malgo.Capture)
}

// ListOutputs enumerates playback-capable devices.
func (r *Registry) ListOutputs() ([]core.DeviceId, error) {
	return r.list(malgo.Playback)
}

func (r *Registry) list(kind malgo.DeviceType) ([]core.DeviceId, error) {
	infos, err := r.ctx.Devices(kind)
	if err != nil {
		return nil, core.Wrap(core.CodeUnknown, "failed to enumerate devices", err)
	}
	out := make([]core.DeviceId, len(infos))
	for i, info := range infos {
		out[i] = core.DeviceId{
			HostAPI: r.hostAPI(),
			Index:   i,
			Name:    info.Name(),
		}
	}
	return out, nil
}

// DefaultInput returns the system default capture device.
func (r *Registry) DefaultInput() (core.DeviceId, error) {
	return r.defaultDevice(malgo.Capture)
}

// DefaultOutput returns the system default playback device.
func (r *Registry) DefaultOutput() (core.DeviceId, error) {
	return r.defaultDevice(malgo.Playback)
}

func (r *Registry) defaultDevice(kind malgo.DeviceType) (core.DeviceId, error) {
	infos, err := r.ctx.Devices(kind)
	if err != nil {
		return core.DeviceId{}, core.Wrap(core.CodeUnknown, "failed to enumerate devices", err)
	}
	for i, info := range infos {
		if info.IsDefault != 0 {
			return core.DeviceId{HostAPI: r.hostAPI(), Index: i, Name: info.Name()}, nil
		}
	}
	if len(infos) == 0 {
		return core.DeviceId{}, core.NewError(core.CodeNoDevice, "no devices available")
	}
	return core.DeviceId{HostAPI: r.hostAPI(), Index: 0, Name: infos[0].Name()}, nil
}

// Resolve implements the startup resolution rule from spec §4.1: prefer a
// device whose stable id still matches a present device; else fall back to
// one matching preferredName (refreshing the stable id); else fall back to
// the default.
func (r *Registry) Resolve(kind malgo.DeviceType, preferredName string, stableID core.DeviceId) (core.DeviceId, error) {
	present, err := r.list(kind)
	if err != nil {
		return core.DeviceId{}, err
	}

	if !stableID.IsZero() {
		for _, d := range present {
			if d.Equal(stableID) {
				return d, nil
			}
		}
	}

	if preferredName != "" {
		for _, d := range present {
			if strings.EqualFold(d.Name, preferredName) {
				return d, nil
			}
		}
	}

	if kind == malgo.Capture {
		return r.DefaultInput()
	}
	return r.DefaultOutput()
}

// LossWatcher polls a configured device's presence and reports loss events.
// It runs on its own low-frequency goroutine (spec §5's Device Watcher
// thread), never blocking the audio or KWS paths.
type LossWatcher struct {
	registry *Registry
	kind     malgo.DeviceType
	interval time.Duration
	stop     chan struct{}
}

// NewLossWatcher creates a watcher polling at the default 2s interval
// (spec §4.1), or the given interval if non-zero.
func NewLossWatcher(registry *Registry, kind malgo.DeviceType, interval time.Duration) *LossWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &LossWatcher{registry: registry, kind: kind, interval: interval, stop: make(chan struct{})}
}

// Watch polls expected's presence, invoking onLost at most once per loss
// (it stops polling after reporting; the caller re-arms Watch for the new
// device after a successful restart/fallback).
func (w *LossWatcher) Watch(expected core.DeviceId, onLost func(previous core.DeviceId)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			present, err := w.registry.list(w.kind)
			if err != nil {
				continue
			}
			found := false
			for _, d := range present {
				if d.Equal(expected) {
					found = true
					break
				}
			}
			if !found {
				onLost(expected)
				return
			}
		}
	}
}

// Stop halts the watcher's polling loop.
func (w *LossWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}
