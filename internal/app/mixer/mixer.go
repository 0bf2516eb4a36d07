// Package mixer owns one playback sink per remote stream.
package mixer

import (
	"fmt"
	"maps"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

// VolumeStore persists the per-user volume table. It is identity scoped and
// outlives any voice session.
type VolumeStore interface {
	Load() (map[domain.UserID]float64, error)
	Save(map[domain.UserID]float64) error
}

type sinkEntry struct {
	user domain.UserID
	sink core.Sink
}

type Mixer struct {
	newSink core.SinkFactory
	store   VolumeStore

	mu       sync.RWMutex
	master   float64
	deafened bool
	volumes  map[domain.UserID]float64
	sinks    map[string]*sinkEntry
}

// New loads the persisted volume table. A load failure starts from an empty table.
func New(newSink core.SinkFactory, store VolumeStore) *Mixer {
	m := &Mixer{
		newSink: newSink,
		store:   store,
		master:  1,
		volumes: make(map[domain.UserID]float64),
		sinks:   make(map[string]*sinkEntry),
	}
	if store != nil {
		vols, err := store.Load()
		if err != nil {
			log.Warn().Err(err).Str("module", "mixer").Msg("load user volumes")
		}
		for u, v := range vols {
			m.volumes[u] = domain.ClampVolume(v)
		}
	}
	return m
}

// Attach creates a sink for the track's stream, replacing any previous sink
// for the same stream identity.
func (m *Mixer) Attach(track core.RemoteTrack) error {
	streamID := track.StreamID()
	user, ok := domain.ParseUserID(streamID)
	if !ok {
		log.Warn().Str("module", "mixer").Str("stream_id", streamID).Msg("stream id is not a user id, default volume applies")
	}
	sink, err := m.newSink(user, track)
	if err != nil {
		return fmt.Errorf("create sink for %s: %w", streamID, err)
	}

	m.mu.Lock()
	old := m.sinks[streamID]
	m.sinks[streamID] = &sinkEntry{user: user, sink: sink}
	sink.SetVolume(m.effectiveLocked(user))
	m.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "mixer").Str("stream_id", streamID).Msg("replacing existing sink")
		if err := old.sink.Close(); err != nil {
			log.Warn().Err(err).Str("module", "mixer").Msg("close replaced sink")
		}
	}
	log.Info().Str("module", "mixer").Str("stream_id", streamID).Msg("sink attached")
	return nil
}

func (m *Mixer) Detach(streamID string) error {
	m.mu.Lock()
	e, ok := m.sinks[streamID]
	delete(m.sinks, streamID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return e.sink.Close()
}

// SetMasterVolume sets the master output gain, clamped to [0, 2].
func (m *Mixer) SetMasterVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master = domain.ClampVolume(v)
	m.applyLocked()
}

// SetDeafened silences every sink without releasing it.
func (m *Mixer) SetDeafened(deafened bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deafened = deafened
	m.applyLocked()
}

func (m *Mixer) SetUserVolume(user domain.UserID, v float64) error {
	m.mu.Lock()
	m.volumes[user] = domain.ClampVolume(v)
	m.applyLocked()
	table := maps.Clone(m.volumes)
	m.mu.Unlock()
	return m.save(table)
}

func (m *Mixer) ResetUserVolume(user domain.UserID) error {
	m.mu.Lock()
	delete(m.volumes, user)
	m.applyLocked()
	table := maps.Clone(m.volumes)
	m.mu.Unlock()
	return m.save(table)
}

// UserVolume returns the stored gain, 1.0 when absent.
func (m *Mixer) UserVolume(user domain.UserID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.volumes[user]; ok {
		return v
	}
	return domain.DefaultUserVolume
}

// Volumes returns a copy of the per-user table.
func (m *Mixer) Volumes() map[domain.UserID]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.volumes)
}

// EffectiveVolume is master * per-user, or 0 while deafened.
func (m *Mixer) EffectiveVolume(user domain.UserID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveLocked(user)
}

func (m *Mixer) SinkCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Cleanup releases every sink. The volume table is left untouched.
func (m *Mixer) Cleanup() error {
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = make(map[string]*sinkEntry)
	m.mu.Unlock()

	var err error
	for id, e := range sinks {
		if cerr := e.sink.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close sink %s: %w", id, cerr))
		}
	}
	return err
}

func (m *Mixer) effectiveLocked(user domain.UserID) float64 {
	if m.deafened {
		return 0
	}
	uv, ok := m.volumes[user]
	if !ok {
		uv = domain.DefaultUserVolume
	}
	return m.master * uv
}

func (m *Mixer) applyLocked() {
	for _, e := range m.sinks {
		e.sink.SetVolume(m.effectiveLocked(e.user))
	}
}

func (m *Mixer) save(table map[domain.UserID]float64) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(table); err != nil {
		log.Error().Err(err).Str("module", "mixer").Msg("persist user volumes")
		return err
	}
	return nil
}
