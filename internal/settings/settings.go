// Package settings exposes the persisted user preferences as read-only
// snapshots and pushes changes to subscribers when the file is edited.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/voiceclient/internal/domain"
)

const reloadDebounce = 100 * time.Millisecond

type Settings struct {
	ActivationMode   domain.ActivationMode `mapstructure:"activation_mode"`
	ThresholdDB      float64               `mapstructure:"threshold_db"`
	PushToTalkKey    string                `mapstructure:"push_to_talk_key"`
	InputDeviceID    string                `mapstructure:"input_device_id"`
	OutputDeviceID   string                `mapstructure:"output_device_id"`
	MasterVolume     float64               `mapstructure:"master_volume"`
	EchoCancellation bool                  `mapstructure:"echo_cancellation"`
	NoiseSuppression bool                  `mapstructure:"noise_suppression"`
	AutoGainControl  bool                  `mapstructure:"auto_gain_control"`
}

func Defaults() Settings {
	return Settings{
		ActivationMode:   domain.ModeAuto,
		ThresholdDB:      domain.DefaultThresholdDB,
		PushToTalkKey:    "Space",
		MasterVolume:     1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

func (s Settings) normalized() Settings {
	if s.ActivationMode != domain.ModePushToTalk {
		s.ActivationMode = domain.ModeAuto
	}
	s.ThresholdDB = domain.ClampThreshold(s.ThresholdDB)
	s.MasterVolume = domain.ClampVolume(s.MasterVolume)
	return s
}

// Bridge owns the settings snapshot. Consumers get copies.
type Bridge struct {
	path string

	mu      sync.RWMutex
	current Settings
	nextID  int
	subs    map[int]func(Settings)
}

// Open reads the settings file at path. A missing file yields defaults.
func Open(path string) (*Bridge, error) {
	b := &Bridge{path: path, subs: make(map[int]func(Settings))}
	s, err := load(path)
	if err != nil {
		return nil, err
	}
	b.current = s
	return b, nil
}

func load(path string) (Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	d := Defaults()
	v.SetDefault("activation_mode", string(d.ActivationMode))
	v.SetDefault("threshold_db", d.ThresholdDB)
	v.SetDefault("push_to_talk_key", d.PushToTalkKey)
	v.SetDefault("input_device_id", "")
	v.SetDefault("output_device_id", "")
	v.SetDefault("master_volume", d.MasterVolume)
	v.SetDefault("echo_cancellation", d.EchoCancellation)
	v.SetDefault("noise_suppression", d.NoiseSuppression)
	v.SetDefault("auto_gain_control", d.AutoGainControl)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
			}
			log.Info().Str("module", "settings").Str("path", path).Msg("settings file not found, using defaults")
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s.normalized(), nil
}

// Snapshot returns a copy of the current settings.
func (b *Bridge) Snapshot() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Subscribe registers fn for change notifications and returns a cancel func.
func (b *Bridge) Subscribe(fn func(Settings)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Reload re-reads the file and notifies subscribers when anything changed.
func (b *Bridge) Reload() error {
	s, err := load(b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	changed := s != b.current
	b.current = s
	subs := make([]func(Settings), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	if !changed {
		return nil
	}
	log.Info().Str("module", "settings").
		Str("activation_mode", string(s.ActivationMode)).
		Float64("threshold_db", s.ThresholdDB).
		Msg("settings reloaded")
	for _, fn := range subs {
		fn(s)
	}
	return nil
}

// Watch reloads on file changes until ctx is done.
func (b *Bridge) Watch(ctx context.Context) error {
	if b.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(b.path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := b.Reload(); err != nil {
						log.Warn().Err(err).Str("module", "settings").Msg("reload failed, keeping previous settings")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("module", "settings").Msg("watcher error")
			}
		}
	}()
	return nil
}
