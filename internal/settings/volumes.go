package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/dkeye/voiceclient/internal/domain"
)

const volumesKey = "user_volumes"

// VolumeFile persists the per-user volume table as yaml under a single
// namespace key, one entry per user id.
type VolumeFile struct {
	path string
}

func NewVolumeFile(path string) *VolumeFile {
	return &VolumeFile{path: path}
}

func (f *VolumeFile) Load() (map[domain.UserID]float64, error) {
	out := make(map[domain.UserID]float64)
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(f.path)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("read volumes %s: %w", f.path, err)
	}
	for k, raw := range v.GetStringMap(volumesKey) {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		vol, err := cast.ToFloat64E(raw)
		if err != nil || math.IsNaN(vol) || math.IsInf(vol, 0) {
			log.Warn().Str("module", "settings").Str("user_id", k).Msg("ignoring invalid stored volume")
			continue
		}
		out[domain.UserID(id)] = domain.ClampVolume(vol)
	}
	return out, nil
}

// Save rewrites the whole file. A fresh viper instance is used so removed
// entries do not survive from a previous read.
func (f *VolumeFile) Save(table map[domain.UserID]float64) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create volumes dir: %w", err)
	}
	entries := make(map[string]any, len(table))
	for id, vol := range table {
		entries[id.String()] = vol
	}
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set(volumesKey, entries)
	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("write volumes %s: %w", f.path, err)
	}
	return nil
}
