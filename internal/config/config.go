package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string `mapstructure:"mode" validate:"oneof=debug release test"`
	APIBaseURL  string `mapstructure:"api_base_url" validate:"required,url"`
	SignalURL   string `mapstructure:"signal_url" validate:"required,url"`
	Token       string `mapstructure:"token"`
	UserID      int64  `mapstructure:"user_id" validate:"gt=0"`
	ControlAddr string `mapstructure:"control_addr" validate:"required,hostname_port"`
	Secret      string `mapstructure:"secret" validate:"required,min=8"`

	SettingsPath string `mapstructure:"settings_path" validate:"required"`
	VolumesPath  string `mapstructure:"volumes_path" validate:"required"`

	ICEServers        []string      `mapstructure:"ice_servers"`
	AnswerTimeout     time.Duration `mapstructure:"answer_timeout" validate:"gt=0"`
	SpeakingStopDelay time.Duration `mapstructure:"speaking_stop_delay" validate:"gt=0"`
	TrackDisableDelay time.Duration `mapstructure:"track_disable_delay" validate:"gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	AnalysisWindow int           `mapstructure:"analysis_window" validate:"gt=0"`
	SampleRate     int           `mapstructure:"sample_rate" validate:"oneof=8000 12000 16000 24000 48000"`
	Channels       int           `mapstructure:"channels" validate:"oneof=1 2"`
	FrameDuration  time.Duration `mapstructure:"frame_duration" validate:"gte=10000000,lte=60000000"`
	Bitrate        int           `mapstructure:"bitrate" validate:"gte=6000,lte=510000"`

	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
}

// FrameSamples is the number of samples per channel in one encoded frame.
func (c *Config) FrameSamples() int {
	return int(time.Duration(c.SampleRate) * c.FrameDuration / time.Second)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml (or path when set),
// then VOICE_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	dataDir := defaultDataDir()
	v.SetDefault("mode", "release")
	v.SetDefault("api_base_url", "http://localhost:8080/api")
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("token", "")
	v.SetDefault("user_id", 0)
	v.SetDefault("control_addr", "127.0.0.1:7777")
	v.SetDefault("secret", "voiceclient-local")
	v.SetDefault("settings_path", filepath.Join(dataDir, "settings.yaml"))
	v.SetDefault("volumes_path", filepath.Join(dataDir, "volumes.yaml"))
	v.SetDefault("ice_servers", []string{})
	v.SetDefault("answer_timeout", "15s")
	v.SetDefault("speaking_stop_delay", "500ms")
	v.SetDefault("track_disable_delay", "300ms")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("analysis_window", 512)
	v.SetDefault("sample_rate", 48000)
	v.SetDefault("channels", 1)
	v.SetDefault("frame_duration", "20ms")
	v.SetDefault("bitrate", 64000)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 1<<20)

	v.SetEnvPrefix("VOICE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Str("api", cfg.APIBaseURL).
		Str("control_addr", cfg.ControlAddr).
		Int64("user_id", cfg.UserID).
		Msg("config ready")
	return &cfg, nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "voiceclient")
}
