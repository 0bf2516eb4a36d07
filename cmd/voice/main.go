package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/dkeye/voiceclient/internal/adapters/api"
	"github.com/dkeye/voiceclient/internal/adapters/codec"
	"github.com/dkeye/voiceclient/internal/adapters/device"
	router "github.com/dkeye/voiceclient/internal/adapters/http"
	"github.com/dkeye/voiceclient/internal/adapters/rtc"
	sig "github.com/dkeye/voiceclient/internal/adapters/signal"
	"github.com/dkeye/voiceclient/internal/app/gate"
	"github.com/dkeye/voiceclient/internal/app/voice"
	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/config"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/settings"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "voice",
		Short:         "Voice channel client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogger(verbose)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the voice client and its local control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List audio capture and playback devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("voice exited with error")
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prefs, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		return err
	}
	current := prefs.Snapshot()

	devs, err := device.NewContext()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, devs.Close()) }()

	// 200ms of headroom per remote source
	playout := audio.NewPlayout(cfg.SampleRate * cfg.Channels / 5)
	speaker, err := device.NewSpeaker(devs, current.OutputDeviceID, cfg.SampleRate, cfg.Channels, playout)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, speaker.Close()) }()

	enc, err := codec.NewEncoder(cfg.SampleRate, cfg.Channels, cfg.Bitrate)
	if err != nil {
		return err
	}
	self := domain.UserID(cfg.UserID)
	track, err := gate.NewOutgoingTrack(self)
	if err != nil {
		return err
	}
	g := gate.New(device.NewMicrophone(devs), enc, track, gate.Options{AnalysisWindow: cfg.AnalysisWindow})

	webrtcAPI, err := rtc.NewAPI()
	if err != nil {
		return err
	}

	var ctrl *voice.Controller
	signals := sig.NewClient(sig.Config{
		URL:        cfg.SignalURL,
		Token:      cfg.Token,
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	}, func(env core.Envelope) { ctrl.HandleSignal(env) })

	ctrl = voice.New(voice.Config{
		Self:     self,
		API:      api.New(cfg.APIBaseURL, cfg.Token, cfg.RequestTimeout),
		Signal:   signals,
		Gate:     g,
		NewMedia: rtc.NewFactory(webrtcAPI, rtc.Config(cfg.ICEServers)),
		NewSink: device.NewSinkFactory(playout, cfg.Channels, func() (audio.Decoder, error) {
			return codec.NewDecoder(cfg.SampleRate, cfg.Channels)
		}),
		Volumes:  settings.NewVolumeFile(cfg.VolumesPath),
		Settings: current,
		Capture: core.CaptureConstraints{
			SampleRate:   cfg.SampleRate,
			Channels:     cfg.Channels,
			FrameSamples: cfg.FrameSamples(),
		},
		AnswerTimeout:     cfg.AnswerTimeout,
		SpeakingStopDelay: cfg.SpeakingStopDelay,
		TrackDisableDelay: cfg.TrackDisableDelay,
		RequestTimeout:    cfg.RequestTimeout,
	})
	unsubscribe := prefs.Subscribe(ctrl.ApplySettings)
	defer unsubscribe()

	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(ctx) }()

	go func() {
		if err := signals.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("module", "main").Msg("signaling stopped")
		}
	}()
	if werr := prefs.Watch(ctx); werr != nil {
		log.Warn().Err(werr).Str("module", "main").Msg("settings hot reload disabled")
	}

	r := router.SetupRouter(ctx, router.Config{Mode: cfg.Mode, Secret: cfg.Secret}, ctrl)
	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("module", "main").Str("addr", cfg.ControlAddr).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "main").Msg("control API error")
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Str("module", "main").Msg("control API forced to shutdown")
	}
	if cerr := <-ctrlDone; cerr != nil && !errors.Is(cerr, context.Canceled) {
		err = multierr.Append(err, cerr)
	}
	log.Info().Str("module", "main").Msg("voice client exited")
	return err
}

func listDevices(cmd *cobra.Command) error {
	devs, err := device.NewContext()
	if err != nil {
		return err
	}
	defer devs.Close()

	list, err := devs.List()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
