package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"voicescope/internal/audio"
	"voicescope/internal/config"
	"voicescope/internal/display"
	"voicescope/internal/domain"
	"voicescope/internal/engine"
	"voicescope/internal/health"
	"voicescope/internal/observe"
	"voicescope/internal/ports"
	"voicescope/internal/resultslot"
	"voicescope/internal/usecase"
)

// Options select the configuration file and the outer surfaces.
type Options struct {
	ConfigPath string
	// Config, when set, is used instead of loading ConfigPath.
	Config    *config.Config
	Events    ports.EventSink
	Logger    *slog.Logger
	Metrics   *observe.Metrics
	Renderers []ports.Renderer
}

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Results    *resultslot.Slot
	Controller *usecase.SessionController
	Presenter  *display.Presenter
	Loop       *display.Loop
	Hub        *display.Hub
	Health     *health.Handler
	Metrics    *observe.Metrics

	closers []func()
}

// Close releases the outer surfaces. It does not stop a running session.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Build wires all backend dependencies for the current runtime.
func Build(opts Options) (*Services, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	events := opts.Events
	if events == nil {
		events = NewLogEvents(log)
	}

	engineCfg, err := engineConfig(cfg, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	s := &Services{Config: cfg, Metrics: metrics}
	s.Results = resultslot.New()
	if err := metrics.RegisterResultStats(func() (uint64, uint64, uint64, uint64) {
		st := s.Results.Stats()
		return st.Published, st.Drained, st.Overwritten, st.Stale
	}); err != nil {
		return nil, fmt.Errorf("register result metrics: %w", err)
	}

	s.Controller = usecase.NewSessionController(
		audio.NewFFMPEGSource(cfg.Audio.RecorderCommand),
		engine.NewProcessLauncher(log.With("component", "engine")),
		s.Results,
		events,
		metrics,
		log.With("component", "session"),
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  domain.SampleRate,
				Channels:    domain.Channels,
				FrameSize:   domain.FrameSize,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Engine: engineCfg,
		},
	)

	s.Hub = display.NewHub(log.With("component", "ws"), func() domain.Display {
		return s.Presenter.Current()
	})
	s.closers = append(s.closers, s.Hub.Close)

	renderers := append([]ports.Renderer{s.Hub}, opts.Renderers...)
	if cfg.MQTT.Broker != "" {
		publisher, disconnect, err := display.ConnectMQTT(display.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		}, log.With("component", "mqtt"))
		if err != nil {
			s.Close()
			return nil, err
		}
		renderers = append(renderers, publisher)
		s.closers = append(s.closers, disconnect)
	}

	s.Presenter = display.NewPresenter(s.Results, s.Controller, metrics, renderers...)
	s.Loop = display.NewLoop(s.Presenter, cfg.Presentation.Interval, log.With("component", "presentation"))

	s.Health = health.New(
		health.Executable("ffmpeg", cfg.Audio.RecorderCommand),
		health.Executable("engine", engineCfg.Command),
	)

	return s, nil
}

// engineConfig resolves the engine command. Without one configured the
// current executable is started with its engine subcommand.
func engineConfig(cfg config.Config, configPath string) (ports.EngineConfig, error) {
	out := ports.EngineConfig{
		Command:         cfg.Engine.Command,
		Args:            cfg.Engine.Args,
		Codec:           cfg.Engine.Codec,
		ResponseTimeout: cfg.Engine.ResponseTimeout,
		StopGrace:       cfg.Engine.StopGrace,
	}
	if out.Command != "" {
		return out, nil
	}

	self, err := os.Executable()
	if err != nil {
		return ports.EngineConfig{}, fmt.Errorf("resolve engine executable: %w", err)
	}
	out.Command = self
	out.Args = []string{EngineCommand, "--codec", cfg.Engine.Codec}
	if configPath != "" {
		out.Args = append(out.Args, "--config", configPath)
	}
	return out, nil
}

// LogEvents reports session events through slog. It is the event sink of
// the headless service.
type LogEvents struct {
	log *slog.Logger
}

func NewLogEvents(log *slog.Logger) *LogEvents {
	return &LogEvents{log: log}
}

func (e *LogEvents) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	e.log.Info("session state changed", "state", state, "reason", reason)
}

func (e *LogEvents) SessionError(code domain.ErrorCode, detail string) {
	e.log.Error("session error", "code", code, "detail", detail)
}
