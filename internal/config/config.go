package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voicescope/internal/engine"
)

// PathEnv names the optional YAML configuration file.
const PathEnv = "VOICESCOPE_CONFIG"

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Config stores runtime configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	Audio        AudioConfig        `yaml:"audio"`
	Engine       EngineConfig       `yaml:"engine"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Presentation PresentationConfig `yaml:"presentation"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
}

// EngineConfig selects the processing engine. An empty Command runs this
// binary's own engine subcommand.
type EngineConfig struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	Codec           string        `yaml:"codec"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	StopGrace       time.Duration `yaml:"stop_grace"`
}

// ClassifierConfig tunes the reference engine's voice and peak flags.
type ClassifierConfig struct {
	VoiceRMS         float64 `yaml:"voice_rms"`
	VoiceZCRMin      int     `yaml:"voice_zcr_min"`
	VoiceZCRMax      int     `yaml:"voice_zcr_max"`
	VoiceEnterFrames int     `yaml:"voice_enter_frames"`
	VoiceExitFrames  int     `yaml:"voice_exit_frames"`
	PeakRMS          float64 `yaml:"peak_rms"`
}

type PresentationConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Interval   time.Duration `yaml:"interval"`
}

// MQTTConfig enables state publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
		},
		Engine: EngineConfig{
			Codec:           "jsonl",
			ResponseTimeout: 2 * time.Second,
			StopGrace:       1200 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			VoiceRMS:         0.02,
			VoiceZCRMin:      20,
			VoiceZCRMax:      600,
			VoiceEnterFrames: 3,
			VoiceExitFrames:  3,
			PeakRMS:          0.3,
		},
		Presentation: PresentationConfig{
			ListenAddr: "127.0.0.1:8787",
			Interval:   50 * time.Millisecond,
		},
		MQTT: MQTTConfig{
			Topic:    "voicescope/state",
			ClientID: "voicescope",
		},
	}
}

// Load resolves configuration. path, or VOICESCOPE_CONFIG when path is
// empty, names an optional YAML file; environment variables override it.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(PathEnv))
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates the
// result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Defaults()
	if err := decodeYAML(r, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate returns a joined error listing every invalid value.
func Validate(cfg Config) error {
	var errs []error

	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: %s", cfg.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if strings.TrimSpace(cfg.Audio.RecorderCommand) == "" {
		errs = append(errs, errors.New("audio.recorder_command is required"))
	}
	if !slices.Contains(engine.Codecs(), cfg.Engine.Codec) {
		errs = append(errs, fmt.Errorf("engine.codec %q is invalid; valid values: %s", cfg.Engine.Codec, strings.Join(engine.Codecs(), ", ")))
	}
	if cfg.Engine.ResponseTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.response_timeout must be positive, got %s", cfg.Engine.ResponseTimeout))
	}
	if cfg.Engine.StopGrace <= 0 {
		errs = append(errs, fmt.Errorf("engine.stop_grace must be positive, got %s", cfg.Engine.StopGrace))
	}
	if cfg.Presentation.Interval <= 0 {
		errs = append(errs, fmt.Errorf("presentation.interval must be positive, got %s", cfg.Presentation.Interval))
	}

	c := cfg.Classifier
	if c.VoiceRMS < 0 || c.PeakRMS < 0 {
		errs = append(errs, errors.New("classifier thresholds must not be negative"))
	}
	if c.VoiceZCRMin < 0 || c.VoiceZCRMax < c.VoiceZCRMin {
		errs = append(errs, fmt.Errorf("classifier zero-crossing range [%d, %d] is invalid", c.VoiceZCRMin, c.VoiceZCRMax))
	}
	if c.VoiceEnterFrames <= 0 || c.VoiceExitFrames <= 0 {
		errs = append(errs, errors.New("classifier voice_enter_frames and voice_exit_frames must be positive"))
	}

	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = strings.ToLower(envOrDefault("VOICESCOPE_LOG_LEVEL", cfg.LogLevel))

	cfg.Audio.RecorderCommand = envOrDefault("VOICESCOPE_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOICESCOPE_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VOICESCOPE_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)

	cfg.Engine.Command = envOrDefault("VOICESCOPE_ENGINE_COMMAND", cfg.Engine.Command)
	if args := strings.TrimSpace(os.Getenv("VOICESCOPE_ENGINE_ARGS")); args != "" {
		cfg.Engine.Args = strings.Fields(args)
	}
	cfg.Engine.Codec = strings.ToLower(envOrDefault("VOICESCOPE_ENGINE_CODEC", cfg.Engine.Codec))
	cfg.Engine.ResponseTimeout = envOrDefaultMillis("VOICESCOPE_ENGINE_TIMEOUT_MS", cfg.Engine.ResponseTimeout)
	cfg.Engine.StopGrace = envOrDefaultMillis("VOICESCOPE_ENGINE_STOP_GRACE_MS", cfg.Engine.StopGrace)

	cfg.Presentation.ListenAddr = envOrDefault("VOICESCOPE_LISTEN_ADDR", cfg.Presentation.ListenAddr)

	cfg.MQTT.Broker = envOrDefault("VOICESCOPE_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Topic = envOrDefault("VOICESCOPE_MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.MQTT.ClientID = envOrDefault("VOICESCOPE_MQTT_CLIENT_ID", cfg.MQTT.ClientID)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
