package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"

	"voicescope/internal/config"
	"voicescope/internal/dsp"
	"voicescope/internal/engine"
)

// EngineCommand is the subcommand under which every voicescope binary
// serves the reference processing engine.
const EngineCommand = "engine"

// RunEngine serves the reference engine on r and w until r is closed or ctx
// is cancelled. Logs go to stderr only; w carries the protocol.
func RunEngine(ctx context.Context, configPath, codecName string, r io.Reader, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(NewLogger(cfg.LogLevel))

	codec, err := engine.NewCodec(codecName)
	if err != nil {
		return err
	}

	c := cfg.Classifier
	analyzer := dsp.NewAnalyzer(0, dsp.Policy{
		VoiceRMS:         c.VoiceRMS,
		VoiceZCRMin:      c.VoiceZCRMin,
		VoiceZCRMax:      c.VoiceZCRMax,
		VoiceEnterFrames: c.VoiceEnterFrames,
		VoiceExitFrames:  c.VoiceExitFrames,
		PeakRMS:          c.PeakRMS,
	})

	slog.Info("reference engine ready", "codec", codec.Name())
	return engine.Serve(ctx, r, w, codec, analyzer)
}

// NewLogger returns a text logger on stderr at the given level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
