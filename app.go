package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicescope/internal/bootstrap"
	"voicescope/internal/config"
	"voicescope/internal/display"
	"voicescope/internal/domain"
	"voicescope/internal/ports"
	"voicescope/internal/usecase"
)

const (
	eventSession = "voicescope:session"
	eventDisplay = "voicescope:display"
	eventError   = "voicescope:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services   *bootstrap.Services
	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error

	loopDone chan struct{}
	closing  sync.Once
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(bootstrap.Options{
		Events:    a,
		Renderers: []ports.Renderer{a},
		Logger:    slog.Default(),
	})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.loopDone = make(chan struct{})
	go func() {
		defer close(a.loopDone)
		if err := services.Loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("presentation loop stopped", "err", err)
		}
	}()

	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) shutdown(ctx context.Context) {
	a.closing.Do(func() {
		if a.controller != nil {
			if err := a.controller.Stop(ctx); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
				slog.Warn("stop on shutdown failed", "err", err)
			}
		}
		if a.cancel != nil {
			a.cancel()
			<-a.loopDone
		}
		if a.services != nil {
			a.services.Close()
		}
	})
}

// StartSession starts capturing. A running session is restarted.
func (a *App) StartSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// StopSession stops the running session and waits for it to wind down.
func (a *App) StopSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Stop(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return a.controller.Status(), nil
		}
		a.SessionError(domain.ErrorCodeStop, err.Error())
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// ToggleSession starts when idle and stops when running.
func (a *App) ToggleSession() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if a.controller.Running() {
		return a.StopSession()
	}
	return a.StartSession()
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateIdle, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetDisplay returns the display currently shown.
func (a *App) GetDisplay() domain.Display {
	if a.services == nil {
		return display.Idle()
	}
	return a.services.Presenter.Current()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"engine":           a.cfg.Engine.Command,
		"codec":            a.cfg.Engine.Codec,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"sampleRate":       strconv.Itoa(domain.SampleRate),
		"frameSize":        strconv.Itoa(domain.FrameSize),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// Render pushes a new display to the frontend.
func (a *App) Render(d domain.Display) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventDisplay, d)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonSessionStarted:
		return "Listening"
	case domain.SessionReasonSessionRestarted:
		return "Session restarted; previous results discarded"
	case domain.SessionReasonSessionStopped:
		return "Stopped"
	case domain.SessionReasonDeviceUnavailable:
		return "Microphone unavailable"
	case domain.SessionReasonEngineLaunchFailed:
		return "Processing engine failed to start"
	case domain.SessionReasonProtocolError:
		return "Processing engine sent an invalid response"
	case domain.SessionReasonStreamFault:
		return "Audio stream interrupted"
	case domain.SessionReasonEngineExited:
		return "Processing engine exited"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Audio device error"
	case domain.ErrorCodeEngine:
		return "Processing engine error"
	case domain.ErrorCodeProtocol:
		return "Engine protocol error"
	case domain.ErrorCodeStream:
		return "Audio streaming issue"
	case domain.ErrorCodeStop:
		return "Audio stop issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
