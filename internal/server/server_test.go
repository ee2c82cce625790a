package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voicescope/internal/domain"
	"voicescope/internal/health"
)

func TestStartReturnsStatus(t *testing.T) {
	t.Parallel()

	ctl := &fakeController{status: domain.Status{State: domain.SessionStateRunning, Active: true, Generation: 3}}
	rec := serve(t, New(ctl, fakeDisplay{}, nil, nil, nil, nil), http.MethodPost, "/session/start")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got domain.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Generation != 3 || !got.Active || ctl.starts != 1 {
		t.Fatalf("unexpected response %+v starts=%d", got, ctl.starts)
	}
}

func TestStartErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: no mic", domain.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: not found", domain.ErrEngineLaunch), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := serve(t, New(&fakeController{startErr: tc.err}, fakeDisplay{}, nil, nil, nil, nil), http.MethodPost, "/session/start")
		if rec.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("expected error body, got %s", rec.Body.String())
		}
	}
}

func TestStopWithoutSessionIsConflict(t *testing.T) {
	t.Parallel()

	rec := serve(t, New(&fakeController{stopErr: domain.ErrNoActiveSession}, fakeDisplay{}, nil, nil, nil, nil), http.MethodPost, "/session/stop")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStatusAndDisplay(t *testing.T) {
	t.Parallel()

	srv := New(&fakeController{status: domain.Status{State: domain.SessionStateIdle}}, fakeDisplay{
		display: domain.Display{State: domain.DisplayVoice, Label: "HUMAN VOICE", Scale: 12},
	}, nil, nil, nil, nil)

	rec := serve(t, srv, http.MethodGet, "/session")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"state":"idle"`) {
		t.Fatalf("unexpected status response %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(t, srv, http.MethodGet, "/display")
	var got domain.Display
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.State != domain.DisplayVoice || got.Scale != 12 {
		t.Fatalf("unexpected display %+v", got)
	}
}

func TestMethodMismatchAndProbes(t *testing.T) {
	t.Parallel()

	checks := health.New(health.Checker{Name: "engine", Check: func(context.Context) error { return errors.New("missing") }})
	srv := New(&fakeController{}, fakeDisplay{}, nil, checks, nil, nil)

	if rec := serve(t, srv, http.MethodGet, "/session/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /session/start = %d, want 405", rec.Code)
	}
	if rec := serve(t, srv, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := serve(t, srv, http.MethodGet, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rec.Code)
	}
	if rec := serve(t, srv, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestStreamHandlerMounted(t *testing.T) {
	t.Parallel()

	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := serve(t, New(&fakeController{}, fakeDisplay{}, stream, nil, nil, nil), http.MethodGet, "/ws")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("ws = %d", rec.Code)
	}
}

func serve(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

type fakeController struct {
	status   domain.Status
	startErr error
	stopErr  error
	starts   int
}

func (f *fakeController) Start(context.Context) error {
	f.starts++
	return f.startErr
}

func (f *fakeController) Stop(context.Context) error { return f.stopErr }

func (f *fakeController) Status() domain.Status { return f.status }

type fakeDisplay struct {
	display domain.Display
}

func (f fakeDisplay) Current() domain.Display { return f.display }
