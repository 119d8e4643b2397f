package net

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"vitals/server"
	"vitals/server/internal/death"
	"vitals/server/internal/telemetry"
)

func newTestHandler(t *testing.T) (*server.Hub, http.Handler) {
	t.Helper()
	cfg := server.DefaultHubConfig()
	cfg.Logger = telemetry.WrapLogger(log.New(io.Discard, "", 0))
	cfg.AutoStartDeath = false
	hub := server.NewHub(cfg, nil)
	return hub, NewHTTPHandler(hub, HTTPHandlerConfig{Logger: log.New(io.Discard, "", 0), TickRate: 15})
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %s: %v", resp.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	_, handler := newTestHandler(t)
	resp := do(t, handler, http.MethodGet, "/health", "")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("expected ok, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestSpawnAndDamageActor(t *testing.T) {
	_, handler := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/actors", `{"id":"hero"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if view := decode[server.ActorView](t, resp); view.Attributes["health"] != 100 {
		t.Fatalf("expected full health, got %+v", view.Attributes)
	}

	resp = do(t, handler, http.MethodPost, "/actors", `{"id":"hero"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/actors/hero/effects", `{"attribute":"damage","magnitude":60,"causer":"trap"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	result := decode[server.EffectResult](t, resp)
	if !result.Executed || result.Actor.Attributes["shield"] != 0 || result.Actor.Attributes["health"] != 90 {
		t.Fatalf("unexpected effect result: %+v", result)
	}

	resp = do(t, handler, http.MethodGet, "/actors/hero", "")
	if view := decode[server.ActorView](t, resp); view.DamageHistory["trap"] != 60 {
		t.Fatalf("expected damage history for trap, got %+v", view.DamageHistory)
	}
}

func TestEffectErrors(t *testing.T) {
	_, handler := newTestHandler(t)
	do(t, handler, http.MethodPost, "/actors", `{"id":"hero"}`)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown actor", "/actors/ghost/effects", `{"attribute":"damage","magnitude":1}`, http.StatusNotFound},
		{"unknown attribute", "/actors/hero/effects", `{"attribute":"mana","magnitude":1}`, http.StatusBadRequest},
		{"malformed body", "/actors/hero/effects", `{"attribute":`, http.StatusBadRequest},
		{"unknown execution", "/actors/hero/executions", `{"kind":"poison","source":"hero"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := do(t, handler, http.MethodPost, tc.path, tc.body); resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestDeathEndpoints(t *testing.T) {
	_, handler := newTestHandler(t)
	do(t, handler, http.MethodPost, "/actors", `{"id":"hero"}`)

	resp := do(t, handler, http.MethodPost, "/actors/hero/death/start", "")
	started := decode[deathResponse](t, resp)
	if !started.Changed || started.Actor.DeathState != death.DeathStarted {
		t.Fatalf("expected death to start, got %+v", started)
	}

	resp = do(t, handler, http.MethodPost, "/actors/hero/death/finish", "")
	finished := decode[deathResponse](t, resp)
	if !finished.Changed || finished.Actor.DeathState != death.DeathFinished {
		t.Fatalf("expected death to finish, got %+v", finished)
	}

	if resp := do(t, handler, http.MethodPost, "/actors/hero/death/revive", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown step, got %d", resp.Code)
	}
}

func TestTemplateAndRemoval(t *testing.T) {
	hub, handler := newTestHandler(t)
	do(t, handler, http.MethodPost, "/actors", `{"id":"hero"}`)

	if resp := do(t, handler, http.MethodPut, "/actors/hero/template", `{"template":"dragon"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown template, got %d", resp.Code)
	}
	resp := do(t, handler, http.MethodGet, "/templates", "")
	listing := decode[struct {
		Default   string   `json:"default"`
		Templates []string `json:"templates"`
	}](t, resp)
	if listing.Default != "default" || len(listing.Templates) != 1 {
		t.Fatalf("unexpected template listing: %+v", listing)
	}

	if resp := do(t, handler, http.MethodDelete, "/actors/hero", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, ok := hub.Actor("hero"); ok {
		t.Fatalf("expected hero to be removed")
	}
	if resp := do(t, handler, http.MethodDelete, "/actors/hero", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestDiagnosticsEndpoint(t *testing.T) {
	_, handler := newTestHandler(t)
	do(t, handler, http.MethodPost, "/actors", `{}`)

	resp := do(t, handler, http.MethodGet, "/diagnostics", "")
	payload := decode[struct {
		Status   string             `json:"status"`
		TickRate int                `json:"tickRate"`
		Hub      server.Diagnostics `json:"hub"`
	}](t, resp)
	if payload.Status != "ok" || payload.TickRate != 15 || payload.Hub.Actors != 1 {
		t.Fatalf("unexpected diagnostics: %+v", payload)
	}
	if payload.Hub.Ver != server.ProtocolVersion {
		t.Fatalf("expected protocol version %d, got %d", server.ProtocolVersion, payload.Hub.Ver)
	}
}

func TestPprofTraceIsOptIn(t *testing.T) {
	hub, handler := newTestHandler(t)
	if resp := do(t, handler, http.MethodGet, "/debug/pprof/trace?seconds=0", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected trace endpoint to be disabled, got %d", resp.Code)
	}

	handler = NewHTTPHandler(hub, HTTPHandlerConfig{Logger: log.New(io.Discard, "", 0), EnablePprofTrace: true})
	if resp := do(t, handler, http.MethodGet, "/debug/pprof/trace?seconds=0", ""); resp.Code == http.StatusNotFound {
		t.Fatalf("expected trace endpoint to be served")
	}
}
