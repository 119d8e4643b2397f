package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"vitals/server"
	"vitals/server/internal/effect"
	"vitals/server/internal/net/ws"
	"vitals/server/internal/telemetry"
)

const maxBodyBytes = 1 << 16

type HTTPHandlerConfig struct {
	Logger   *log.Logger
	TickRate int
	// EnablePprofTrace serves /debug/pprof/trace for execution traces.
	EnablePprofTrace bool
}

type templateRequest struct {
	Template string `json:"template"`
}

type deathResponse struct {
	Changed bool             `json:"changed"`
	Actor   server.ActorView `json:"actor"`
}

// NewHTTPHandler exposes the hub over HTTP and the observer websocket.
func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string             `json:"status"`
			ServerTime int64              `json:"serverTime"`
			TickRate   int                `json:"tickRate"`
			Hub        server.Diagnostics `json:"hub"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
			Hub:        hub.Diagnostics(),
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("GET /actors", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, logger, nethttp.StatusOK, hub.Actors())
	})

	mux.HandleFunc("POST /actors", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req server.SpawnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := hub.SpawnActor(r.Context(), req)
		if err != nil {
			hubError(w, err)
			return
		}
		writeJSON(w, logger, nethttp.StatusCreated, view)
	})

	mux.HandleFunc("GET /actors/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		view, ok := hub.Actor(r.PathValue("id"))
		if !ok {
			httpError(w, "unknown actor", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, view)
	})

	mux.HandleFunc("DELETE /actors/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := hub.RemoveActor(r.Context(), r.PathValue("id")); err != nil {
			hubError(w, err)
			return
		}
		w.WriteHeader(nethttp.StatusNoContent)
	})

	mux.HandleFunc("POST /actors/{id}/effects", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req effect.Request
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.ApplyEffect(r.Context(), r.PathValue("id"), req)
		if err != nil {
			hubError(w, err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, result)
	})

	mux.HandleFunc("POST /actors/{id}/executions", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req server.ExecutionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := hub.ApplyExecution(r.Context(), r.PathValue("id"), req)
		if err != nil {
			hubError(w, err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, result)
	})

	mux.HandleFunc("POST /actors/{id}/death/{step}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := r.PathValue("id")
		var (
			changed bool
			err     error
		)
		switch r.PathValue("step") {
		case "start":
			changed, err = hub.StartDeath(r.Context(), id)
		case "finish":
			changed, err = hub.FinishDeath(r.Context(), id)
		default:
			httpError(w, "unknown death step", nethttp.StatusNotFound)
			return
		}
		if err != nil {
			hubError(w, err)
			return
		}
		view, _ := hub.Actor(id)
		writeJSON(w, logger, nethttp.StatusOK, deathResponse{Changed: changed, Actor: view})
	})

	mux.HandleFunc("PUT /actors/{id}/template", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req templateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		view, err := hub.SetTemplate(r.Context(), r.PathValue("id"), req.Template)
		if err != nil {
			hubError(w, err)
			return
		}
		writeJSON(w, logger, nethttp.StatusOK, view)
	})

	mux.HandleFunc("GET /templates", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		catalog := hub.Catalog()
		payload := struct {
			Default   string   `json:"default"`
			Templates []string `json:"templates"`
		}{
			Default:   catalog.Default().Name,
			Templates: catalog.Names(),
		}
		writeJSON(w, logger, nethttp.StatusOK, payload)
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: telemetry.WrapLogger(logger)})
	mux.HandleFunc("/ws", wsHandler.Handle)

	if cfg.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpError(w, "failed to read body", nethttp.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpError(w, "invalid JSON body", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, logger *log.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func hubError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, server.ErrUnknownActor):
		httpError(w, err.Error(), nethttp.StatusNotFound)
	case errors.Is(err, server.ErrActorExists):
		httpError(w, err.Error(), nethttp.StatusConflict)
	case errors.Is(err, server.ErrInvalidRequest):
		httpError(w, err.Error(), nethttp.StatusBadRequest)
	default:
		httpError(w, err.Error(), nethttp.StatusInternalServerError)
	}
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
