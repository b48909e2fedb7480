/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: the realtime websocket endpoint,
// room lookup and invite endpoints, health, metrics, and the debug log
// viewer.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mixroom/internal/auth"
	"github.com/friendsincode/mixroom/internal/config"
	"github.com/friendsincode/mixroom/internal/engine"
	"github.com/friendsincode/mixroom/internal/logbuffer"
	"github.com/friendsincode/mixroom/internal/room"
	"github.com/friendsincode/mixroom/internal/telemetry"
	"github.com/friendsincode/mixroom/internal/version"
)

// Invite tokens default to a one day lifetime.
const defaultInviteTTL = 24 * time.Hour

// API exposes HTTP handlers.
type API struct {
	cfg       *config.Config
	engine    *engine.Engine
	logBuffer *logbuffer.Buffer
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(cfg *config.Config, eng *engine.Engine, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		cfg:       cfg,
		engine:    eng,
		logBuffer: logBuf,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/ws", a.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rooms/{code}", a.handleRoomLookup)
		r.Post("/invites", a.handleCreateInvite)
		r.Get("/invites/{token}", a.handleResolveInvite)

		r.Route("/debug", func(r chi.Router) {
			r.Get("/logs", a.handleSystemLogs)
			r.Get("/logs/components", a.handleLogComponents)
			r.Get("/logs/stats", a.handleLogStats)
			r.Delete("/logs", a.handleClearLogs)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	rooms, clients := a.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     version.Version,
		"rooms":       rooms,
		"clients":     clients,
		"persistence": a.engine.SinkName(),
	})
}

// handleRoomLookup lets a client check a join code before opening the
// websocket. Member identity is never exposed here.
func (a *API) handleRoomLookup(w http.ResponseWriter, r *http.Request) {
	code := room.NormalizeRoomCode(chi.URLParam(r, "code"))
	roomID, members, ok := a.engine.RoomByCode(code)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "room not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":   roomID,
		"roomCode": code,
		"members":  members,
	})
}

type createInviteRequest struct {
	RoomCode   string `json:"roomCode"`
	Name       string `json:"name,omitempty"`
	TTLMinutes int    `json:"ttlMinutes,omitempty"`
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	if a.cfg.JWTSigningKey == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "invites not configured"})
		return
	}

	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}
	code := room.NormalizeRoomCode(req.RoomCode)
	if _, _, ok := a.engine.RoomByCode(code); !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "room not found"})
		return
	}

	ttl := defaultInviteTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}
	token, err := auth.Issue([]byte(a.cfg.JWTSigningKey), auth.Claims{RoomCode: code, Name: req.Name}, ttl)
	if err != nil {
		a.logger.Error().Err(err).Msg("invite issue failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "invite issue failed"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"roomCode":  code,
		"expiresIn": int(ttl.Seconds()),
	})
}

func (a *API) handleResolveInvite(w http.ResponseWriter, r *http.Request) {
	if a.cfg.JWTSigningKey == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "invites not configured"})
		return
	}
	claims, err := auth.Parse([]byte(a.cfg.JWTSigningKey), chi.URLParam(r, "token"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid invite"})
		return
	}
	resp := map[string]any{"roomCode": claims.RoomCode}
	if claims.Name != "" {
		resp["name"] = claims.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "log buffer not available"})
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		RoomID:     r.URL.Query().Get("room_id"),
		Search:     r.URL.Query().Get("search"),
		Descending: true, // Default to newest first
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500
	}
	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "log buffer not available"})
		return
	}
	if roomID := r.URL.Query().Get("room_id"); roomID != "" {
		writeJSON(w, http.StatusOK, map[string]any{"components": a.logBuffer.GetComponentsForRoom(roomID)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": a.logBuffer.GetComponents()})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "log buffer not available"})
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.StatsForRoom(r.URL.Query().Get("room_id")))
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "log buffer not available"})
		return
	}
	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
