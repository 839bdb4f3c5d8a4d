package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yalive/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yalive/internal/core/domain"
	"github.com/Wyydra/yalive/internal/core/service"
)

// UserHeader carries the caller's identity on REST requests. Authentication
// happens in front of this server.
const UserHeader = "X-User-ID"

type Handler struct {
	Calls    *service.CallRelay
	Streams  *service.StreamService
	Settings *service.ChatSettingsService
	Hub      *ws.Hub
}

func NewHandler(calls *service.CallRelay, streams *service.StreamService, settings *service.ChatSettingsService, hub *ws.Hub) *Handler {
	return &Handler{
		Calls:    calls,
		Streams:  streams,
		Settings: settings,
		Hub:      hub,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/streams", func(r chi.Router) {
			r.Post("/create-viewer-token", h.createViewerToken)
			r.Post("/create", h.createStream)
			r.Get("/user/{userId}/chat-settings", h.getChatSettings)
			r.Put("/user/{userId}/chat-settings", h.updateChatSettings)
			r.Get("/{roomId}", h.getStream)
			r.Post("/{roomId}/start", h.startStream)
			r.Post("/{roomId}/end", h.endStream)
			r.Post("/{roomId}/join", h.joinStream)
			r.Post("/{roomId}/broadcast", h.broadcastToken)
		})

		r.Route("/calls/{code}", func(r chi.Router) {
			r.Post("/token", h.callToken)
			r.Post("/leave", h.leaveCall)
		})
	})

	return r
}

type ctxKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, domain.UserID(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) domain.UserID {
	u, _ := r.Context().Value(ctxKey{}).(domain.UserID)
	return u
}

type tokenResponse struct {
	Token string `json:"token"`
}

type viewerTokenRequest struct {
	HostIdentity domain.UserID `json:"hostIdentity"`
	SelfIdentity domain.UserID `json:"selfIdentity"`
}

type userDataRequest struct {
	UserData domain.UserData `json:"userData"`
}

type settingsRequest struct {
	Settings domain.ChatSettings `json:"settings"`
}

func (h *Handler) createViewerToken(w http.ResponseWriter, r *http.Request) {
	var req viewerTokenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SelfIdentity != userFrom(r) {
		writeError(w, http.StatusForbidden, "selfIdentity does not match caller")
		return
	}
	token, err := h.Streams.ViewerToken(r.Context(), req.HostIdentity, req.SelfIdentity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) createStream(w http.ResponseWriter, r *http.Request) {
	var meta domain.StreamMetadata
	if !decode(w, r, &meta) {
		return
	}
	s, err := h.Streams.Create(r.Context(), userFrom(r), meta)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) getStream(w http.ResponseWriter, r *http.Request) {
	s, err := h.Streams.Get(r.Context(), domain.RoomID(chi.URLParam(r, "roomId")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) startStream(w http.ResponseWriter, r *http.Request) {
	if err := h.Streams.Start(r.Context(), domain.RoomID(chi.URLParam(r, "roomId")), userFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) endStream(w http.ResponseWriter, r *http.Request) {
	if err := h.Streams.End(r.Context(), domain.RoomID(chi.URLParam(r, "roomId")), userFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) joinStream(w http.ResponseWriter, r *http.Request) {
	user, ok := decodeUserData(w, r)
	if !ok {
		return
	}
	token, err := h.Streams.Join(r.Context(), domain.RoomID(chi.URLParam(r, "roomId")), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) broadcastToken(w http.ResponseWriter, r *http.Request) {
	user, ok := decodeUserData(w, r)
	if !ok {
		return
	}
	token, err := h.Streams.Broadcast(r.Context(), domain.RoomID(chi.URLParam(r, "roomId")), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) getChatSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context(), domain.UserID(chi.URLParam(r, "userId")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) updateChatSettings(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(chi.URLParam(r, "userId"))
	if user != userFrom(r) {
		writeError(w, http.StatusForbidden, "cannot change another user's chat settings")
		return
	}
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Settings.Update(r.Context(), user, req.Settings)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) callToken(w http.ResponseWriter, r *http.Request) {
	user, ok := decodeUserData(w, r)
	if !ok {
		return
	}
	token, err := h.Calls.CallToken(r.Context(), chi.URLParam(r, "code"), user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) leaveCall(w http.ResponseWriter, r *http.Request) {
	if err := h.Calls.LeaveCall(r.Context(), chi.URLParam(r, "code"), userFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeUserData(w http.ResponseWriter, r *http.Request) (domain.UserData, bool) {
	var req userDataRequest
	if !decode(w, r, &req) {
		return domain.UserData{}, false
	}
	if req.UserData.Identity != userFrom(r) {
		writeError(w, http.StatusForbidden, "userData identity does not match caller")
		return domain.UserData{}, false
	}
	return req.UserData, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrStreamNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTokenIssuance):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Error writing response")
	}
}
