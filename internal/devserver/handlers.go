package devserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/hirelink/chatsync/internal/logger"
)

type Handler struct {
	store *Store
	hub   *Hub
	auth  *Auth
}

func NewHandler(store *Store, hub *Hub, auth *Auth) *Handler {
	return &Handler{store: store, hub: hub, auth: auth}
}

// Router builds the dev API router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Post("/api/login", h.login)
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/api/conversations", h.listConversations)
		r.Post("/api/conversations", h.createConversation)
		r.Get("/api/conversations/{id}", h.getConversation)
		r.Get("/api/conversations/{id}/messages", h.listMessages)
	})
	r.Get("/ws", h.serveWS)
	return r
}

type contextKey string

const userIDKey contextKey = "user_id"

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.auth.VerifyToken(bearerToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username required")
		return
	}
	// Dev only: the username doubles as the user id, so logins are stable
	// across runs without a user table.
	user := h.store.EnsureUser(req.Username, req.Username)
	token, err := h.auth.IssueToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "user_id": user.ID})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	convs := h.store.Conversations(userIDFrom(r))
	writeJSON(w, http.StatusOK, convs)
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.ParticipantIDs) == 0 {
		writeError(w, http.StatusBadRequest, "participant_ids required")
		return
	}
	userID := userIDFrom(r)
	members := append([]string{userID}, req.ParticipantIDs...)
	for _, id := range req.ParticipantIDs {
		h.store.EnsureUser(id, id)
	}
	conv := h.store.CreateConversation(members)
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, found, authorized := h.store.Conversation(userIDFrom(r), id)
	if !found {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !authorized {
		// Same shape the production API uses both for non-members and for
		// conversations its index has not caught up with yet.
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.store.IsMember(userIDFrom(r), id) {
		writeError(w, http.StatusForbidden, "not authorized")
		return
	}
	writeJSON(w, http.StatusOK, h.store.Messages(id))
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("dev ws upgrade: %v", err)
		return
	}
	h.hub.ServeConn(conn, userID)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
