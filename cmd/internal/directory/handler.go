// Package directory serves the authenticated user and room reads and room
// creation. Every route expects middleware.Session upstream.
package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/middleware"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/httpx"
)

type createRoomRequest struct {
	MemberIDs []string `json:"memberIds" validate:"required,min=1,max=256,dive,required"`
	Name      string   `json:"name" validate:"max=64"`
}

// Handler serves /users and /rooms.
type Handler struct {
	log      *slog.Logger
	users    identity.Store
	validate *httpx.Validator
	maxBody  int64
}

// NewHandler constructs a directory Handler over users.
func NewHandler(log *slog.Logger, users identity.Store) (*Handler, error) {
	if users == nil {
		return nil, errors.New("directory: nil identity store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		log:      log,
		users:    users,
		validate: httpx.NewValidator(),
		maxBody:  64 << 10,
	}, nil
}

// Routes mounts the directory endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/users/me", h.handleMe)
	r.Get("/users/{id}", h.handleUser)
	r.Get("/rooms", h.handleListRooms)
	r.Post("/rooms", h.handleCreateRoom)
	r.Get("/rooms/{id}", h.handleRoom)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		if identity.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.log.Error("directory.user.fail", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if u.ID == middleware.UserIDFrom(r.Context()) {
		httpx.WriteJSON(w, http.StatusOK, u)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, u.Public())
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}
	rooms := p.Rooms
	if rooms == nil {
		rooms = []identity.Room{}
	}
	httpx.WriteJSON(w, http.StatusOK, rooms)
}

// handleRoom only returns rooms the caller belongs to. Others look missing.
func (h *Handler) handleRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}
	id := chi.URLParam(r, "id")
	for _, room := range p.Rooms {
		if room.ID == id {
			httpx.WriteJSON(w, http.StatusOK, room)
			return
		}
	}
	httpx.WriteError(w, http.StatusNotFound, "not_found", "room not found")
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFrom(r.Context())
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return
	}

	var req createRoomRequest
	if err := httpx.DecodeJSON(w, r, h.maxBody, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	room, err := h.users.CreateRoom(r.Context(), identity.CreateRoomInput{
		CreatorID: userID,
		MemberIDs: req.MemberIDs,
		Name:      req.Name,
		Now:       time.Now().UTC(),
	})
	if err != nil {
		switch {
		case identity.IsNotFound(err):
			httpx.WriteError(w, http.StatusNotFound, "member_not_found", "a member does not exist")
		case identity.IsInvalidInput(err):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.log.Error("directory.room.create.fail", "user_id", userID, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.log.Info("directory.room.created", "room_id", room.ID, "user_id", userID, "members", len(room.Members))
	httpx.WriteJSON(w, http.StatusCreated, room)
}
