// internal/auth/handler.go
package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"school-quiz/pkg/httputil"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClassID  *uint  `json:"class_id"`
	IsAdmin  bool   `json:"is_admin"`
}

type UpdateUserRequest struct {
	Username *string `json:"username"`
	Password string  `json:"password"`
	IsAdmin  *bool   `json:"is_admin"`
}

// RegisterAdmin mounts user management on an admin router.
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/users", h.ListUsers).Methods("GET")
	r.HandleFunc("/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/users/{userID}", h.UpdateUser).Methods("PUT")
	r.HandleFunc("/users/{userID}", h.DeleteUser).Methods("DELETE")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	token, user, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			log.Printf("Login failed for %q: %v", req.Username, err)
		}
		httputil.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		log.Printf("Error listing users: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.Username, req.Password, req.ClassID, req.IsAdmin)
	if err != nil {
		if errors.Is(err, ErrUserInput) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, ErrUsernameTaken) {
			httputil.WriteError(w, http.StatusConflict, err.Error())
			return
		}
		log.Printf("Error creating user %q: %v", req.Username, err)
		httputil.WriteError(w, http.StatusBadRequest, "could not create user")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathID(r, "userID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	switch err := h.service.DeleteUser(r.Context(), id); {
	case err == nil:
		log.Printf("Deleted user %d", id)
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrLastAdmin):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Error deleting user %d: %v", id, err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathID(r, "userID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, UserUpdate{
		Username: req.Username,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, user)
	case errors.Is(err, ErrUserInput):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUsernameTaken), errors.Is(err, ErrLastAdmin):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Error updating user %d: %v", id, err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
