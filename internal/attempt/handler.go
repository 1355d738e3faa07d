// internal/attempt/handler.go
package attempt

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"school-quiz/internal/auth"
	"school-quiz/internal/catalog"
	"school-quiz/pkg/httputil"
)

// HandleHeader may carry the attempt handle instead of the request body.
const HandleHeader = "X-Attempt-Handle"

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type SubmitRequest struct {
	Answers map[uint]uint `json:"answers"`
	Handle  string        `json:"handle"`
}

type AbortRequest struct {
	Handle string `json:"handle"`
}

// Register mounts the student attempt routes on an authenticated router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/exams", h.ListExams).Methods("GET")
	r.HandleFunc("/exams/{examID}/start", h.Start).Methods("GET")
	r.HandleFunc("/exams/{examID}/submit", h.Submit).Methods("POST")
	r.HandleFunc("/exams/{examID}/abort", h.Abort).Methods("POST")
}

func writeAttemptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAttemptsExhausted):
		httputil.WriteError(w, http.StatusConflict, "You have no attempts left for this exam.")
	case errors.Is(err, catalog.ErrExamNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("Attempt error: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func principalAndExam(w http.ResponseWriter, r *http.Request) (auth.Principal, uint, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, 0, false
	}
	examID, ok := httputil.PathID(r, "examID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return auth.Principal{}, 0, false
	}
	return p, examID, true
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	exams, err := h.service.ListExams(r.Context(), p)
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exams)
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	p, examID, ok := principalAndExam(w, r)
	if !ok {
		return
	}

	res, err := h.service.StartAttempt(r.Context(), p, examID)
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	w.Header().Set(HandleHeader, res.Handle)
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	p, examID, ok := principalAndExam(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Handle == "" {
		req.Handle = r.Header.Get(HandleHeader)
	}

	res, err := h.service.SubmitAttempt(r.Context(), p, examID, req.Answers, req.Handle)
	if err != nil {
		writeAttemptError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	p, examID, ok := principalAndExam(w, r)
	if !ok {
		return
	}

	// the body is optional; beacon-style aborts often send none
	var req AbortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Handle == "" {
		req.Handle = r.Header.Get(HandleHeader)
	}

	if err := h.service.AbortAttempt(r.Context(), p, examID, req.Handle); err != nil {
		writeAttemptError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
