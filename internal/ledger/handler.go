// internal/ledger/handler.go
package ledger

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"school-quiz/internal/auth"
	"school-quiz/pkg/httputil"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterStudent mounts the caller's own history on an authenticated router.
func (h *Handler) RegisterStudent(r *mux.Router) {
	r.HandleFunc("/history", h.History).Methods("GET")
}

// RegisterAdmin mounts the submission review routes on an admin router.
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/exams/{examID}/submissions", h.ListForExam).Methods("GET")
	r.HandleFunc("/submissions/{submissionID}", h.Detail).Methods("GET")
	r.HandleFunc("/submissions/{submissionID}", h.Delete).Methods("DELETE")
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSubmissionNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidSort):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Ledger error: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	records, err := h.ledger.History(r.Context(), p.ID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) ListForExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := httputil.PathID(r, "examID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	q := r.URL.Query()
	subs, err := h.ledger.ListForExam(r.Context(), examID, q.Get("sort"), q.Get("dir"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subs)
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathID(r, "submissionID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	sub, err := h.ledger.Detail(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathID(r, "submissionID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid submission id")
		return
	}
	if err := h.ledger.Delete(r.Context(), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	log.Printf("Deleted submission %d", id)
	w.WriteHeader(http.StatusNoContent)
}
