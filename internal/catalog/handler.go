// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"school-quiz/internal/models"
	"school-quiz/pkg/httputil"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the admin authoring routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/classes", h.ListClasses).Methods("GET")
	r.HandleFunc("/classes", h.CreateClass).Methods("POST")
	r.HandleFunc("/classes/{classID}", h.UpdateClass).Methods("PUT")
	r.HandleFunc("/classes/{classID}", h.DeleteClass).Methods("DELETE")
	r.HandleFunc("/exams", h.ListExams).Methods("GET")
	r.HandleFunc("/exams", h.CreateExam).Methods("POST")
	r.HandleFunc("/exams/{examID}", h.GetExam).Methods("GET")
	r.HandleFunc("/exams/{examID}", h.UpdateExam).Methods("PUT")
	r.HandleFunc("/exams/{examID}/questions", h.AddQuestion).Methods("POST")
	r.HandleFunc("/questions/{questionID}", h.UpdateQuestion).Methods("PUT")
	r.HandleFunc("/questions/{questionID}/move/{direction}", h.MoveQuestion).Methods("POST")
	r.HandleFunc("/questions/{questionID}", h.DeleteQuestion).Methods("DELETE")
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrExamNotFound), errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrClassNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrClassExists), errors.Is(err, ErrClassHasExams):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Catalog error: %v", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.service.ListClasses(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, classes)
}

func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	class, err := h.service.CreateClass(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, class)
}

type classRequest struct {
	Name string `json:"name"`
	// StudentIDs replaces the class membership when present.
	StudentIDs []uint `json:"student_ids"`
}

func (h *Handler) UpdateClass(w http.ResponseWriter, r *http.Request) {
	classID, ok := httputil.PathID(r, "classID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid class id")
		return
	}
	var req classRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	class, err := h.service.UpdateClass(r.Context(), classID, req.Name, req.StudentIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, class)
}

func (h *Handler) DeleteClass(w http.ResponseWriter, r *http.Request) {
	classID, ok := httputil.PathID(r, "classID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid class id")
		return
	}
	if err := h.service.DeleteClass(r.Context(), classID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.service.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exams)
}

type examRequest struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
	MaxAttempts     int    `json:"max_attempts"`
	ClassID         *uint  `json:"class_id"`
}

func (req examRequest) toExam() *models.Exam {
	return &models.Exam{
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		MaxAttempts:     req.MaxAttempts,
		ClassID:         req.ClassID,
	}
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	exam := req.toExam()
	if err := h.service.CreateExam(r.Context(), exam); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, exam)
}

type adminExamView struct {
	*models.Exam
	Questions []models.QuestionDTO `json:"questions"`
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := httputil.PathID(r, "examID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	exam, err := h.service.GetExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	view := adminExamView{Exam: exam, Questions: make([]models.QuestionDTO, len(exam.Questions))}
	for i, q := range exam.Questions {
		view.Questions[i] = q.ToDTO(true)
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := httputil.PathID(r, "examID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}
	exam := req.toExam()
	exam.ID = examID
	if err := h.service.UpdateExam(r.Context(), exam); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, exam)
}

type questionRequest struct {
	Text      string `json:"text"`
	ImagePath string `json:"image_path"`
	Options   []struct {
		Text      string `json:"text"`
		ImagePath string `json:"image_path"`
		IsCorrect bool   `json:"is_correct"`
	} `json:"options"`
}

func (req questionRequest) toQuestion() *models.Question {
	q := &models.Question{Text: req.Text, ImagePath: req.ImagePath}
	for _, o := range req.Options {
		q.Options = append(q.Options, models.Option{Text: o.Text, ImagePath: o.ImagePath, IsCorrect: o.IsCorrect})
	}
	return q
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	examID, ok := httputil.PathID(r, "examID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	q := req.toQuestion()
	if err := h.service.AddQuestion(r.Context(), examID, q); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, q.ToDTO(true))
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := httputil.PathID(r, "questionID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request")
		return
	}

	q, err := h.service.UpdateQuestion(r.Context(), questionID, req.toQuestion())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, q.ToDTO(true))
}

func (h *Handler) MoveQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := httputil.PathID(r, "questionID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	q, err := h.service.MoveQuestion(r.Context(), questionID, mux.Vars(r)["direction"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": q.ID, "order_idx": q.OrderIdx})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, ok := httputil.PathID(r, "questionID")
	if !ok {
		httputil.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	if err := h.service.DeleteQuestion(r.Context(), questionID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
