package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/groundschool/internal/apperrors"
	authmw "github.com/mind-engage/groundschool/internal/auth/middleware"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/journal"
	"github.com/mind-engage/groundschool/internal/lessongrade"
)

// POST /instructor/login
func (s *Server) handleInstructorLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		s.writeError(w, r, apperrors.Validation("login", "username and password required"))
		return
	}
	in, err := s.backend.Login(r.Context(), req.Username, req.Password)
	if apperrors.IsKind(err, apperrors.KindAuth) {
		s.writeErrorStatus(w, r, http.StatusUnauthorized, err)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tok, err := s.auth.IssueInstructor(in.Username, in.Token)
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Token string             `json:"token"`
		User  backend.Instructor `json:"user"`
	}{tok, in})
}

// lessonBackend binds the backend to the bearer held for the caller's
// instructor token. A token whose bearer is gone (expired, or issued before a
// restart) gets a 401 so the shell logs in again.
func (s *Server) lessonBackend(w http.ResponseWriter, r *http.Request) (LessonBackend, bool) {
	bearer, ok := s.auth.BackendToken(authmw.ClaimsFromContext(r.Context()))
	if !ok {
		s.writeErrorStatus(w, r, http.StatusUnauthorized, apperrors.Auth("instructor", "instructor login expired"))
		return nil, false
	}
	return s.backend.AsInstructor(r.Context(), bearer), true
}

type lessonFormResp struct {
	lessongrade.Sheet
	Flight          bool `json:"flight"`
	MaxCarryForward int  `json:"max_carry_forward"`
}

// GET /instructor/lessons/{code}/form
func (s *Server) handleLessonForm(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	lb, ok := s.lessonBackend(w, r)
	if !ok {
		return
	}
	sh, err := lessongrade.Load(r.Context(), lb, lb, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lessonFormResp{
		Sheet:           sh,
		Flight:          lessongrade.IsFlight(sh.Lesson.Type),
		MaxCarryForward: s.policy.MaxCarryForward,
	})
}

// POST /instructor/lessons/{code}/grade
func (s *Server) handleLessonGrade(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	var f lessongrade.Form
	if err := decodeJSON(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(f.Lesson) == "" {
		f.Lesson = code
	}
	lb, ok := s.lessonBackend(w, r)
	if !ok {
		return
	}
	sh, err := lessongrade.Load(r.Context(), lb, lb, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, out, err := s.policy.Submit(r.Context(), lb, f, sh)
	if apperrors.IsKind(err, apperrors.KindValidation) {
		s.writeErrorStatus(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.record(r.Context(), journal.LessonGradeSubmitted, "lesson:"+sh.Lesson.Code, map[string]any{
		"student":       f.StudentEmail,
		"overall":       f.OverallGrade,
		"draft":         out.Draft,
		"carry_forward": out.CarryForward,
	})
	respondJSON(w, http.StatusOK, struct {
		Form    lessongrade.Form    `json:"form"`
		Outcome lessongrade.Outcome `json:"outcome"`
	}{f, out})
}
