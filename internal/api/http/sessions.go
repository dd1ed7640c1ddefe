package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/figure"
	"github.com/mind-engage/groundschool/internal/gate"
	"github.com/mind-engage/groundschool/internal/grading"
	"github.com/mind-engage/groundschool/internal/journal"
	"github.com/mind-engage/groundschool/internal/quiz"
	"github.com/mind-engage/groundschool/internal/topics"
)

type createSessionReq struct {
	Lesson      string   `json:"lesson"`
	Topics      string   `json:"topics"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	PassPercent *float64 `json:"pass_percent,omitempty"`
	Code        string   `json:"code,omitempty"`
}

type sessionResp struct {
	SessionID string          `json:"session_id"`
	Token     string          `json:"token,omitempty"`
	State     string          `json:"state"`
	Questions []quiz.Question `json:"questions,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// POST /sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spec, warns := topics.Parse(req.Topics, s.settings.DefaultTopicCount)
	for _, wn := range warns {
		s.log.Warn("topic spec", "warning", wn.String(), "lesson", req.Lesson)
	}
	if spec.Empty() {
		s.writeError(w, r, apperrors.Validation("create", "topic mix %q requests no questions", req.Topics))
		return
	}
	pass := s.settings.PassPercent
	if req.PassPercent != nil {
		pass = *req.PassPercent
		if pass < 0 || pass > 100 {
			s.writeError(w, r, apperrors.Validation("create", "pass_percent %v must be within [0,100]", pass))
			return
		}
	}

	a := &attempt{
		id:          s.newID(),
		passPercent: pass,
		figures:     figure.NewResolver(s.prober),
		meta: quiz.Meta{
			Lesson:         strings.TrimSpace(req.Lesson),
			StudentName:    strings.TrimSpace(req.Name),
			StudentEmail:   strings.TrimSpace(req.Email),
			Topics:         spec.String(),
			RequestedCount: spec.Total(),
		},
	}
	a.gate = gate.New(s.settings.GateRequired, func(ctx context.Context, code string) (backend.Batch, error) {
		return s.bank.FetchQuestions(ctx, backend.FetchRequest{
			Topics:     spec,
			Lesson:     a.meta.Lesson,
			Cap:        s.settings.QuestionCap,
			AccessCode: code,
		})
	})
	token, err := s.auth.IssueSession(a.id)
	if err != nil {
		s.writeErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	s.registry.put(a)

	if a.gate.Required() && strings.TrimSpace(req.Code) == "" {
		respondJSON(w, http.StatusLocked, sessionResp{SessionID: a.id, Token: token, State: string(gate.Locked)})
		return
	}

	batch, err := a.gate.AutoUnlock(r.Context(), req.Code)
	if err != nil {
		if !a.gate.Required() {
			// Without a gate there is nothing to retry; no partial session.
			s.registry.remove(a.id)
			s.writeError(w, r, err)
			return
		}
		s.respondLocked(w, r, a, token, err)
		return
	}
	s.openSession(w, r, a, token, batch, http.StatusCreated)
}

// POST /sessions/{id}/unlock
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attemptFor(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	batch, err := a.gate.Unlock(r.Context(), req.Code)
	switch {
	case errors.Is(err, gate.ErrUnlocked), errors.Is(err, gate.ErrBusy):
		s.writeErrorStatus(w, r, http.StatusConflict, err)
		return
	case err != nil:
		s.respondLocked(w, r, a, "", err)
		return
	}
	s.openSession(w, r, a, "", batch, http.StatusOK)
}

// respondLocked reports a failed unlock. The gate is re-armed either way.
func (s *Server) respondLocked(w http.ResponseWriter, r *http.Request, a *attempt, token string, err error) {
	status := statusFor(err)
	s.log.Info("gate unlock failed", "attempt", a.id, "kind", apperrors.KindOf(err).String(), "attempts", a.gate.Attempts())
	respondJSON(w, status, sessionResp{SessionID: a.id, Token: token, State: string(a.gate.State()), Error: err.Error()})
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request, a *attempt, token string, batch backend.Batch, status int) {
	attemptID := batch.QuizID
	if attemptID == "" {
		attemptID = a.id
	}
	sess, err := quiz.NewSession(batch.Questions, a.passPercent, attemptID, a.meta)
	if err != nil {
		s.registry.remove(a.id)
		s.writeError(w, r, apperrors.Protocol("create", err.Error(), nil))
		return
	}
	a.setSession(sess)
	s.record(r.Context(), journal.SessionCreated, a.id, map[string]any{
		"attempt_id": attemptID,
		"lesson":     a.meta.Lesson,
		"topics":     a.meta.Topics,
		"requested":  a.meta.RequestedCount,
		"received":   sess.Len(),
	})
	if sess.Len() < a.meta.RequestedCount {
		s.log.Debug("backend returned fewer questions than requested", "attempt", a.id, "requested", a.meta.RequestedCount, "received", sess.Len())
	}
	v := sess.Snapshot()
	respondJSON(w, status, sessionResp{SessionID: a.id, Token: token, State: string(v.State), Questions: v.Questions})
}

func (s *Server) attemptFor(w http.ResponseWriter, r *http.Request) (*attempt, bool) {
	a, ok := s.registry.get(chi.URLParam(r, "id"))
	if !ok {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
		return nil, false
	}
	return a, true
}

// sessionFor is attemptFor for routes that need an unlocked session.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*attempt, *quiz.Session, bool) {
	a, ok := s.attemptFor(w, r)
	if !ok {
		return nil, nil, false
	}
	sess := a.Session()
	if sess == nil {
		respondJSON(w, http.StatusLocked, sessionResp{SessionID: a.id, State: string(a.gate.State()), Error: "session is locked"})
		return nil, nil, false
	}
	return a, sess, true
}

type endorsementView struct {
	Offered bool `json:"offered"`
	Used    bool `json:"used"`
}

type sessionView struct {
	SessionID   string           `json:"session_id"`
	AttemptID   string           `json:"attempt_id,omitempty"`
	Lesson      string           `json:"lesson"`
	PassPercent float64          `json:"pass_percent"`
	Captions    []string         `json:"captions,omitempty"`
	Endorsement *endorsementView `json:"endorsement,omitempty"`
	quiz.View
}

// GET /sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	a, ok := s.attemptFor(w, r)
	if !ok {
		return
	}
	sess := a.Session()
	if sess == nil {
		respondJSON(w, http.StatusOK, sessionResp{SessionID: a.id, State: string(a.gate.State())})
		return
	}
	v := sessionView{
		SessionID:   a.id,
		AttemptID:   sess.AttemptID(),
		Lesson:      a.meta.Lesson,
		PassPercent: sess.PassPercent(),
		View:        sess.Snapshot(),
	}
	v.Captions = make([]string, len(v.Questions))
	for i, q := range v.Questions {
		v.Captions[i] = q.Figure.Caption()
	}
	if e := a.Endorsement(); e != nil {
		v.Endorsement = &endorsementView{Offered: true, Used: e.Used()}
	}
	respondJSON(w, http.StatusOK, v)
}

// PUT /sessions/{id}/answers/{index}
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, apperrors.Validation("answer", "question index %q is not a number", chi.URLParam(r, "index")))
		return
	}
	var req struct {
		Choice *int `json:"choice"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Choice == nil {
		s.writeError(w, r, apperrors.Validation("answer", "choice is required"))
		return
	}
	if err := sess.RecordAnswer(idx, *req.Choice); err != nil {
		if errors.Is(err, quiz.ErrNotOpen) {
			s.writeErrorStatus(w, r, http.StatusConflict, err)
			return
		}
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitResp struct {
	Result      quiz.Result `json:"result"`
	Endorsement bool        `json:"endorsement_available"`
}

// POST /sessions/{id}/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	a, sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.State() != quiz.StateOpen {
		s.writeErrorStatus(w, r, http.StatusConflict, quiz.ErrAlreadySubmitted)
		return
	}
	// Grading outlives the browser request once the answers are sent.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.settings.SubmitTimeout)
	defer cancel()

	// Only the caller that wins the session lock reaches the grader, so
	// submit_started is journaled once per attempt.
	res, err := sess.Submit(ctx, quiz.GraderFunc(func(ctx context.Context, sheet quiz.Sheet) (quiz.Result, error) {
		s.record(ctx, journal.SubmitStarted, a.id, map[string]any{"attempt_id": sheet.AttemptID})
		return s.grader.Grade(ctx, sheet)
	}))
	if errors.Is(err, quiz.ErrAlreadySubmitted) {
		s.writeErrorStatus(w, r, http.StatusConflict, err)
		return
	}
	if err != nil {
		s.record(ctx, journal.SubmitFailed, a.id, map[string]any{"error": err.Error(), "kind": apperrors.KindOf(err).String()})
		s.writeError(w, r, err)
		return
	}
	s.record(ctx, journal.SubmitSucceeded, a.id, res)

	e, offered := grading.Offer(a.meta.Lesson, s.settings.FinalLesson, res, s.backend)
	if offered {
		a.setEndorsement(e)
	}
	s.log.Info("attempt graded", "attempt", a.id, "score", res.Score, "total", res.Total, "passed", res.Passed, "delegated", res.Delegated)
	respondJSON(w, http.StatusOK, submitResp{Result: res, Endorsement: offered})
}

// POST /sessions/{id}/endorsement
func (s *Server) handleEndorsement(w http.ResponseWriter, r *http.Request) {
	a, _, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	e := a.Endorsement()
	if e == nil {
		s.writeErrorStatus(w, r, http.StatusConflict, errors.New("endorsement check is not available for this attempt"))
		return
	}
	el, err := e.Request(r.Context(), a.meta.StudentName, a.meta.StudentEmail)
	if errors.Is(err, grading.ErrEndorsementUsed) {
		s.writeErrorStatus(w, r, http.StatusConflict, err)
		return
	}
	payload := map[string]any{"eligible": el.Eligible, "reason": el.Reason}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.record(r.Context(), journal.EndorsementRequested, a.id, payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, el)
}

// GET /sessions/{id}/questions/{index}/figure
func (s *Server) handleFigure(w http.ResponseWriter, r *http.Request) {
	a, sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, r, apperrors.Validation("figure", "question index %q is not a number", chi.URLParam(r, "index")))
		return
	}
	q, ok := sess.Question(idx)
	if !ok {
		s.writeError(w, r, apperrors.Validation("figure", "question index %d out of range", idx))
		return
	}
	if q.Figure == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "question has no figure"})
		return
	}
	u, ok := a.figures.Resolve(r.Context(), q.Figure)
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "figure unavailable", "caption": q.Figure.Caption()})
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}
