// Package http is the browser-facing shell around the quiz core. It owns
// attempt lifecycles and exposes them as JSON routes.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	authmw "github.com/mind-engage/groundschool/internal/auth/middleware"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/figure"
	"github.com/mind-engage/groundschool/internal/grading"
	"github.com/mind-engage/groundschool/internal/journal"
	"github.com/mind-engage/groundschool/internal/lessongrade"
	"github.com/mind-engage/groundschool/internal/quiz"
	"github.com/mind-engage/groundschool/internal/rbac"
	"github.com/mind-engage/groundschool/pkg/logger"
)

// LessonBackend is the instructor side of the backend, bound to one bearer.
type LessonBackend interface {
	lessongrade.RosterSource
	lessongrade.LessonSource
	lessongrade.Submitter
}

// Backend is everything the shell calls besides question fetch and grading.
type Backend interface {
	grading.Finalizer
	Login(ctx context.Context, username, password string) (backend.Instructor, error)
	AsInstructor(ctx context.Context, token string) LessonBackend
}

// ClientBackend adapts *backend.Client to Backend.
type ClientBackend struct{ *backend.Client }

func (c ClientBackend) AsInstructor(ctx context.Context, token string) LessonBackend {
	return c.Client.WithToken(ctx, token)
}

type Settings struct {
	PassPercent       float64
	DefaultTopicCount int
	QuestionCap       int
	GateRequired      bool
	FinalLesson       string
	// SubmitTimeout bounds grading once a submission has started. The
	// backend client applies its own per-call timeout underneath.
	SubmitTimeout time.Duration
}

type Server struct {
	bank     backend.QuestionBank
	grader   quiz.Grader
	backend  Backend
	auth     *authmw.AuthService
	checker  *rbac.Checker
	journal  journal.Recorder
	prober   figure.Prober
	policy   lessongrade.Policy
	registry *Registry
	settings Settings
	log      logger.Log
	newID    func() string
}

type Deps struct {
	Bank     backend.QuestionBank
	Grader   quiz.Grader
	Backend  Backend
	Auth     *authmw.AuthService
	Checker  *rbac.Checker    // nil means the default policy
	Journal  journal.Recorder // nil means no journal
	Figures  figure.Prober    // probed once per URL per attempt
	Policy   lessongrade.Policy
	Registry *Registry
	Log      logger.Log
	NewID    func() string // nil means uuid
}

func NewServer(d Deps, s Settings) *Server {
	srv := &Server{
		bank:     d.Bank,
		grader:   d.Grader,
		backend:  d.Backend,
		auth:     d.Auth,
		checker:  d.Checker,
		journal:  d.Journal,
		prober:   d.Figures,
		policy:   d.Policy,
		registry: d.Registry,
		settings: s,
		log:      d.Log,
		newID:    d.NewID,
	}
	if srv.checker == nil {
		srv.checker = rbac.NewChecker(nil)
	}
	if srv.journal == nil {
		srv.journal = journal.Nop{}
	}
	if srv.registry == nil {
		srv.registry = NewRegistry(0)
	}
	if srv.log == nil {
		srv.log = logger.Discard()
	}
	if srv.newID == nil {
		srv.newID = uuid.NewString
	}
	if srv.prober == nil {
		srv.prober = figure.HTTPProber{Timeout: 5 * time.Second}
	}
	if srv.settings.SubmitTimeout <= 0 {
		srv.settings.SubmitTimeout = time.Minute
	}
	return srv
}

// Mount registers the shell routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/sessions", s.handleCreateSession)
	r.Post("/instructor/login", s.handleInstructorLogin)

	sessionID := func(r *http.Request) string { return chi.URLParam(r, "id") }
	r.Route("/sessions/{id}", func(sr chi.Router) {
		sr.Use(authmw.JWTMiddleware(s.auth), authmw.RequireSession(sessionID))
		sr.With(s.checker.Require("session:view")).Get("/", s.handleGetSession)
		sr.With(s.checker.Require("session:unlock")).Post("/unlock", s.handleUnlock)
		sr.With(s.checker.Require("session:answer")).Put("/answers/{index}", s.handleAnswer)
		sr.With(s.checker.Require("session:submit")).Post("/submit", s.handleSubmit)
		sr.With(s.checker.Require("session:endorse")).Post("/endorsement", s.handleEndorsement)
		sr.With(s.checker.Require("session:view")).Get("/questions/{index}/figure", s.handleFigure)
	})

	r.Route("/instructor/lessons/{code}", func(ir chi.Router) {
		ir.Use(authmw.JWTMiddleware(s.auth))
		ir.With(s.checker.Require("lesson:view")).Get("/form", s.handleLessonForm)
		ir.With(s.checker.Require("lesson:grade")).Post("/grade", s.handleLessonGrade)
	})
}

func (s *Server) record(ctx context.Context, typ journal.Type, id string, data any) {
	if err := s.journal.Record(ctx, typ, id, data); err != nil {
		s.log.ErrorErr("journal append failed", err, "type", string(typ), "attempt", id)
	}
}
