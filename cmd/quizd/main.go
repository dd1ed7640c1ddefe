package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/mind-engage/groundschool/internal/api/http"
	auth "github.com/mind-engage/groundschool/internal/auth/middleware"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/config"
	"github.com/mind-engage/groundschool/internal/figure"
	"github.com/mind-engage/groundschool/internal/grading"
	"github.com/mind-engage/groundschool/internal/journal"
	"github.com/mind-engage/groundschool/internal/lessongrade"
	"github.com/mind-engage/groundschool/internal/server"
	"github.com/mind-engage/groundschool/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	client, err := backend.New(backend.Config{
		Endpoint:     cfg.ScriptEndpoint,
		SharedSecret: cfg.SharedSecret,
		Timeout:      cfg.RequestTimeout,
	})
	if err != nil {
		log.FatalErr("backend client", err)
	}
	bank, err := backend.NewBank(cfg.Mode(), client)
	if err != nil {
		log.FatalErr("question bank", err)
	}
	grader, err := grading.New(cfg.Mode(), client)
	if err != nil {
		log.FatalErr("grader", err)
	}

	// --- Journal (optional) ---
	var rec journal.Recorder = journal.Nop{}
	if cfg.DBDriver != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		j, err := journal.Open(ctx, journal.Driver(cfg.DBDriver), cfg.DBDSN, cfg.SiteID)
		cancel()
		if err != nil {
			log.FatalErr("journal open failed", err, "driver", cfg.DBDriver)
		}
		defer j.Close()
		rec = j
	}

	shell := api.NewServer(api.Deps{
		Bank:     bank,
		Grader:   grader,
		Backend:  api.ClientBackend{Client: client},
		Auth:     auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Journal:  rec,
		Figures:  figure.HTTPProber{Timeout: cfg.RequestTimeout},
		Policy:   lessongrade.Policy{MaxCarryForward: cfg.MaxCarryForward},
		Registry: api.NewRegistry(0),
		Log:      log,
	}, api.Settings{
		PassPercent:       cfg.PassPercent,
		DefaultTopicCount: cfg.DefaultTopicCount,
		QuestionCap:       cfg.QuestionCap,
		GateRequired:      cfg.AccessCodeRequired,
		FinalLesson:       cfg.FinalLessonCode,
		SubmitTimeout:     cfg.RequestTimeout + 5*time.Second,
	})

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, api.RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(2*cfg.RequestTimeout + 10*time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	shell.Mount(r)

	srv := server.New(cfg.HTTPAddr, r, cfg.ShutdownTimeout)
	srv.Start()
	log.Info("listening", "addr", cfg.HTTPAddr, "mode", string(cfg.Mode()), "gate", cfg.AccessCodeRequired, "journal", cfg.DBDriver)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-stop:
		log.Info("shutting down", "signal", s.String())
	case err := <-srv.Notify():
		if err != nil {
			log.ErrorErr("server stopped", err)
		}
	}
	if err := srv.Shutdown(); err != nil && err != http.ErrServerClosed {
		log.ErrorErr("shutdown", err)
	}
}
