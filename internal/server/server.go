// Package server exposes the expense API over HTTP: token auth, expense
// CRUD with natural-key upsert, global categories and month summaries.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"expensegrid/internal/events"
	"expensegrid/internal/security"
	"expensegrid/internal/storage"
)

// EventPublisher announces expense writes to the summary worker. Nil
// disables publishing; requests never fail on publish errors either way.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, event *events.ExpenseEvent) error
}

// Config holds the server tunables.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	http.Server

	repo      *storage.SQLiteRepository
	auth      *security.AuthService
	publisher EventPublisher
	limiter   *rate.Limiter

	// Category and summary reads are cached; writes invalidate.
	cache *gocache.Cache

	shutdownOnce sync.Once
}

// New wires routes and middleware, returning a ready-to-run server.
func New(cfg Config, repo *storage.SQLiteRepository, auth *security.AuthService, publisher EventPublisher) *Server {
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 30
	}

	s := &Server{
		repo:      repo,
		auth:      auth,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		cache:     gocache.New(5*time.Minute, 10*time.Minute),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(corsMiddleware)
	r.Use(s.rateLimit)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/expenses", s.handleListExpenses)
			r.Post("/expenses", s.handleUpsertExpense)
			r.Put("/expenses/{id}", s.handleUpdateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Get("/categories", s.handleListCategories)
			r.Post("/categories", s.handleCreateCategory)
			r.Get("/summary", s.handleMonthSummary)
		})
	})

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}
