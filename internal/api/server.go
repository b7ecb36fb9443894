package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/digkill/QuickDatePay/internal/config"
	"github.com/digkill/QuickDatePay/internal/service"
)

type Server struct {
	addr     string
	log      *slog.Logger
	payments *service.PaymentService
	router   *chi.Mux
	handler  http.Handler
}

func NewServer(cfg config.Config, log *slog.Logger, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     cfg.ListenAddr,
		log:      log,
		payments: payments,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/aamarpay", func(r chi.Router) {
		r.Post("/get", s.handleAamarpayGet)
		r.Post("/success", s.handleAamarpaySuccess)
	})
	r.Route("/authorize", func(r chi.Router) {
		r.Get("/config", s.handleAuthorizeConfig)
		r.Post("/pay", s.handleAuthorizePay)
	})
	if cfg.DebugEndpoints {
		log.Warn("debug endpoints enabled; do not expose in production")
		r.Get("/debug/db", s.handleDebugDB)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:         int((12 * time.Hour).Seconds()),
	})
	s.handler = c.Handler(r)
	return s
}

// Handler is the full middleware chain, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.handler,
		// Authorize.Net charges may take up to their own timeout plus one retry.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("payment server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
