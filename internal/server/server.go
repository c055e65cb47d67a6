package server

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"lnadvisor/internal/advisor"
	"lnadvisor/internal/config"
	"lnadvisor/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server exposes the advisor over HTTP: the latest advice, the run history
// and a live WebSocket feed.
type Server struct {
	cfg     *config.Config
	logger  *log.Logger
	advisor *advisor.Advisor
	store   *store.Store
}

func New(cfg *config.Config, adv *advisor.Advisor, st *store.Store, logger *log.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		advisor: adv,
		store:   st,
	}
}

func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Printf("listening on http://%s", addr)
	return httpServer.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/actions", s.handleActions)
		r.Get("/actions/ws", s.handleActionsWS)
		r.Get("/actions/history", s.handleActionHistory)
		r.Get("/actions/history/{runID}", s.handleActionHistoryRun)
		r.Get("/channels", s.handleChannels)
		r.Get("/config", s.handleConfig)
	})
	return r
}
