package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/race-photos/internal/constants"
	"github.com/kozaktomas/race-photos/internal/web/handlers"
	"github.com/kozaktomas/race-photos/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	indexHandler := handlers.NewIndexHandler(s.deps.Indexer, s.deps.Bibs, s.logger)
	searchHandler := handlers.NewSearchHandler(s.deps.Searcher, s.deps.Embeddings, s.config.Search.DefaultK, s.logger)
	statsHandler := handlers.NewStatsHandler(s.deps.Index, s.deps.Embeddings, s.deps.Degraded, s.logger)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Uploads
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(constants.MaxRequestBodySize))

			r.Post("/photos/{photoID}/index", indexHandler.IndexPhoto)
			r.Post("/search/image", searchHandler.ByImage)
		})

		r.Get("/search/bib", searchHandler.ByBib)
		r.Get("/embeddings", searchHandler.ListEmbeddings)

		r.Get("/index/stats", statsHandler.Get)
		r.Get("/config", configHandler.Get)
	})
}
