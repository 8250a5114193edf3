// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/metatrace/metascan/internal/pipeline"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	svc         *pipeline.Service
	maxUploadMB int64
}

// NewServer creates a Server.
func NewServer(svc *pipeline.Service, maxUploadMB int64) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &Server{svc: svc, maxUploadMB: maxUploadMB}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/analyze/narrative", s.handleAnalyzeNarrative)
	r.Post("/upload", s.handleUpload)
	r.Post("/explain", s.handleExplain)
	r.Get("/records", s.handleListRecords)
	r.Get("/records/{id}", s.handleGetRecord)

	return r
}
