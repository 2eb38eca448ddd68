// Package share publishes finished books over HTTP and provides client for
// the same API.
package share

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"weaver/book"
	"weaver/config"
	"weaver/store"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 30 * time.Second

	msgNotFound = "Story not found"
)

// Server exposes story store over HTTP.
type Server struct {
	addr    string
	maxBody int64
	store   store.Store
	server  *http.Server
	tmpl    *template.Template
	log     *zap.Logger
}

// NewServer creates server over st.
func NewServer(cfg config.ShareConfig, st store.Store, log *zap.Logger) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("unable to parse templates: %w", err)
	}

	s := &Server{
		addr:    cfg.Listen,
		maxBody: cfg.MaxBodyBytes,
		store:   st,
		tmpl:    tmpl,
		log:     log.Named("share"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.logRequests(mux),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns server routes, used in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/stories", s.handleCreate)
	mux.HandleFunc("GET /api/stories", s.handleList)
	mux.HandleFunc("POST /api/stories/{id}/pages", s.handleAppend)
	mux.HandleFunc("GET /api/stories/{id}", s.handleFetch)
	mux.HandleFunc("GET /share/{id}", s.handleView)
}

// ListenAndServe starts the HTTP server and blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("Starting share server", zap.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down share server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		s.log.Info("Share server stopped")
		return nil

	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, store.ErrStoryNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgNotFound})
	case errors.Is(err, store.ErrPageExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
	default:
		s.log.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, err)
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.store.CreateStory(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("Story created", zap.String("id", id), zap.String("title", store.Title(req.Title)))
	writeJSON(w, http.StatusOK, createResponse{ID: id, Success: true})
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.PageIndex == nil || *req.PageIndex < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "page_index must be a non-negative integer"})
		return
	}
	img, err := decodeImage(req.Image)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "image must be a base64 data url"})
		return
	}
	page := store.Page{Index: *req.PageIndex, Image: img, Text: req.Text}
	if err := s.store.AppendPage(r.Context(), r.PathValue("id"), page); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.FetchStory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStoryJSON(st))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListStories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]summaryJSON, 0, len(list))
	for _, sum := range list {
		out = append(out, summaryJSON{ID: sum.ID, Title: sum.Title, CreatedAt: sum.CreatedAt, Pages: sum.Pages})
	}
	writeJSON(w, http.StatusOK, out)
}

type viewPage struct {
	Label      string
	Image      template.URL
	Paragraphs []string
}

type viewStory struct {
	Title string
	Pages []viewPage
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.FetchStory(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrStoryNotFound) {
		http.Error(w, msgNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("Unable to fetch story", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	view := viewStory{Title: st.Title}
	for _, p := range st.Pages {
		vp := viewPage{Label: book.PageLabel(p.Index)}
		if p.Image != nil && p.Image.IsImage() {
			// data url built from decoded payload
			vp.Image = template.URL(p.Image.DataURL())
		}
		if p.Text != nil {
			vp.Paragraphs = book.Paragraphs(*p.Text)
		}
		view.Pages = append(view.Pages, vp)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "story.html", view); err != nil {
		s.log.Error("Unable to execute template", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
