// Package web serves the browser front end: a small JSON API over the session
// store plus the embedded single page UI.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/session"
)

const defaultMaxUploadBytes = 25 << 20

type Options struct {
	Sessions *session.Store
	// NewPipeline builds the throwaway pipeline behind POST /api/generate.
	NewPipeline func() *pipeline.Orchestrator
	Logger      *zerolog.Logger
	Static      fs.FS
	// BaseContext parents runs started through the session API. Runs outlive
	// the request that started them, so this must not be a request context.
	BaseContext    context.Context
	MaxUploadBytes int64
}

type Server struct {
	sessions       *session.Store
	newPipeline    func() *pipeline.Orchestrator
	logger         zerolog.Logger
	static         fs.FS
	baseCtx        context.Context
	maxUploadBytes int64
}

type apiError struct {
	Error string `json:"error"`
}

func New(opts Options) *Server {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "web").Logger()
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewStore(session.Options{})
	}

	return &Server{
		sessions:       sessions,
		newPipeline:    opts.NewPipeline,
		logger:         logger,
		static:         opts.Static,
		baseCtx:        baseCtx,
		maxUploadBytes: maxUpload,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.accessLog, middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/aspect-ratios", s.handleAspectRatios)
		r.Post("/generate", s.handleGenerate)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Put("/reference", s.handleUpload(roleReference))
				r.Put("/subject", s.handleUpload(roleSubject))
				r.Put("/aspect-ratio", s.handleAspectRatio)
				r.Post("/runs", s.handleStartRun)
				r.Post("/reset", s.handleReset)
				r.Get("/images/{n}", s.handleImage)
			})
		})
	})

	if s.static != nil {
		r.Handle("/*", http.FileServer(http.FS(s.static)))
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleAspectRatios(w http.ResponseWriter, _ *http.Request) {
	ratios := fusion.AspectRatios()
	out := make([]string, 0, len(ratios))
	for _, ar := range ratios {
		out = append(out, ar.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"aspect_ratios": out,
		"default":       fusion.DefaultAspectRatio.String(),
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}

var (
	errMissingImage     = errors.New("missing image")
	errUnsupportedMedia = errors.New("only image uploads are accepted")
)

// readImage reads one multipart file field and returns an upload for it.
func readImage(r *http.Request, field string) (*pipeline.Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, errMissingImage
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, &encoder.EncodingError{Op: "read " + field, Err: err}
	}
	if len(raw) == 0 {
		return nil, errMissingImage
	}

	mimeType := declaredType(header)
	if mimeType != "" && mimeType != "application/octet-stream" && !encoder.IsImageMimeType(mimeType) {
		return nil, errUnsupportedMedia
	}
	mimeType = encoder.DetectMimeType(mimeType, raw)
	if !encoder.IsImageMimeType(mimeType) {
		return nil, errUnsupportedMedia
	}

	return pipeline.NewUpload(header.Filename, mimeType, raw), nil
}

func declaredType(header *multipart.FileHeader) string {
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if strings.Contains(mimeType, ";") {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return strings.ToLower(mimeType)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	return r.ParseMultipartForm(s.maxUploadBytes)
}

func uploadStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, errUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
