package web

import (
	"context"
	"errors"
	"net/http"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/style"
)

type generateResponse struct {
	AspectRatio string   `json:"aspect_ratio"`
	Images      []string `json:"images"`
}

// handleGenerate runs the whole pipeline within one request: multipart fields
// reference, subject and optional aspect_ratio in, four data URLs out.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.newPipeline == nil {
		writeJSON(w, http.StatusNotImplemented, apiError{Error: "generation is not configured"})
		return
	}

	if err := s.parseMultipart(w, r); err != nil {
		writeJSON(w, uploadStatus(err), apiError{Error: "invalid multipart form"})
		return
	}

	ar, err := fusion.ParseAspectRatio(r.FormValue("aspect_ratio"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	p := s.newPipeline()
	_ = p.SetAspectRatio(ar)

	for _, slot := range []role{roleReference, roleSubject} {
		upload, err := readImage(r, string(slot))
		if errors.Is(err, errMissingImage) {
			continue
		}
		if err != nil {
			writeJSON(w, uploadStatus(err), apiError{Error: string(slot) + ": " + err.Error()})
			return
		}
		if slot == roleReference {
			p.SetReference(upload)
		} else {
			p.SetSubject(upload)
		}
	}

	run, err := p.Start(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: pipeline.Message(err)})
		return
	}

	images, err := run.Wait(r.Context())
	if err != nil {
		p.Reset()
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("generate failed")
		writeJSON(w, runErrorStatus(err), apiError{Error: pipeline.Message(err)})
		return
	}

	out := generateResponse{
		AspectRatio: ar.String(),
		Images:      make([]string, 0, len(images)),
	}
	for _, img := range images {
		out.Images = append(out.Images, img.DataURL())
	}
	writeJSON(w, http.StatusOK, out)
}

func runErrorStatus(err error) int {
	var (
		encErr      *encoder.EncodingError
		analysisErr *style.AnalysisError
		fusionErr   *fusion.Error
	)
	switch {
	case errors.As(err, &encErr):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	case errors.As(err, &analysisErr), errors.As(err, &fusionErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
