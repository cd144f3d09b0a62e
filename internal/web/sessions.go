package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"restyle-studio/internal/fusion"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/session"
)

type role string

const (
	roleReference role = "reference"
	roleSubject   role = "subject"
)

type uploadInfo struct {
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type stateResponse struct {
	SessionID   string      `json:"session_id"`
	Phase       string      `json:"phase"`
	Progress    string      `json:"progress,omitempty"`
	Error       string      `json:"error,omitempty"`
	RunID       string      `json:"run_id,omitempty"`
	AspectRatio string      `json:"aspect_ratio"`
	Reference   *uploadInfo `json:"reference,omitempty"`
	Subject     *uploadInfo `json:"subject,omitempty"`
	Images      []string    `json:"images"`
	CanStart    bool        `json:"can_start"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func newStateResponse(id string, st pipeline.State) stateResponse {
	resp := stateResponse{
		SessionID:   id,
		Phase:       st.Phase.String(),
		Progress:    st.Progress,
		Error:       st.Error,
		RunID:       st.RunID,
		AspectRatio: st.AspectRatio.String(),
		Reference:   toUploadInfo(st.Reference),
		Subject:     toUploadInfo(st.Subject),
		Images:      make([]string, 0, len(st.Images)),
		CanStart:    st.CanStart(),
		UpdatedAt:   st.UpdatedAt,
	}
	for i := range st.Images {
		resp.Images = append(resp.Images, fmt.Sprintf("/api/sessions/%s/images/%d", id, i+1))
	}
	return resp
}

func toUploadInfo(u *pipeline.Upload) *uploadInfo {
	if u == nil {
		return nil
	}
	return &uploadInfo{Name: u.Name, MimeType: u.MimeType, UploadedAt: u.UploadedAt}
}

// lookup resolves the {id} URL parameter, writing 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "session not found"})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpload(slot role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}

		if err := s.parseMultipart(w, r); err != nil {
			writeJSON(w, uploadStatus(err), apiError{Error: "invalid multipart form"})
			return
		}

		upload, err := readImage(r, "image")
		if err != nil {
			writeJSON(w, uploadStatus(err), apiError{Error: err.Error()})
			return
		}

		switch slot {
		case roleReference:
			sess.Pipeline.SetReference(upload)
		case roleSubject:
			sess.Pipeline.SetSubject(upload)
		}

		s.logger.Debug().
			Str("session_id", sess.ID).
			Str("role", string(slot)).
			Str("mime_type", upload.MimeType).
			Msg("image uploaded")

		writeJSON(w, http.StatusOK, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
	}
}

func (s *Server) handleAspectRatio(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		AspectRatio string `json:"aspect_ratio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
		return
	}

	ar, err := fusion.ParseAspectRatio(body.AspectRatio)
	if err == nil {
		err = sess.Pipeline.SetAspectRatio(ar)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	_, err := sess.Pipeline.Start(s.baseCtx)
	var verr *pipeline.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, apiError{Error: verr.UserMessage()})
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, apiError{Error: pipeline.Message(err)})
	default:
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("start run")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: pipeline.Message(err)})
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Pipeline.Reset()
	writeJSON(w, http.StatusOK, newStateResponse(sess.ID, sess.Pipeline.Snapshot()))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	st := sess.Pipeline.Snapshot()
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || st.Phase != pipeline.Succeeded || n < 1 || n > len(st.Images) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "image not found"})
		return
	}

	img := st.Images[n-1]
	raw, err := img.Bytes()
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Int("index", n).Msg("decode result image")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "image is corrupt"})
		return
	}

	w.Header().Set("content-type", img.MimeType)
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=restyle-%d%s", n, img.Extension()))
	w.Header().Set("content-length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
