package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/pipeline"
	"restyle-studio/internal/session"
	"restyle-studio/internal/style"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type stubExtractor struct {
	gate chan struct{}
}

func (s *stubExtractor) Extract(ctx context.Context, _ encoder.Image) (style.Descriptor, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return style.Descriptor{}, ctx.Err()
		}
	}
	return style.Descriptor{
		Style: "ukiyo-e", Subject: "wave", Composition: "diagonal",
		Lighting: "flat", Colors: "indigo", Mood: "dramatic",
	}, nil
}

type stubFuser struct {
	err error
}

func (s *stubFuser) Fuse(_ context.Context, _ style.Descriptor, _ encoder.Image, _ fusion.AspectRatio) ([]encoder.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]encoder.Image, fusion.Count)
	for i := range out {
		out[i] = encoder.Image{
			Data:     base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("result-%d", i+1))),
			MimeType: "image/png",
		}
	}
	return out, nil
}

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Store
}

func newTestEnv(t *testing.T, ex *stubExtractor, fu *stubFuser) *testEnv {
	t.Helper()

	build := func() *pipeline.Orchestrator {
		return pipeline.New(pipeline.Options{Extractor: ex, Fuser: fu, RunTimeout: 5 * time.Second})
	}
	sessions := session.NewStore(session.Options{
		New: func(string) *pipeline.Orchestrator { return build() },
	})

	s := New(Options{
		Sessions:    sessions,
		NewPipeline: build,
		Static:      fstest.MapFS{"index.html": {Data: []byte("<html>restyle</html>")}},
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/api/sessions", nil, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	var st stateResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return st.SessionID
}

func (e *testEnv) upload(t *testing.T, id, slot string, data []byte) *http.Response {
	t.Helper()
	body, ct := multipartBody(t, map[string][]byte{"image": data}, nil)
	resp, _ := e.do(t, http.MethodPut, "/api/sessions/"+id+"/"+slot, body, ct)
	return resp
}

func (e *testEnv) state(t *testing.T, id string) stateResponse {
	t.Helper()
	resp, raw := e.do(t, http.MethodGet, "/api/sessions/"+id, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session: status %d", resp.StatusCode)
	}
	var st stateResponse
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return st
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(name, name+".bin")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAspectRatiosEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})

	resp, raw := env.do(t, http.MethodGet, "/api/aspect-ratios", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		AspectRatios []string `json:"aspect_ratios"`
		Default      string   `json:"default"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(body.AspectRatios, ",") != "1:1,4:3,3:4,16:9,9:16" || body.Default != "1:1" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHealthAndStatic(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})

	if resp, _ := env.do(t, http.MethodGet, "/healthz", nil, ""); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: status %d", resp.StatusCode)
	}
	resp, raw := env.do(t, http.MethodGet, "/", nil, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "restyle") {
		t.Errorf("index: status %d body %q", resp.StatusCode, raw)
	}
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})

	if resp, _ := env.do(t, http.MethodGet, "/api/sessions/nope", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/sessions/nope/runs", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})
	id := env.createSession(t)

	if resp := env.upload(t, id, "reference", []byte("just some text")); resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.StatusCode)
	}
	if st := env.state(t, id); st.Reference != nil {
		t.Error("rejected upload must not fill the slot")
	}
}

func TestStartWithoutSubjectIsValidationError(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})
	id := env.createSession(t)

	if resp := env.upload(t, id, "reference", pngBytes); resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	st := env.state(t, id)
	if st.Reference == nil || st.Reference.MimeType != "image/png" {
		t.Fatalf("expected png reference, got %+v", st.Reference)
	}
	if st.CanStart {
		t.Error("trigger must be disabled with one image")
	}

	resp, raw := env.do(t, http.MethodPost, "/api/sessions/"+id+"/runs", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "subject") {
		t.Errorf("expected message naming the subject, got %s", raw)
	}
	if st := env.state(t, id); st.Phase != "idle" {
		t.Errorf("expected idle, got %s", st.Phase)
	}
}

func TestSetAspectRatio(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})
	id := env.createSession(t)

	resp, _ := env.do(t, http.MethodPut, "/api/sessions/"+id+"/aspect-ratio", strings.NewReader(`{"aspect_ratio":"9:16"}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if st := env.state(t, id); st.AspectRatio != "9:16" {
		t.Errorf("expected 9:16, got %s", st.AspectRatio)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/sessions/"+id+"/aspect-ratio", strings.NewReader(`{"aspect_ratio":"21:9"}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRunLifecycle(t *testing.T) {
	ex := &stubExtractor{gate: make(chan struct{})}
	env := newTestEnv(t, ex, &stubFuser{})
	id := env.createSession(t)

	env.upload(t, id, "reference", pngBytes)
	env.upload(t, id, "subject", pngBytes)

	resp, raw := env.do(t, http.MethodPost, "/api/sessions/"+id+"/runs", nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var started stateResponse
	_ = json.Unmarshal(raw, &started)
	if started.Phase != "awaiting_style_analysis" || started.CanStart {
		t.Errorf("unexpected state after start: %+v", started)
	}

	if resp, _ := env.do(t, http.MethodPost, "/api/sessions/"+id+"/runs", nil, ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while running, got %d", resp.StatusCode)
	}

	close(ex.gate)

	deadline := time.Now().Add(5 * time.Second)
	var st stateResponse
	for {
		st = env.state(t, id)
		if st.Phase == "succeeded" || st.Phase == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in %s", st.Phase)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.Phase != "succeeded" || len(st.Images) != fusion.Count {
		t.Fatalf("expected 4 images, got %s with %d", st.Phase, len(st.Images))
	}

	resp, raw = env.do(t, http.MethodGet, st.Images[1], nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("image: status %d", resp.StatusCode)
	}
	if string(raw) != "result-2" {
		t.Errorf("unexpected image body %q", raw)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != "attachment; filename=restyle-2.png" {
		t.Errorf("unexpected content disposition %q", cd)
	}

	if resp, _ := env.do(t, http.MethodGet, "/api/sessions/"+id+"/images/5", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for image 5, got %d", resp.StatusCode)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/sessions/"+id+"/reset", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: status %d", resp.StatusCode)
	}
	var reset stateResponse
	_ = json.Unmarshal(raw, &reset)
	if reset.Phase != "idle" || len(reset.Images) != 0 || !reset.CanStart {
		t.Errorf("unexpected state after reset: %+v", reset)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/sessions/"+id+"/images/1", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("images must be gone after reset, got %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})
	id := env.createSession(t)

	if resp, _ := env.do(t, http.MethodDelete, "/api/sessions/"+id, nil, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if env.sessions.Len() != 0 {
		t.Error("session still stored")
	}
}

func TestGenerateOneShot(t *testing.T) {
	env := newTestEnv(t, &stubExtractor{}, &stubFuser{})

	body, ct := multipartBody(t,
		map[string][]byte{"reference": pngBytes, "subject": pngBytes},
		map[string]string{"aspect_ratio": "4:3"},
	)
	resp, raw := env.do(t, http.MethodPost, "/api/generate", body, ct)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AspectRatio != "4:3" || len(out.Images) != fusion.Count {
		t.Fatalf("unexpected response %+v", out)
	}
	for _, img := range out.Images {
		if !strings.HasPrefix(img, "data:image/png;base64,") {
			t.Errorf("expected data url, got %q", img)
		}
	}
	if env.sessions.Len() != 0 {
		t.Error("one-shot generation must not create sessions")
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		fuser  *stubFuser
		files  map[string][]byte
		fields map[string]string
		want   int
	}{
		{
			name:  "missing subject",
			fuser: &stubFuser{},
			files: map[string][]byte{"reference": pngBytes},
			want:  http.StatusBadRequest,
		},
		{
			name:   "unknown ratio",
			fuser:  &stubFuser{},
			files:  map[string][]byte{"reference": pngBytes, "subject": pngBytes},
			fields: map[string]string{"aspect_ratio": "2:1"},
			want:   http.StatusBadRequest,
		},
		{
			name:  "non image",
			fuser: &stubFuser{},
			files: map[string][]byte{"reference": []byte("plain text"), "subject": pngBytes},
			want:  http.StatusUnsupportedMediaType,
		},
		{
			name:  "fusion failure",
			fuser: &stubFuser{err: &fusion.Error{Index: 1, Err: errors.New("quota")}},
			files: map[string][]byte{"reference": pngBytes, "subject": pngBytes},
			want:  http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubExtractor{}, tt.fuser)
			body, ct := multipartBody(t, tt.files, tt.fields)
			resp, raw := env.do(t, http.MethodPost, "/api/generate", body, ct)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, resp.StatusCode, raw)
			}
			var e apiError
			if err := json.Unmarshal(raw, &e); err != nil || e.Error == "" {
				t.Errorf("expected error body, got %s", raw)
			}
		})
	}
}
