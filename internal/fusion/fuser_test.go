package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/gemini"
	"restyle-studio/internal/style"
)

var (
	subject = encoder.Image{Data: "c3ViamVjdA==", MimeType: "image/png"}
	desc    = style.Descriptor{
		Style:       "watercolor",
		Subject:     "harbor at dawn",
		Composition: "rule of thirds",
		Lighting:    "soft backlight",
		Colors:      "pastel blues",
		Mood:        "calm",
	}
)

// fakeGenerator answers each call after a delay that makes later-issued calls
// finish first, so ordering bugs show up.
type fakeGenerator struct {
	mu       sync.Mutex
	requests []gemini.Request
	inflight atomic.Int32
	peak     atomic.Int32
	fail     map[int]error
	noImage  map[int]bool
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, req gemini.Request) (gemini.Response, error) {
	idx, ok := CallIndex(ctx)
	if !ok {
		return gemini.Response{}, errors.New("call index missing")
	}

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	select {
	case <-time.After(time.Duration(Count-idx) * 15 * time.Millisecond):
	case <-ctx.Done():
		return gemini.Response{}, ctx.Err()
	}

	if err := f.fail[idx]; err != nil {
		return gemini.Response{}, err
	}
	if f.noImage[idx] {
		return gemini.Response{Text: "no picture today", FinishReason: "STOP"}, nil
	}
	return gemini.Response{Images: []encoder.Image{{
		Data:     fmt.Sprintf("image-%d", idx),
		MimeType: "image/png",
	}}}, nil
}

func TestFuseReturnsFourImagesInIssueOrder(t *testing.T) {
	gen := &fakeGenerator{}
	f := New(Options{Generator: gen, Model: "image-model"})

	images, err := f.Fuse(context.Background(), desc, subject, Wide)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(images) != Count {
		t.Fatalf("expected %d images, got %d", Count, len(images))
	}
	for i, img := range images {
		if want := fmt.Sprintf("image-%d", i); img.Data != want {
			t.Errorf("slot %d: expected %q, got %q", i, want, img.Data)
		}
	}

	if got := gen.peak.Load(); got != Count {
		t.Errorf("expected %d concurrent calls, peak was %d", Count, got)
	}
}

func TestFuseSendsIdenticalRequests(t *testing.T) {
	gen := &fakeGenerator{}
	if _, err := New(Options{Generator: gen}).Fuse(context.Background(), desc, subject, Wide); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.requests) != Count {
		t.Fatalf("expected %d requests, got %d", Count, len(gen.requests))
	}
	first := gen.requests[0]
	for i, req := range gen.requests {
		if req.Model != DefaultModel {
			t.Errorf("request %d: unexpected model %q", i, req.Model)
		}
		if req.AspectRatio != "16:9" {
			t.Errorf("request %d: unexpected aspect ratio %q", i, req.AspectRatio)
		}
		if len(req.Parts) != 2 || req.Parts[0].InlineData == nil || *req.Parts[0].InlineData != subject {
			t.Errorf("request %d: subject image not sent", i)
		}
		if req.Parts[1].Text != first.Parts[1].Text {
			t.Errorf("request %d: instruction differs from request 0", i)
		}
		if !strings.Contains(req.Parts[1].Text, "16:9") {
			t.Errorf("request %d: instruction lacks aspect ratio", i)
		}
	}
}

func TestFuseIsAllOrNothing(t *testing.T) {
	gen := &fakeGenerator{fail: map[int]error{2: &gemini.BlockedError{Reason: "SAFETY"}}}

	images, err := New(Options{Generator: gen}).Fuse(context.Background(), desc, subject, Square)
	if images != nil {
		t.Errorf("expected no images on failure, got %d", len(images))
	}

	var fusionErr *Error
	if !errors.As(err, &fusionErr) {
		t.Fatalf("expected fusion Error, got %v", err)
	}
	if fusionErr.UserMessage() != UserMessage {
		t.Errorf("unexpected user message %q", fusionErr.UserMessage())
	}
	if gen.inflight.Load() != 0 {
		t.Errorf("Fuse returned before all calls finished")
	}
}

func TestFuseMissingImageData(t *testing.T) {
	gen := &fakeGenerator{noImage: map[int]bool{0: true}}

	_, err := New(Options{Generator: gen}).Fuse(context.Background(), desc, subject, Portrait)
	if !errors.Is(err, ErrNoImageData) {
		t.Fatalf("expected ErrNoImageData, got %v", err)
	}
}

func TestFuseRejectsUnknownAspectRatio(t *testing.T) {
	gen := &fakeGenerator{}
	_, err := New(Options{Generator: gen}).Fuse(context.Background(), desc, subject, AspectRatio("2:1"))
	if !errors.Is(err, ErrUnknownAspectRatio) {
		t.Fatalf("expected ErrUnknownAspectRatio, got %v", err)
	}
	if len(gen.requests) != 0 {
		t.Errorf("expected no remote calls, got %d", len(gen.requests))
	}
}

func TestParseAspectRatio(t *testing.T) {
	tests := []struct {
		in      string
		want    AspectRatio
		wantErr bool
	}{
		{in: "16:9", want: Wide},
		{in: " 9 : 16 ", want: Tall},
		{in: "4x3", want: Landscape},
		{in: "", want: DefaultAspectRatio},
		{in: "3:4", want: Portrait},
		{in: "2:1", wantErr: true},
		{in: "16/9", wantErr: true},
		{in: "0:1", wantErr: true},
		{in: "wide", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAspectRatio(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownAspectRatio) {
				t.Errorf("%q: expected ErrUnknownAspectRatio, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestAspectRatiosFixedSet(t *testing.T) {
	got := AspectRatios()
	want := []AspectRatio{"1:1", "4:3", "3:4", "16:9", "9:16"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	got[0] = "7:3"
	if AspectRatios()[0] != Square {
		t.Error("AspectRatios must return a copy")
	}
}

func TestBuildInstruction(t *testing.T) {
	text := BuildInstruction(desc, Wide)
	for _, want := range []string{
		"face, body and clothing EXACTLY",
		"lighting and shadows",
		"Aspect ratio: 16:9 (landscape)",
		`"style": "watercolor"`,
		`"mood": "calm"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("instruction missing %q", want)
		}
	}
}
