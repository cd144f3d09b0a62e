package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"restyle-studio/internal/encoder"
)

func TestSDKClientGenerateContent(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/models/gemini-image:generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("content-type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"inlineData":{"mimeType":"image/png","data":"aGVsbG8="}}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	client, err := NewSDK(context.Background(), Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		APIVersion: "v1beta",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("new sdk client: %v", err)
	}

	resp, err := client.GenerateContent(context.Background(), Request{
		Model:              "gemini-image",
		Parts:              []Part{ImagePart(encoder.Image{Data: "aGVsbG8=", MimeType: "image/jpeg"}), TextPart("restyle")},
		ResponseModalities: []string{ModalityImage, ModalityText},
		AspectRatio:        "16:9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, ok := resp.FirstImage()
	if !ok {
		t.Fatal("expected an image")
	}
	if img.Data != "aGVsbG8=" || img.MimeType != "image/png" {
		t.Errorf("unexpected image %+v", img)
	}

	cfg, _ := got["generationConfig"].(map[string]any)
	imageCfg, _ := cfg["imageConfig"].(map[string]any)
	if imageCfg["aspectRatio"] != "16:9" {
		t.Errorf("aspect ratio not forwarded: %v", cfg)
	}
}

func TestSDKClientRequiresAPIKey(t *testing.T) {
	if _, err := NewSDK(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestToSDKSchema(t *testing.T) {
	s := toSDKSchema(&Schema{
		Type:       TypeObject,
		Properties: map[string]*Schema{"mood": {Type: TypeString}},
		Required:   []string{"mood"},
	})
	if string(s.Type) != TypeObject {
		t.Errorf("unexpected type %q", s.Type)
	}
	if string(s.Properties["mood"].Type) != TypeString {
		t.Errorf("nested schema not converted")
	}
	if toSDKSchema(nil) != nil {
		t.Error("nil schema must stay nil")
	}
}
