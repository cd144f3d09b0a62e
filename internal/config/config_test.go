package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GeminiBackend != "rest" {
		t.Errorf("expected rest backend, got %q", cfg.GeminiBackend)
	}
	if cfg.StyleModel != "gemini-2.5-flash" || cfg.ImageModel != "gemini-2.5-flash-image" {
		t.Errorf("unexpected models %q / %q", cfg.StyleModel, cfg.ImageModel)
	}
	if cfg.RequestTimeout != 240*time.Second {
		t.Errorf("unexpected request timeout %s", cfg.RequestTimeout)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Errorf("unexpected upload limit %d", cfg.MaxUploadBytes)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("unexpected session ttl %s", cfg.SessionTTL)
	}
	if cfg.WebAddr != ":8080" {
		t.Errorf("unexpected web addr %q", cfg.WebAddr)
	}
	if !cfg.PreferIPv4 {
		t.Error("expected PreferIPv4 by default")
	}
	if err := cfg.RequireTelegram(); err == nil {
		t.Error("expected RequireTelegram to fail without a token")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " ")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without GEMINI_API_KEY")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMINI_BACKEND", "grpc")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadOverridesAndClamps(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMINI_BACKEND", "SDK")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("MAX_CONCURRENT", "0")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "-5")
	t.Setenv("PREFER_IPV4", "false")
	t.Setenv("LOG_FORMAT", "Console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GeminiBackend != "sdk" {
		t.Errorf("expected sdk backend, got %q", cfg.GeminiBackend)
	}
	if cfg.MaxConcurrent != 1 {
		t.Errorf("expected clamp to 1, got %d", cfg.MaxConcurrent)
	}
	if cfg.MaxUploadBytes != 25<<20 {
		t.Errorf("expected default upload limit, got %d", cfg.MaxUploadBytes)
	}
	if cfg.RequestTimeout != 240*time.Second {
		t.Errorf("expected default timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.PreferIPv4 {
		t.Error("expected PreferIPv4 disabled")
	}
	if cfg.LogFormat != "console" {
		t.Errorf("expected console format, got %q", cfg.LogFormat)
	}
	if err := cfg.RequireTelegram(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	opts := cfg.GeminiOptions()
	if opts.APIKey != "test-key" || opts.BaseURL == "" || opts.APIVersion != "v1beta" {
		t.Errorf("unexpected gemini options %+v", opts)
	}
}
