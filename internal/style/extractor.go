// Package style asks a vision model for a structured description of a
// reference image's artistic style.
package style

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"restyle-studio/internal/encoder"
	"restyle-studio/internal/gemini"
)

const DefaultModel = "gemini-2.5-flash"

// UserMessage is shown whenever analysis fails, whatever the cause.
const UserMessage = "The reference image could not be analyzed. It may contain content the model refuses to process; try a different reference image."

const instruction = `Analyze the artistic style of this image. Describe it so that another artist could paint a completely new scene in exactly the same style.

Fill every field of the JSON response:
- style: artistic style, medium and technique
- subject: what is depicted and where
- composition: framing, camera angle, perspective
- lighting: light sources, direction, contrast, shadows
- colors: dominant palette and color grading
- mood: emotional tone and atmosphere

Respond with the JSON object only.`

// AnalysisError is the single failure kind of Extract. Cause keeps the
// underlying transport, policy or parse error for logs.
type AnalysisError struct {
	Cause error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("style analysis failed: %v", e.Cause)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

func (e *AnalysisError) UserMessage() string {
	return UserMessage
}

type Options struct {
	Generator gemini.Generator
	Model     string
	Logger    *zerolog.Logger
}

type Extractor struct {
	gen    gemini.Generator
	model  string
	logger zerolog.Logger
}

func New(opts Options) *Extractor {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "style").Logger()
	}

	return &Extractor{
		gen:    opts.Generator,
		model:  model,
		logger: logger,
	}
}

// Extract makes exactly one remote call. The returned descriptor always has
// all six fields; anything else is an *AnalysisError.
func (e *Extractor) Extract(ctx context.Context, reference encoder.Image) (Descriptor, error) {
	if e.gen == nil {
		return Descriptor{}, &AnalysisError{Cause: errors.New("generator is nil")}
	}
	if reference.IsZero() {
		return Descriptor{}, &AnalysisError{Cause: encoder.ErrEmptyImage}
	}

	start := time.Now()
	resp, err := e.gen.GenerateContent(ctx, Request(e.model, reference))
	if err != nil {
		e.logger.Warn().Err(err).Msg("style analysis call failed")
		return Descriptor{}, &AnalysisError{Cause: err}
	}

	desc, err := Parse(resp.Text)
	if err != nil {
		e.logger.Warn().Err(err).Str("finish_reason", resp.FinishReason).Msg("style analysis returned unusable content")
		return Descriptor{}, &AnalysisError{Cause: err}
	}

	e.logger.Info().
		Str("model", e.model).
		Dur("duration", time.Since(start)).
		Str("style", truncate(desc.Style, 80)).
		Msg("style extracted")
	return desc, nil
}

// Request builds the analysis call for reference.
func Request(model string, reference encoder.Image) gemini.Request {
	return gemini.Request{
		Model: model,
		Parts: []gemini.Part{
			gemini.ImagePart(reference),
			gemini.TextPart(instruction),
		},
		ResponseModalities: []string{gemini.ModalityText},
		ResponseMIMEType:   "application/json",
		ResponseSchema:     responseSchema(),
	}
}

// Parse decodes the model's JSON text, tolerating markdown code fences, and
// validates all six fields.
func Parse(raw string) (Descriptor, error) {
	text := stripMarkdownFences(raw)
	if text == "" {
		return Descriptor{}, errors.New("empty response")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return Descriptor{}, errors.New("no JSON object in response")
	}

	var desc Descriptor
	if err := json.Unmarshal([]byte(text[start:end+1]), &desc); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, err
	}
	return desc, nil
}

func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	endIdx := len(lines)
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
