package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"restyle-studio/internal/encoder"
)

// SDKClient implements Generator on top of google.golang.org/genai.
type SDKClient struct {
	client *genai.Client
	logger zerolog.Logger
}

func NewSDK(ctx context.Context, opts Options) (*SDKClient, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("api key is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimSpace(opts.BaseURL),
			APIVersion: strings.TrimSpace(opts.APIVersion),
		},
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "gemini-sdk").Logger()
	}

	return &SDKClient{client: client, logger: logger}, nil
}

func (c *SDKClient) GenerateContent(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("model is empty")
	}

	parts := make([]*genai.Part, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch {
		case p.InlineData != nil:
			raw, err := p.InlineData.Bytes()
			if err != nil {
				return Response{}, err
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{
				MIMEType: p.InlineData.MimeType,
				Data:     raw,
			}})
		case p.Text != "":
			parts = append(parts, &genai.Part{Text: p.Text})
		}
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: req.ResponseModalities,
		ResponseMIMEType:   req.ResponseMIMEType,
		ResponseSchema:     toSDKSchema(req.ResponseSchema),
	}
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: s}}}
	}
	if req.Temperature > 0 {
		temperature := float32(req.Temperature)
		config.Temperature = &temperature
	}
	if ar := strings.TrimSpace(req.AspectRatio); ar != "" {
		config.ImageConfig = &genai.ImageConfig{AspectRatio: ar}
	}

	start := time.Now()
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		c.logger.Error().Err(err).Str("model", req.Model).Msg("generateContent failed")
		return Response{}, fmt.Errorf("generate content: %w", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Response{}, &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)}
	}

	out := fromSDKResponse(resp)
	c.logger.Debug().
		Str("model", req.Model).
		Int("images", len(out.Images)).
		Int("text_len", len(out.Text)).
		Dur("duration", time.Since(start)).
		Msg("generateContent complete")

	return out, nil
}

func fromSDKResponse(resp *genai.GenerateContentResponse) Response {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return Response{}
	}

	cand := resp.Candidates[0]
	out := Response{FinishReason: string(cand.FinishReason)}
	if cand.Content == nil {
		return out
	}

	var textBuilder strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			textBuilder.WriteString(p.Text)
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			mimeType := p.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			out.Images = append(out.Images, encoder.Image{
				Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
				MimeType: mimeType,
			})
		}
	}
	out.Text = textBuilder.String()
	return out
}

func toSDKSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:             genai.Type(s.Type),
		Description:      s.Description,
		Required:         s.Required,
		PropertyOrdering: s.PropertyOrdering,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSDKSchema(prop)
		}
	}
	return out
}
