package gemini

import (
	"context"
	"fmt"

	"restyle-studio/internal/encoder"
)

const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

const (
	TypeObject = "OBJECT"
	TypeString = "STRING"
)

// Generator is the single remote operation the style and fusion clients
// need. Both the REST client and the SDK client implement it.
type Generator interface {
	GenerateContent(ctx context.Context, req Request) (Response, error)
}

type Part struct {
	Text       string
	InlineData *encoder.Image
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func ImagePart(img encoder.Image) Part {
	return Part{InlineData: &img}
}

type Schema struct {
	Type             string             `json:"type"`
	Description      string             `json:"description,omitempty"`
	Properties       map[string]*Schema `json:"properties,omitempty"`
	Required         []string           `json:"required,omitempty"`
	PropertyOrdering []string           `json:"propertyOrdering,omitempty"`
}

type Request struct {
	Model              string
	SystemInstruction  string
	Parts              []Part
	Temperature        float64
	ResponseModalities []string
	ResponseMIMEType   string
	ResponseSchema     *Schema
	// AspectRatio is forwarded as imageConfig.aspectRatio. The model treats it
	// as a hint.
	AspectRatio string
}

type Response struct {
	Text         string
	Images       []encoder.Image
	FinishReason string
}

// FirstImage returns the first inline image part of the response.
func (r Response) FirstImage() (encoder.Image, bool) {
	if len(r.Images) == 0 {
		return encoder.Image{}, false
	}
	return r.Images[0], true
}

type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini API %s: %s", e.Status, e.Message)
}

// BlockedError reports a prompt rejected by the content policy before any
// candidate was produced.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("gemini blocked the prompt: %s", e.Reason)
}
