package style

import (
	"encoding/json"
	"fmt"
	"strings"

	"restyle-studio/internal/gemini"
)

// Descriptor is the six-field summary of a reference image's style.
type Descriptor struct {
	Style       string `json:"style"`
	Subject     string `json:"subject"`
	Composition string `json:"composition"`
	Lighting    string `json:"lighting"`
	Colors      string `json:"colors"`
	Mood        string `json:"mood"`
}

var fieldOrder = []string{"style", "subject", "composition", "lighting", "colors", "mood"}

var fieldDescriptions = map[string]string{
	"style":       "The overall artistic style, medium and technique.",
	"subject":     "What the image depicts, including setting and scene.",
	"composition": "Framing, camera angle, perspective and arrangement of elements.",
	"lighting":    "Light sources, direction, quality, contrast and shadows.",
	"colors":      "Dominant palette, saturation and color grading.",
	"mood":        "The emotional tone and atmosphere.",
}

// MissingFieldsError lists required descriptor fields that were absent or blank.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("style descriptor missing fields: %s", strings.Join(e.Fields, ", "))
}

func (d Descriptor) Validate() error {
	var missing []string
	for _, name := range fieldOrder {
		if strings.TrimSpace(d.field(name)) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// JSON renders the descriptor as the text embedded in the fusion instruction.
func (d Descriptor) JSON() string {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw)
}

func (d Descriptor) field(name string) string {
	switch name {
	case "style":
		return d.Style
	case "subject":
		return d.Subject
	case "composition":
		return d.Composition
	case "lighting":
		return d.Lighting
	case "colors":
		return d.Colors
	case "mood":
		return d.Mood
	}
	return ""
}

func responseSchema() *gemini.Schema {
	props := make(map[string]*gemini.Schema, len(fieldOrder))
	for _, name := range fieldOrder {
		props[name] = &gemini.Schema{Type: gemini.TypeString, Description: fieldDescriptions[name]}
	}
	return &gemini.Schema{
		Type:             gemini.TypeObject,
		Properties:       props,
		Required:         append([]string(nil), fieldOrder...),
		PropertyOrdering: append([]string(nil), fieldOrder...),
	}
}
