package fusion

import (
	"fmt"
	"strings"

	"restyle-studio/internal/style"
)

// BuildInstruction composes the single prompt shared by all four calls.
func BuildInstruction(desc style.Descriptor, ar AspectRatio) string {
	var b strings.Builder
	b.Grow(2048)

	b.WriteString("TASK: Place the person from the attached photo into a brand-new scene.\n\n")

	b.WriteString("SUBJECT (IDENTITY LOCK):\n")
	for _, line := range []string{
		"Reproduce the person's face, body and clothing EXACTLY as they appear in the attached photo.",
		"Do not alter facial features, expression, hairstyle, body shape, pose proportions or outfit.",
		"Do not replace the person with someone else and do not add or remove accessories.",
	} {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("SCENE STYLE (match this description):\n")
	b.WriteString(desc.JSON())
	b.WriteString("\n\n")

	b.WriteString("INTEGRATION:\n")
	for _, line := range []string{
		"Generate a new background whose style, subject, composition, colors and mood match the description above.",
		"Adapt the lighting and shadows on the person so they match the light sources of the new scene.",
		"Blend edges naturally; the person must look photographed inside the scene, not pasted on top.",
	} {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	b.WriteString("OUTPUT SPEC:\n")
	b.WriteString(fmt.Sprintf("- Aspect ratio: %s (%s).\n", ar, ar.Orientation()))
	b.WriteString("- Full-bleed image, no borders, no captions, no watermarks.\n")
	b.WriteString("- Return one image only. No text.\n")

	return strings.TrimSpace(b.String())
}
