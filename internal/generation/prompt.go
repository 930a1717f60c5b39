package generation

import (
	"fmt"
	"strings"
)

// variationHints nudge successive units toward distinct interpretations of
// the same instruction, so a multi-unit job does not return near-duplicates.
var variationHints = []string{
	"Apply the requested style with a faithful, standard interpretation.",
	"Render a brighter, more polished take on the style.",
	"Aim for a professional, high-end finish.",
	"Emphasize a modern, urban impression.",
	"Favor a natural, soft impression.",
}

// BuildVariationPrompt composes the provider prompt for one unit of a job.
func BuildVariationPrompt(instruction string, ordinal int) string {
	hint := fmt.Sprintf("Produce variation %d with its own interpretation.", ordinal)
	if ordinal >= 1 && ordinal <= len(variationHints) {
		hint = variationHints[ordinal-1]
	}

	var b strings.Builder
	b.WriteString("Transform and regenerate this image in the style below.\n\n")
	b.WriteString("Style:\n")
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\nVariation:\n")
	b.WriteString(hint)
	b.WriteString("\n\nRequirements:\n")
	b.WriteString("- Preserve the subject's essential features\n")
	b.WriteString("- Reflect the requested style faithfully\n")
	b.WriteString("- Deliver a professional, high-quality result\n")
	return b.String()
}
