package imagegen

import (
	"fmt"
	"strings"
)

// DefaultNegativePrompt suppresses the artifacts diffusion models add to plan drawings.
const DefaultNegativePrompt = "3d, perspective, isometric, photo, realistic, furniture, colorful, low quality, blurry, text, watermark, illustration, render"

// BuildPrompt assembles the positive and negative prompts. Blank optional
// text is treated as absent; present text is appended after ", ".
func BuildPrompt(s FloorPlanSpec) Prompt {
	positive := fmt.Sprintf(
		"top down view, architectural drawing, floor plan of a house, %d sqft, %d bedrooms, %d bathrooms, %d car garage, blueprint, technical drawing, white background",
		s.SquareFeet, s.Bedrooms, s.Bathrooms, s.Garages,
	)
	if detail := strings.TrimSpace(s.Detail); detail != "" {
		positive += ", " + detail
	}

	negative := DefaultNegativePrompt
	if extra := strings.TrimSpace(s.NegativeDetail); extra != "" {
		negative += ", " + extra
	}
	return Prompt{Positive: positive, Negative: negative}
}
