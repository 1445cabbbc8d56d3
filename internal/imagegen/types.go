package imagegen

import (
	"fmt"

	"floorplan/internal/domain"
)

const (
	DefaultHeight        = 512
	DefaultWidth         = 512
	DefaultSteps         = 50
	DefaultGuidanceScale = 7.5

	// DefaultMaxDimension bounds width and height. The worker allocates the
	// full canvas up front, so an unbounded size can exhaust its memory.
	DefaultMaxDimension = 2048
)

// FloorPlanSpec carries the structural parameters a client submits.
type FloorPlanSpec struct {
	SquareFeet     int
	Garages        int
	Bedrooms       int
	Bathrooms      int
	Detail         string
	NegativeDetail string
	Height         int
	Width          int
	Steps          int
	GuidanceScale  float64
	Seed           *int64
	Model          domain.ModelConfig
}

// Prompt is the model input assembled from a FloorPlanSpec.
type Prompt struct {
	Positive string
	Negative string
}

// Validate rejects structurally impossible requests using DefaultMaxDimension.
func (s FloorPlanSpec) Validate() error {
	return s.ValidateWithin(DefaultMaxDimension)
}

// ValidateWithin is Validate with an explicit dimension limit. A limit of
// zero or less means DefaultMaxDimension.
func (s FloorPlanSpec) ValidateWithin(maxDimension int) error {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	switch {
	case s.SquareFeet <= 0:
		return fmt.Errorf("%w: sqft must be greater than zero", domain.ErrInvalidInput)
	case s.Garages < 0:
		return fmt.Errorf("%w: garages must not be negative", domain.ErrInvalidInput)
	case s.Bedrooms < 0:
		return fmt.Errorf("%w: bedrooms must not be negative", domain.ErrInvalidInput)
	case s.Bathrooms < 0:
		return fmt.Errorf("%w: bathrooms must not be negative", domain.ErrInvalidInput)
	case s.Height < 0 || s.Width < 0:
		return fmt.Errorf("%w: dimensions must be positive", domain.ErrInvalidInput)
	case s.Height > maxDimension || s.Width > maxDimension:
		return fmt.Errorf("%w: width and height must not exceed %d", domain.ErrInvalidInput, maxDimension)
	case s.Steps < 0:
		return fmt.Errorf("%w: steps must be positive", domain.ErrInvalidInput)
	case s.GuidanceScale < 0:
		return fmt.Errorf("%w: guidance_scale must not be negative", domain.ErrInvalidInput)
	}
	return nil
}

// Params builds the job payload, filling zero fields with defaults. Model
// fields left empty in s are taken from defaults.
func Params(s FloorPlanSpec, defaults domain.ModelConfig) domain.GenerationParams {
	prompt := BuildPrompt(s)
	p := domain.GenerationParams{
		Prompt:         prompt.Positive,
		NegativePrompt: prompt.Negative,
		Height:         s.Height,
		Width:          s.Width,
		Steps:          s.Steps,
		GuidanceScale:  s.GuidanceScale,
		Seed:           s.Seed,
		Model:          s.Model,
	}
	if p.Height == 0 {
		p.Height = DefaultHeight
	}
	if p.Width == 0 {
		p.Width = DefaultWidth
	}
	if p.Steps == 0 {
		p.Steps = DefaultSteps
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = DefaultGuidanceScale
	}
	if p.Model.ModelID == "" {
		p.Model.ModelID = defaults.ModelID
	}
	if p.Model.AdapterPath == "" {
		p.Model.AdapterPath = defaults.AdapterPath
	}
	return p
}
