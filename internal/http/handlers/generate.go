package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"floorplan/internal/domain"
	"floorplan/internal/imagegen"
)

type generateRequest struct {
	SquareFeet     *int     `json:"sqft"`
	Garages        *int     `json:"garages"`
	Bedrooms       *int     `json:"bedrooms"`
	Bathrooms      *int     `json:"bathrooms"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	Height         int      `json:"height"`
	Width          int      `json:"width"`
	Steps          int      `json:"steps"`
	Seed           *int64   `json:"seed"`
	GuidanceScale  *float64 `json:"guidance_scale"`
	ModelID        string   `json:"sd_model_id"`
	AdapterPath    string   `json:"lora_path"`
}

type generateResponse struct {
	JobID             string `json:"job_id"`
	Message           string `json:"message"`
	ConstructedPrompt string `json:"constructed_prompt"`
}

// Generate builds the prompt, enqueues a generation job and returns without
// waiting for the worker.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes())
	req, err := a.decodeGenerate(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	spec, err := req.spec()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := spec.ValidateWithin(a.maxImageDimension()); err != nil {
		a.fail(w, r, err)
		return
	}

	params := imagegen.Params(spec, a.defaultModel())
	jobID, err := a.Jobs.Enqueue(r.Context(), domain.TaskGenerateFloorPlan, params)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().
		Str("job_id", jobID).
		Str("model_id", params.Model.ModelID).
		Int("width", params.Width).
		Int("height", params.Height).
		Msg("http: generation queued")
	a.json(w, http.StatusAccepted, generateResponse{
		JobID:             jobID,
		Message:           "Generation started.",
		ConstructedPrompt: params.Prompt,
	})
}

func (a *App) decodeGenerate(r *http.Request) (generateRequest, error) {
	var req generateRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(a.maxUploadBytes()); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return req, fmt.Errorf("%w: invalid form body", domain.ErrInvalidInput)
	}
	form := formReader{r: r}
	req.SquareFeet = form.intPtr("sqft")
	req.Garages = form.intPtr("garages")
	req.Bedrooms = form.intPtr("bedrooms")
	req.Bathrooms = form.intPtr("bathrooms")
	req.Prompt = r.FormValue("prompt")
	req.NegativePrompt = r.FormValue("negative_prompt")
	req.Height = form.intValue("height")
	req.Width = form.intValue("width")
	req.Steps = form.intValue("steps")
	req.Seed = form.int64Ptr("seed")
	req.GuidanceScale = form.floatPtr("guidance_scale")
	req.ModelID = strings.TrimSpace(r.FormValue("sd_model_id"))
	req.AdapterPath = strings.TrimSpace(r.FormValue("lora_path"))
	return req, form.err
}

func (req generateRequest) spec() (imagegen.FloorPlanSpec, error) {
	required := []struct {
		name  string
		value *int
	}{
		{"sqft", req.SquareFeet},
		{"garages", req.Garages},
		{"bedrooms", req.Bedrooms},
		{"bathrooms", req.Bathrooms},
	}
	for _, field := range required {
		if field.value == nil {
			return imagegen.FloorPlanSpec{}, fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, field.name)
		}
	}
	spec := imagegen.FloorPlanSpec{
		SquareFeet:     *req.SquareFeet,
		Garages:        *req.Garages,
		Bedrooms:       *req.Bedrooms,
		Bathrooms:      *req.Bathrooms,
		Detail:         req.Prompt,
		NegativeDetail: req.NegativePrompt,
		Height:         req.Height,
		Width:          req.Width,
		Steps:          req.Steps,
		Seed:           req.Seed,
		Model:          domain.ModelConfig{ModelID: req.ModelID, AdapterPath: req.AdapterPath},
	}
	if req.GuidanceScale != nil {
		if g := *req.GuidanceScale; g <= 0 || math.IsNaN(g) || math.IsInf(g, 0) {
			return spec, fmt.Errorf("%w: guidance_scale must be positive", domain.ErrInvalidInput)
		}
		spec.GuidanceScale = *req.GuidanceScale
	}
	return spec, nil
}

// formReader parses optional numeric form fields, keeping the first error.
type formReader struct {
	r   *http.Request
	err error
}

func (f *formReader) value(key string) (string, bool) {
	v := strings.TrimSpace(f.r.FormValue(key))
	return v, v != ""
}

func (f *formReader) intPtr(key string) *int {
	v, ok := f.value(key)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		f.setErr(key)
		return nil
	}
	return &i
}

func (f *formReader) intValue(key string) int {
	if p := f.intPtr(key); p != nil {
		return *p
	}
	return 0
}

func (f *formReader) int64Ptr(key string) *int64 {
	v, ok := f.value(key)
	if !ok {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f.setErr(key)
		return nil
	}
	return &i
}

func (f *formReader) floatPtr(key string) *float64 {
	v, ok := f.value(key)
	if !ok {
		return nil
	}
	x, err := strconv.ParseFloat(v, 64)
	if err != nil {
		f.setErr(key)
		return nil
	}
	return &x
}

func (f *formReader) setErr(key string) {
	if f.err == nil {
		f.err = fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
	}
}
