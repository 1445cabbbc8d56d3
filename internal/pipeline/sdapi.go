package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
)

// SDAPIOptions configures a loader backed by an AUTOMATIC1111-compatible
// web UI.
type SDAPIOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// SDAPILoader selects the checkpoint on the remote server at load time and
// forwards each generation to txt2img.
type SDAPILoader struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type sdOptionsRequest struct {
	Checkpoint string `json:"sd_model_checkpoint"`
}

type txt2ImgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	CfgScale       float64 `json:"cfg_scale"`
	Seed           int64   `json:"seed"`
	BatchSize      int     `json:"batch_size"`
}

type txt2ImgResult struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// NewSDAPILoader builds a loader. A nil HTTP client gets a generous timeout
// since a single txt2img call can run for minutes.
func NewSDAPILoader(opts SDAPIOptions) *SDAPILoader {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &SDAPILoader{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

func (l *SDAPILoader) Load(ctx context.Context, cfg domain.ModelConfig) (Pipeline, error) {
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	if err := l.post(ctx, "/sdapi/v1/options", sdOptionsRequest{Checkpoint: cfg.ModelID}, nil); err != nil {
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	p := &sdapiPipeline{loader: l}
	if adapter, ok := ResolveAdapter(cfg.AdapterPath, l.logger); ok {
		p.loraTag = loraTag(adapter)
	}
	return p, nil
}

// loraTag converts an adapter path into the prompt syntax the web UI uses
// to apply LoRA weights.
func loraTag(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	return fmt.Sprintf("<lora:%s:1>", name)
}

func (l *SDAPILoader) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type sdapiPipeline struct {
	loader  *SDAPILoader
	loraTag string
}

func (p *sdapiPipeline) Generate(ctx context.Context, req Request) (image.Image, error) {
	prompt := req.Prompt
	if p.loraTag != "" {
		prompt = prompt + " " + p.loraTag
	}
	seed := int64(-1)
	if req.Seed != nil {
		seed = *req.Seed
	}
	payload := txt2ImgRequest{
		Prompt:         prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CfgScale:       req.GuidanceScale,
		Seed:           seed,
		BatchSize:      1,
	}
	var result txt2ImgResult
	if err := p.loader.post(ctx, "/sdapi/v1/txt2img", payload, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInference, err)
	}
	if len(result.Images) == 0 {
		return nil, fmt.Errorf("%w: txt2img returned no images", domain.ErrInference)
	}
	encoded := result.Images[0]
	if i := strings.Index(encoded, ","); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", domain.ErrInference, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %w", domain.ErrInference, err)
	}
	return img, nil
}

func (p *sdapiPipeline) Close() error { return nil }

// NewLoader picks the inference backend named by cfg.InferenceBackend.
func NewLoader(cfg *infra.Config, logger *infra.Logger) (Loader, error) {
	switch cfg.InferenceBackend {
	case "", "synthetic":
		return SyntheticLoader{Logger: logger}, nil
	case "sdapi":
		return NewSDAPILoader(SDAPIOptions{BaseURL: cfg.InferenceURL, Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unsupported inference backend %q", cfg.InferenceBackend)
	}
}
