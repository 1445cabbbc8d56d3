// Package apiclient is a typed client for the floorplan HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"floorplan/internal/domain"
	"floorplan/internal/queue"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// PollInterval is the delay between status checks in Wait.
	PollInterval time.Duration
}

// Client talks to a running API process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	poll       time.Duration
}

// GenerateRequest mirrors the JSON body accepted by POST /api/generate.
// Zero optional fields are omitted so the server applies its defaults.
type GenerateRequest struct {
	SquareFeet     int     `json:"sqft"`
	Garages        int     `json:"garages"`
	Bedrooms       int     `json:"bedrooms"`
	Bathrooms      int     `json:"bathrooms"`
	Prompt         string  `json:"prompt,omitempty"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Height         int     `json:"height,omitempty"`
	Width          int     `json:"width,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	ModelID        string  `json:"sd_model_id,omitempty"`
	AdapterPath    string  `json:"lora_path,omitempty"`
}

type GenerateResponse struct {
	JobID             string `json:"job_id"`
	Message           string `json:"message"`
	ConstructedPrompt string `json:"constructed_prompt"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsUnavailable reports whether err is a 503 from the API.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "http://localhost:8000"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{baseURL: base, httpClient: client, poll: poll}
}

// Generate submits a generation job.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return GenerateResponse{}, err
	}
	var out GenerateResponse
	err = c.doJSON(ctx, http.MethodPost, "/api/generate", "application/json", bytes.NewReader(body), &out)
	return out, err
}

// Status fetches the current job view.
func (c *Client) Status(ctx context.Context, jobID string) (queue.JobView, error) {
	var view queue.JobView
	err := c.doJSON(ctx, http.MethodGet, "/api/status/"+url.PathEscape(jobID), "", nil, &view)
	return view, err
}

// Wait polls Status until the job is finished, failed or unknown, or ctx ends.
func (c *Client) Wait(ctx context.Context, jobID string) (queue.JobView, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	var last queue.JobView
	for {
		view, err := c.Status(ctx, jobID)
		if err != nil {
			return last, err
		}
		last = view
		if view.Status.Terminal() || view.Status == domain.JobStatusUnknown {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Enhance uploads an image and returns the annotated PNG.
func (c *Client) Enhance(ctx context.Context, filename, contentType string, data []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return c.doBytes(ctx, http.MethodPost, "/api/enhance", mw.FormDataContentType(), &body)
}

// Artifact downloads the generated image for jobID.
func (c *Client) Artifact(ctx context.Context, jobID string) ([]byte, error) {
	return c.doBytes(ctx, http.MethodGet, "/generated/"+url.PathEscape(jobID)+".png", "", nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doBytes(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	resp, err := c.do(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
