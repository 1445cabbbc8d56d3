package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/imagegen"
	"floorplan/internal/infra"
	"floorplan/internal/queue"
	"floorplan/internal/storage"
)

type stubEnhancer struct {
	err   error
	calls int
}

func (s *stubEnhancer) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	s.calls++
	if s.err != nil {
		return img, s.err
	}
	out := image.NewRGBA(img.Bounds())
	out.Set(0, 0, color.RGBA{R: 255, A: 255})
	return out, nil
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, string, any, ...queue.EnqueueOption) (string, error) {
	return "", fmt.Errorf("%w: create: connection refused", domain.ErrQueueUnavailable)
}

func (brokenQueue) Status(context.Context, string) (queue.JobView, error) {
	return queue.JobView{}, fmt.Errorf("%w: get: connection refused", domain.ErrQueueUnavailable)
}

type fixture struct {
	app      *App
	queue    *queue.Queue
	store    *storage.FileStore
	enhancer *stubEnhancer
	router   chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	q := queue.New(queue.NewMemoryStore(), queue.Options{PollInterval: 10 * time.Millisecond})
	enhancer := &stubEnhancer{}
	app := &App{
		Config: &infra.Config{
			ModelID:        "runwayml/stable-diffusion-v1-5",
			AdapterPath:    "/models/lora",
			MaxUploadBytes: 1 << 20,
		},
		Logger:    zerolog.Nop(),
		Jobs:      q,
		Enhancer:  enhancer,
		Artifacts: fs,
	}
	r := chi.NewRouter()
	r.Post("/api/generate", app.Generate)
	r.Get("/api/status/{job_id}", app.Status)
	r.Post("/api/enhance", app.Enhance)
	r.Get("/generated/{file}", app.Artifact)
	return &fixture{app: app, queue: q, store: fs, enhancer: enhancer, router: r}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestGenerateFormEnqueuesJob(t *testing.T) {
	f := newFixture(t)
	form := url.Values{
		"sqft":            {"1200"},
		"garages":         {"1"},
		"bedrooms":        {"3"},
		"bathrooms":       {"2"},
		"prompt":          {"  open kitchen  "},
		"negative_prompt": {""},
		"seed":            {"42"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := f.do(req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp generateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := imagegen.BuildPrompt(imagegen.FloorPlanSpec{SquareFeet: 1200, Garages: 1, Bedrooms: 3, Bathrooms: 2, Detail: "open kitchen"})
	if resp.ConstructedPrompt != want.Positive || resp.Message != "Generation started." || resp.JobID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	job, err := f.queue.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if job.ID != resp.JobID || job.Task != domain.TaskGenerateFloorPlan {
		t.Fatalf("claimed job = %+v", job)
	}
	var params domain.GenerationParams
	if err := json.Unmarshal(job.Payload, &params); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if params.Width != 512 || params.Height != 512 || params.Steps != 50 || params.GuidanceScale != 7.5 {
		t.Fatalf("defaults not applied: %+v", params)
	}
	if params.Seed == nil || *params.Seed != 42 {
		t.Fatalf("seed = %v", params.Seed)
	}
	if params.NegativePrompt != imagegen.DefaultNegativePrompt {
		t.Fatalf("negative prompt = %q", params.NegativePrompt)
	}
	if params.Model != (domain.ModelConfig{ModelID: "runwayml/stable-diffusion-v1-5", AdapterPath: "/models/lora"}) {
		t.Fatalf("model = %+v", params.Model)
	}
}

func TestGenerateJSONOverridesModel(t *testing.T) {
	f := newFixture(t)
	body := `{"sqft":900,"garages":0,"bedrooms":2,"bathrooms":1,"width":768,"steps":30,"guidance_scale":5,"sd_model_id":"custom/model","lora_path":"/models/plans"}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := f.do(req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	job, err := f.queue.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	var params domain.GenerationParams
	_ = json.Unmarshal(job.Payload, &params)
	if params.Model.ModelID != "custom/model" || params.Model.AdapterPath != "/models/plans" {
		t.Fatalf("model = %+v", params.Model)
	}
	if params.Width != 768 || params.Height != 512 || params.Steps != 30 || params.GuidanceScale != 5 || params.Seed != nil {
		t.Fatalf("params = %+v", params)
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"missing sqft", "application/x-www-form-urlencoded", "garages=1&bedrooms=1&bathrooms=1"},
		{"non numeric", "application/x-www-form-urlencoded", "sqft=big&garages=1&bedrooms=1&bathrooms=1"},
		{"zero sqft", "application/json", `{"sqft":0,"garages":1,"bedrooms":1,"bathrooms":1}`},
		{"negative bedrooms", "application/json", `{"sqft":10,"garages":1,"bedrooms":-1,"bathrooms":1}`},
		{"bad guidance", "application/json", `{"sqft":10,"garages":1,"bedrooms":1,"bathrooms":1,"guidance_scale":-2}`},
		{"malformed json", "application/json", `{"sqft":`},
		{"oversized canvas", "application/json", `{"sqft":10,"garages":1,"bedrooms":1,"bathrooms":1,"width":60000,"height":60000}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.contentType)
			rr := f.do(req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
			}
			if detail := decodeError(t, rr); detail.Code != "bad_request" || detail.Message == "" {
				t.Fatalf("error = %+v", detail)
			}
		})
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/status/nope", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "unknown" || body["job_id"] != "nope" {
		t.Fatalf("body = %v", body)
	}
	if v, ok := body["result"]; !ok || v != nil {
		t.Fatalf("result should be present and null, got %v", body)
	}
}

func TestStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.queue.Enqueue(ctx, domain.TaskGenerateFloorPlan, domain.GenerationParams{Prompt: "p"})
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}

	status := func() queue.JobView {
		rr := f.do(httptest.NewRequest(http.MethodGet, "/api/status/"+id, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status code = %d", rr.Code)
		}
		var view queue.JobView
		if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return view
	}

	if v := status(); v.Status != domain.JobStatusQueued || v.JobID != id {
		t.Fatalf("view = %+v", v)
	}
	if _, err := f.queue.Claim(ctx); err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if v := status(); v.Status != domain.JobStatusRunning {
		t.Fatalf("view = %+v", v)
	}
	if err := f.queue.Complete(ctx, id, domain.SuccessResult(id, "/data/generated/"+id+".png")); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	v := status()
	var res domain.JobResult
	_ = json.Unmarshal(v.Result, &res)
	if v.Status != domain.JobStatusFinished || res.Status != domain.ResultStatusSuccess || res.JobID != id {
		t.Fatalf("view = %+v result = %+v", v, res)
	}
}

func TestQueueUnavailableIs503(t *testing.T) {
	f := newFixture(t)
	f.app.Jobs = brokenQueue{}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/api/status/abc", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if detail := decodeError(t, rr); detail.Code != "queue_unavailable" {
		t.Fatalf("error = %+v", detail)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"sqft":1,"garages":0,"bedrooms":0,"bathrooms":0}`))
	req.Header.Set("Content-Type", "application/json")
	if rr := f.do(req); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("generate status = %d", rr.Code)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="plan.png"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/enhance", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestEnhanceReturnsPNG(t *testing.T) {
	f := newFixture(t)
	rr := f.do(uploadRequest(t, "image/png", pngBytes(t, 8, 6)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	img, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if r, _, _, _ := img.At(0, 0).RGBA(); r == 0 {
		t.Fatalf("enhanced image was not returned")
	}
}

func TestEnhanceSniffsUntypedUpload(t *testing.T) {
	f := newFixture(t)
	rr := f.do(uploadRequest(t, "", pngBytes(t, 2, 2)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestEnhanceRejectsBadUploads(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		data        []byte
	}{
		{"not an image", "text/plain", []byte("hello")},
		{"undecodable", "image/png", []byte("definitely not a png")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(uploadRequest(t, tc.contentType, tc.data))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
			}
			if f.enhancer.calls != 0 {
				t.Fatalf("enhancer should not run for bad uploads")
			}
		})
	}

	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/enhance", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	if rr := f.do(req); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d", rr.Code)
	}
}

func TestEnhanceVisionUnavailableIs503(t *testing.T) {
	f := newFixture(t)
	f.enhancer.err = fmt.Errorf("%w: GOOGLE_API_KEY not configured", domain.ErrVisionUnavailable)
	rr := f.do(uploadRequest(t, "image/png", pngBytes(t, 4, 4)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if detail := decodeError(t, rr); detail.Code != "vision_unavailable" || !strings.Contains(detail.Message, "GOOGLE_API_KEY") {
		t.Fatalf("error = %+v", detail)
	}
}

func TestArtifactRetrieval(t *testing.T) {
	f := newFixture(t)
	data := pngBytes(t, 3, 3)
	if _, err := f.store.WriteOnce(context.Background(), storage.ArtifactKey("job1"), data); err != nil {
		t.Fatalf("WriteOnce error: %v", err)
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/generated/job1.png", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), data) {
		t.Fatalf("artifact bytes differ")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/generated/missing.png", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing artifact status = %d", rr.Code)
	}
}

func TestFailMapsUnknownErrorsTo500(t *testing.T) {
	app := &App{Logger: zerolog.Nop()}
	rr := httptest.NewRecorder()
	app.fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("boom"))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if detail := decodeError(t, rr); detail.Code != "internal" || strings.Contains(detail.Message, "boom") {
		t.Fatalf("internal details leaked: %+v", detail)
	}
}

func TestGenerateHonoursConfiguredDimensionLimit(t *testing.T) {
	f := newFixture(t)
	f.app.Config.MaxImageDimension = 64

	post := func(width int) *httptest.ResponseRecorder {
		body := fmt.Sprintf(`{"sqft":500,"garages":0,"bedrooms":1,"bathrooms":1,"width":%d,"height":32}`, width)
		req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return f.do(req)
	}
	if rr := post(65); rr.Code != http.StatusBadRequest {
		t.Fatalf("over limit status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if rr := post(64); rr.Code != http.StatusAccepted {
		t.Fatalf("at limit status = %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestEnhanceRejectsOversizedImage(t *testing.T) {
	f := newFixture(t)
	f.app.Config.MaxImageDimension = 16

	rr := f.do(uploadRequest(t, "image/png", pngBytes(t, 32, 8)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if detail := decodeError(t, rr); !strings.Contains(detail.Message, "32x8") {
		t.Fatalf("error = %+v", detail)
	}
	if f.enhancer.calls != 0 {
		t.Fatalf("enhancer should not run for oversized uploads")
	}
	if rr := f.do(uploadRequest(t, "image/png", pngBytes(t, 16, 16))); rr.Code != http.StatusOK {
		t.Fatalf("at limit status = %d", rr.Code)
	}
}

func TestArtifactServesOnlyJobImages(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{".pending-123", ".pending-abc.png", "notes.txt", "job1.png.bak"} {
		if err := os.WriteFile(filepath.Join(f.store.BasePath(), name), []byte("partial"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		rr := f.do(httptest.NewRequest(http.MethodGet, "/generated/"+url.PathEscape(name), nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s status = %d", name, rr.Code)
		}
	}
}
