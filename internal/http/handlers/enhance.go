package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"mime"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"floorplan/internal/domain"
)

// Enhance annotates an uploaded image with room labels and returns it as PNG.
func (a *App) Enhance(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes())
	file, header, err := r.FormFile("file")
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidInput, err))
		return
	}
	if !isImageUpload(header.Header.Get("Content-Type"), data) {
		a.fail(w, r, fmt.Errorf("%w: uploaded file is not an image", domain.ErrInvalidInput))
		return
	}
	imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: unable to open image", domain.ErrInvalidInput))
		return
	}
	if limit := a.maxImageDimension(); imgCfg.Width > limit || imgCfg.Height > limit {
		a.fail(w, r, fmt.Errorf("%w: image is %dx%d, limit is %d per side", domain.ErrInvalidInput, imgCfg.Width, imgCfg.Height, limit))
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: unable to open image", domain.ErrInvalidInput))
		return
	}
	if a.Enhancer == nil {
		a.fail(w, r, fmt.Errorf("%w: annotation is not configured", domain.ErrVisionUnavailable))
		return
	}

	enhanced, err := a.Enhancer.Enhance(r.Context(), img)
	if err != nil {
		if errors.Is(err, domain.ErrVisionUnavailable) {
			a.Logger.Warn().Err(err).Msg("http: enhance degraded, vision unavailable")
		}
		a.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, enhanced); err != nil {
		a.fail(w, r, fmt.Errorf("encode png: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// isImageUpload trusts a declared image/* part type and otherwise sniffs the
// content.
func isImageUpload(declared string, data []byte) bool {
	if declared != "" && declared != "application/octet-stream" {
		mediaType, _, err := mime.ParseMediaType(declared)
		return err == nil && strings.HasPrefix(mediaType, "image/")
	}
	return strings.HasPrefix(http.DetectContentType(data), "image/")
}
