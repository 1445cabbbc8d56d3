package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/rs/zerolog"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
	"floorplan/internal/metrics"
)

// VisionClient answers a text instruction about an image.
type VisionClient interface {
	DescribeImage(ctx context.Context, mimeType string, data []byte, instruction string) (string, error)
}

// Options configures a Pipeline.
type Options struct {
	// Vision may be nil, in which case every run reports the service as
	// unavailable.
	Vision   VisionClient
	Renderer *Renderer
	Logger   *infra.Logger
}

// Pipeline extracts rooms from an image and renders their labels.
type Pipeline struct {
	vision   VisionClient
	renderer *Renderer
	logger   *infra.Logger
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = NewRenderer("", logger)
	}
	return &Pipeline{vision: opts.Vision, renderer: renderer, logger: logger}
}

// ExtractRooms asks the vision service for the rooms in img. Only
// domain.ErrVisionUnavailable is returned as an error; unparsable replies
// are logged and yield no rooms.
func (p *Pipeline) ExtractRooms(ctx context.Context, img image.Image) ([]Room, error) {
	if p.vision == nil {
		return nil, fmt.Errorf("%w: no vision client configured", domain.ErrVisionUnavailable)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	text, err := p.vision.DescribeImage(ctx, "image/png", buf.Bytes(), RoomInstruction)
	if err != nil {
		if errors.Is(err, domain.ErrVisionParse) {
			p.logger.Warn().Err(err).Msg("annotate: discarding unparsable vision response")
			return nil, nil
		}
		if !errors.Is(err, domain.ErrVisionUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrVisionUnavailable, err)
		}
		return nil, err
	}

	bounds := img.Bounds()
	rooms, err := ParseRooms(text, bounds.Dx(), bounds.Dy())
	if err != nil {
		p.logger.Warn().Err(err).Int("response_bytes", len(text)).Msg("annotate: discarding unparsable vision response")
		return nil, nil
	}
	return rooms, nil
}

// Enhance returns img annotated with room labels. When the vision service
// is unavailable it returns img unchanged together with the error; when no
// rooms are found it returns img unchanged and no error.
func (p *Pipeline) Enhance(ctx context.Context, img image.Image) (image.Image, error) {
	rooms, err := p.ExtractRooms(ctx, img)
	if err != nil {
		metrics.AnnotationRun("unavailable")
		p.logger.Warn().Err(err).Msg("annotate: vision service unavailable; returning original image")
		return img, err
	}
	if len(rooms) == 0 {
		metrics.AnnotationRun("empty")
		p.logger.Debug().Msg("annotate: no rooms detected")
		return img, nil
	}
	metrics.AnnotationRun("applied")
	p.logger.Debug().Int("rooms", len(rooms)).Msg("annotate: labelled rooms")
	return p.renderer.Draw(img, rooms), nil
}
