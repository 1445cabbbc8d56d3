package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math/rand/v2"
	"strconv"

	"floorplan/internal/domain"
	"floorplan/internal/infra"
)

// SyntheticLoader renders procedural floor plan rasters instead of running a
// diffusion model. Output is a deterministic function of the model
// configuration and the request when a seed is given.
type SyntheticLoader struct {
	Logger *infra.Logger
}

func (l SyntheticLoader) Load(ctx context.Context, cfg domain.ModelConfig) (Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		return nil, fmt.Errorf("model id is required")
	}
	adapter, _ := ResolveAdapter(cfg.AdapterPath, l.Logger)
	return &syntheticPipeline{cfg: cfg, adapter: adapter}, nil
}

type syntheticPipeline struct {
	cfg     domain.ModelConfig
	adapter string
	closed  bool
}

func (p *syntheticPipeline) Generate(ctx context.Context, req Request) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.closed {
		return nil, fmt.Errorf("%w: pipeline released", domain.ErrInference)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", domain.ErrInference, req.Width, req.Height)
	}
	var seed string
	if req.Seed != nil {
		seed = strconv.FormatInt(*req.Seed, 10)
	} else {
		seed = strconv.FormatUint(rand.Uint64(), 10)
	}
	digest := deterministicSeed(p.cfg.ModelID, p.adapter, req.Prompt, req.NegativePrompt,
		req.Width, req.Height, req.Steps, req.GuidanceScale, seed)
	return renderFloorPlan(req.Width, req.Height, digest), nil
}

func (p *syntheticPipeline) Close() error {
	p.closed = true
	return nil
}

// renderFloorPlan draws an outer wall and a binary partition of rooms with
// door gaps, in an ink colour derived from the seed.
func renderFloorPlan(width, height int, seed string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{R: 252, G: 252, B: 250, A: 255}}, image.Point{}, draw.Src)

	ink := darken(colorFromSeed(seed, 0))
	sum := sha256.Sum256([]byte(seed))
	rng := rand.New(rand.NewPCG(binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])))

	side := minInt(width, height)
	margin := maxInt(4, side*8/100)
	wall := maxInt(2, side/100)
	outer := image.Rect(margin, margin, width-margin, height-margin)
	if outer.Dx() <= 4*wall || outer.Dy() <= 4*wall {
		return img
	}
	strokeRect(img, outer, wall, ink)
	partition(img, outer.Inset(wall), wall, ink, rng, 3)
	return img
}

func partition(img *image.RGBA, r image.Rectangle, wall int, ink color.RGBA, rng *rand.Rand, depth int) {
	minRoom := 6 * wall
	if depth == 0 || (r.Dx() < 2*minRoom && r.Dy() < 2*minRoom) {
		return
	}
	vertical := r.Dx() >= r.Dy()
	if r.Dx() < 2*minRoom {
		vertical = false
	} else if r.Dy() < 2*minRoom {
		vertical = true
	}
	split := 35 + rng.IntN(31)
	door := maxInt(3*wall, minInt(r.Dx(), r.Dy())/6)

	if vertical {
		x := r.Min.X + r.Dx()*split/100
		segment := image.Rect(x, r.Min.Y, x+wall, r.Max.Y)
		drawWallWithDoor(img, segment, door, true, ink, rng)
		partition(img, image.Rect(r.Min.X, r.Min.Y, x, r.Max.Y), wall, ink, rng, depth-1)
		partition(img, image.Rect(x+wall, r.Min.Y, r.Max.X, r.Max.Y), wall, ink, rng, depth-1)
		return
	}
	y := r.Min.Y + r.Dy()*split/100
	segment := image.Rect(r.Min.X, y, r.Max.X, y+wall)
	drawWallWithDoor(img, segment, door, false, ink, rng)
	partition(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, y), wall, ink, rng, depth-1)
	partition(img, image.Rect(r.Min.X, y+wall, r.Max.X, r.Max.Y), wall, ink, rng, depth-1)
}

func drawWallWithDoor(img *image.RGBA, segment image.Rectangle, door int, vertical bool, ink color.RGBA, rng *rand.Rand) {
	length := segment.Dx()
	if vertical {
		length = segment.Dy()
	}
	if length <= door*2 {
		fillRect(img, segment, ink)
		return
	}
	offset := door/2 + rng.IntN(length-door*2+1)
	if vertical {
		fillRect(img, image.Rect(segment.Min.X, segment.Min.Y, segment.Max.X, segment.Min.Y+offset), ink)
		fillRect(img, image.Rect(segment.Min.X, segment.Min.Y+offset+door, segment.Max.X, segment.Max.Y), ink)
		return
	}
	fillRect(img, image.Rect(segment.Min.X, segment.Min.Y, segment.Min.X+offset, segment.Max.Y), ink)
	fillRect(img, image.Rect(segment.Min.X+offset+door, segment.Min.Y, segment.Max.X, segment.Max.Y), ink)
}

func strokeRect(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), &image.Uniform{c}, image.Point{}, draw.Src)
}

func darken(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.R / 4, G: c.G / 4, B: c.B / 3, A: 255}
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	raw, err := hex.DecodeString(segment)
	if err != nil {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: raw[0], G: raw[1], B: raw[2], A: 255}
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
