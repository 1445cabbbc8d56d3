package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"floorplan/internal/infra"
)

// EraseColor is painted over each labelled box before its name is written.
var EraseColor = color.RGBA{R: 245, G: 245, B: 220, A: 255}

const (
	minPadding  = 4
	minFontSize = 10
	textOffsetX = 6
	textOffsetY = 4
)

// Renderer paints room labels. Font loading never fails: a configured TTF
// falls back to the embedded Go Regular face, and that to basicfont.
type Renderer struct {
	logger *infra.Logger

	once  sync.Once
	path  string
	ttf   *opentype.Font
	mu    sync.Mutex
	faces map[int]font.Face
}

// NewRenderer builds a renderer; fontPath may be empty.
func NewRenderer(fontPath string, logger *infra.Logger) *Renderer {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Renderer{logger: logger, path: fontPath, faces: map[int]font.Face{}}
}

func (r *Renderer) loadFont() {
	if r.path != "" {
		f, err := parseFontFile(r.path)
		if err == nil {
			r.ttf = f
			return
		}
		r.logger.Warn().Err(err).Str("font_path", r.path).Msg("annotate: font unavailable; using embedded face")
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		r.logger.Warn().Err(err).Msg("annotate: embedded font unavailable; using basic face")
		return
	}
	r.ttf = f
}

func parseFontFile(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return opentype.Parse(data)
}

// face returns a face of roughly size pixels.
func (r *Renderer) face(size int) font.Face {
	r.once.Do(r.loadFont)
	if r.ttf == nil {
		return basicfont.Face7x13
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.faces[size]; ok {
		return f
	}
	f, err := opentype.NewFace(r.ttf, &opentype.FaceOptions{Size: float64(size), DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		r.logger.Warn().Err(err).Int("size", size).Msg("annotate: face creation failed; using basic face")
		return basicfont.Face7x13
	}
	r.faces[size] = f
	return f
}

// Draw returns a copy of img with every room erased and labelled.
func (r *Renderer) Draw(img image.Image, rooms []Room) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	for _, room := range rooms {
		b := room.Box
		padX := maxInt(minPadding, int(float64(b.X2-b.X1)*0.05))
		padY := maxInt(minPadding, int(float64(b.Y2-b.Y1)*0.05))
		rx1 := maxInt(0, b.X1-padX)
		ry1 := maxInt(0, b.Y1-padY)
		rx2 := minInt(w, b.X2+padX)
		ry2 := minInt(h, b.Y2+padY)

		// Edges are inclusive.
		fill := image.Rect(rx1, ry1, rx2+1, ry2+1).Intersect(out.Bounds())
		draw.Draw(out, fill, &image.Uniform{EraseColor}, image.Point{}, draw.Src)

		face := r.face(maxInt(minFontSize, int(float64(ry2-ry1)*0.22)))
		d := &font.Drawer{
			Dst:  out,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.P(rx1+textOffsetX, ry1+textOffsetY+face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(room.Name)
	}
	return out
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
