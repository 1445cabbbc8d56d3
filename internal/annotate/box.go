package annotate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Box is an absolute pixel rectangle with X1<X2 and Y1<Y2.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Room is a labelled region ready for rendering.
type Room struct {
	Name string `json:"name"`
	Box  Box    `json:"box"`
}

var nameKeys = []string{"name", "label", "room"}

// rawBox is one of the two recognized encodings, before unit conversion.
type rawBox interface {
	corners() (x1, y1, x2, y2 float64)
}

type cornerBox struct{ x1, y1, x2, y2 float64 }

func (b cornerBox) corners() (float64, float64, float64, float64) {
	return b.x1, b.y1, b.x2, b.y2
}

// extentBox adds width and height to the origin in the item's own units,
// before each resulting edge is classified.
type extentBox struct{ x, y, width, height float64 }

func (b extentBox) corners() (float64, float64, float64, float64) {
	return b.x, b.y, b.x + b.width, b.y + b.height
}

// detectBox recognizes the corner pair or origin plus extent shapes. The
// corner pair wins when both are present.
func detectBox(item map[string]any) (rawBox, bool) {
	if hasAll(item, "x1", "y1", "x2", "y2") {
		vals, ok := numbers(item, "x1", "y1", "x2", "y2")
		if !ok {
			return nil, false
		}
		return cornerBox{vals[0], vals[1], vals[2], vals[3]}, true
	}
	if hasAll(item, "x", "y", "width", "height") {
		vals, ok := numbers(item, "x", "y", "width", "height")
		if !ok {
			return nil, false
		}
		return extentBox{vals[0], vals[1], vals[2], vals[3]}, true
	}
	return nil, false
}

func hasAll(item map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := item[k]; !ok {
			return false
		}
	}
	return true
}

func numbers(item map[string]any, keys ...string) ([]float64, bool) {
	out := make([]float64, len(keys))
	for i, k := range keys {
		v, ok := toFloat(item[k])
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	var f float64
	var err error
	switch val := v.(type) {
	case json.Number:
		f, err = val.Float64()
	case float64:
		f = val
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toPx classifies a single coordinate: values in [0,1] are fractions of
// extent, anything else is already in pixels. Ties round to even. Values are
// bounded to [-1, extent+1] before the int conversion so huge inputs still
// clamp to the image edge.
func toPx(v float64, extent int) int {
	if v >= 0 && v <= 1 {
		v *= float64(extent)
	}
	v = math.Max(-1, math.Min(v, float64(extent)+1))
	return int(math.RoundToEven(v))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox converts an item's box to clamped pixels. It reports false
// for unrecognized shapes and boxes that are empty after clamping.
func normalizeBox(item map[string]any, width, height int) (Box, bool) {
	raw, ok := detectBox(item)
	if !ok {
		return Box{}, false
	}
	x1, y1, x2, y2 := raw.corners()
	box := Box{
		X1: clamp(toPx(x1, width), 0, width-1),
		Y1: clamp(toPx(y1, height), 0, height-1),
		X2: clamp(toPx(x2, width), 0, width),
		Y2: clamp(toPx(y2, height), 0, height),
	}
	if box.X1 >= box.X2 || box.Y1 >= box.Y2 {
		return Box{}, false
	}
	return box, true
}

func roomName(item map[string]any) string {
	for _, key := range nameKeys {
		if s, ok := item[key].(string); ok {
			if name := strings.TrimSpace(norm.NFC.String(s)); name != "" {
				return name
			}
		}
	}
	return ""
}

// NormalizeRooms keeps the items that carry a name and a usable box.
func NormalizeRooms(items []map[string]any, width, height int) []Room {
	if width <= 0 || height <= 0 {
		return nil
	}
	rooms := make([]Room, 0, len(items))
	for _, item := range items {
		name := roomName(item)
		if name == "" {
			continue
		}
		box, ok := normalizeBox(item, width, height)
		if !ok {
			continue
		}
		rooms = append(rooms, Room{Name: name, Box: box})
	}
	return rooms
}
