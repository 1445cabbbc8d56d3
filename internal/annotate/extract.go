// Package annotate labels rooms on a generated floor plan using a
// vision-language model. The model's reply is untrusted free text; this
// package locates the JSON inside it, normalizes the boxes it describes and
// paints the labels.
package annotate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"floorplan/internal/domain"
)

// RoomInstruction is sent alongside every image.
const RoomInstruction = "Analyze the provided architectural floor plan image. Identify rooms such as Kitchen, Bedroom, Bathroom, Living Room, Dining Room, Garage, Hallway, etc. " +
	"For each room return a JSON array. Each item must include a 'name' string and a bounding box in pixel coordinates. " +
	"Acceptable bounding box formats: either {\"x\":...,\"y\":...,\"width\":...,\"height\":...} or {\"x1\":...,\"y1\":...,\"x2\":...,\"y2\":...}. " +
	"Return ONLY valid JSON (an array or object) with no additional text or commentary."

var wrapperKeys = []string{"rooms", "items", "annotations"}

// LocateJSON returns the substring from the first '[' or '{', whichever
// comes first, to the last bracket of the same kind. It reports false when
// no opening bracket exists or no matching closer follows it.
func LocateJSON(text string) (string, bool) {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return "", false
	}
	closer := "]"
	if text[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return "", false
	}
	return text[start : end+1], true
}

// DecodeItems parses a located JSON snippet into raw items. An object is
// unwrapped through the first of rooms/items/annotations holding an array.
// Numbers are kept as json.Number so the box decoder sees the original text.
func DecodeItems(snippet string) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(snippet)))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVisionParse, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", domain.ErrVisionParse)
	}

	if obj, ok := parsed.(map[string]any); ok {
		for _, key := range wrapperKeys {
			if list, ok := obj[key].([]any); ok {
				parsed = list
				break
			}
		}
	}
	list, ok := parsed.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an array of rooms", domain.ErrVisionParse)
	}

	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// ParseRooms runs the full text to rooms decode for an image of the given
// size. Missing or malformed JSON yields ErrVisionParse.
func ParseRooms(text string, width, height int) ([]Room, error) {
	snippet, ok := LocateJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON in response", domain.ErrVisionParse)
	}
	items, err := DecodeItems(snippet)
	if err != nil {
		return nil, err
	}
	return NormalizeRooms(items, width, height), nil
}
