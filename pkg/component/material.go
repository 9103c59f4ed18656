package component

import (
	"fmt"

	"github.com/zeusync/worldlink/pkg/codec"
)

// Material is either a solid color or a texture reference, never both.
type Material struct {
	Color   *Color
	Texture string
}

func ColorMaterial(c Color) Material { return Material{Color: &c} }

func TextureMaterial(ref string) Material { return Material{Texture: ref} }

func (Material) Kind() Kind   { return KindMaterial }
func (Material) isComponent() {}

type materialWire struct {
	Type    Kind    `json:"type" msgpack:"type"`
	Color   floats  `json:"color,omitempty" msgpack:"color,omitempty"`
	Texture *string `json:"texture,omitempty" msgpack:"texture,omitempty"`
}

func (m Material) wire() any {
	w := materialWire{Type: KindMaterial}
	if m.Color != nil {
		w.Color = m.Color[:]
	}
	if m.Texture != "" {
		w.Texture = &m.Texture
	}
	return w
}

func decodeMaterial(cd codec.Codec, data []byte) (Component, error) {
	var w materialWire
	if err := decodeWire(cd, data, KindMaterial, &w); err != nil {
		return nil, err
	}
	switch {
	case w.Color != nil && w.Texture != nil:
		return nil, fmt.Errorf("%w: %s carries both color and texture", ErrInvalidComponent, KindMaterial)
	case w.Color != nil:
		c, err := w.Color.color(KindMaterial, "color")
		if err != nil {
			return nil, err
		}
		return ColorMaterial(c), nil
	case w.Texture != nil:
		return Material{Texture: *w.Texture}, nil
	default:
		return nil, missing(KindMaterial, "color|texture")
	}
}

// Line3d is a polyline through Points.
type Line3d struct {
	Points []Vec3
	Color  Color
	Width  float32
}

// NewLine3d returns a white line of width 1.
func NewLine3d(points ...Vec3) Line3d {
	if points == nil {
		points = []Vec3{}
	}
	return Line3d{Points: points, Color: White, Width: 1}
}

func (Line3d) Kind() Kind   { return KindLine3d }
func (Line3d) isComponent() {}

type lineWire struct {
	Type   Kind      `json:"type" msgpack:"type"`
	Points *[]floats `json:"points" msgpack:"points"`
	Color  floats    `json:"color,omitempty" msgpack:"color,omitempty"`
	Width  *float32  `json:"width,omitempty" msgpack:"width,omitempty"`
}

func (l Line3d) wire() any {
	points := make([]floats, len(l.Points))
	for i := range l.Points {
		points[i] = l.Points[i][:]
	}
	return lineWire{Type: KindLine3d, Points: &points, Color: l.Color[:], Width: &l.Width}
}

func decodeLine3d(cd codec.Codec, data []byte) (Component, error) {
	var w lineWire
	if err := decodeWire(cd, data, KindLine3d, &w); err != nil {
		return nil, err
	}
	if w.Points == nil {
		return nil, missing(KindLine3d, "points")
	}
	points := make([]Vec3, len(*w.Points))
	for i, p := range *w.Points {
		v, err := p.vec3(KindLine3d, fmt.Sprintf("points[%d]", i))
		if err != nil {
			return nil, err
		}
		points[i] = v
	}
	l := NewLine3d(points...)
	if w.Color != nil {
		c, err := w.Color.color(KindLine3d, "color")
		if err != nil {
			return nil, err
		}
		l.Color = c
	}
	if w.Width != nil {
		l.Width = *w.Width
	}
	return l, nil
}
