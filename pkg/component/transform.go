package component

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/zeusync/worldlink/pkg/codec"
)

// Transform3d places an entity in the world.
type Transform3d struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

// NewTransform3d returns a transform at position with identity rotation and unit scale.
func NewTransform3d(position Vec3) Transform3d {
	return Transform3d{
		Position: position,
		Rotation: IdentityQuat,
		Scale:    Vec3{1, 1, 1},
	}
}

func (Transform3d) Kind() Kind   { return KindTransform3d }
func (Transform3d) isComponent() {}

// WithRotation returns a copy of t rotated by q.
func (t Transform3d) WithRotation(q Quat) Transform3d {
	t.Rotation = q
	return t
}

// WithScale returns a copy of t with scale s.
func (t Transform3d) WithScale(s Vec3) Transform3d {
	t.Scale = s
	return t
}

// Matrix returns the translate * rotate * scale matrix of t.
func (t Transform3d) Matrix() mgl32.Mat4 {
	translate := mgl32.Translate3D(t.Position[0], t.Position[1], t.Position[2])
	rotate := t.Rotation.Normalize().Mgl().Mat4()
	scale := mgl32.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2])
	return translate.Mul4(rotate).Mul4(scale)
}

type transformWire struct {
	Type     Kind   `json:"type" msgpack:"type"`
	Position floats `json:"position,omitempty" msgpack:"position,omitempty"`
	Rotation floats `json:"rotation,omitempty" msgpack:"rotation,omitempty"`
	Scale    floats `json:"scale,omitempty" msgpack:"scale,omitempty"`
}

func (t Transform3d) wire() any {
	return transformWire{
		Type:     KindTransform3d,
		Position: t.Position[:],
		Rotation: t.Rotation[:],
		Scale:    t.Scale[:],
	}
}

func decodeTransform3d(cd codec.Codec, data []byte) (Component, error) {
	var w transformWire
	if err := decodeWire(cd, data, KindTransform3d, &w); err != nil {
		return nil, err
	}
	t := NewTransform3d(Vec3{})
	var err error
	if w.Position != nil {
		if t.Position, err = w.Position.vec3(KindTransform3d, "position"); err != nil {
			return nil, err
		}
	}
	if w.Rotation != nil {
		if t.Rotation, err = w.Rotation.quat(KindTransform3d, "rotation"); err != nil {
			return nil, err
		}
	}
	if w.Scale != nil {
		if t.Scale, err = w.Scale.vec3(KindTransform3d, "scale"); err != nil {
			return nil, err
		}
	}
	return t, nil
}
