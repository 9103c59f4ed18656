package component

import (
	"fmt"

	"github.com/zeusync/worldlink/pkg/codec"
)

// ShapeKind selects the primitive described by a Shape3d.
type ShapeKind string

const (
	ShapeSphere   ShapeKind = "sphere"
	ShapeCuboid   ShapeKind = "cuboid"
	ShapePlane    ShapeKind = "plane"
	ShapeCylinder ShapeKind = "cylinder"
	ShapeCapsule  ShapeKind = "capsule"
	ShapeCone     ShapeKind = "cone"
	ShapeTorus    ShapeKind = "torus"
)

// Shape3d is a primitive geometric description. Only the parameters of the selected
// Shape are meaningful.
type Shape3d struct {
	Shape ShapeKind

	Radius      float32 // sphere, cylinder, capsule, cone
	HalfSize    Vec3    // cuboid
	Normal      Vec3    // plane
	HalfExtents Vec2    // plane
	HalfHeight  float32 // cylinder
	HalfLength  float32 // capsule
	Height      float32 // cone
	MinorRadius float32 // torus
	MajorRadius float32 // torus
}

func Sphere(radius float32) Shape3d {
	return Shape3d{Shape: ShapeSphere, Radius: radius}
}

func Cuboid(halfSize Vec3) Shape3d {
	return Shape3d{Shape: ShapeCuboid, HalfSize: halfSize}
}

// Cube is a cuboid with equal half sizes.
func Cube(halfSize float32) Shape3d {
	return Cuboid(Vec3{halfSize, halfSize, halfSize})
}

func Plane(normal Vec3, halfExtents Vec2) Shape3d {
	return Shape3d{Shape: ShapePlane, Normal: normal, HalfExtents: halfExtents}
}

func Cylinder(radius, halfHeight float32) Shape3d {
	return Shape3d{Shape: ShapeCylinder, Radius: radius, HalfHeight: halfHeight}
}

func Capsule(radius, halfLength float32) Shape3d {
	return Shape3d{Shape: ShapeCapsule, Radius: radius, HalfLength: halfLength}
}

func Cone(radius, height float32) Shape3d {
	return Shape3d{Shape: ShapeCone, Radius: radius, Height: height}
}

func Torus(minorRadius, majorRadius float32) Shape3d {
	return Shape3d{Shape: ShapeTorus, MinorRadius: minorRadius, MajorRadius: majorRadius}
}

func (Shape3d) Kind() Kind   { return KindShape3d }
func (Shape3d) isComponent() {}

// Validate checks that every parameter of the selected shape is positive.
func (s Shape3d) Validate() error {
	positive := func(name string, v float32) error {
		if v <= 0 {
			return fmt.Errorf("%w: %s %s must be positive", ErrInvalidComponent, s.Shape, name)
		}
		return nil
	}
	var checks []error
	switch s.Shape {
	case ShapeSphere:
		checks = append(checks, positive("radius", s.Radius))
	case ShapeCuboid:
		for _, v := range s.HalfSize {
			checks = append(checks, positive("half_size", v))
		}
	case ShapePlane:
		if s.Normal.Len() == 0 {
			return fmt.Errorf("%w: plane normal must be non-zero", ErrInvalidComponent)
		}
		for _, v := range s.HalfExtents {
			checks = append(checks, positive("half_extents", v))
		}
	case ShapeCylinder:
		checks = append(checks, positive("radius", s.Radius), positive("half_height", s.HalfHeight))
	case ShapeCapsule:
		checks = append(checks, positive("radius", s.Radius), positive("half_length", s.HalfLength))
	case ShapeCone:
		checks = append(checks, positive("radius", s.Radius), positive("height", s.Height))
	case ShapeTorus:
		checks = append(checks, positive("minor_radius", s.MinorRadius), positive("major_radius", s.MajorRadius))
	default:
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidComponent, s.Shape)
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

type shapeWire struct {
	Type        Kind       `json:"type,omitempty" msgpack:"type,omitempty"`
	Shape       *ShapeKind `json:"shape" msgpack:"shape"`
	Radius      *float32   `json:"radius,omitempty" msgpack:"radius,omitempty"`
	HalfSize    floats     `json:"half_size,omitempty" msgpack:"half_size,omitempty"`
	Normal      floats     `json:"normal,omitempty" msgpack:"normal,omitempty"`
	HalfExtents floats     `json:"half_extents,omitempty" msgpack:"half_extents,omitempty"`
	HalfHeight  *float32   `json:"half_height,omitempty" msgpack:"half_height,omitempty"`
	HalfLength  *float32   `json:"half_length,omitempty" msgpack:"half_length,omitempty"`
	Height      *float32   `json:"height,omitempty" msgpack:"height,omitempty"`
	MinorRadius *float32   `json:"minor_radius,omitempty" msgpack:"minor_radius,omitempty"`
	MajorRadius *float32   `json:"major_radius,omitempty" msgpack:"major_radius,omitempty"`
}

func (s Shape3d) wire() any {
	w := s.body()
	w.Type = KindShape3d
	return w
}

// body is the shape without the component discriminator, as nested inside Mesh3d.
func (s Shape3d) body() shapeWire {
	w := shapeWire{Shape: &s.Shape}
	switch s.Shape {
	case ShapeSphere:
		w.Radius = &s.Radius
	case ShapeCuboid:
		w.HalfSize = s.HalfSize[:]
	case ShapePlane:
		w.Normal, w.HalfExtents = s.Normal[:], s.HalfExtents[:]
	case ShapeCylinder:
		w.Radius, w.HalfHeight = &s.Radius, &s.HalfHeight
	case ShapeCapsule:
		w.Radius, w.HalfLength = &s.Radius, &s.HalfLength
	case ShapeCone:
		w.Radius, w.Height = &s.Radius, &s.Height
	case ShapeTorus:
		w.MinorRadius, w.MajorRadius = &s.MinorRadius, &s.MajorRadius
	}
	return w
}

func (w shapeWire) shape(owner Kind) (Shape3d, error) {
	if w.Shape == nil {
		return Shape3d{}, missing(owner, "shape")
	}
	s := Shape3d{Shape: *w.Shape}
	need := func(field string, src *float32, dst *float32) error {
		if src == nil {
			return missing(owner, string(s.Shape)+"."+field)
		}
		*dst = *src
		return nil
	}

	var err error
	switch s.Shape {
	case ShapeSphere:
		err = need("radius", w.Radius, &s.Radius)
	case ShapeCuboid:
		if w.HalfSize == nil {
			return Shape3d{}, missing(owner, "cuboid.half_size")
		}
		s.HalfSize, err = w.HalfSize.vec3(owner, "cuboid.half_size")
	case ShapePlane:
		if w.Normal == nil {
			return Shape3d{}, missing(owner, "plane.normal")
		}
		if w.HalfExtents == nil {
			return Shape3d{}, missing(owner, "plane.half_extents")
		}
		if s.Normal, err = w.Normal.vec3(owner, "plane.normal"); err == nil {
			s.HalfExtents, err = w.HalfExtents.vec2(owner, "plane.half_extents")
		}
	case ShapeCylinder:
		if err = need("radius", w.Radius, &s.Radius); err == nil {
			err = need("half_height", w.HalfHeight, &s.HalfHeight)
		}
	case ShapeCapsule:
		if err = need("radius", w.Radius, &s.Radius); err == nil {
			err = need("half_length", w.HalfLength, &s.HalfLength)
		}
	case ShapeCone:
		if err = need("radius", w.Radius, &s.Radius); err == nil {
			err = need("height", w.Height, &s.Height)
		}
	case ShapeTorus:
		if err = need("minor_radius", w.MinorRadius, &s.MinorRadius); err == nil {
			err = need("major_radius", w.MajorRadius, &s.MajorRadius)
		}
	default:
		return Shape3d{}, fmt.Errorf("%w: %s: unknown shape %q", ErrInvalidComponent, owner, s.Shape)
	}
	if err != nil {
		return Shape3d{}, err
	}
	return s, nil
}

func decodeShape3d(cd codec.Codec, data []byte) (Component, error) {
	var w shapeWire
	if err := decodeWire(cd, data, KindShape3d, &w); err != nil {
		return nil, err
	}
	return w.shape(KindShape3d)
}

// Mesh3d renders a shape, optionally referencing a material and a transform by name.
type Mesh3d struct {
	Shape     Shape3d
	Material  string
	Transform string
}

func NewMesh3d(shape Shape3d) Mesh3d { return Mesh3d{Shape: shape} }

func (Mesh3d) Kind() Kind   { return KindMesh3d }
func (Mesh3d) isComponent() {}

type meshWire struct {
	Type      Kind       `json:"type" msgpack:"type"`
	Shape     *shapeWire `json:"shape" msgpack:"shape"`
	Material  string     `json:"material,omitempty" msgpack:"material,omitempty"`
	Transform string     `json:"transform,omitempty" msgpack:"transform,omitempty"`
}

func (m Mesh3d) wire() any {
	body := m.Shape.body()
	return meshWire{
		Type:      KindMesh3d,
		Shape:     &body,
		Material:  m.Material,
		Transform: m.Transform,
	}
}

func decodeMesh3d(cd codec.Codec, data []byte) (Component, error) {
	var w meshWire
	if err := decodeWire(cd, data, KindMesh3d, &w); err != nil {
		return nil, err
	}
	if w.Shape == nil {
		return nil, missing(KindMesh3d, "shape")
	}
	shape, err := w.Shape.shape(KindMesh3d)
	if err != nil {
		return nil, err
	}
	return Mesh3d{Shape: shape, Material: w.Material, Transform: w.Transform}, nil
}
