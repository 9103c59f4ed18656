package component

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Vec3 is a 3-vector in world units.
type Vec3 = mgl32.Vec3

// Vec2 is a 2-vector in world units.
type Vec2 = mgl32.Vec2

// Quat is a rotation quaternion stored as [x, y, z, w].
type Quat [4]float32

// IdentityQuat is the rotation that does nothing.
var IdentityQuat = Quat{0, 0, 0, 1}

// QuatFromMgl converts an mgl32 quaternion.
func QuatFromMgl(q mgl32.Quat) Quat {
	return Quat{q.V[0], q.V[1], q.V[2], q.W}
}

// QuatFromAxisAngle builds a rotation of angle radians around axis.
func QuatFromAxisAngle(angle float32, axis Vec3) Quat {
	return QuatFromMgl(mgl32.QuatRotate(angle, axis))
}

// Mgl returns q as an mgl32 quaternion.
func (q Quat) Mgl() mgl32.Quat {
	return mgl32.Quat{W: q[3], V: mgl32.Vec3{q[0], q[1], q[2]}}
}

// Normalize returns q scaled to unit length. The zero quaternion normalizes to identity.
func (q Quat) Normalize() Quat {
	m := q.Mgl()
	if m.Len() == 0 {
		return IdentityQuat
	}
	return QuatFromMgl(m.Normalize())
}

// Color is linear RGBA in [0, 1].
type Color [4]float32

// White is the default line color.
var White = Color{1, 1, 1, 1}

// RGBA builds a color.
func RGBA(r, g, b, a float32) Color {
	return Color{r, g, b, a}
}

// RGB builds an opaque color.
func RGB(r, g, b float32) Color {
	return Color{r, g, b, 1}
}

// floats is the wire form of a fixed-size vector. Decoding into it keeps the element count,
// which a fixed array would silently pad or truncate.
type floats []float32

func (f floats) exact(owner Kind, field string, n int) error {
	if len(f) != n {
		return fmt.Errorf("%w: %s %s wants %d numbers, got %d", ErrInvalidComponent, owner, field, n, len(f))
	}
	return nil
}

func (f floats) vec3(owner Kind, field string) (Vec3, error) {
	if err := f.exact(owner, field, 3); err != nil {
		return Vec3{}, err
	}
	return Vec3{f[0], f[1], f[2]}, nil
}

func (f floats) vec2(owner Kind, field string) (Vec2, error) {
	if err := f.exact(owner, field, 2); err != nil {
		return Vec2{}, err
	}
	return Vec2{f[0], f[1]}, nil
}

func (f floats) quat(owner Kind, field string) (Quat, error) {
	if err := f.exact(owner, field, 4); err != nil {
		return Quat{}, err
	}
	return Quat{f[0], f[1], f[2], f[3]}, nil
}

func (f floats) color(owner Kind, field string) (Color, error) {
	if err := f.exact(owner, field, 4); err != nil {
		return Color{}, err
	}
	return Color{f[0], f[1], f[2], f[3]}, nil
}
