package math

import "github.com/go-gl/mathgl/mgl32"

// Transform is a position/rotation/scale triple with an optional parent.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	Parent   *Transform

	local   mgl32.Mat4
	isDirty bool
}

func TransformCreate() *Transform {
	return TransformFromPositionRotationScale(mgl32.Vec3{}, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

func TransformFromPosition(position mgl32.Vec3) *Transform {
	return TransformFromPositionRotationScale(position, mgl32.QuatIdent(), mgl32.Vec3{1, 1, 1})
}

func TransformFromPositionRotationScale(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) *Transform {
	t := &Transform{}
	t.SetPositionRotationScale(position, rotation, scale)
	return t
}

func (t *Transform) SetPosition(position mgl32.Vec3) {
	t.Position = position
	t.isDirty = true
}

func (t *Transform) Translate(translation mgl32.Vec3) {
	t.Position = t.Position.Add(translation)
	t.isDirty = true
}

func (t *Transform) SetRotation(rotation mgl32.Quat) {
	t.Rotation = rotation
	t.isDirty = true
}

func (t *Transform) Rotate(rotation mgl32.Quat) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.isDirty = true
}

func (t *Transform) SetScale(scale mgl32.Vec3) {
	t.Scale = scale
	t.isDirty = true
}

func (t *Transform) SetPositionRotationScale(position mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) {
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	t.isDirty = true
}

// Local returns translation * rotation * scale.
func (t *Transform) Local() mgl32.Mat4 {
	if t == nil {
		return mgl32.Ident4()
	}
	if t.isDirty {
		t.local = mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z()).
			Mul4(t.Rotation.Normalize().Mat4()).
			Mul4(mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z()))
		t.isDirty = false
	}
	return t.local
}

func (t *Transform) World() mgl32.Mat4 {
	if t == nil {
		return mgl32.Ident4()
	}
	if t.Parent != nil {
		return t.Parent.World().Mul4(t.Local())
	}
	return t.Local()
}

// Apply transforms a point by the world matrix.
func (t *Transform) Apply(point mgl32.Vec3) mgl32.Vec3 {
	return mgl32.TransformCoordinate(point, t.World())
}

// ApplyNormal rotates a direction without translating or scaling it.
func (t *Transform) ApplyNormal(normal mgl32.Vec3) mgl32.Vec3 {
	if t == nil {
		return normal
	}
	return t.Rotation.Normalize().Rotate(normal)
}
