package components

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/spaghettifunk/anima/v2/engine/math"
)

type Projection uint8

const (
	ProjectionPerspective Projection = iota
	ProjectionOrthographic
)

/**
 * @brief Represents a camera that feeds the per-frame uniform buffers.
 * Position and rotation changes mark the view matrix dirty; it is rebuilt
 * lazily in View().
 */
type Camera struct {
	Position mgl32.Vec3
	/** @brief Euler angles (pitch, yaw, roll) in radians. */
	EulerRotation mgl32.Vec3
	Projection    Projection
	FieldOfView   float32
	Near          float32
	Far           float32

	isDirty    bool
	viewMatrix mgl32.Mat4
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = mgl32.Vec3{}
	c.Position = mgl32.Vec3{0, 0, 5}
	c.Projection = ProjectionPerspective
	c.FieldOfView = math.DegToRad(45)
	c.Near = 0.1
	c.Far = 1000.0
	c.isDirty = true
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.EulerRotation = rotation
	c.isDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		rotation := mgl32.AnglesToQuat(c.EulerRotation.X(), c.EulerRotation.Y(), c.EulerRotation.Z(), mgl32.XYZ).Mat4()
		translation := mgl32.Translate3D(c.Position.X(), c.Position.Y(), c.Position.Z())
		c.viewMatrix = translation.Mul4(rotation).Inv()
		c.isDirty = false
	}
	return c.viewMatrix
}

// ProjectionMatrix builds a Vulkan-style projection (y down, depth 0..1) for the given framebuffer size.
func (c *Camera) ProjectionMatrix(width, height uint32) mgl32.Mat4 {
	if width == 0 || height == 0 {
		return mgl32.Ident4()
	}
	aspect := float32(width) / float32(height)
	var proj mgl32.Mat4
	switch c.Projection {
	case ProjectionOrthographic:
		proj = mgl32.Ortho(-aspect, aspect, -1, 1, c.Near, c.Far)
	default:
		proj = mgl32.Perspective(c.FieldOfView, aspect, c.Near, c.Far)
	}
	// flip y and remap depth from [-1,1] to [0,1]
	clip := mgl32.Mat4{
		1, 0, 0, 0,
		0, -1, 0, 0,
		0, 0, 0.5, 0,
		0, 0, 0.5, 1,
	}
	return clip.Mul4(proj)
}

func (c *Camera) Forward() mgl32.Vec3 {
	return c.rotation().Rotate(mgl32.Vec3{0, 0, -1})
}

func (c *Camera) Right() mgl32.Vec3 {
	return c.rotation().Rotate(mgl32.Vec3{1, 0, 0})
}

func (c *Camera) MoveForward(amount float32) {
	c.SetPosition(c.Position.Add(c.Forward().Mul(amount)))
}

func (c *Camera) MoveRight(amount float32) {
	c.SetPosition(c.Position.Add(c.Right().Mul(amount)))
}

func (c *Camera) MoveUp(amount float32) {
	c.SetPosition(c.Position.Add(mgl32.Vec3{0, amount, 0}))
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation[1] += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp to avoid Gimbal lock.
	limit := math.DegToRad(89)
	c.EulerRotation[0] = math.Clamp(c.EulerRotation[0]+amount, -limit, limit)
	c.isDirty = true
}

func (c *Camera) rotation() mgl32.Quat {
	return mgl32.AnglesToQuat(c.EulerRotation.X(), c.EulerRotation.Y(), c.EulerRotation.Z(), mgl32.XYZ)
}
