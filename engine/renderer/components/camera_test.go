package components

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestCameraViewMovesWorldOpposite(t *testing.T) {
	c := NewCamera()
	c.SetPosition(mgl32.Vec3{0, 0, 10})

	p := mgl32.TransformCoordinate(mgl32.Vec3{}, c.View())
	assert.True(t, p.ApproxEqualThreshold(mgl32.Vec3{0, 0, -10}, 1e-5), "got %v", p)
}

func TestCameraPitchIsClamped(t *testing.T) {
	c := NewCamera()
	c.Pitch(10)
	assert.InDelta(t, 1.5533, c.EulerRotation.X(), 1e-3)
}

func TestCameraProjectionZeroSize(t *testing.T) {
	c := NewCamera()
	assert.Equal(t, mgl32.Ident4(), c.ProjectionMatrix(0, 720))
	assert.NotEqual(t, mgl32.Ident4(), c.ProjectionMatrix(1280, 720))
}
