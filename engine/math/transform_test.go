package math

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestTransformApply(t *testing.T) {
	tr := TransformFromPositionRotationScale(
		mgl32.Vec3{10, 0, 0},
		mgl32.QuatRotate(DegToRad(90), mgl32.Vec3{0, 0, 1}),
		mgl32.Vec3{2, 2, 1},
	)

	// scale (1,0,0) -> (2,0,0), rotate 90 degrees about z -> (0,2,0), translate -> (10,2,0)
	got := tr.Apply(mgl32.Vec3{1, 0, 0})
	assert.True(t, got.ApproxEqualThreshold(mgl32.Vec3{10, 2, 0}, 1e-5), "got %v", got)
}

func TestTransformParent(t *testing.T) {
	parent := TransformFromPosition(mgl32.Vec3{0, 5, 0})
	child := TransformFromPosition(mgl32.Vec3{1, 0, 0})
	child.Parent = parent

	got := child.Apply(mgl32.Vec3{})
	assert.True(t, got.ApproxEqualThreshold(mgl32.Vec3{1, 5, 0}, 1e-6), "got %v", got)
}

func TestNilTransformIsIdentity(t *testing.T) {
	var tr *Transform
	assert.Equal(t, mgl32.Ident4(), tr.World())
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, tr.ApplyNormal(mgl32.Vec3{0, 0, 1}))
}

func TestClampAndAlign(t *testing.T) {
	assert.Equal(t, 3, Clamp(7, 0, 3))
	assert.Equal(t, float32(-1), Clamp(float32(-4), -1, 1))
	assert.Equal(t, uint32(16), AlignUp(uint32(13), 16))
	assert.Equal(t, uint64(256), AlignUp(uint64(256), 256))
	assert.Equal(t, 9, Max(3, 9, 1))
}
