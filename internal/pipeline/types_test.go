package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoxCenter(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 50, Y2: 60}
	x, y := b.Center()
	assert.Equal(t, 30.0, x)
	assert.Equal(t, 40.0, y)
}

func TestBoxCenterDistance(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 20, Y2: 20}   // center (10, 10)
	b := Box{X1: 6, Y1: 8, X2: 26, Y2: 28}   // center (16, 18)
	c := Box{X1: 0, Y1: 0, X2: 20, Y2: 20}

	assert.InDelta(t, 10.0, a.CenterDistance(b), 1e-9) // 6-8-10 triangle
	assert.Equal(t, 0.0, a.CenterDistance(c))
	assert.Equal(t, a.CenterDistance(b), b.CenterDistance(a))
}
