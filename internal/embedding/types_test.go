package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVector(t *testing.T) {
	v := []float32{3, 4}
	out := normalizeVector(v)

	var sumSquares float64
	for _, x := range out {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-6)
}

func TestNormalizeVector_ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	out := normalizeVector(v)
	assert.Equal(t, v, out)
}
