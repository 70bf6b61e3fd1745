package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPointOrderZeroDim checks the comparator consults the first
// coordinate even for zero-dimensional points.
func TestPointOrderZeroDim(t *testing.T) {
	a := Point{Dim: 0, Coord: [MaxPointDim]int64{1}}
	b := Point{Dim: 0, Coord: [MaxPointDim]int64{2}}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a))
}

func TestPointOrder(t *testing.T) {
	testCases := []struct {
		name string
		a, b Point
		less bool
	}{
		{"lower dim first", NewPoint1D(9), NewPoint2D(0, 0), true},
		{"lexicographic", NewPoint2D(1, 5), NewPoint2D(2, 0), true},
		{"tie on first", NewPoint2D(1, 1), NewPoint2D(1, 2), true},
		{"equal", NewPoint2D(3, 3), NewPoint2D(3, 3), false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.less, tc.a.Less(tc.b))
		})
	}
}

func TestDomainVolume(t *testing.T) {
	assert.Equal(t, int64(10), NewDomain1D(0, 9).Volume())
	assert.Equal(t, int64(0), NewDomain1D(5, 4).Volume())
	assert.True(t, NewDomain1D(0, 9).Contains(NewPoint1D(9)))
	assert.False(t, NewDomain1D(0, 9).Contains(NewPoint1D(10)))
}
