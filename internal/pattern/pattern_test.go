package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

func TestIndexSweepLightsOnePixelPerStep(t *testing.T) {
	r := New(IndexSweep, 1)
	colors := make([]pixel.Color, 3)
	for i := 0; i < 3; i++ {
		require.True(t, r.Step(colors))
		for j, c := range colors {
			if j == i {
				assert.Equal(t, uint8(255), c.R)
			} else {
				assert.Equal(t, pixel.Color{}, c)
			}
		}
	}
	assert.False(t, r.Step(colors))

	r.Reset()
	assert.True(t, r.Step(colors))
}

func TestRGBChannels(t *testing.T) {
	r := New(RGBTest, 0.5)
	colors := make([]pixel.Color, 2)

	require.True(t, r.Step(colors))
	assert.Equal(t, pixel.Color{R: 128}, colors[1])
	require.True(t, r.Step(colors))
	assert.Equal(t, pixel.Color{G: 128}, colors[0])
	require.True(t, r.Step(colors))
	assert.Equal(t, pixel.Color{B: 128}, colors[0])
	assert.False(t, r.Step(colors))
}

func TestRainbowNeverEnds(t *testing.T) {
	r := New(Rainbow, 1)
	colors := make([]pixel.Color, 6)
	for i := 0; i < 200; i++ {
		require.True(t, r.Step(colors))
	}
	assert.NotEqual(t, colors[0], colors[3])
}

func TestRainbowStartsRed(t *testing.T) {
	r := New(Rainbow, 1)
	colors := make([]pixel.Color, 4)
	require.True(t, r.Step(colors))
	assert.Equal(t, pixel.Color{R: 255}, colors[0])
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("plane_z")
	assert.Error(t, err)
}
