package render

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinBuilderFromColor(t *testing.T) {
	b := NewPinBuilder()
	red := colorful.Color{R: 1}

	data, err := b.FromColor(red, PinMedium)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, PinMedium, img.Bounds().Dx())
	assert.Equal(t, PinMedium, img.Bounds().Dy())

	// the tip sits at the bottom centre and the corners stay transparent
	_, _, _, alpha := img.At(0, 0).RGBA()
	assert.Zero(t, alpha)
	r, g, _, alpha := img.At(PinMedium/2, PinMedium/2+PinMedium/4).RGBA()
	assert.NotZero(t, alpha)
	assert.Greater(t, r, g)
}

func TestPinBuilderCache(t *testing.T) {
	b := NewPinBuilder()
	c := colorful.Color{G: 1}

	first, err := b.FromColor(c, PinSmall)
	require.NoError(t, err)
	second, err := b.FromColor(c, PinSmall)
	require.NoError(t, err)
	assert.Same(t, &first[0], &second[0])

	other, err := b.FromColor(c, PinLarge)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestPinBuilderInvalidSize(t *testing.T) {
	_, err := NewPinBuilder().FromColor(colorful.Color{}, 0)
	assert.Error(t, err)
}

func TestPinBuilderDataURL(t *testing.T) {
	url, err := NewPinBuilder().DataURL(colorful.Color{B: 1}, PinSmall)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}
