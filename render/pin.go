package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/vector"
)

// Pin sizes in pixels.
const (
	PinSmall  = 24
	PinMedium = 48
	PinLarge  = 64
)

// PinBuilder draws map pin icons and caches them by colour and size.
type PinBuilder struct {
	mu    sync.Mutex
	cache map[string][]byte
}

// NewPinBuilder creates a pin builder with an empty cache.
func NewPinBuilder() *PinBuilder {
	return &PinBuilder{cache: make(map[string][]byte)}
}

// FromColor returns a PNG encoded pin of the given colour and size.
func (b *PinBuilder) FromColor(c colorful.Color, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("render: invalid pin size %d", size)
	}
	key := fmt.Sprintf("%s:%d", c.Clamped().Hex(), size)

	b.mu.Lock()
	defer b.mu.Unlock()
	if img, ok := b.cache[key]; ok {
		return img, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, drawPin(c.Clamped(), size)); err != nil {
		return nil, err
	}
	b.cache[key] = buf.Bytes()
	return b.cache[key], nil
}

// DataURL returns the pin as a data URL usable as a billboard image.
func (b *PinBuilder) DataURL(c colorful.Color, size int) (string, error) {
	img, err := b.FromColor(c, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img), nil
}

// drawPin rasterises a teardrop pin: a round head tapering to a point at the
// bottom centre, with a white dot in the head.
func drawPin(c colorful.Color, size int) *image.RGBA {
	s := float32(size)
	w := s * 0.75
	cx := s / 2
	r := w / 2
	cy := r + s*0.04
	// cubic approximation of a quarter circle
	const k = 0.5523

	img := image.NewRGBA(image.Rect(0, 0, size, size))

	z := vector.NewRasterizer(size, size)
	z.MoveTo(cx, s)
	z.LineTo(cx-r, cy)
	z.CubeTo(cx-r, cy-k*r, cx-k*r, cy-r, cx, cy-r)
	z.CubeTo(cx+k*r, cy-r, cx+r, cy-k*r, cx+r, cy)
	z.ClosePath()
	z.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})

	dot := r * 0.35
	z = vector.NewRasterizer(size, size)
	z.MoveTo(cx+dot, cy)
	z.CubeTo(cx+dot, cy+k*dot, cx+k*dot, cy+dot, cx, cy+dot)
	z.CubeTo(cx-k*dot, cy+dot, cx-dot, cy+k*dot, cx-dot, cy)
	z.CubeTo(cx-dot, cy-k*dot, cx-k*dot, cy-dot, cx, cy-dot)
	z.CubeTo(cx+k*dot, cy-dot, cx+dot, cy-k*dot, cx+dot, cy)
	z.ClosePath()
	z.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{})

	return img
}
