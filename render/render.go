// Package render turns parsed WFS features into renderer-agnostic primitive
// descriptors: polylines, pin markers and filled polygons with holes, with
// positions expressed as WGS84 Cartesian coordinates.
package render

import (
	"errors"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
)

// Common errors returned by this package.
var (
	ErrUnknownHandle   = errors.New("render: unknown primitive handle")
	ErrUnsupportedKind = errors.New("render: unsupported geometry kind")
	ErrGeometryPayload = errors.New("render: geometry payload does not match its kind")
)

// Primitive is one of *Polyline, *Marker or *Polygon.
type Primitive interface {
	// FeatureID returns the id of the feature the primitive was built from.
	FeatureID() string
	primitive()
}

// Polyline is an open line through Positions.
type Polyline struct {
	Feature   string
	Index     int // Position of the source line in its MultiLineString
	Positions []r3.Vector
	Width     float64
	Color     colorful.Color
}

// Marker is a billboard pin placed at Position.
type Marker struct {
	Feature  string
	Position r3.Vector
	Color    colorful.Color
	Size     int
	Image    []byte // PNG encoded pin icon
}

// Hierarchy is a polygon outline with nested holes.
type Hierarchy struct {
	Positions []r3.Vector
	Holes     []Hierarchy
}

// Polygon is a filled polygon with holes.
type Polygon struct {
	Feature   string
	Hierarchy Hierarchy
	Color     colorful.Color
}

func (p *Polyline) FeatureID() string { return p.Feature }
func (m *Marker) FeatureID() string   { return m.Feature }
func (p *Polygon) FeatureID() string  { return p.Feature }

func (*Polyline) primitive() {}
func (*Marker) primitive()   {}
func (*Polygon) primitive()  {}

// Handle is an opaque reference to a primitive accepted by a Renderer.
type Handle any

// Renderer is the host capable of displaying primitives.
type Renderer interface {
	Add(p Primitive) (Handle, error)
	Remove(h Handle) error
}
