package render

import (
	"fmt"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/paulmach/orb"

	wfs "github.com/tingold/orb-wfs"
)

// AdapterOptions configures the visual style of generated primitives.
type AdapterOptions struct {
	Seed        int64          // Seed of the polygon fill colour sequence
	LineWidth   float64        // Polyline width in pixels
	LineColor   colorful.Color // Polyline colour
	MarkerColor colorful.Color // Pin colour
	MarkerSize  int            // Pin size in pixels
	Ellipsoid   Ellipsoid      // Reference ellipsoid for positions
}

// DefaultAdapterOptions returns the default style: orange 2px lines, 16px
// cyan pins and fill colours seeded with 2.
func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{
		Seed:        2,
		LineWidth:   2.0,
		LineColor:   colorful.Color{R: 1, G: 0.8, B: 0.2},
		MarkerColor: colorful.Color{R: 0, G: 1, B: 1},
		MarkerSize:  16,
		Ellipsoid:   WGS84,
	}
}

// Adapter maps parsed features to primitives. Fill colours come from a
// pseudorandom sequence fixed at construction, so the same features in the
// same order always get the same colours. An Adapter is not safe for
// concurrent use.
type Adapter struct {
	opts AdapterOptions
	rng  *rand.Rand
	pins *PinBuilder
}

// NewAdapter creates an adapter.
func NewAdapter(opts AdapterOptions) *Adapter {
	if opts.Ellipsoid.SemiMajor == 0 {
		opts.Ellipsoid = WGS84
	}
	if opts.MarkerSize <= 0 {
		opts.MarkerSize = 16
	}
	return &Adapter{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		pins: NewPinBuilder(),
	}
}

// Primitives converts a parsed feature into primitives.
func (a *Adapter) Primitives(f *wfs.Feature) ([]Primitive, error) {
	g := f.Geometry
	switch g.Kind {
	case wfs.KindPoint:
		pt, ok := g.Geometry.(orb.Point)
		if !ok {
			return nil, payloadError(g)
		}
		m, err := a.marker(f.ID, pt)
		if err != nil {
			return nil, err
		}
		return []Primitive{m}, nil

	case wfs.KindMultiPoint:
		mp, ok := g.Geometry.(orb.MultiPoint)
		if !ok {
			return nil, payloadError(g)
		}
		out := make([]Primitive, 0, len(mp))
		for _, pt := range mp {
			m, err := a.marker(f.ID, pt)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil

	case wfs.KindLineString:
		ls, ok := g.Geometry.(orb.LineString)
		if !ok {
			return nil, payloadError(g)
		}
		return []Primitive{a.polyline(f.ID, 0, ls)}, nil

	case wfs.KindMultiLineString:
		mls, ok := g.Geometry.(orb.MultiLineString)
		if !ok {
			return nil, payloadError(g)
		}
		out := make([]Primitive, 0, len(mls))
		for i, ls := range mls {
			out = append(out, a.polyline(f.ID, i, ls))
		}
		return out, nil

	case wfs.KindPolygon:
		poly, ok := g.Geometry.(orb.Polygon)
		if !ok {
			return nil, payloadError(g)
		}
		return []Primitive{a.polygon(f.ID, poly)}, nil

	case wfs.KindMultiPolygon, wfs.KindSurface:
		mp, ok := g.Geometry.(orb.MultiPolygon)
		if !ok {
			return nil, payloadError(g)
		}
		out := make([]Primitive, 0, len(mp))
		for _, poly := range mp {
			out = append(out, a.polygon(f.ID, poly))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, g.Kind)
	}
}

func payloadError(g wfs.Geometry) error {
	return fmt.Errorf("%w: %v holds %T", ErrGeometryPayload, g.Kind, g.Geometry)
}

func (a *Adapter) marker(id string, pt orb.Point) (*Marker, error) {
	img, err := a.pins.FromColor(a.opts.MarkerColor, a.opts.MarkerSize)
	if err != nil {
		return nil, err
	}
	return &Marker{
		Feature:  id,
		Position: a.opts.Ellipsoid.FromDegrees(pt.Lon(), pt.Lat(), 0),
		Color:    a.opts.MarkerColor,
		Size:     a.opts.MarkerSize,
		Image:    img,
	}, nil
}

func (a *Adapter) polyline(id string, index int, ls orb.LineString) *Polyline {
	return &Polyline{
		Feature:   id,
		Index:     index,
		Positions: a.opts.Ellipsoid.FromPoints(ls),
		Width:     a.opts.LineWidth,
		Color:     a.opts.LineColor,
	}
}

func (a *Adapter) polygon(id string, poly orb.Polygon) *Polygon {
	var h Hierarchy
	if len(poly) > 0 {
		h.Positions = a.opts.Ellipsoid.FromPoints(poly[0])
		for _, hole := range poly[1:] {
			h.Holes = append(h.Holes, Hierarchy{Positions: a.opts.Ellipsoid.FromPoints(hole)})
		}
	}
	return &Polygon{
		Feature:   id,
		Hierarchy: h,
		Color:     a.nextColor(),
	}
}

func (a *Adapter) nextColor() colorful.Color {
	return colorful.Color{R: a.rng.Float64(), G: a.rng.Float64(), B: a.rng.Float64()}
}
