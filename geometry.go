package wfs

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"
)

// GeometryKind identifies the GML geometry type a Geometry was read from.
type GeometryKind int

const (
	KindPoint GeometryKind = iota + 1
	KindMultiPoint
	KindLineString
	KindMultiLineString
	KindPolygon
	KindMultiPolygon
	KindSurface
)

func (k GeometryKind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindMultiPoint:
		return "MultiPoint"
	case KindLineString:
		return "LineString"
	case KindMultiLineString:
		return "MultiLineString"
	case KindPolygon:
		return "Polygon"
	case KindMultiPolygon:
		return "MultiPolygon"
	case KindSurface:
		return "Surface"
	default:
		return fmt.Sprintf("GeometryKind(%d)", int(k))
	}
}

// Geometry is one classified GML geometry.
//
// The orb payload depends on Kind:
//
//	KindPoint           orb.Point
//	KindMultiPoint      orb.MultiPoint
//	KindLineString      orb.LineString
//	KindMultiLineString orb.MultiLineString (index = member position)
//	KindPolygon         orb.Polygon (ring 0 exterior, then holes)
//	KindMultiPolygon    orb.MultiPolygon
//	KindSurface         orb.MultiPolygon (one polygon per patch)
type Geometry struct {
	Kind     GeometryKind
	Name     string // Local name of the feature property holding the geometry
	Geometry orb.Geometry
}

// Bound returns the bounding box of the geometry.
func (g Geometry) Bound() orb.Bound {
	if g.Geometry == nil {
		return orb.Bound{}
	}
	return g.Geometry.Bound()
}

// classify converts a GML geometry element into a Geometry. The element may
// override the inherited crs.
func (p *Parser) classify(el *etree.Element, crs CRS) (Geometry, error) {
	crs, err := p.crs.Resolve(el, crs)
	if err != nil {
		return Geometry{}, err
	}

	switch el.Tag {
	case "Point":
		pt, err := p.point(el, crs)
		return Geometry{Kind: KindPoint, Geometry: pt}, err

	case "MultiPoint":
		mp, err := p.multiPoint(el, crs)
		return Geometry{Kind: KindMultiPoint, Geometry: mp}, err

	case "LineString":
		ls, err := p.lineString(el, crs)
		return Geometry{Kind: KindLineString, Geometry: ls}, err

	case "MultiLineString":
		mls, err := p.multiLineString(el, crs, "lineStringMember", "lineStringMembers")
		return Geometry{Kind: KindMultiLineString, Geometry: mls}, err

	case "MultiCurve":
		mls, err := p.multiLineString(el, crs, "curveMember", "curveMembers")
		return Geometry{Kind: KindMultiLineString, Geometry: mls}, err

	case "Polygon":
		poly, err := p.polygon(el, crs)
		return Geometry{Kind: KindPolygon, Geometry: poly}, err

	case "MultiPolygon":
		mp, err := p.multiPolygon(el, crs, "polygonMember", "polygonMembers")
		return Geometry{Kind: KindMultiPolygon, Geometry: mp}, err

	case "MultiSurface":
		mp, err := p.multiPolygon(el, crs, "surfaceMember", "surfaceMembers")
		return Geometry{Kind: KindMultiPolygon, Geometry: mp}, err

	case "Surface":
		mp, err := p.surface(el, crs)
		return Geometry{Kind: KindSurface, Geometry: mp}, err

	default:
		return Geometry{}, classifyError(el, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, el.Tag))
	}
}

func classifyError(el *etree.Element, err error) error {
	if _, ok := err.(*ParseError); ok {
		return err
	}
	sev := SeverityFeature
	if isDocumentFatal(err) {
		sev = SeverityDocument
	}
	return &ParseError{Severity: sev, Path: elementPath(el), Err: err}
}

func (p *Parser) point(el *etree.Element, crs CRS) (orb.Point, error) {
	pts, err := positions(el, crs)
	if err != nil {
		return orb.Point{}, classifyError(el, err)
	}
	if len(pts) != 1 {
		return orb.Point{}, classifyError(el,
			fmt.Errorf("%w: point has %d positions", ErrInvalidCoordinates, len(pts)))
	}
	return pts[0], nil
}

// members returns the geometries held by singular member elements, or by the
// plural member list when no singular member exists. A multi geometry without
// members is an error.
func members(el *etree.Element, single, plural string) ([]*etree.Element, error) {
	var out []*etree.Element
	for _, m := range gmlChildren(el, single) {
		out = append(out, m.ChildElements()...)
	}
	if len(out) == 0 {
		for _, m := range gmlChildren(el, plural) {
			out = append(out, m.ChildElements()...)
		}
	}
	if len(out) == 0 {
		return nil, classifyError(el, fmt.Errorf("%w: %s has no %s or %s", ErrInvalidCoordinates, el.Tag, single, plural))
	}
	return out, nil
}

func (p *Parser) multiPoint(el *etree.Element, crs CRS) (orb.MultiPoint, error) {
	ms, err := members(el, "pointMember", "pointMembers")
	if err != nil {
		return nil, err
	}
	var mp orb.MultiPoint
	for _, m := range ms {
		mcrs, err := p.crs.Resolve(m, crs)
		if err != nil {
			return nil, err
		}
		pt, err := p.point(m, mcrs)
		if err != nil {
			return nil, err
		}
		mp = append(mp, pt)
	}
	return mp, nil
}

func (p *Parser) lineString(el *etree.Element, crs CRS) (orb.LineString, error) {
	pts, err := positions(el, crs)
	if err != nil {
		return nil, classifyError(el, err)
	}
	if len(pts) < 2 {
		return nil, classifyError(el,
			fmt.Errorf("%w: line string has %d positions", ErrInvalidCoordinates, len(pts)))
	}
	return orb.LineString(pts), nil
}

func (p *Parser) multiLineString(el *etree.Element, crs CRS, single, plural string) (orb.MultiLineString, error) {
	ms, err := members(el, single, plural)
	if err != nil {
		return nil, err
	}
	var mls orb.MultiLineString
	for _, m := range ms {
		mcrs, err := p.crs.Resolve(m, crs)
		if err != nil {
			return nil, err
		}
		if m.Tag != "LineString" {
			return nil, classifyError(m, fmt.Errorf("%w: %s in %s", ErrUnsupportedGeometry, m.Tag, el.Tag))
		}
		ls, err := p.lineString(m, mcrs)
		if err != nil {
			return nil, err
		}
		mls = append(mls, ls)
	}
	return mls, nil
}

// polygon resolves a GML 2 (outerBoundaryIs/innerBoundaryIs) or GML 3
// (exterior/interior) polygon. Holes are read before the exterior ring.
func (p *Parser) polygon(el *etree.Element, crs CRS) (orb.Polygon, error) {
	outer := gmlChildren(el, "outerBoundaryIs")
	inner := gmlChildren(el, "innerBoundaryIs")
	if len(outer) == 0 && len(inner) == 0 {
		outer = gmlChildren(el, "exterior")
		inner = gmlChildren(el, "interior")
	}

	holes := make([]orb.Ring, 0, len(inner))
	for _, b := range inner {
		ring, err := p.boundary(b, crs)
		if err != nil {
			return nil, err
		}
		holes = append(holes, ring)
	}

	if len(outer) != 1 {
		return nil, classifyError(el, fmt.Errorf("%w: found %d", ErrExteriorRing, len(outer)))
	}
	exterior, err := p.boundary(outer[0], crs)
	if err != nil {
		return nil, err
	}

	poly := make(orb.Polygon, 0, len(holes)+1)
	poly = append(poly, exterior)
	poly = append(poly, holes...)
	return poly, nil
}

// boundary reads the ring held by an exterior/interior boundary element,
// dispatching on the ring's local name.
func (p *Parser) boundary(b *etree.Element, crs CRS) (orb.Ring, error) {
	ring := firstChildElement(b)
	if ring == nil {
		return nil, classifyError(b, fmt.Errorf("%w: empty boundary", ErrInvalidCoordinates))
	}
	crs, err := p.crs.Resolve(ring, crs)
	if err != nil {
		return nil, err
	}

	switch ring.Tag {
	case "LinearRing":
		pts, err := positions(ring, crs)
		if err != nil {
			return nil, classifyError(ring, err)
		}
		if len(pts) == 0 {
			return nil, classifyError(ring, fmt.Errorf("%w: empty ring", ErrInvalidCoordinates))
		}
		return orb.Ring(pts), nil

	case "Ring":
		return p.curveRing(ring, crs)

	default:
		return nil, classifyError(ring, fmt.Errorf("%w: ring %s", ErrUnsupportedGeometry, ring.Tag))
	}
}

// curveRing reads a gml:Ring. Only straight segments are supported: curve
// members may be LineStrings or Curves whose segments are all
// LineStringSegments.
func (p *Parser) curveRing(ring *etree.Element, crs CRS) (orb.Ring, error) {
	var out orb.Ring
	add := func(pts []orb.Point) {
		for i, pt := range pts {
			// consecutive segments share their join point
			if i == 0 && len(out) > 0 && out[len(out)-1] == pt {
				continue
			}
			out = append(out, pt)
		}
	}

	for _, member := range gmlChildren(ring, "curveMember") {
		for _, curve := range member.ChildElements() {
			ccrs, err := p.crs.Resolve(curve, crs)
			if err != nil {
				return nil, err
			}
			switch curve.Tag {
			case "LineString":
				pts, err := positions(curve, ccrs)
				if err != nil {
					return nil, classifyError(curve, err)
				}
				add(pts)

			case "Curve":
				segments := gmlChild(curve, "segments")
				if segments == nil {
					return nil, classifyError(curve, fmt.Errorf("%w: curve without segments", ErrInvalidCoordinates))
				}
				for _, seg := range segments.ChildElements() {
					if seg.Tag != "LineStringSegment" {
						return nil, classifyError(seg, fmt.Errorf("%w: %s", ErrUnsupportedSegment, seg.Tag))
					}
					pts, err := positions(seg, ccrs)
					if err != nil {
						return nil, classifyError(seg, err)
					}
					add(pts)
				}

			default:
				return nil, classifyError(curve, fmt.Errorf("%w: %s", ErrUnsupportedSegment, curve.Tag))
			}
		}
	}

	if len(out) == 0 {
		return nil, classifyError(ring, fmt.Errorf("%w: empty ring", ErrInvalidCoordinates))
	}
	return out, nil
}

func (p *Parser) multiPolygon(el *etree.Element, crs CRS, single, plural string) (orb.MultiPolygon, error) {
	ms, err := members(el, single, plural)
	if err != nil {
		return nil, err
	}
	var mp orb.MultiPolygon
	for _, m := range ms {
		poly, err := p.surfacePolygon(m, crs)
		if err != nil {
			return nil, err
		}
		mp = append(mp, poly...)
	}
	return mp, nil
}

// surfacePolygon handles the element types allowed where a surface is
// expected: a Polygon yields one polygon and a Surface one per patch.
func (p *Parser) surfacePolygon(el *etree.Element, crs CRS) ([]orb.Polygon, error) {
	mcrs, err := p.crs.Resolve(el, crs)
	if err != nil {
		return nil, err
	}
	switch el.Tag {
	case "Polygon", "PolygonPatch":
		poly, err := p.polygon(el, mcrs)
		if err != nil {
			return nil, err
		}
		return []orb.Polygon{poly}, nil
	case "Surface":
		return p.surface(el, mcrs)
	default:
		return nil, classifyError(el, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, el.Tag))
	}
}

// surface treats a gml:Surface as a container of polygon patches.
func (p *Parser) surface(el *etree.Element, crs CRS) (orb.MultiPolygon, error) {
	patches := gmlChild(el, "patches")
	if patches == nil {
		patches = gmlChild(el, "polygonPatches")
	}
	if patches == nil {
		return nil, classifyError(el, fmt.Errorf("%w: surface without patches", ErrInvalidCoordinates))
	}
	var mp orb.MultiPolygon
	for _, patch := range patches.ChildElements() {
		polys, err := p.surfacePolygon(patch, crs)
		if err != nil {
			return nil, err
		}
		mp = append(mp, polys...)
	}
	if len(mp) == 0 {
		return nil, classifyError(el, fmt.Errorf("%w: surface has no patches", ErrInvalidCoordinates))
	}
	return mp, nil
}
