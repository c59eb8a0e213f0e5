package wfs

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"
)

// Tuple is a single coordinate tuple as read from GML text.
type Tuple []float64

// TransformFunc maps a tuple in a source CRS to longitude, latitude and,
// for three dimensional data, height.
type TransformFunc func(Tuple) (Tuple, error)

// CRS represents the coordinate reference system in effect for a GML element.
type CRS struct {
	Name      string        // srsName as declared in the document
	Code      int           // EPSG code (e.g., 4326 for WGS84)
	Dimension int           // srsDimension, 2 or 3
	Transform TransformFunc // Conversion to geographic lon/lat(/height)
}

// WGS84 returns the default CRS (EPSG:4326, two dimensional).
func WGS84() CRS {
	return CRS{
		Name:      "EPSG:4326",
		Code:      4326,
		Dimension: 2,
		Transform: identityTransform,
	}
}

// Apply transforms t and returns its planar position. The tuple arity must
// match the CRS dimension.
func (c CRS) Apply(t Tuple) (orb.Point, error) {
	if len(t) != c.Dimension {
		return orb.Point{}, fmt.Errorf("%w: expected %d values per position, got %d",
			ErrInvalidCoordinates, c.Dimension, len(t))
	}
	out, err := c.Transform(t)
	if err != nil {
		return orb.Point{}, err
	}
	if len(out) < 2 {
		return orb.Point{}, fmt.Errorf("%w: transform returned %d values", ErrInvalidCoordinates, len(out))
	}
	return orb.Point{out[0], out[1]}, nil
}

func identityTransform(t Tuple) (Tuple, error) {
	out := make(Tuple, len(t))
	copy(out, t)
	return out, nil
}

type crsEntry struct {
	code      int
	transform TransformFunc
}

// CRSRegistry maps srsName identifiers to transforms. It is safe for
// concurrent use.
type CRSRegistry struct {
	mu      sync.RWMutex
	entries map[string]crsEntry
}

// NewCRSRegistry returns a registry holding the WGS84 identifiers commonly
// emitted by WFS servers.
func NewCRSRegistry() *CRSRegistry {
	r := &CRSRegistry{entries: make(map[string]crsEntry)}
	for _, name := range []string{
		"EPSG:4326",
		"urn:ogc:def:crs:EPSG::4326",
		"urn:ogc:def:crs:EPSG:6.6:4326",
		"urn:x-ogc:def:crs:EPSG:4326",
		"http://www.opengis.net/gml/srs/epsg.xml#4326",
		"http://www.opengis.net/def/crs/EPSG/0/4326",
		"urn:ogc:def:crs:OGC:1.3:CRS84",
	} {
		r.Register(name, 4326, identityTransform)
	}
	return r
}

// Register adds or replaces the transform used for srsName.
func (r *CRSRegistry) Register(srsName string, code int, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[srsName] = crsEntry{code: code, transform: fn}
}

// Lookup returns the CRS registered under srsName with the given dimension.
func (r *CRSRegistry) Lookup(srsName string, dimension int) (CRS, bool) {
	r.mu.RLock()
	e, ok := r.entries[srsName]
	r.mu.RUnlock()
	if !ok {
		return CRS{}, false
	}
	return CRS{Name: srsName, Code: e.code, Dimension: dimension, Transform: e.transform}, true
}

// Resolve returns the CRS in effect for el. Only the srsName and srsDimension
// attributes present on el override the inherited values.
func (r *CRSRegistry) Resolve(el *etree.Element, inherited CRS) (CRS, error) {
	if el == nil {
		return inherited, nil
	}
	resolved := inherited

	if dim := strings.TrimSpace(el.SelectAttrValue("srsDimension", "")); dim != "" {
		n, err := strconv.Atoi(dim)
		if err != nil || n < 2 || n > 3 {
			return inherited, &ParseError{
				Severity: SeverityDocument,
				Path:     elementPath(el),
				Err:      fmt.Errorf("%w: %q", ErrInvalidDimension, dim),
			}
		}
		resolved.Dimension = n
	}

	if name := strings.TrimSpace(el.SelectAttrValue("srsName", "")); name != "" {
		c, ok := r.Lookup(name, resolved.Dimension)
		if !ok {
			return inherited, &ParseError{
				Severity: SeverityDocument,
				Path:     elementPath(el),
				Err:      fmt.Errorf("%w: %s", ErrUnknownCRS, name),
			}
		}
		resolved = c
	}

	return resolved, nil
}
