// Package wfs parses OGC Web Feature Service responses encoded in GML 2/3 into
// orb geometries. It resolves coordinate reference system declarations at
// collection, feature and geometry scope, separates feature properties from
// geometry, and can export the parsed features as GeoJSON or FlatGeobuf.
package wfs

import (
	"errors"
	"fmt"
)

// GML namespaces recognised by the parser.
const (
	NamespaceGML   = "http://www.opengis.net/gml"
	NamespaceGML32 = "http://www.opengis.net/gml/3.2"
)

// Common errors returned by this package.
var (
	ErrEmptyDocument       = errors.New("wfs: empty document")
	ErrInvalidDocument     = errors.New("wfs: invalid document")
	ErrUnknownCRS          = errors.New("wfs: unknown crs name")
	ErrInvalidDimension    = errors.New("wfs: invalid srsDimension")
	ErrInvalidCoordinates  = errors.New("wfs: invalid coordinates")
	ErrUnsupportedGeometry = errors.New("wfs: unsupported geometry type")
	ErrUnsupportedSegment  = errors.New("wfs: unsupported curve segment")
	ErrExteriorRing        = errors.New("wfs: polygon requires exactly one exterior ring")
	ErrNoFeatures          = errors.New("wfs: no features to export")
)

// Severity tells a caller how far a failure reaches.
type Severity int

const (
	// SeverityFeature failures affect a single geometry of a single feature.
	SeverityFeature Severity = iota
	// SeverityDocument failures abort the whole parse.
	SeverityDocument
	// SeverityConfig failures happen at construction and are not retried.
	SeverityConfig
)

func (s Severity) String() string {
	switch s {
	case SeverityFeature:
		return "feature"
	case SeverityDocument:
		return "document"
	case SeverityConfig:
		return "config"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// ParseError carries the element path and feature id of a parse failure.
type ParseError struct {
	Severity  Severity
	FeatureID string
	Path      string
	Err       error
}

func (e *ParseError) Error() string {
	if e.FeatureID != "" {
		return fmt.Sprintf("%v (feature %s at %s)", e.Err, e.FeatureID, e.Path)
	}
	if e.Path != "" {
		return fmt.Sprintf("%v (at %s)", e.Err, e.Path)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// SeverityOf reports the severity of err. Errors that are not a *ParseError
// are treated as document failures.
func SeverityOf(err error) Severity {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Severity
	}
	return SeverityDocument
}

// isDocumentFatal reports whether err must abort the whole parse rather than
// a single feature.
func isDocumentFatal(err error) bool {
	return errors.Is(err, ErrUnknownCRS) || errors.Is(err, ErrInvalidDimension)
}
