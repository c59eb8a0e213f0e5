package render

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"github.com/paulmach/orb"
)

// Ellipsoid is an ellipsoid of revolution used to place geodetic positions
// in Cartesian space.
type Ellipsoid struct {
	SemiMajor float64 // Equatorial radius in meters
	SemiMinor float64 // Polar radius in meters
}

// WGS84 is the WGS84 reference ellipsoid.
var WGS84 = Ellipsoid{
	SemiMajor: 6378137.0,
	SemiMinor: 6356752.3142451793,
}

// FromDegrees converts longitude and latitude in degrees and height in
// meters above the ellipsoid to Earth-centered Cartesian coordinates.
func (e Ellipsoid) FromDegrees(lon, lat, height float64) r3.Vector {
	return e.FromAngles(s1.Angle(lon)*s1.Degree, s1.Angle(lat)*s1.Degree, height)
}

// FromAngles converts a geodetic position to Earth-centered Cartesian
// coordinates.
func (e Ellipsoid) FromAngles(lon, lat s1.Angle, height float64) r3.Vector {
	a2 := e.SemiMajor * e.SemiMajor
	b2 := e.SemiMinor * e.SemiMinor
	e2 := 1 - b2/a2

	sinLat, cosLat := math.Sincos(lat.Radians())
	sinLon, cosLon := math.Sincos(lon.Radians())

	// prime vertical radius of curvature
	n := e.SemiMajor / math.Sqrt(1-e2*sinLat*sinLat)

	return r3.Vector{
		X: (n + height) * cosLat * cosLon,
		Y: (n + height) * cosLat * sinLon,
		Z: (n*(1-e2) + height) * sinLat,
	}
}

// FromPoints converts lon/lat points on the ellipsoid surface.
func (e Ellipsoid) FromPoints(pts []orb.Point) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, p := range pts {
		out[i] = e.FromDegrees(p.Lon(), p.Lat(), 0)
	}
	return out
}
