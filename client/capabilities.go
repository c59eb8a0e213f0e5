package client

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Capabilities is the subset of a WFS GetCapabilities document used to pick
// a layer and its extent.
type Capabilities struct {
	XMLName      xml.Name      `xml:"WFS_Capabilities"`
	Version      string        `xml:"version,attr"`
	Service      Service       `xml:"Service"`
	FeatureTypes []FeatureType `xml:"FeatureTypeList>FeatureType"`
}

// Service describes the server.
type Service struct {
	Name     string `xml:"Name"`
	Title    string `xml:"Title"`
	Abstract string `xml:"Abstract"`
}

// FeatureType is one advertised layer. WFS 1.0.0 uses SRS and
// LatLongBoundingBox, 1.1.0 uses DefaultSRS and WGS84BoundingBox.
type FeatureType struct {
	Name       string `xml:"Name"`
	Title      string `xml:"Title"`
	Abstract   string `xml:"Abstract"`
	SRS        string `xml:"SRS"`
	DefaultSRS string `xml:"DefaultSRS"`

	LatLongBoundingBox *struct {
		MinX string `xml:"minx,attr"`
		MinY string `xml:"miny,attr"`
		MaxX string `xml:"maxx,attr"`
		MaxY string `xml:"maxy,attr"`
	} `xml:"LatLongBoundingBox"`

	WGS84BoundingBox *struct {
		LowerCorner string `xml:"LowerCorner"`
		UpperCorner string `xml:"UpperCorner"`
	} `xml:"WGS84BoundingBox"`
}

// CRSName returns the advertised SRS of either WFS version.
func (ft FeatureType) CRSName() string {
	if ft.SRS != "" {
		return strings.TrimSpace(ft.SRS)
	}
	return strings.TrimSpace(ft.DefaultSRS)
}

// Bound returns the advertised lon/lat extent, if any.
func (ft FeatureType) Bound() (orb.Bound, bool) {
	switch {
	case ft.LatLongBoundingBox != nil:
		bb := ft.LatLongBoundingBox
		v, err := parseFloats(bb.MinX, bb.MinY, bb.MaxX, bb.MaxY)
		if err != nil {
			return orb.Bound{}, false
		}
		return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, true

	case ft.WGS84BoundingBox != nil:
		lo := strings.Fields(ft.WGS84BoundingBox.LowerCorner)
		hi := strings.Fields(ft.WGS84BoundingBox.UpperCorner)
		if len(lo) != 2 || len(hi) != 2 {
			return orb.Bound{}, false
		}
		v, err := parseFloats(lo[0], lo[1], hi[0], hi[1])
		if err != nil {
			return orb.Bound{}, false
		}
		return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, true
	}
	return orb.Bound{}, false
}

// FeatureType returns the layer with the given name.
func (c *Capabilities) FeatureType(name string) (FeatureType, bool) {
	for _, ft := range c.FeatureTypes {
		if ft.Name == name {
			return ft, true
		}
	}
	return FeatureType{}, false
}

// ParseCapabilities decodes a GetCapabilities response.
func ParseCapabilities(data []byte) (*Capabilities, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyResponse
	}
	var caps Capabilities
	if err := xml.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("client: decode capabilities: %w", err)
	}
	return &caps, nil
}

func parseFloats(ss ...string) ([]float64, error) {
	out := make([]float64, len(ss))
	for i, s := range ss {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
