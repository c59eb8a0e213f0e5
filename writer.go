package wfs

import (
	"io"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"
)

// ExportOptions configures FlatGeobuf export of parsed features.
type ExportOptions struct {
	Name         string // Layer name
	Description  string // Layer description
	IncludeIndex bool   // Include spatial index (default: true)
	CRS          CRS    // Coordinate reference system; zero value means WGS84
}

// DefaultExportOptions returns default options for FlatGeobuf export.
func DefaultExportOptions() *ExportOptions {
	return &ExportOptions{
		IncludeIndex: true,
		CRS:          WGS84(),
	}
}

// GeoJSON converts parsed features to a GeoJSON feature collection.
func GeoJSON(features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if f == nil || f.Geometry.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry.Geometry)
		gf.ID = f.ID
		gf.Properties = geojson.Properties(f.Properties.Map())
		fc.Append(gf)
	}
	return fc
}

// WriteFlatGeobuf writes parsed features to w in FlatGeobuf format. Scalar
// properties become String columns and property groups Json columns.
func WriteFlatGeobuf(w io.Writer, features []*Feature, opts *ExportOptions) error {
	if opts == nil {
		opts = DefaultExportOptions()
	}

	features = withGeometry(features)
	if len(features) == 0 {
		return ErrNoFeatures
	}

	// A single geometry type in the header lets readers skip per-feature types.
	geomType := fgbGeometryType(features[0].Geometry)
	for _, f := range features[1:] {
		if fgbGeometryType(f.Geometry) != geomType {
			geomType = flattypes.GeometryTypeUnknown
			break
		}
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(geomType)
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}

	schema := buildSchema(features)
	if len(schema.columns) > 0 {
		header.SetColumns(schema.writerColumns(builder))
	}

	crs := opts.CRS
	if crs.Code == 0 && crs.Name == "" {
		crs = WGS84()
	}
	fgbCRS := writer.NewCrs(builder)
	fgbCRS.SetOrg("EPSG")
	if crs.Code > 0 {
		fgbCRS.SetCode(int32(crs.Code))
	}
	if crs.Name != "" {
		fgbCRS.SetName(crs.Name)
	}
	header.SetCrs(fgbCRS)

	gen := &featureGenerator{features: features, schema: schema}
	fgbWriter := writer.NewWriter(header, opts.IncludeIndex, gen, nil)

	_, err := fgbWriter.Write(w)
	return err
}

func withGeometry(features []*Feature) []*Feature {
	out := make([]*Feature, 0, len(features))
	for _, f := range features {
		if f != nil && f.Geometry.Geometry != nil {
			out = append(out, f)
		}
	}
	return out
}

// featureGenerator feeds parsed features to the FlatGeobuf writer.
type featureGenerator struct {
	features []*Feature
	schema   *schema
	index    int
}

func (g *featureGenerator) Generate() *writer.Feature {
	if g.index >= len(g.features) {
		return nil
	}

	f := g.features[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(1024)
	fgbGeom := fgbGeometry(f.Geometry, builder)
	if fgbGeom == nil {
		return g.Generate() // Skip unsupported geometries
	}

	feature := writer.NewFeature(builder)
	feature.SetGeometry(fgbGeom)

	if props := g.schema.encode(f.Properties); len(props) > 0 {
		feature.SetProperties(props)
	}

	return feature
}
