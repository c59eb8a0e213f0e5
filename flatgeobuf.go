package wfs

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// fgbGeometryType maps a parsed geometry kind to its FlatGeobuf type.
func fgbGeometryType(g Geometry) flattypes.GeometryType {
	switch g.Kind {
	case KindPoint:
		return flattypes.GeometryTypePoint
	case KindMultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case KindLineString:
		return flattypes.GeometryTypeLineString
	case KindMultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case KindPolygon:
		return flattypes.GeometryTypePolygon
	case KindMultiPolygon, KindSurface:
		return flattypes.GeometryTypeMultiPolygon
	default:
		return flattypes.GeometryTypeUnknown
	}
}

// fgbGeometry encodes a parsed geometry for the FlatGeobuf writer. It
// returns nil when the orb payload does not match the kind.
func fgbGeometry(g Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	fg := writer.NewGeometry(builder)
	fg.SetType(fgbGeometryType(g))

	switch v := g.Geometry.(type) {
	case orb.Point:
		fg.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		fg.SetXY(pointsToXY(v))

	case orb.LineString:
		fg.SetXY(pointsToXY(v))

	case orb.MultiLineString:
		parts := make([][]orb.Point, len(v))
		for i, ls := range v {
			parts[i] = ls
		}
		xy, ends := partsToXYEnds(parts)
		fg.SetXY(xy)
		fg.SetEnds(ends)

	case orb.Polygon:
		xy, ends := polygonToXYEnds(v)
		fg.SetXY(xy)
		fg.SetEnds(ends)

	case orb.MultiPolygon:
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			pg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := polygonToXYEnds(poly)
			pg.SetXY(xy)
			pg.SetEnds(ends)
			parts = append(parts, *pg)
		}
		fg.SetParts(parts)

	default:
		return nil
	}

	return fg
}

func pointsToXY(pts []orb.Point) []float64 {
	xy := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// partsToXYEnds flattens several point sequences into one XY array and the
// cumulative end index of each sequence.
func partsToXYEnds(parts [][]orb.Point) ([]float64, []uint32) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	xy := make([]float64, 0, total*2)
	ends := make([]uint32, 0, len(parts))
	cumulative := uint32(0)
	for _, p := range parts {
		xy = append(xy, pointsToXY(p)...)
		cumulative += uint32(len(p))
		ends = append(ends, cumulative)
	}
	return xy, ends
}

func polygonToXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	parts := make([][]orb.Point, len(poly))
	for i, r := range poly {
		parts[i] = r
	}
	return partsToXYEnds(parts)
}

type columnKind int

const (
	columnScalar columnKind = iota
	columnGroup
)

type column struct {
	name string
	kind columnKind
}

// schema is the FlatGeobuf column layout derived from a set of features.
type schema struct {
	columns []column
	index   map[string]int
}

// buildSchema collects every property name in first-seen order. Scalars map
// to String columns and groups to Json columns; a name used both ways is
// stored as Json.
func buildSchema(features []*Feature) *schema {
	s := &schema{index: make(map[string]int)}
	add := func(name string, kind columnKind) {
		if i, ok := s.index[name]; ok {
			if kind == columnGroup {
				s.columns[i].kind = columnGroup
			}
			return
		}
		s.index[name] = len(s.columns)
		s.columns = append(s.columns, column{name: name, kind: kind})
	}

	for _, f := range features {
		for _, name := range sortedKeys(f.Properties.Scalars) {
			add(name, columnScalar)
		}
		for _, name := range sortedKeys(f.Properties.Groups) {
			add(name, columnGroup)
		}
	}
	return s
}

func (s *schema) writerColumns(builder *flatbuffers.Builder) []*writer.Column {
	cols := make([]*writer.Column, 0, len(s.columns))
	for _, c := range s.columns {
		col := writer.NewColumn(builder)
		col.SetName(c.name)
		col.SetTitle(c.name) // Set title to match name for JS library compatibility
		if c.kind == columnGroup {
			col.SetType(flattypes.ColumnTypeJson)
		} else {
			col.SetType(flattypes.ColumnTypeString)
		}
		col.SetNullable(true)
		cols = append(cols, col)
	}
	return cols
}

// encode writes properties as [uint16 column index][uint32 length][bytes]
// records, the FlatGeobuf encoding for String and Json columns.
func (s *schema) encode(props Properties) []byte {
	if props.Len() == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, c := range s.columns {
		var value []byte
		if g, ok := props.Groups[c.name]; ok {
			b, err := json.Marshal(g)
			if err != nil {
				continue
			}
			value = b
		} else if v, ok := props.Scalars[c.name]; ok {
			if c.kind == columnGroup {
				b, _ := json.Marshal(v)
				value = b
			} else {
				value = []byte(v)
			}
		} else {
			continue
		}

		var hdr [6]byte
		binary.LittleEndian.PutUint16(hdr[:2], uint16(s.index[c.name]))
		binary.LittleEndian.PutUint32(hdr[2:], uint32(len(value)))
		buf.Write(hdr[:])
		buf.Write(value)
	}
	return buf.Bytes()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
