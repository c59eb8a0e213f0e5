package wfs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"
)

// parseCoordinates parses GML 2 coordinates text. Tuples are separated by ts
// and values by cs; an empty ts means any run of whitespace.
func parseCoordinates(text, cs, ts, decimal string) ([]Tuple, error) {
	if cs == "" {
		cs = ","
	}
	if decimal == "" {
		decimal = "."
	}

	var raw []string
	if ts == "" || strings.TrimSpace(ts) == "" {
		raw = strings.Fields(text)
	} else {
		for _, s := range strings.Split(text, ts) {
			if s = strings.TrimSpace(s); s != "" {
				raw = append(raw, s)
			}
		}
	}

	tuples := make([]Tuple, 0, len(raw))
	for _, r := range raw {
		parts := strings.Split(r, cs)
		t := make(Tuple, 0, len(parts))
		for _, p := range parts {
			v, err := parseValue(strings.TrimSpace(p), decimal)
			if err != nil {
				return nil, err
			}
			t = append(t, v)
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// parsePosList groups whitespace separated values into tuples of dim values.
func parsePosList(text string, dim int) ([]Tuple, error) {
	if dim < 1 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidCoordinates, dim)
	}
	fields := strings.Fields(text)
	if len(fields)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values cannot be grouped by dimension %d",
			ErrInvalidCoordinates, len(fields), dim)
	}

	tuples := make([]Tuple, 0, len(fields)/dim)
	for i := 0; i < len(fields); i += dim {
		t := make(Tuple, dim)
		for j := 0; j < dim; j++ {
			v, err := parseValue(fields[i+j], ".")
			if err != nil {
				return nil, err
			}
			t[j] = v
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

func parseValue(s, decimal string) (float64, error) {
	if decimal != "." {
		s = strings.ReplaceAll(s, decimal, ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidCoordinates, s)
	}
	return v, nil
}

// positions reads every coordinate carried by the direct children of el, in
// document order, and transforms them with crs. It understands
// gml:coordinates, gml:posList, gml:pos, gml:coord and gml:pointProperty.
func positions(el *etree.Element, crs CRS) ([]orb.Point, error) {
	var pts []orb.Point
	for _, ch := range el.ChildElements() {
		if !isGML(ch) {
			continue
		}

		var (
			tuples []Tuple
			err    error
		)
		local := crs
		switch ch.Tag {
		case "coordinates":
			tuples, err = parseCoordinates(textContent(ch),
				ch.SelectAttrValue("cs", ","),
				ch.SelectAttrValue("ts", " "),
				ch.SelectAttrValue("decimal", "."))
		case "posList", "pos":
			if d := ch.SelectAttrValue("srsDimension", ""); d != "" {
				local.Dimension, err = strconv.Atoi(d)
				if err != nil || local.Dimension < 2 || local.Dimension > 3 {
					return nil, fmt.Errorf("%w: %q", ErrInvalidCoordinates, d)
				}
			}
			tuples, err = parsePosList(textContent(ch), local.Dimension)
			if c := ch.SelectAttrValue("count", ""); err == nil && c != "" {
				if n, cerr := strconv.Atoi(c); cerr != nil || n != len(tuples) {
					err = fmt.Errorf("%w: count %q does not match %d positions", ErrInvalidCoordinates, c, len(tuples))
				}
			}
		case "coord":
			var t Tuple
			if t, err = parseCoord(ch); err == nil {
				tuples = []Tuple{t}
			}
		case "pointProperty", "pointRep":
			p := gmlChild(ch, "Point")
			if p == nil {
				continue
			}
			var sub []orb.Point
			if sub, err = positions(p, crs); err != nil {
				return nil, err
			}
			pts = append(pts, sub...)
			continue
		default:
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, t := range tuples {
			p, err := local.Apply(t)
			if err != nil {
				return nil, err
			}
			pts = append(pts, p)
		}
	}
	return pts, nil
}

// parseCoord reads a GML 2 coord element with X, Y and optional Z children.
func parseCoord(el *etree.Element) (Tuple, error) {
	var t Tuple
	for _, axis := range []string{"X", "Y", "Z"} {
		ch := gmlChild(el, axis)
		if ch == nil {
			break
		}
		v, err := parseValue(strings.TrimSpace(textContent(ch)), ".")
		if err != nil {
			return nil, err
		}
		t = append(t, v)
	}
	if len(t) < 2 {
		return nil, fmt.Errorf("%w: coord requires X and Y", ErrInvalidCoordinates)
	}
	return t, nil
}
