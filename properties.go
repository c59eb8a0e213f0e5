package wfs

import (
	"strings"

	"github.com/beevik/etree"
)

// Properties holds the non-spatial values of a feature.
type Properties struct {
	Scalars map[string]string            // Leaf property elements keyed by local name
	Groups  map[string]map[string]string // Nested non-GML property groups
}

// Len returns the number of top-level properties.
func (p Properties) Len() int {
	return len(p.Scalars) + len(p.Groups)
}

// Map flattens the properties into a single map suitable for GeoJSON.
func (p Properties) Map() map[string]interface{} {
	out := make(map[string]interface{}, p.Len())
	for k, v := range p.Scalars {
		out[k] = v
	}
	for k, g := range p.Groups {
		m := make(map[string]interface{}, len(g))
		for gk, gv := range g {
			m[gk] = gv
		}
		out[k] = m
	}
	return out
}

// geometryElement is a GML geometry found under a feature property.
type geometryElement struct {
	property string
	element  *etree.Element
}

// extractProperties splits the children of a feature element into scalar
// properties, nested property groups and GML geometry elements. A GML
// boundedBy child is skipped; the caller resolves CRS from it.
func extractProperties(feature *etree.Element) (Properties, []geometryElement) {
	props := Properties{
		Scalars: make(map[string]string),
		Groups:  make(map[string]map[string]string),
	}
	var geoms []geometryElement

	for _, child := range feature.ChildElements() {
		if isGMLTag(child, "boundedBy") {
			continue
		}

		grandchildren := child.ChildElements()
		if len(grandchildren) == 0 {
			props.Scalars[child.Tag] = strings.TrimSpace(textContent(child))
			continue
		}

		group := make(map[string]string)
		for _, gc := range grandchildren {
			if isGML(gc) {
				geoms = append(geoms, geometryElement{property: child.Tag, element: gc})
				continue
			}
			group[gc.Tag] = strings.TrimSpace(textContent(gc))
		}
		if len(group) > 0 {
			props.Groups[child.Tag] = group
		}
	}

	return props, geoms
}

// featureID returns the identifier of a feature element: gml:id (GML 3),
// fid (GML 2), or the value of its first attribute.
func featureID(feature *etree.Element) string {
	for _, a := range feature.Attr {
		if a.Key == "id" && (a.Space == "gml" || a.NamespaceURI() == NamespaceGML || a.NamespaceURI() == NamespaceGML32) {
			return a.Value
		}
	}
	if fid := feature.SelectAttrValue("fid", ""); fid != "" {
		return fid
	}
	for _, a := range feature.Attr {
		if a.Space != "xmlns" && a.Key != "xmlns" {
			return a.Value
		}
	}
	return ""
}
