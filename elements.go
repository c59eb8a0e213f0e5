package wfs

import (
	"strings"

	"github.com/beevik/etree"
)

// isGML reports whether el belongs to a GML namespace.
func isGML(el *etree.Element) bool {
	switch el.NamespaceURI() {
	case NamespaceGML, NamespaceGML32:
		return true
	}
	return false
}

// isGMLTag reports whether el is the GML element with the given local name.
func isGMLTag(el *etree.Element, local string) bool {
	return el.Tag == local && isGML(el)
}

// gmlChildren returns the direct GML children of el named local.
func gmlChildren(el *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	for _, ch := range el.ChildElements() {
		if isGMLTag(ch, local) {
			out = append(out, ch)
		}
	}
	return out
}

// gmlChild returns the first direct GML child of el named local.
func gmlChild(el *etree.Element, local string) *etree.Element {
	for _, ch := range el.ChildElements() {
		if isGMLTag(ch, local) {
			return ch
		}
	}
	return nil
}

// gmlDescendants returns all GML elements named local below el in document
// order.
func gmlDescendants(el *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, ch := range e.ChildElements() {
			if isGMLTag(ch, local) {
				out = append(out, ch)
			}
			walk(ch)
		}
	}
	walk(el)
	return out
}

func firstChildElement(el *etree.Element) *etree.Element {
	for _, tok := range el.Child {
		if ch, ok := tok.(*etree.Element); ok {
			return ch
		}
	}
	return nil
}

// textContent concatenates all character data below el.
func textContent(el *etree.Element) string {
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				sb.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return sb.String()
}

// elementPath renders the prefixed tag path from the document root to el.
func elementPath(el *etree.Element) string {
	var parts []string
	for e := el; e != nil; e = e.Parent() {
		if e.Tag == "" {
			break
		}
		parts = append(parts, e.FullTag())
	}
	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(parts[i])
	}
	return sb.String()
}
