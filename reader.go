package wfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/beevik/etree"
	"github.com/paulmach/orb"
	"go.uber.org/zap"
)

// Feature is one parsed feature geometry together with the feature's
// properties. A feature element holding several geometry properties yields
// one Feature per geometry, all sharing ID and Properties.
type Feature struct {
	ID         string
	Properties Properties
	Geometry   Geometry
}

// Collection is the result of parsing one GML document.
type Collection struct {
	CRS      CRS           // Collection level CRS
	Features []*Feature    // Parsed features in document order
	Errors   []*ParseError // Feature level failures; those geometries were not emitted
	Skipped  int           // Features skipped because they were already registered
	Evicted  []string      // Ids dropped from the registry while registering this document
}

// Bound returns the combined extent of all features.
func (c *Collection) Bound() orb.Bound {
	if len(c.Features) == 0 {
		return orb.Bound{}
	}
	b := c.Features[0].Geometry.Bound()
	for _, f := range c.Features[1:] {
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// Option configures a Parser.
type Option func(*Parser)

// WithCRSRegistry sets the registry used to resolve srsName attributes.
func WithCRSRegistry(r *CRSRegistry) Option {
	return func(p *Parser) { p.crs = r }
}

// WithRegistry enables deduplication against r. Without a registry (tiled
// mode) every feature is emitted on every parse.
func WithRegistry(r *Registry) Option {
	return func(p *Parser) { p.registry = r }
}

// WithLogger sets the logger used for feature level diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// Parser converts GML feature collections into Features.
type Parser struct {
	crs      *CRSRegistry
	registry *Registry
	logger   *zap.Logger
}

// NewParser creates a parser. By default it knows the WGS84 identifiers,
// does not deduplicate and does not log.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		crs:    NewCRSRegistry(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseReader reads a GML document from r and parses it.
func (p *Parser) ParseReader(r io.Reader) (*Collection, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, &ParseError{Severity: SeverityDocument, Err: fmt.Errorf("%w: %v", ErrInvalidDocument, err)}
	}
	return p.parseDocument(doc)
}

// Parse parses a GML feature collection.
//
// CRS failures abort the parse and nothing is registered. Geometry failures
// are isolated to their feature and reported in Collection.Errors.
func (p *Parser) Parse(data []byte) (*Collection, error) {
	if len(data) == 0 {
		return nil, &ParseError{Severity: SeverityDocument, Err: ErrEmptyDocument}
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{Severity: SeverityDocument, Err: fmt.Errorf("%w: %v", ErrInvalidDocument, err)}
	}
	return p.parseDocument(doc)
}

func (p *Parser) parseDocument(doc *etree.Document) (*Collection, error) {
	root := doc.Root()
	if root == nil {
		return nil, &ParseError{Severity: SeverityDocument, Err: ErrEmptyDocument}
	}

	coll := &Collection{CRS: WGS84()}
	if c, ok := p.crs.Lookup(coll.CRS.Name, coll.CRS.Dimension); ok {
		coll.CRS = c
	}
	if bb := gmlChild(root, "boundedBy"); bb != nil {
		crs, err := p.crs.Resolve(firstChildElement(bb), coll.CRS)
		if err != nil {
			return nil, err
		}
		coll.CRS = crs
	}

	members := gmlDescendants(root, "featureMember")
	if len(members) == 0 {
		members = gmlDescendants(root, "featureMembers")
	}

	w := &walk{
		parser:  p,
		coll:    coll,
		pending: make(map[string]orb.Bound),
	}
	for _, m := range members {
		for _, feature := range m.ChildElements() {
			if err := w.feature(feature); err != nil {
				return nil, err
			}
		}
	}

	w.commit()
	return coll, nil
}

// walk holds the state of one parse. Registrations stay pending until the
// whole document has been read.
type walk struct {
	parser  *Parser
	coll    *Collection
	pending map[string]orb.Bound
	order   []string
}

func (w *walk) feature(el *etree.Element) error {
	p := w.parser
	id := featureID(el)

	if p.registry != nil && id != "" {
		if _, seen := w.pending[id]; seen || p.registry.Contains(id) {
			w.coll.Skipped++
			return nil
		}
	}

	crs := w.coll.CRS
	if bb := gmlChild(el, "boundedBy"); bb != nil {
		var err error
		if crs, err = p.crs.Resolve(firstChildElement(bb), crs); err != nil {
			return withFeature(err, id)
		}
	}

	props, geoms := extractProperties(el)
	var (
		bound  orb.Bound
		parsed []*Feature
		failed bool
	)
	for _, g := range geoms {
		geom, err := p.classify(g.element, crs)
		if err != nil {
			err = withFeature(err, id)
			if SeverityOf(err) == SeverityDocument {
				return err
			}
			var pe *ParseError
			errors.As(err, &pe)
			w.coll.Errors = append(w.coll.Errors, pe)
			failed = true
			p.logger.Warn("skipping geometry",
				zap.String("feature", id),
				zap.String("path", pe.Path),
				zap.Error(pe.Err))
			continue
		}
		geom.Name = g.property
		if len(parsed) == 0 {
			bound = geom.Bound()
		} else {
			bound = bound.Union(geom.Bound())
		}
		parsed = append(parsed, &Feature{ID: id, Properties: props, Geometry: geom})
	}

	w.coll.Features = append(w.coll.Features, parsed...)
	// Features with a failed geometry stay unregistered so a later poll
	// reports them again.
	if p.registry != nil && id != "" && len(parsed) > 0 && !failed {
		w.pending[id] = bound
		w.order = append(w.order, id)
	}
	return nil
}

func (w *walk) commit() {
	reg := w.parser.registry
	if reg == nil {
		return
	}
	for _, id := range w.order {
		w.coll.Evicted = append(w.coll.Evicted, reg.Add(id, w.pending[id])...)
	}
}

func withFeature(err error, id string) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		if pe.FeatureID == "" {
			pe.FeatureID = id
		}
		return pe
	}
	return &ParseError{Severity: SeverityDocument, FeatureID: id, Err: err}
}
