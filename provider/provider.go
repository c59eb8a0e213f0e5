// Package provider keeps a renderer in sync with a WFS layer as the camera
// moves.
//
// Each camera move triggers a GetFeature request for the visible area. A new
// trigger cancels the request still in flight, so the newest viewport always
// wins and completions from superseded requests are dropped.
package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	wfs "github.com/tingold/orb-wfs"
	"github.com/tingold/orb-wfs/client"
	"github.com/tingold/orb-wfs/render"
)

// Errors returned by this package.
var (
	ErrMissingRenderer = errors.New("provider: renderer is required")
	ErrMissingCamera   = errors.New("provider: camera is required")
	ErrSuperseded      = errors.New("provider: refresh superseded by a newer request")
	ErrClosed          = errors.New("provider: closed")
)

// Frustum is the perspective part of a camera pose.
type Frustum struct {
	FOV         float64
	AspectRatio float64
	Near        float64
	Far         float64
}

// Pose is a camera snapshot. Poses are compared by value; any difference
// counts as movement.
type Pose struct {
	Position  r3.Vector
	Direction r3.Vector
	Up        r3.Vector
	Right     r3.Vector
	Transform [16]float64
	Frustum   Frustum
}

// Camera reports the current pose and the visible lon/lat rectangle. The
// viewport is absent when the camera does not look at the globe.
type Camera interface {
	Pose() Pose
	Viewport() (orb.Bound, bool)
}

// Fetcher issues WFS requests. *client.Client implements it.
type Fetcher interface {
	GetFeature(ctx context.Context, bbox *orb.Bound) ([]byte, error)
	GetFeaturesByID(ctx context.Context, ids ...string) ([]byte, error)
	GetFeatureByID(ctx context.Context, id string) ([]byte, error)
	GetCapabilities(ctx context.Context) ([]byte, error)
	DescribeFeatureType(ctx context.Context) ([]byte, error)
}

type options struct {
	fetcher    Fetcher
	logger     *zap.Logger
	registerer prometheus.Registerer
	adapter    render.AdapterOptions
	crs        *wfs.CRSRegistry
	now        func() time.Time
}

// Option configures a Provider.
type Option func(*options)

// WithFetcher replaces the HTTP client built from the config.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer registers the provider metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAdapterOptions sets the primitive style.
func WithAdapterOptions(a render.AdapterOptions) Option {
	return func(o *options) { o.adapter = a }
}

// WithCRSRegistry sets the CRS identifiers known to the parser.
func WithCRSRegistry(r *wfs.CRSRegistry) Option {
	return func(o *options) { o.crs = r }
}

// WithClock sets the clock used for registry expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Provider owns the rendered primitives of one WFS layer.
type Provider struct {
	cfg      client.Config
	fetcher  Fetcher
	renderer render.Renderer
	camera   Camera
	adapter  *render.Adapter
	parser   *wfs.Parser
	registry *wfs.Registry // nil in tiled mode
	logger   *zap.Logger
	metrics  *Metrics

	mu         sync.Mutex
	lastPose   Pose
	havePose   bool
	generation uint64
	cancel     context.CancelFunc
	handles    map[string][]render.Handle
	primitives int
	closed     bool
	wg         sync.WaitGroup
}

// New validates the configuration and creates a provider. Unless WithFetcher
// is given, requests go through a client.Client built from cfg.
func New(cfg client.Config, renderer render.Renderer, camera Camera, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, ErrMissingRenderer
	}
	if camera == nil {
		return nil, ErrMissingCamera
	}

	o := options{
		logger:  zap.NewNop(),
		adapter: render.DefaultAdapterOptions(),
		crs:     wfs.NewCRSRegistry(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fetcher == nil {
		c, err := client.New(cfg, client.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		o.fetcher = c
	}

	p := &Provider{
		cfg:      cfg,
		fetcher:  o.fetcher,
		renderer: renderer,
		camera:   camera,
		adapter:  render.NewAdapter(o.adapter),
		logger:   o.logger,
		metrics:  NewMetrics(o.registerer),
		handles:  make(map[string][]render.Handle),
	}

	parserOpts := []wfs.Option{wfs.WithCRSRegistry(o.crs), wfs.WithLogger(o.logger)}
	if !cfg.Tiled {
		p.registry = wfs.NewRegistry(wfs.RegistryOptions{
			MaxEntries: cfg.RegistryMaxEntries,
			TTL:        cfg.RegistryTTL,
			Now:        o.now,
		})
		parserOpts = append(parserOpts, wfs.WithRegistry(p.registry))
	}
	p.parser = wfs.NewParser(parserOpts...)
	return p, nil
}

// Tick samples the camera and starts a background refresh if the pose
// changed since the last trigger. It reports whether a refresh was started.
func (p *Provider) Tick(ctx context.Context) bool {
	pose := p.camera.Pose()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || (p.havePose && pose == p.lastPose) {
		return false
	}
	p.lastPose = pose
	p.havePose = true

	gen, rctx := p.beginLocked(ctx)
	viewport, ok := p.camera.Viewport()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.refresh(rctx, gen, viewport, ok); err != nil && !errors.Is(err, ErrSuperseded) {
			p.logger.Debug("refresh failed", zap.Uint64("generation", gen), zap.Error(err))
		}
	}()
	return true
}

// Refresh fetches the current viewport and waits for the result. It cancels
// any refresh in flight. Transport and parse failures leave the rendered set
// unchanged.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.lastPose = p.camera.Pose()
	p.havePose = true
	gen, rctx := p.beginLocked(ctx)
	p.mu.Unlock()

	viewport, ok := p.camera.Viewport()
	return p.refresh(rctx, gen, viewport, ok)
}

// beginLocked supersedes the refresh in flight and returns the generation of
// the new one.
func (p *Provider) beginLocked(ctx context.Context) (uint64, context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.generation++
	rctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	return p.generation, rctx
}

func (p *Provider) refresh(ctx context.Context, gen uint64, viewport orb.Bound, haveViewport bool) error {
	start := time.Now()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var bbox *orb.Bound
	if p.cfg.BBOX && haveViewport {
		bbox = &viewport
	}

	body, err := p.fetcher.GetFeature(ctx, bbox)
	if err != nil {
		p.mu.Lock()
		stale := gen != p.generation
		p.mu.Unlock()
		switch {
		case stale:
			p.metrics.ObserveRefresh(resultStale, start)
			return ErrSuperseded
		case errors.Is(err, context.DeadlineExceeded):
			p.metrics.ObserveRefresh(resultTimeout, start)
		case errors.Is(err, context.Canceled):
			p.metrics.ObserveRefresh(resultCanceled, start)
		default:
			p.metrics.ObserveRefresh(resultError, start)
		}
		p.logger.Warn("fetch failed", zap.Uint64("generation", gen), zap.Error(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation || p.closed {
		p.metrics.ObserveRefresh(resultStale, start)
		return ErrSuperseded
	}

	if p.registry == nil {
		err = p.replaceLocked(body)
	} else {
		err = p.mergeLocked(body, bbox)
	}
	if err != nil {
		p.metrics.ObserveRefresh(resultInvalid, start)
		return err
	}
	p.metrics.ObserveRefresh(resultOK, start)
	return nil
}

// replaceLocked swaps the whole rendered set for the features in body. The
// old set is kept when body cannot be parsed.
func (p *Provider) replaceLocked(body []byte) error {
	coll, err := p.parseLocked(body)
	if err != nil {
		return err
	}
	p.releaseAllLocked()
	p.addLocked(coll.Features, nil)
	return nil
}

// mergeLocked evicts features that left the viewport or expired, then adds
// the features of body not rendered yet.
func (p *Provider) mergeLocked(body []byte, viewport *orb.Bound) error {
	evicted := p.registry.Expire()
	if viewport != nil {
		evicted = append(evicted, p.registry.EvictOutside(*viewport)...)
	}
	p.metrics.Evictions.Add(float64(len(evicted)))
	p.releaseLocked(evicted)

	coll, err := p.parseLocked(body)
	if err != nil {
		p.syncGaugesLocked()
		return err
	}
	// features without an id cannot be deduplicated
	p.releaseLocked([]string{""})
	p.addEvictingLocked(coll)
	return nil
}

// addEvictingLocked releases the features the registry dropped while
// registering coll and renders the rest.
func (p *Provider) addEvictingLocked(coll *wfs.Collection) {
	p.metrics.Evictions.Add(float64(len(coll.Evicted)))
	p.releaseLocked(coll.Evicted)
	dropped := make(map[string]bool, len(coll.Evicted))
	for _, id := range coll.Evicted {
		dropped[id] = true
	}
	p.addLocked(coll.Features, dropped)
}

func (p *Provider) parseLocked(body []byte) (*wfs.Collection, error) {
	coll, err := p.parser.Parse(body)
	if err != nil {
		p.logger.Warn("discarding response", zap.Stringer("severity", wfs.SeverityOf(err)), zap.Error(err))
		return nil, err
	}
	p.metrics.FeaturesParsed.Add(float64(len(coll.Features)))
	p.metrics.FeaturesSkipped.Add(float64(coll.Skipped))
	p.metrics.FeatureErrors.Add(float64(len(coll.Errors)))
	return coll, nil
}

// addLocked renders features. Primitives already held for a feature id are
// released first, so a feature delivered again replaces its old primitives.
func (p *Provider) addLocked(features []*wfs.Feature, skip map[string]bool) {
	replaced := make(map[string]bool)
	for _, f := range features {
		if skip[f.ID] {
			continue
		}
		if f.ID != "" && !replaced[f.ID] {
			replaced[f.ID] = true
			p.releaseLocked([]string{f.ID})
		}
		prims, err := p.adapter.Primitives(f)
		if err != nil {
			p.metrics.FeatureErrors.Inc()
			p.logger.Warn("skipping feature", zap.String("feature", f.ID), zap.Error(err))
			continue
		}
		for _, prim := range prims {
			h, err := p.renderer.Add(prim)
			if err != nil {
				p.metrics.FeatureErrors.Inc()
				p.logger.Warn("renderer rejected primitive", zap.String("feature", f.ID), zap.Error(err))
				continue
			}
			p.handles[f.ID] = append(p.handles[f.ID], h)
			p.primitives++
		}
	}
	p.syncGaugesLocked()
}

func (p *Provider) releaseLocked(ids []string) {
	for _, id := range ids {
		for _, h := range p.handles[id] {
			if err := p.renderer.Remove(h); err != nil {
				p.logger.Warn("release failed", zap.String("feature", id), zap.Error(err))
			}
			p.primitives--
		}
		delete(p.handles, id)
	}
}

func (p *Provider) releaseAllLocked() {
	for id := range p.handles {
		for _, h := range p.handles[id] {
			if err := p.renderer.Remove(h); err != nil {
				p.logger.Warn("release failed", zap.String("feature", id), zap.Error(err))
			}
		}
	}
	p.handles = make(map[string][]render.Handle)
	p.primitives = 0
	p.syncGaugesLocked()
}

func (p *Provider) syncGaugesLocked() {
	p.metrics.Primitives.Set(float64(p.primitives))
	if p.registry != nil {
		p.metrics.RegistrySize.Set(float64(p.registry.Len()))
	}
}

// GetFeatureByID fetches one feature and renders it. With deduplication a
// registered feature is skipped; in tiled mode it replaces the primitives
// already rendered for its id.
func (p *Provider) GetFeatureByID(ctx context.Context, id string) (*wfs.Collection, error) {
	body, err := p.fetcher.GetFeatureByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.addBody(body)
}

// GetSpecificFeatures fetches the listed features and renders them the way
// GetFeatureByID does.
func (p *Provider) GetSpecificFeatures(ctx context.Context, ids ...string) (*wfs.Collection, error) {
	body, err := p.fetcher.GetFeaturesByID(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return p.addBody(body)
}

func (p *Provider) addBody(body []byte) (*wfs.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	coll, err := p.parseLocked(body)
	if err != nil {
		return nil, err
	}
	p.addEvictingLocked(coll)
	return coll, nil
}

// Capabilities fetches and decodes the service capabilities.
func (p *Provider) Capabilities(ctx context.Context) (*client.Capabilities, error) {
	body, err := p.fetcher.GetCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	return client.ParseCapabilities(body)
}

// DescribeFeatureType returns the XML schema of the layer.
func (p *Provider) DescribeFeatureType(ctx context.Context) ([]byte, error) {
	return p.fetcher.DescribeFeatureType(ctx)
}

// Clear cancels the refresh in flight, removes every primitive and forgets
// the registered features and the last pose.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearLocked()
}

func (p *Provider) clearLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.generation++
	p.releaseAllLocked()
	if p.registry != nil {
		p.registry.Clear()
	}
	p.havePose = false
	p.syncGaugesLocked()
}

// FeatureCount returns the number of features with live primitives.
func (p *Provider) FeatureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// PrimitiveCount returns the number of live primitives.
func (p *Provider) PrimitiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.primitives
}

// Close cancels the refresh in flight and waits for background work to
// finish. Rendered primitives are left in place.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.generation++
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
