package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tingold/orb-wfs/client"
	"github.com/tingold/orb-wfs/render"
)

const contoursDoc = `<?xml version="1.0" encoding="UTF-8"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs"
    xmlns:gml="http://www.opengis.net/gml" xmlns:topp="http://www.openplans.org/topp">
  <gml:boundedBy>
    <gml:Box srsName="EPSG:4326"><gml:coordinates>-123,9 11,38</gml:coordinates></gml:Box>
  </gml:boundedBy>
  <gml:featureMember>
    <topp:contours fid="contour.1">
      <topp:elevation>100</topp:elevation>
      <topp:the_geom>
        <gml:LineString srsName="EPSG:4326">
          <gml:coordinates>-122.5,37.5 -122.4,37.6</gml:coordinates>
        </gml:LineString>
      </topp:the_geom>
    </topp:contours>
  </gml:featureMember>
  <gml:featureMember>
    <topp:contours fid="contour.2">
      <topp:elevation>200</topp:elevation>
      <topp:the_geom>
        <gml:Point srsName="EPSG:4326"><gml:coordinates>10,10</gml:coordinates></gml:Point>
      </topp:the_geom>
    </topp:contours>
  </gml:featureMember>
</wfs:FeatureCollection>`

// eastDoc is what the server returns for the east viewport.
const eastDoc = `<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs"
    xmlns:gml="http://www.opengis.net/gml" xmlns:topp="http://www.openplans.org/topp">
  <gml:featureMember>
    <topp:contours fid="contour.2">
      <topp:elevation>200</topp:elevation>
      <topp:the_geom>
        <gml:Point srsName="EPSG:4326"><gml:coordinates>10,10</gml:coordinates></gml:Point>
      </topp:the_geom>
    </topp:contours>
  </gml:featureMember>
</wfs:FeatureCollection>`

var (
	world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	east  = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{20, 20}}
)

type fakeCamera struct {
	mu       sync.Mutex
	pose     Pose
	viewport orb.Bound
	visible  bool
}

func newCamera(viewport orb.Bound) *fakeCamera {
	return &fakeCamera{viewport: viewport, visible: true}
}

func (c *fakeCamera) Pose() Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

func (c *fakeCamera) Viewport() (orb.Bound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport, c.visible
}

func (c *fakeCamera) move(x float64, viewport orb.Bound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose.Position = r3.Vector{X: x}
	c.viewport = viewport
}

type fakeFetcher struct {
	mu         sync.Mutex
	getFeature func(ctx context.Context, bbox *orb.Bound) ([]byte, error)
	bboxes     []*orb.Bound
	ids        []string
}

func (f *fakeFetcher) GetFeature(ctx context.Context, bbox *orb.Bound) ([]byte, error) {
	f.mu.Lock()
	f.bboxes = append(f.bboxes, bbox)
	fn := f.getFeature
	f.mu.Unlock()
	return fn(ctx, bbox)
}

func (f *fakeFetcher) GetFeaturesByID(ctx context.Context, ids ...string) ([]byte, error) {
	f.mu.Lock()
	f.ids = append(f.ids, ids...)
	f.mu.Unlock()
	return []byte(contoursDoc), nil
}

func (f *fakeFetcher) GetFeatureByID(ctx context.Context, id string) ([]byte, error) {
	return f.GetFeaturesByID(ctx, id)
}

func (f *fakeFetcher) GetCapabilities(ctx context.Context) ([]byte, error) {
	return []byte(`<WFS_Capabilities version="1.0.0"><FeatureTypeList>
<FeatureType><Name>topp:contours</Name><SRS>EPSG:4326</SRS></FeatureType>
</FeatureTypeList></WFS_Capabilities>`), nil
}

func (f *fakeFetcher) DescribeFeatureType(ctx context.Context) ([]byte, error) {
	return []byte("<xsd:schema/>"), nil
}

func staticFetcher(body string) *fakeFetcher {
	return &fakeFetcher{getFeature: func(context.Context, *orb.Bound) ([]byte, error) {
		return []byte(body), nil
	}}
}

func testConfig(tiled bool) client.Config {
	cfg := client.DefaultConfig()
	cfg.URL = "http://localhost:8080/geoserver"
	cfg.Layers = "topp:contours"
	cfg.Tiled = tiled
	return cfg
}

func newTestProvider(t *testing.T, cfg client.Config, cam Camera, f Fetcher) (*Provider, *render.Collection) {
	t.Helper()
	coll := render.NewCollection()
	p, err := New(cfg, coll, cam,
		WithFetcher(f),
		WithLogger(zaptest.NewLogger(t)),
		WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, coll
}

func TestNewValidates(t *testing.T) {
	cam := newCamera(world)
	coll := render.NewCollection()

	_, err := New(client.Config{Layers: "a:b"}, coll, cam)
	assert.ErrorIs(t, err, client.ErrMissingURL)

	_, err = New(testConfig(false), nil, cam)
	assert.ErrorIs(t, err, ErrMissingRenderer)

	_, err = New(testConfig(false), coll, nil)
	assert.ErrorIs(t, err, ErrMissingCamera)
}

func TestRefreshDeduplicates(t *testing.T) {
	f := staticFetcher(contoursDoc)
	p, coll := newTestProvider(t, testConfig(false), newCamera(world), f)
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 2, coll.Len())
	assert.Equal(t, 2, p.FeatureCount())

	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 2, coll.Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.FeaturesSkipped))
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.Refreshes.WithLabelValues(resultOK)))

	require.Len(t, f.bboxes, 2)
	require.NotNil(t, f.bboxes[0])
	assert.Equal(t, world, *f.bboxes[0])
}

func TestRefreshWithoutBBox(t *testing.T) {
	cfg := testConfig(false)
	cfg.BBOX = false
	f := staticFetcher(contoursDoc)
	p, _ := newTestProvider(t, cfg, newCamera(world), f)

	require.NoError(t, p.Refresh(context.Background()))
	require.Len(t, f.bboxes, 1)
	assert.Nil(t, f.bboxes[0])
}

func TestRefreshTiledReplaces(t *testing.T) {
	var fail bool
	f := &fakeFetcher{getFeature: func(context.Context, *orb.Bound) ([]byte, error) {
		if fail {
			return []byte("<wfs:FeatureCollection"), nil
		}
		return []byte(contoursDoc), nil
	}}
	p, coll := newTestProvider(t, testConfig(true), newCamera(world), f)
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx))
	first := coll.Primitives()
	require.Len(t, first, 2)

	require.NoError(t, p.Refresh(ctx))
	second := coll.Primitives()
	require.Len(t, second, 2)
	assert.NotSame(t, first[0], second[0])

	fail = true
	assert.Error(t, p.Refresh(ctx))
	assert.Equal(t, second, coll.Primitives())
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Refreshes.WithLabelValues(resultInvalid)))
}

func TestRefreshEvictsOutsideViewport(t *testing.T) {
	f := &fakeFetcher{getFeature: func(_ context.Context, bbox *orb.Bound) ([]byte, error) {
		if *bbox == east {
			return []byte(eastDoc), nil
		}
		return []byte(contoursDoc), nil
	}}
	cam := newCamera(world)
	p, coll := newTestProvider(t, testConfig(false), cam, f)
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx))
	require.Equal(t, 2, p.FeatureCount())

	cam.move(1, east)
	require.NoError(t, p.Refresh(ctx))

	assert.Equal(t, 1, p.FeatureCount())
	prims := coll.Primitives()
	require.Len(t, prims, 1)
	assert.Equal(t, "contour.2", prims[0].FeatureID())
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Evictions))

	// back to the full view: contour.1 is fetched and rendered again
	cam.move(2, world)
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 2, coll.Len())
}

func TestRefreshFailureKeepsPrimitives(t *testing.T) {
	var fail bool
	f := &fakeFetcher{getFeature: func(context.Context, *orb.Bound) ([]byte, error) {
		if fail {
			return nil, client.ErrEmptyResponse
		}
		return []byte(contoursDoc), nil
	}}
	p, coll := newTestProvider(t, testConfig(false), newCamera(world), f)
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx))
	fail = true
	assert.ErrorIs(t, p.Refresh(ctx), client.ErrEmptyResponse)
	assert.Equal(t, 2, coll.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Refreshes.WithLabelValues(resultError)))
}

func TestRefreshTimeout(t *testing.T) {
	cfg := testConfig(false)
	cfg.Timeout = 50 * time.Millisecond
	f := &fakeFetcher{getFeature: func(ctx context.Context, _ *orb.Bound) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p, coll := newTestProvider(t, cfg, newCamera(world), f)

	err := p.Refresh(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, coll.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Refreshes.WithLabelValues(resultTimeout)))
}

func TestTickOnlyOnMovement(t *testing.T) {
	cam := newCamera(world)
	p, coll := newTestProvider(t, testConfig(false), cam, staticFetcher(contoursDoc))
	ctx := context.Background()

	assert.True(t, p.Tick(ctx))
	assert.False(t, p.Tick(ctx))

	cam.move(1, world)
	assert.True(t, p.Tick(ctx))

	require.Eventually(t, func() bool { return coll.Len() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())
	assert.False(t, p.Tick(ctx))
	assert.Equal(t, 2, coll.Len())
}

func TestTickCancelsOutstandingFetch(t *testing.T) {
	var (
		mu       sync.Mutex
		firstErr error
	)
	f := &fakeFetcher{getFeature: func(ctx context.Context, bbox *orb.Bound) ([]byte, error) {
		if *bbox == world {
			<-ctx.Done()
			mu.Lock()
			firstErr = ctx.Err()
			mu.Unlock()
			return nil, ctx.Err()
		}
		return []byte(contoursDoc), nil
	}}
	cam := newCamera(world)
	p, coll := newTestProvider(t, testConfig(false), cam, f)
	ctx := context.Background()

	require.True(t, p.Tick(ctx))
	cam.move(1, east)
	require.True(t, p.Tick(ctx))
	require.Eventually(t, func() bool { return coll.Len() == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, errors.Is(firstErr, context.Canceled))
	assert.Equal(t, 2, coll.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(p.metrics.Refreshes.WithLabelValues(resultStale)))
}

func TestGetSpecificFeatures(t *testing.T) {
	f := staticFetcher(contoursDoc)
	p, coll := newTestProvider(t, testConfig(false), newCamera(world), f)
	ctx := context.Background()

	got, err := p.GetSpecificFeatures(ctx, "contour.1", "contour.2")
	require.NoError(t, err)
	assert.Len(t, got.Features, 2)
	assert.Equal(t, []string{"contour.1", "contour.2"}, f.ids)
	assert.Equal(t, 2, coll.Len())

	got, err = p.GetFeatureByID(ctx, "contour.1")
	require.NoError(t, err)
	assert.Empty(t, got.Features)
	assert.Equal(t, 2, got.Skipped)
	assert.Equal(t, 2, coll.Len())
}

func TestGetFeatureByIDTiledReplaces(t *testing.T) {
	f := staticFetcher(contoursDoc)
	p, coll := newTestProvider(t, testConfig(true), newCamera(world), f)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := p.GetFeatureByID(ctx, "contour.1")
		require.NoError(t, err)
		assert.Len(t, got.Features, 2)
		assert.Equal(t, 2, coll.Len())
		assert.Equal(t, 2, p.PrimitiveCount())
		assert.Equal(t, 2, p.FeatureCount())
	}
}

// partialDoc holds a feature with one valid and one broken geometry.
const partialDoc = `<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs"
    xmlns:gml="http://www.opengis.net/gml" xmlns:topp="http://www.openplans.org/topp">
  <gml:featureMember>
    <topp:sites fid="site.1">
      <topp:entrance><gml:Point><gml:coordinates>10,10</gml:coordinates></gml:Point></topp:entrance>
      <topp:footprint><gml:Polygon></gml:Polygon></topp:footprint>
    </topp:sites>
  </gml:featureMember>
</wfs:FeatureCollection>`

func TestRefreshPartialFeatureIsReplaced(t *testing.T) {
	p, coll := newTestProvider(t, testConfig(false), newCamera(world), staticFetcher(partialDoc))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Refresh(ctx))
		assert.Equal(t, 1, coll.Len())
		assert.Equal(t, 1, p.PrimitiveCount())
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(p.metrics.FeatureErrors))
	assert.Zero(t, p.registry.Len())
}

func TestCapabilitiesAndDescribe(t *testing.T) {
	p, _ := newTestProvider(t, testConfig(false), newCamera(world), staticFetcher(contoursDoc))
	ctx := context.Background()

	caps, err := p.Capabilities(ctx)
	require.NoError(t, err)
	ft, ok := caps.FeatureType("topp:contours")
	require.True(t, ok)
	assert.Equal(t, "EPSG:4326", ft.CRSName())

	schema, err := p.DescribeFeatureType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<xsd:schema/>", string(schema))
}

func TestClear(t *testing.T) {
	p, coll := newTestProvider(t, testConfig(false), newCamera(world), staticFetcher(contoursDoc))
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx))
	p.Clear()
	assert.Equal(t, 0, coll.Len())
	assert.Equal(t, 0, p.FeatureCount())
	assert.Equal(t, 0, p.PrimitiveCount())

	// the registry was cleared too, so the same features render again
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 2, coll.Len())
}

func TestProviderOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wfs" || r.URL.Query().Get("request") != "GetFeature" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "topp:contours", r.URL.Query().Get("typeName"))
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("bbox"), "-180,-90"))
		_, _ = w.Write([]byte(contoursDoc))
	}))
	defer srv.Close()

	cfg := testConfig(false)
	cfg.URL = srv.URL
	coll := render.NewCollection()
	p, err := New(cfg, coll, newCamera(world), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, 2, coll.Len())
}
