package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tingold/orb-wfs/client"
)

const featuresDoc = `<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs"
    xmlns:gml="http://www.opengis.net/gml" xmlns:topp="http://www.openplans.org/topp">
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
</wfs:FeatureCollection>`

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("request") {
		case "GetFeature":
			_, _ = w.Write([]byte(featuresDoc))
		case "DescribeFeatureType":
			_, _ = w.Write([]byte("<xsd:schema/>"))
		case "GetCapabilities":
			_, _ = w.Write([]byte(`<WFS_Capabilities version="1.0.0"><FeatureTypeList>
<FeatureType><Name>topp:contours</Name><Title>Contours</Title><SRS>EPSG:4326</SRS>
<LatLongBoundingBox minx="-123" miny="37" maxx="-122" maxy="38"/></FeatureType>
</FeatureTypeList></WFS_Capabilities>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestParseExtent(t *testing.T) {
	b, err := parseExtent("-10, -5, 10, 5")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-10, -5}, Max: orb.Point{10, 5}}, b)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "10,0,0,10"} {
		_, err := parseExtent(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchGeoJSON(t *testing.T) {
	srv := upstream(t)
	out := run(t, "fetch", "--url", srv.URL, "--layers", "topp:contours")

	fc, err := geojson.UnmarshalFeatureCollection([]byte(out))
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "contour.1", fc.Features[0].ID)
	assert.Equal(t, "100", fc.Features[0].Properties["elevation"])
}

func TestFetchFlatGeobuf(t *testing.T) {
	srv := upstream(t)
	path := filepath.Join(t.TempDir(), "contours.fgb")
	run(t, "fetch", "--url", srv.URL, "--layers", "topp:contours", "-o", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("fgb"), data[:3])
}

func TestCapabilitiesAndDescribe(t *testing.T) {
	srv := upstream(t)

	out := run(t, "capabilities", "--url", srv.URL, "--layers", "topp:contours")
	assert.Contains(t, out, "topp:contours")
	assert.Contains(t, out, "-123,37,-122,38")

	out = run(t, "describe", "--url", srv.URL, "--layers", "topp:contours")
	assert.Equal(t, "<xsd:schema/>", out)
}

func TestConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("url: http://example.com\nlayers: topp:roads\nmaxFeatures: 10\n"), 0o644))

	g := &globalFlags{}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&g.config, "config", "", "")
	cmd.Flags().IntVar(&g.maxFeatures, "max-features", 100, "")
	cmd.Flags().BoolVar(&g.tiled, "tiled", false, "")
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--max-features", "25"}))

	cfg, err := g.load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", cfg.URL)
	assert.Equal(t, "topp:roads", cfg.Layers)
	assert.Equal(t, 25, cfg.MaxFeatures)
	assert.False(t, cfg.Tiled)
	assert.True(t, cfg.BBOX)
}

func TestServerRoutes(t *testing.T) {
	srv := upstream(t)
	cfg := client.DefaultConfig()
	cfg.URL = srv.URL
	cfg.Layers = "topp:contours"

	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	s, err := newServer(cfg, world, zaptest.NewLogger(t), prometheus.NewRegistry())
	require.NoError(t, err)
	defer s.provider.Close()
	h := s.routes()

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/data.geojson?bbox=-123,37,-122,38")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	rec = get("/data.fgb")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("fgb"), rec.Body.Bytes()[:3])

	rec = get("/data.fgb?bbox=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, s.provider.Refresh(context.Background()))
	rec = get("/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(1), status["features"])
	assert.Equal(t, float64(1), status["primitives"])

	put := httptest.NewRecorder()
	h.ServeHTTP(put, httptest.NewRequest(http.MethodPut, "/viewport?bbox=0,0,10,10", nil))
	assert.Equal(t, http.StatusNoContent, put.Code)
	b, _ := s.camera.Viewport()
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, b)

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wfs_refreshes_total")
}

func TestCameraPoseFollowsViewport(t *testing.T) {
	cam := &viewportCamera{viewport: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}}
	a := cam.Pose()
	assert.Equal(t, a, cam.Pose())

	cam.set(orb.Bound{Min: orb.Point{5, 5}, Max: orb.Point{15, 15}})
	assert.NotEqual(t, a, cam.Pose())
}
