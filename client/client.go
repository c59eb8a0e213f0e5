// Package client builds OGC WFS requests and fetches their raw responses.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Common errors returned by this package.
var (
	ErrMissingURL    = errors.New("client: url is required")
	ErrMissingLayers = errors.New("client: layers is required")
	ErrInvalidConfig = errors.New("client: invalid config")
	ErrEmptyResponse = errors.New("client: empty response")
	ErrNoFeatureIDs  = errors.New("client: at least one feature id is required")
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("client: %s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client issues WFS requests for one layer.
type Client struct {
	cfg    Config
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
	group  singleflight.Group
}

// New validates cfg and creates a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !strings.HasSuffix(base.Path, "/wfs") {
		base = base.JoinPath("wfs")
	}
	if cfg.Version == "" {
		cfg.Version = DefaultConfig().Version
	}

	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) requestURL(request string, params url.Values) string {
	q := c.base.Query()
	q.Set("service", "WFS")
	q.Set("version", c.cfg.Version)
	q.Set("request", request)
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u := *c.base
	u.RawQuery = q.Encode()
	return u.String()
}

// CapabilitiesURL returns the GetCapabilities request URL.
func (c *Client) CapabilitiesURL() string {
	return c.requestURL("GetCapabilities", nil)
}

// DescribeFeatureTypeURL returns the DescribeFeatureType request URL for the
// configured layer.
func (c *Client) DescribeFeatureTypeURL() string {
	return c.requestURL("DescribeFeatureType", url.Values{"typeName": {c.cfg.Layers}})
}

// GetFeatureURL returns the GetFeature request URL. When bbox is not nil it
// is sent as minLon,minLat,maxLon,maxLat.
func (c *Client) GetFeatureURL(bbox *orb.Bound) string {
	params := url.Values{
		"typeName":    {c.cfg.Layers},
		"maxFeatures": {strconv.Itoa(c.cfg.MaxFeatures)},
	}
	if bbox != nil {
		params.Set("bbox", FormatBBox(*bbox))
	}
	return c.requestURL("GetFeature", params)
}

// FeaturesByIDURL returns a GetFeature request URL for an explicit list of
// feature ids such as "contour.1".
func (c *Client) FeaturesByIDURL(ids ...string) string {
	return c.requestURL("GetFeature", url.Values{
		"typeName":  {c.cfg.Layers},
		"featureID": {strings.Join(ids, ",")},
	})
}

// FeatureByIDURL returns a GetFeature request URL for one feature id. The
// server resolves the type from the id.
func (c *Client) FeatureByIDURL(id string) string {
	return c.requestURL("GetFeature", url.Values{"featureID": {id}})
}

// FormatBBox renders b as minLon,minLat,maxLon,maxLat.
func FormatBBox(b orb.Bound) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return strings.Join([]string{f(b.Min.Lon()), f(b.Min.Lat()), f(b.Max.Lon()), f(b.Max.Lat())}, ",")
}

// Fetch performs a GET request and returns the response body. Blank bodies
// are reported as ErrEmptyResponse.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("fetched", zap.String("url", rawURL), zap.Int("bytes", len(body)))
	return body, nil
}

// shared collapses concurrent calls for the same URL into one request. The
// request is detached from any single caller's context and bounded by the
// client timeout; each caller stops waiting when its own ctx is done.
func (c *Client) shared(ctx context.Context, rawURL string) ([]byte, error) {
	ch := c.group.DoChan(rawURL, func() (interface{}, error) {
		return c.Fetch(context.WithoutCancel(ctx), rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// GetCapabilities fetches the service capabilities document.
func (c *Client) GetCapabilities(ctx context.Context) ([]byte, error) {
	return c.shared(ctx, c.CapabilitiesURL())
}

// DescribeFeatureType fetches the XML schema of the configured layer.
func (c *Client) DescribeFeatureType(ctx context.Context) ([]byte, error) {
	return c.shared(ctx, c.DescribeFeatureTypeURL())
}

// GetFeature fetches the configured layer, optionally bounded by bbox.
func (c *Client) GetFeature(ctx context.Context, bbox *orb.Bound) ([]byte, error) {
	return c.Fetch(ctx, c.GetFeatureURL(bbox))
}

// GetFeaturesByID fetches the listed features.
func (c *Client) GetFeaturesByID(ctx context.Context, ids ...string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, ErrNoFeatureIDs
	}
	return c.Fetch(ctx, c.FeaturesByIDURL(ids...))
}

// GetFeatureByID fetches a single feature.
func (c *Client) GetFeatureByID(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrNoFeatureIDs
	}
	return c.Fetch(ctx, c.FeatureByIDURL(id))
}
