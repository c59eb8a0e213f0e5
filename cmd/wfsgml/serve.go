package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	wfs "github.com/tingold/orb-wfs"
	"github.com/tingold/orb-wfs/client"
	"github.com/tingold/orb-wfs/provider"
	"github.com/tingold/orb-wfs/render"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		extent   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the layer as GeoJSON and FlatGeobuf and keep a synced primitive set",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			start, err := parseExtent(extent)
			if err != nil {
				return err
			}
			logger, err := g.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reg := prometheus.NewRegistry()
			srv, err := newServer(cfg, start, logger, reg)
			if err != nil {
				return err
			}
			return srv.run(ctx, addr, interval)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "camera sampling interval")
	cmd.Flags().StringVar(&extent, "extent", "-180,-90,180,90", "initial viewport as minLon,minLat,maxLon,maxLat")
	return cmd
}

// viewportCamera is a camera placed above the centre of a lon/lat rectangle
// that HTTP clients move with PUT /viewport.
type viewportCamera struct {
	mu       sync.Mutex
	viewport orb.Bound
}

func (c *viewportCamera) set(b orb.Bound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewport = b
}

func (c *viewportCamera) Viewport() (orb.Bound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewport, true
}

func (c *viewportCamera) Pose() provider.Pose {
	b, _ := c.Viewport()
	center := b.Center()
	// rough altitude that keeps the rectangle in view
	height := max(b.Max.Lon()-b.Min.Lon(), b.Max.Lat()-b.Min.Lat()) * 111_000
	pos := render.WGS84.FromDegrees(center.Lon(), center.Lat(), height)
	return provider.Pose{
		Position:  pos,
		Direction: pos.Mul(-1).Normalize(),
		Frustum:   provider.Frustum{FOV: 60, AspectRatio: 1, Near: 1, Far: 2 * height},
	}
}

type server struct {
	cfg      client.Config
	client   *client.Client
	camera   *viewportCamera
	provider *provider.Provider
	logger   *zap.Logger
	registry *prometheus.Registry
}

func newServer(cfg client.Config, viewport orb.Bound, logger *zap.Logger, reg *prometheus.Registry) (*server, error) {
	c, err := client.New(cfg, client.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	cam := &viewportCamera{viewport: viewport}
	p, err := provider.New(cfg, render.NewCollection(), cam,
		provider.WithFetcher(c),
		provider.WithLogger(logger),
		provider.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	return &server{cfg: cfg, client: c, camera: cam, provider: p, logger: logger, registry: reg}, nil
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/data.geojson", s.handleData(".geojson"))
	r.Get("/data.fgb", s.handleData(".fgb"))
	r.Get("/status", s.handleStatus)
	r.Put("/viewport", s.handleViewport)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *server) run(ctx context.Context, addr string, interval time.Duration) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", addr), zap.String("layer", s.cfg.Layers))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return s.provider.Close()
			case <-t.C:
				s.provider.Tick(ctx)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleData converts the layer inside the bbox query parameter, or the
// whole layer without one.
func (s *server) handleData(ext string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var bbox *orb.Bound
		if q := r.URL.Query().Get("bbox"); q != "" {
			b, err := parseExtent(q)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			bbox = &b
		}

		body, err := s.client.GetFeature(r.Context(), bbox)
		if err != nil {
			s.logger.Warn("upstream fetch failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		coll, err := wfs.NewParser(wfs.WithLogger(s.logger)).Parse(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if len(coll.Features) == 0 && ext == ".fgb" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if ext == ".fgb" {
			w.Header().Set("Content-Type", "application/octet-stream")
		} else {
			w.Header().Set("Content-Type", "application/geo+json")
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")

		opts := wfs.DefaultExportOptions()
		opts.Name = s.cfg.Layers
		opts.CRS = coll.CRS
		if err := writeFeatures(w, "data"+ext, coll.Features, opts); err != nil {
			s.logger.Error("write failed", zap.Error(err))
		}
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	b, _ := s.camera.Viewport()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"layer":      s.cfg.Layers,
		"viewport":   client.FormatBBox(b),
		"features":   s.provider.FeatureCount(),
		"primitives": s.provider.PrimitiveCount(),
	})
}

func (s *server) handleViewport(w http.ResponseWriter, r *http.Request) {
	b, err := parseExtent(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.camera.set(b)
	w.WriteHeader(http.StatusNoContent)
}
