// Command wfsgml fetches GML features from a WFS layer and converts them to
// GeoJSON or FlatGeobuf, or serves the converted layer over HTTP.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tingold/orb-wfs/client"
)

type globalFlags struct {
	config      string
	url         string
	layers      string
	version     string
	maxFeatures int
	bbox        bool
	tiled       bool
	debug       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "wfsgml",
		Short:         "Fetch and convert WFS GML feature collections",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaults := client.DefaultConfig()
	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "YAML config file")
	pf.StringVar(&g.url, "url", "", "WFS service root, e.g. http://localhost:8080/geoserver")
	pf.StringVarP(&g.layers, "layers", "l", "", "feature type as namespace:name")
	pf.StringVar(&g.version, "wfs-version", defaults.Version, "WFS version")
	pf.IntVar(&g.maxFeatures, "max-features", defaults.MaxFeatures, "feature limit per request")
	pf.BoolVar(&g.bbox, "bbox", defaults.BBOX, "restrict requests to the viewport")
	pf.BoolVar(&g.tiled, "tiled", defaults.Tiled, "rebuild the whole layer on every refresh")
	pf.BoolVar(&g.debug, "debug", false, "development logging")

	root.AddCommand(
		newFetchCmd(g),
		newCapabilitiesCmd(g),
		newDescribeCmd(g),
		newServeCmd(g),
	)
	return root
}

// load reads the config file, if any, and applies the flags set on cmd.
func (g *globalFlags) load(cmd *cobra.Command) (client.Config, error) {
	cfg := client.DefaultConfig()
	if g.config != "" {
		var err error
		if cfg, err = client.LoadConfig(g.config); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = g.url
	}
	if flags.Changed("layers") {
		cfg.Layers = g.layers
	}
	if flags.Changed("wfs-version") {
		cfg.Version = g.version
	}
	if flags.Changed("max-features") {
		cfg.MaxFeatures = g.maxFeatures
	}
	if flags.Changed("bbox") {
		cfg.BBOX = g.bbox
	}
	if flags.Changed("tiled") {
		cfg.Tiled = g.tiled
	}
	return cfg, cfg.Validate()
}

func (g *globalFlags) logger() (*zap.Logger, error) {
	if g.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// parseExtent parses minLon,minLat,maxLon,maxLat.
func parseExtent(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("extent %q: want minLon,minLat,maxLon,maxLat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("extent %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("extent %q: min exceeds max", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
