package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	wfs "github.com/tingold/orb-wfs"
	"github.com/tingold/orb-wfs/client"
)

func newFetchCmd(g *globalFlags) *cobra.Command {
	var (
		output string
		extent string
		ids    []string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a layer and write it as GeoJSON or FlatGeobuf",
		Long: "Fetch a layer and write it as GeoJSON or FlatGeobuf. The format follows\n" +
			"the output extension: .fgb for FlatGeobuf, anything else for GeoJSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			logger, err := g.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := client.New(cfg, client.WithLogger(logger))
			if err != nil {
				return err
			}

			var body []byte
			switch {
			case len(ids) > 0:
				body, err = c.GetFeaturesByID(cmd.Context(), ids...)
			case extent != "":
				var b orb.Bound
				if b, err = parseExtent(extent); err != nil {
					return err
				}
				body, err = c.GetFeature(cmd.Context(), &b)
			default:
				body, err = c.GetFeature(cmd.Context(), nil)
			}
			if err != nil {
				return err
			}

			coll, err := wfs.NewParser(wfs.WithLogger(logger)).Parse(body)
			if err != nil {
				return err
			}
			logger.Info("parsed",
				zap.Int("features", len(coll.Features)),
				zap.Int("errors", len(coll.Errors)))

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			opts := wfs.DefaultExportOptions()
			opts.Name = cfg.Layers
			opts.CRS = coll.CRS
			return writeFeatures(w, output, coll.Features, opts)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for GeoJSON on stdout")
	cmd.Flags().StringVar(&extent, "extent", "", "area to fetch as minLon,minLat,maxLon,maxLat")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "fetch only these feature ids")
	return cmd
}

func writeFeatures(w io.Writer, name string, features []*wfs.Feature, opts *wfs.ExportOptions) error {
	if strings.EqualFold(filepath.Ext(name), ".fgb") {
		return wfs.WriteFlatGeobuf(w, features, opts)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(wfs.GeoJSON(features))
}

func newCapabilitiesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List the feature types advertised by the service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			body, err := c.GetCapabilities(cmd.Context())
			if err != nil {
				return err
			}
			caps, err := client.ParseCapabilities(body)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTITLE\tSRS\tEXTENT")
			for _, ft := range caps.FeatureTypes {
				ext := ""
				if b, ok := ft.Bound(); ok {
					ext = client.FormatBBox(b)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ft.Name, ft.Title, ft.CRSName(), ext)
			}
			return tw.Flush()
		},
	}
}

func newDescribeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "Print the XML schema of the layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			c, err := client.New(cfg)
			if err != nil {
				return err
			}
			body, err := c.DescribeFeatureType(cmd.Context())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
}
