package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/okieraised/go-ssd300/processing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newAnchorsCmd() *cobra.Command {
	var (
		configPath string
		layer      int
	)

	cmd := &cobra.Command{
		Use:   "anchors",
		Short: "Print the per-layer anchor layout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			params := cfg.Model

			layers, err := processing.ResolveLayers(params)
			if err != nil {
				return err
			}
			zap.L().Debug("resolved layers", zap.Int("count", len(layers)), zap.Ints("image_size", params.ImageSize[:]))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LAYER\tGRID\tSCALES\tRATIOS\tK\tBOXES")
			for _, l := range layers {
				fmt.Fprintf(w, "%s\t%dx%d\t%.3f/%.3f\t%v\t%d\t%d\n",
					l.Name, l.GridHeight, l.GridWidth, l.ThisScale, l.NextScale, l.AspectRatios, l.NumBoxes, l.NumAnchors())
			}
			fmt.Fprintf(w, "TOTAL\t\t\t\t\t%d\n", processing.TotalBoxes(layers))
			if err = w.Flush(); err != nil {
				return err
			}

			if layer < 0 {
				return nil
			}
			if layer >= len(layers) {
				return fmt.Errorf("layer %d out of range [0, %d)", layer, len(layers))
			}
			boxes, variances, err := processing.GenerateAnchorBoxes(layers[layer].AnchorBoxConfig(params))
			if err != nil {
				return err
			}
			data, vars := boxes.Float32s(), variances.Float32s()
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s first cell (%s):\n", layers[layer].Name, params.Coords)
			for a := range layers[layer].NumBoxes {
				fmt.Fprintf(cmd.OutOrStdout(), "  box %d: %8.3f %8.3f %8.3f %8.3f  variances %v\n",
					a, data[a*4], data[a*4+1], data[a*4+2], data[a*4+3], vars[a*4:a*4+4])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults to SSD300)")
	cmd.Flags().IntVarP(&layer, "layer", "l", -1, "dump the first cell anchors of this layer")
	return cmd
}
