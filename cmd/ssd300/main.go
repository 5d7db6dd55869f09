package main

import (
	"os"

	"github.com/okieraised/go-ssd300/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "ssd300",
		Short:         "SSD300 anchors and remote detection",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(verbose)
			if err != nil {
				return errors.Wrap(err, "failed to create logger")
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			_ = zap.L().Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAnchorsCmd(), newDetectCmd())
	return root
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig returns the defaults when path is empty.
func loadConfig(path string) (*config.File, error) {
	if path == "" {
		detection := *config.DefaultSSDDetectionParams
		return &config.File{Model: config.DefaultSSD300Params(), Detection: &detection}, nil
	}
	return config.LoadFile(path)
}
