package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/okieraised/go-ssd300/modules"
	"github.com/okieraised/go-ssd300/utils"
	gotritonclient "github.com/okieraised/go-triton-client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"gorgonia.org/tensor"
)

type scoredBox struct {
	index int
	class int
	score float32
	row   []float32
}

func newDetectCmd() *cobra.Command {
	var (
		configPath string
		url        string
		modelName  string
		imagePath  string
		top        int
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run an image through the Triton hosted SSD300 model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if top < 0 {
				return errors.Errorf("--top must not be negative, got %d", top)
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if modelName != "" {
				cfg.Detection.ModelName = modelName
			}

			content, err := os.ReadFile(imagePath)
			if err != nil {
				return errors.Wrapf(err, "failed to read image %s", imagePath)
			}
			img, err := utils.ImageToOpenCV(content)
			if err != nil {
				return errors.Wrap(err, "failed to decode image")
			}
			defer img.Close()

			tritonClient, err := gotritonclient.NewTritonGRPCClient(
				url,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithKeepaliveParams(keepalive.ClientParameters{PermitWithoutStream: true}),
			)
			if err != nil {
				return errors.Wrapf(err, "failed to connect to %s", url)
			}

			client, err := modules.NewSSDDetectionClient(tritonClient, cfg.Detection, cfg.Model)
			if err != nil {
				return err
			}
			zap.L().Debug("detection client ready", zap.String("model", cfg.Detection.ModelName), zap.Int("total_boxes", client.TotalBoxes()))

			predictions, err := client.Infer([]gocv.Mat{*img})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "predictions %v\n", predictions.Shape())

			best, err := bestBoxes(predictions, cfg.Model.NumClasses, top)
			if err != nil {
				return err
			}
			for _, b := range best {
				n := cfg.Model.NumClasses
				fmt.Fprintf(cmd.OutOrStdout(), "box %5d class %3d score %.4f offsets %v anchor %v\n",
					b.index, b.class, b.score, b.row[n:n+4], b.row[n+4:n+8])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (defaults to SSD300)")
	cmd.Flags().StringVar(&url, "url", "localhost:8001", "Triton gRPC endpoint")
	cmd.Flags().StringVar(&modelName, "model", "", "Triton model name, overrides the configuration")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "image file")
	cmd.Flags().IntVar(&top, "top", 10, "number of boxes to print")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// bestBoxes ranks the boxes of the first image by their best non-background score.
func bestBoxes(predictions *tensor.Dense, numClasses, top int) ([]scoredBox, error) {
	shape := predictions.Shape()
	if len(shape) != 3 || shape[2] != numClasses+12 {
		return nil, errors.Errorf("unexpected prediction shape %v", shape)
	}
	width := shape[2]
	data := utils.Contiguous(predictions).Float32s()

	boxes := make([]scoredBox, 0, shape[1])
	for i := range shape[1] {
		row := data[i*width : (i+1)*width]
		scores := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(numClasses-1), tensor.WithBacking(row[1:numClasses]))
		class, err := utils.ArgMax(scores)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, scoredBox{index: i, class: class + 1, score: row[class+1], row: row})
	}

	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].score > boxes[j].score })
	return boxes[:min(max(top, 0), len(boxes))], nil
}
