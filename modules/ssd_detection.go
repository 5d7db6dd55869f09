package modules

import (
	"fmt"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/okieraised/go-ssd300/config"
	"github.com/okieraised/go-ssd300/processing"
	"github.com/okieraised/go-ssd300/utils"
	"github.com/okieraised/go-triton-client/triton_proto"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// TritonClient is the part of the Triton gRPC client used for remote inference.
type TritonClient interface {
	GetModelConfiguration(timeout time.Duration, modelName, modelVersion string) (*triton_proto.ModelConfigResponse, error)
	ModelGRPCInfer(timeout time.Duration, request *triton_proto.ModelInferRequest) (*triton_proto.ModelInferResponse, error)
}

// SSDDetectionClient runs the backbone and the head convolutions on a Triton model and
// assembles the prediction tensor locally. The model exposes one NHWC output per head,
// named <layer>_mbox_conf and <layer>_mbox_loc.
type SSDDetectionClient struct {
	tritonClient TritonClient
	ModelParams  *config.SSD300Params
	DetParams    *config.SSDDetectionParams
	ModelConfig  *triton_proto.ModelConfigResponse
	layers       []processing.LayerDescriptor
	anchors      []*tensor.Dense
	variances    []*tensor.Dense
	assembler    *MultiScaleAssembler
}

func NewSSDDetectionClient(tritonClient TritonClient, detParams *config.SSDDetectionParams, modelParams *config.SSD300Params) (*SSDDetectionClient, error) {
	client := &SSDDetectionClient{}
	client.ModelParams = modelParams
	client.DetParams = detParams

	layers, err := processing.ResolveLayers(modelParams)
	if err != nil {
		return nil, err
	}
	client.layers = layers

	client.anchors, client.variances, err = processing.GenerateLayerAnchors(modelParams, layers)
	if err != nil {
		return nil, err
	}
	client.assembler = NewMultiScaleAssembler(modelParams.NumClasses)

	inferenceConfig, err := tritonClient.GetModelConfiguration(detParams.Timeout, detParams.ModelName, "")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get configuration of model %s", detParams.ModelName)
	}
	if inferenceConfig.GetConfig() == nil || len(inferenceConfig.GetConfig().GetInput()) == 0 {
		return nil, errors.Errorf("model %s declares no input", detParams.ModelName)
	}
	client.tritonClient = tritonClient
	client.ModelConfig = inferenceConfig

	return client, nil
}

// ClassifierSizes returns the (h, w) grid of every layer.
func (c *SSDDetectionClient) ClassifierSizes() [][2]int {
	return processing.ClassifierSizes(c.layers)
}

// TotalBoxes is the number of predictions per image.
func (c *SSDDetectionClient) TotalBoxes() int {
	return processing.TotalBoxes(c.layers)
}

// Infer returns the (len(imgs), total_boxes, n_classes+12) predictions of BGR images.
func (c *SSDDetectionClient) Infer(imgs []gocv.Mat) (*tensor.Dense, error) {
	images, err := utils.ImageToTensor(imgs, c.ModelParams.ImageHeight(), c.ModelParams.ImageWidth(), c.DetParams.NormalizeInput)
	if err != nil {
		return nil, err
	}
	return c.InferTensor(images)
}

// InferTensor runs preprocessed (batch, h, w, c) images through the remote model, splitting
// them in chunks of at most MaxBatchSize images.
func (c *SSDDetectionClient) InferTensor(images *tensor.Dense) (*tensor.Dense, error) {
	shape := images.Shape()
	expected := tensor.Shape{c.ModelParams.ImageHeight(), c.ModelParams.ImageWidth(), c.ModelParams.ImageChannels()}
	if len(shape) != 4 || !shape[1:].Eq(expected) {
		return nil, config.NewShapeMismatchError("input", "images", fmt.Sprintf("(b, %d, %d, %d)", expected[0], expected[1], expected[2]), shape)
	}

	data := utils.Contiguous(images).Float32s()
	imageSize := expected.TotalSize()
	batchSize := max(c.DetParams.MaxBatchSize, 1)
	outputs := make([]*tensor.Dense, 0)
	for i := 0; i < shape[0]; i += batchSize {
		end := min(i+batchSize, shape[0])
		predictions, err := c.inferBatch(data[i*imageSize:end*imageSize], end-i)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, predictions)
	}
	return utils.VStack(outputs)
}

func (c *SSDDetectionClient) inferBatch(batch []float32, size int) (*tensor.Dense, error) {
	modelRequest := &triton_proto.ModelInferRequest{
		ModelName: c.DetParams.ModelName,
	}

	modelInputs := make([]*triton_proto.ModelInferRequest_InferInputTensor, 0)
	for _, inputCfg := range c.ModelConfig.Config.Input {
		inputShape := inputCfg.Dims
		if c.ModelConfig.Config.MaxBatchSize > 0 {
			inputShape = append([]int64{int64(size)}, inputCfg.Dims...)
		}
		modelInput := &triton_proto.ModelInferRequest_InferInputTensor{
			Name:     inputCfg.Name,
			Datatype: inputCfg.DataType.String()[5:],
			Shape:    inputShape,
			Contents: &triton_proto.InferTensorContents{
				Fp32Contents: batch,
			},
		}
		modelInputs = append(modelInputs, modelInput)
	}
	modelRequest.Inputs = modelInputs

	inferResp, err := c.tritonClient.ModelGRPCInfer(c.DetParams.Timeout, modelRequest)
	if err != nil {
		return nil, errors.Wrapf(err, "inference on model %s failed", c.DetParams.ModelName)
	}
	if len(inferResp.RawOutputContents) != len(inferResp.Outputs) {
		return nil, errors.Errorf("model %s returned %d raw outputs for %d output tensors", c.DetParams.ModelName, len(inferResp.RawOutputContents), len(inferResp.Outputs))
	}

	netOut := orderedmap.NewOrderedMap[string, *tensor.Dense]()
	for idx, out := range inferResp.Outputs {
		outShape := make([]int, 0, len(out.Shape))
		for _, dim := range out.Shape {
			outShape = append(outShape, int(dim))
		}
		values := utils.BytesToT32[float32](inferResp.RawOutputContents[idx])
		if len(values) != tensor.Shape(outShape).TotalSize() {
			return nil, config.NewShapeMismatchError(out.Name, "raw output", tensor.Shape(outShape).TotalSize(), len(values))
		}
		netOut.Set(out.Name, tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(outShape...),
			tensor.WithBacking(values),
		))
	}

	layerOutputs := make([]LayerOutput, len(c.layers))
	for i, l := range c.layers {
		conf, ok := netOut.Get(fmt.Sprintf("%s_mbox_conf", l.Name))
		if !ok {
			return nil, config.NewShapeMismatchError(l.Name, "confidence", fmt.Sprintf("%s_mbox_conf output", l.Name), netOut.Keys())
		}
		loc, ok := netOut.Get(fmt.Sprintf("%s_mbox_loc", l.Name))
		if !ok {
			return nil, config.NewShapeMismatchError(l.Name, "location", fmt.Sprintf("%s_mbox_loc output", l.Name), netOut.Keys())
		}
		layerOutputs[i] = LayerOutput{
			Name:       l.Name,
			Confidence: conf,
			Location:   loc,
			Anchors:    c.anchors[i],
			Variances:  c.variances[i],
		}
	}

	predictions, _, err := c.assembler.Assemble(layerOutputs)
	if err != nil {
		return nil, err
	}
	if predictions.Dims() == 2 {
		s := predictions.Shape()
		if err = predictions.Reshape(1, s[0], s[1]); err != nil {
			return nil, err
		}
	}
	return predictions, nil
}
