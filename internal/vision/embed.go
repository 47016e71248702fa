package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder maps an aligned face crop to a fixed-length descriptor. Input and
// output names and the descriptor length are read from the model, so any
// NCHW face-recognition network with a single [1, D] output fits.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	inputW  int
	inputH  int
	dim     int
}

func NewEmbedder(modelPath string) (*Embedder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect embedder model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("embedder model: want 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}

	inDims, outDims := inputs[0].Dimensions, outputs[0].Dimensions
	if len(inDims) != 4 || len(outDims) != 2 {
		return nil, fmt.Errorf("embedder model: unexpected shapes %v -> %v", inDims, outDims)
	}
	inputH, inputW, dim := int(inDims[2]), int(inDims[3]), int(outDims[1])
	if inputH <= 0 || inputW <= 0 {
		inputH, inputW = 112, 112
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedder model: dynamic output dimension %v", outDims)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session: session,
		input:   input,
		output:  output,
		inputW:  inputW,
		inputH:  inputH,
		dim:     dim,
	}, nil
}

// Embed returns the L2-normalized descriptor for a CHW face crop.
func (e *Embedder) Embed(chw []float32) ([]float32, error) {
	copy(e.input.GetData(), chw)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	v := make([]float32, e.dim)
	copy(v, e.output.GetData())
	normalize(v)
	return v, nil
}

func (e *Embedder) Dim() int {
	return e.dim
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}

// normalize performs L2 normalization in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
