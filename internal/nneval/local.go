package nneval

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"

	"github.com/zerocoach/engine/internal/modelcache"
)

// LocalONNX runs inference in-process against ONNX model bytes read once and
// reused across batches, the same pattern as the teacher's MLModel/
// MLModelTemplate split in game/mlhelper.go: a cached, read-only template
// is decoded into a fresh graph instance on every PredictBatch call, bound
// to fresh input tensors.
type LocalONNX struct {
	shape      PlaneShape
	policySize int

	mu       sync.Mutex
	template *modelcache.ONNXTemplate
}

// NewLocalONNX loads the network at modelPath (via the shared model cache,
// so repeated construction for the search and self-play networks doesn't
// re-read the same file) and returns an Evaluator bound to shape/policySize.
func NewLocalONNX(cacheKey, modelPath string, shape PlaneShape, policySize int) (*LocalONNX, error) {
	tmpl, err := modelcache.LoadONNXTemplate(cacheKey, modelPath)
	if err != nil {
		return nil, fmt.Errorf("nneval: load %s: %w", modelPath, err)
	}
	return &LocalONNX{shape: shape, policySize: policySize, template: tmpl}, nil
}

func (l *LocalONNX) Shape() PlaneShape { return l.shape }
func (l *LocalONNX) PolicySize() int   { return l.policySize }

// PredictBatch stacks rows into a single [batch, rowFloats] tensor, runs the
// graph once, and slices the two output tensors back into per-row Results.
// The backend itself is not safe for concurrent Run calls (gorgonnx programs
// carry mutable intermediate state), hence the mutex, mirroring the
// single-flight guard mlhelper.go takes around model.backend.Run().
func (l *LocalONNX) PredictBatch(ctx context.Context, networkType NetworkType, rows [][]float32) ([]Result, Status, error) {
	if len(rows) == 0 {
		return nil, 0, nil
	}
	rowLen := l.shape.RowFloats()
	for _, r := range rows {
		if len(r) != rowLen {
			return nil, 0, fmt.Errorf("nneval: row has %d floats, want %d", len(r), rowLen)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	instance, err := l.template.NewInstance()
	if err != nil {
		return nil, 0, fmt.Errorf("nneval: new instance: %w", err)
	}

	planeFloats := l.shape.PlaneFloats()
	planes := make([]float32, 0, len(rows)*planeFloats)
	scalars := make([]float32, 0, len(rows)*l.shape.ScalarCount)
	for _, r := range rows {
		planes = append(planes, r[:planeFloats]...)
		scalars = append(scalars, r[planeFloats:]...)
	}

	planeTensor := tensor.New(
		tensor.WithShape(len(rows), l.shape.Channels, l.shape.Height, l.shape.Width),
		tensor.WithBacking(planes),
	)
	scalarTensor := tensor.New(
		tensor.WithShape(len(rows), l.shape.ScalarCount),
		tensor.WithBacking(scalars),
	)
	instance.Model.SetInput(0, planeTensor)
	instance.Model.SetInput(1, scalarTensor)

	if err := instance.Backend.Run(); err != nil {
		return nil, 0, fmt.Errorf("nneval: run: %w", err)
	}
	outputs, err := instance.Model.GetOutputTensors()
	if err != nil {
		return nil, 0, fmt.Errorf("nneval: get outputs: %w", err)
	}
	if len(outputs) < 2 {
		return nil, 0, fmt.Errorf("nneval: expected value and policy outputs, got %d", len(outputs))
	}

	values, ok := outputs[0].Data().([]float32)
	if !ok {
		return nil, 0, fmt.Errorf("nneval: value output has unexpected backing type")
	}
	policies, ok := outputs[1].Data().([]float32)
	if !ok {
		return nil, 0, fmt.Errorf("nneval: policy output has unexpected backing type")
	}

	results := make([]Result, len(rows))
	for i := range rows {
		p := make([]float32, l.policySize)
		copy(p, policies[i*l.policySize:(i+1)*l.policySize])
		results[i] = Result{Value: values[i], Policy: p}
	}

	status := Status(0)
	if l.template.ConsumeUpdatedFlag() {
		status |= StatusUpdatedNetwork
	}
	return results, status, nil
}

// WarmUp runs one dummy batch per requested size to force gorgonnx to
// allocate its intermediate buffers ahead of search.
func (l *LocalONNX) WarmUp(ctx context.Context, batchSizes []int) error {
	for _, n := range batchSizes {
		if n <= 0 {
			continue
		}
		rows := make([][]float32, n)
		for i := range rows {
			rows[i] = make([]float32, l.shape.RowFloats())
		}
		if _, _, err := l.PredictBatch(ctx, NetworkTypeSearch, rows); err != nil {
			return fmt.Errorf("nneval: warm up batch %d: %w", n, err)
		}
		log.Debug().Int("batch-size", n).Msg("nneval-warmed-up")
	}
	return nil
}
