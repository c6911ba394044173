package nneval

import (
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestPredictBatchEmptyRowsIsNoOp(t *testing.T) {
	is := is.New(t)
	l := &LocalONNX{shape: PlaneShape{Channels: 2, Height: 8, Width: 8, ScalarCount: 4}}
	results, status, err := l.PredictBatch(context.Background(), NetworkTypeSearch, nil)
	is.NoErr(err)
	is.Equal(len(results), 0)
	is.Equal(status, Status(0))
}

func TestPredictBatchRejectsWrongRowLength(t *testing.T) {
	is := is.New(t)
	l := &LocalONNX{shape: PlaneShape{Channels: 2, Height: 8, Width: 8, ScalarCount: 4}}
	rows := [][]float32{make([]float32, l.shape.RowFloats()-1)}
	_, _, err := l.PredictBatch(context.Background(), NetworkTypeSearch, rows)
	is.True(err != nil)
}

func TestShapeHelpers(t *testing.T) {
	is := is.New(t)
	l := &LocalONNX{shape: PlaneShape{Channels: 22, Height: 8, Width: 8, ScalarCount: 7}, policySize: 1968}
	is.Equal(l.Shape().PlaneFloats(), 22*8*8)
	is.Equal(l.Shape().RowFloats(), 22*8*8+7)
	is.Equal(l.PolicySize(), 1968)
}
