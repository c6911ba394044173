// Package nneval declares the external neural network evaluator
// collaborator (spec §6.2): a batched predict operation that turns a tensor
// of input planes into per-position value and policy tensors. The engine
// only depends on the Evaluator interface; two concrete backends are
// provided (local in-process ONNX, and a remote batched gRPC service),
// mirroring the dual local/remote inference paths already present in the
// teacher corpus (macondo's local ONNX evaluator vs. its Triton client).
package nneval

import (
	"context"

	"github.com/zerocoach/engine/internal/chessrules"
)

// NetworkType distinguishes which trained network a batch should be routed
// through (the search-time network vs. a self-play generation network, for
// engines that keep them separate).
type NetworkType int

const (
	NetworkTypeSearch NetworkType = iota
	NetworkTypeSelfPlay
)

// Status is a bitset of conditions the evaluator backend reports alongside
// a batch result.
type Status uint32

const (
	// StatusUpdatedNetwork signals that the backend swapped in a newer set
	// of weights since the last call; the caller should flush the
	// prediction cache (rate-limited to once per 5 minutes across threads,
	// per spec §6.2/§9).
	StatusUpdatedNetwork Status = 1 << iota
)

func (s Status) UpdatedNetwork() bool { return s&StatusUpdatedNetwork != 0 }

// PlaneShape describes the fixed per-position input tensor shape: Channels
// feature planes of Height x Width, plus ScalarCount flat scalar features
// appended after the planes.
type PlaneShape struct {
	Channels    int
	Height      int
	Width       int
	ScalarCount int
}

func (p PlaneShape) PlaneFloats() int  { return p.Channels * p.Height * p.Width }
func (p PlaneShape) RowFloats() int    { return p.PlaneFloats() + p.ScalarCount }

// Result is one position's prediction: a win-probability value in [0,1]
// and a fixed-size policy logits tensor indexed by the engine's move
// encoding.
type Result struct {
	Value  float32
	Policy []float32
}

// Evaluator is the black-box network collaborator. Batch size must be
// fixed across a single call; callers (the batch coordinator) pad a
// partially-filled batch up to that size themselves.
type Evaluator interface {
	// PredictBatch evaluates rows, one per position, each RowFloats() long
	// (planes followed by scalars), and returns one Result per row in the
	// same order.
	PredictBatch(ctx context.Context, networkType NetworkType, rows [][]float32) ([]Result, Status, error)

	// Shape returns the fixed input tensor shape this evaluator expects.
	Shape() PlaneShape

	// PolicySize returns the fixed length of a Result.Policy tensor.
	PolicySize() int

	// WarmUp calls the network once for each of the given batch sizes, to
	// pay JIT/device-setup latency before search begins (spec §4.7).
	WarmUp(ctx context.Context, batchSizes []int) error
}

// Encoder turns a position into the fixed-length input row PredictBatch
// expects, and maps a move to its slot in a Result's policy tensor. Like
// Evaluator itself, a concrete Encoder is a domain-specific external
// collaborator the search package never implements.
type Encoder interface {
	EncodeRow(pos chessrules.Position, shape PlaneShape) []float32
	PolicyIndex(pos chessrules.Position, m chessrules.Move) int
}
