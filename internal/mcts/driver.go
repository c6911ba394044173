// Package mcts implements the single-iteration search state machine
// (component E): select a path from a root down to an unexpanded or
// terminal leaf, evaluate it (cache or network), expand its children, and
// backpropagate the result back up the path. It composes node, puct,
// predcache, searchpath, chessrules, nneval, and tablebase; the batch
// coordinator (internal/batch) runs many of these concurrently and is the
// only caller that needs to know an iteration can block on a network call.
package mcts

import (
	"context"
	"sync/atomic"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/predcache"
	"github.com/zerocoach/engine/internal/puct"
	"github.com/zerocoach/engine/internal/searchpath"
	"github.com/zerocoach/engine/internal/statutil"
	"github.com/zerocoach/engine/internal/tablebase"
)

// Options configures one search session.
type Options struct {
	// SearchMoves, when non-empty, restricts the root's expansion to this
	// move subset (a UCI "go searchmoves" filter), per spec §4.4.
	SearchMoves []chessrules.Move

	// RootPly is the scratch position's ply count at the search root,
	// distinguishing "repeated strictly after root" from full-game
	// repetition when deciding whether a descended position is terminal.
	RootPly int
}

// Driver holds everything one search session's iterations need, shared
// read-mostly across every worker thread and scratch slot.
type Driver struct {
	Arena     *node.Arena
	Cache     *predcache.Cache
	Evaluator nneval.Evaluator
	Encoder   nneval.Encoder
	Tablebase tablebase.Probe
	Params    puct.Params
	Averaging statutil.MovingAverage

	FirstPlayUrgencyRoot    float64
	FirstPlayUrgencyDefault float64

	// EndgameProgressDecayDivisor gates and scales the endgame value decay
	// applied to a freshly-evaluated leaf before backpropagation (spec
	// §4.4); 0 disables the decay entirely.
	EndgameProgressDecayDivisor float64

	// RootPriorNoise, when set, transforms the root's freshly-quantized
	// child priors before children are allocated, not after — a child's
	// QuantizedPrior is immutable once constructed per §3.1. The
	// self-play driver sets this to inject Dirichlet exploration noise
	// (spec §6.5's root_dirichlet_alpha/root_exploration_fraction,
	// supplemented feature per SPEC_FULL.md); search mode leaves it nil.
	RootPriorNoise func(priors []uint16) []uint16

	// EliminationFraction is read fresh on every SelectChild call; the
	// time controller (component G) advances it over the course of a
	// search, so it must not be snapshotted once per iteration.
	EliminationFraction func() float64

	Options Options

	// NodeCount, FailedNodeCount, and TablebaseHitCount are the SearchState
	// per-search counters spec §3.3 names; the batch coordinator calls these
	// from many worker goroutines at once, so they're plain atomics rather
	// than fields the session locks around.
	NodeCount         atomic.Uint64
	FailedNodeCount   atomic.Uint64
	TablebaseHitCount atomic.Uint64
}

// Outcome reports what RunMcts did with one iteration.
type Outcome struct {
	Expanded                  bool // a new set of children was allocated this call
	WaitingForPrediction      bool // the leaf needs a network evaluation; call FinishPending once it's ready
	BackpropagatedMate        bool
	PrincipalVariationChanged bool
}

// Pending is what RunMcts hands back to the batch coordinator when a leaf
// needs a network evaluation: the scratch slot is left exactly as it was
// at the leaf, and row/legalMoves are precomputed so the coordinator only
// has to stack rows into a batch and call the evaluator.
type Pending struct {
	Scratch    *searchpath.Scratch
	Row        []float32
	LegalMoves []chessrules.Move
	Weight     uint8
}

// RunMcts performs one complete synchronous iteration: select, evaluate
// (cache hit or, on a miss, a single-row network call), expand,
// backpropagate. Callers that want batched network calls across many
// scratch slots should use SelectAndProbe + FinishPending instead of
// calling RunMcts directly; RunMcts is provided for single-threaded tests
// and for self-play drivers that don't need batching.
func (d *Driver) RunMcts(ctx context.Context, scratch *searchpath.Scratch) (Outcome, error) {
	outcome, pending, err := d.SelectAndProbe(scratch)
	if err != nil || pending == nil {
		return outcome, err
	}

	results, _, err := d.Evaluator.PredictBatch(ctx, nneval.NetworkTypeSearch, [][]float32{pending.Row})
	if err != nil {
		return Outcome{}, err
	}
	return d.FinishPending(pending, results[0]), nil
}

// SelectAndProbe runs select() plus the cache-or-network-request half of
// expand_and_evaluate for one scratch slot, without blocking on the
// network: it returns either a terminal/cache-hit Outcome the caller can
// backpropagate immediately, or a non-nil Pending the caller should add to
// a batch and later finish with FinishPending. This is the entry point the
// batch coordinator (internal/batch) uses.
func (d *Driver) SelectAndProbe(scratch *searchpath.Scratch) (outcome Outcome, pending *Pending, err error) {
	weight := d.selectPath(scratch)
	leaf := scratch.Leaf()

	if leaf.IsTerminal() {
		return d.backpropagateTerminal(scratch, weight), nil, nil
	}

	p, hit, moves, terminal, skip, err := d.probeOrRequest(scratch, weight)
	if err != nil {
		return Outcome{}, nil, err
	}
	if skip {
		failPath(scratch)
		d.FailedNodeCount.Add(1)
		return Outcome{}, nil, nil
	}
	if terminal {
		return d.backpropagateTerminal(scratch, weight), nil, nil
	}
	if p != nil {
		return Outcome{WaitingForPrediction: true}, p, nil
	}

	d.finishExpanding(leaf, moves, hit, leaf == scratch.Root())
	changed := d.backpropagate(scratch, hit.Value, weight)
	return Outcome{Expanded: true, PrincipalVariationChanged: changed}, nil, nil
}

// backpropagateTerminal routes a terminal leaf to the value path for an
// ordinary draw, or the mate path for a forced/opponent mate: spec §4.4
// reserves backpropagate_mate for "leaf just discovered mate". Walking a
// drawn leaf's exact value up every ancestor the way mate-backprop does
// would mark them all as a forced draw and prune them from selection, so
// draws backpropagate their flat drawScore through the normal value path
// instead.
func (d *Driver) backpropagateTerminal(scratch *searchpath.Scratch, weight uint8) Outcome {
	if scratch.Leaf().IsDraw() {
		changed := d.backpropagate(scratch, drawScore, weight)
		return Outcome{PrincipalVariationChanged: changed}
	}
	changed := d.backpropagateMate(scratch)
	return Outcome{BackpropagatedMate: true, PrincipalVariationChanged: changed}
}

// FinishPending completes an iteration that SelectAndProbe parked as
// Pending, once the coordinator has a network Result for it.
func (d *Driver) FinishPending(pending *Pending, result nneval.Result) Outcome {
	hit := predcache.Hit{Value: result.Value, Priors: d.quantizePriors(pending.LegalMoves, pending.Scratch.Position, result.Policy)}
	d.cachePut(pending.Scratch, pending.LegalMoves, hit)
	isRoot := pending.Scratch.Leaf() == pending.Scratch.Root()
	d.finishExpanding(pending.Scratch.Leaf(), pending.LegalMoves, hit, isRoot)
	changed := d.backpropagate(pending.Scratch, hit.Value, pending.Weight)
	return Outcome{Expanded: true, PrincipalVariationChanged: changed}
}
