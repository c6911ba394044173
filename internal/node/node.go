// Package node implements the search tree's node arena (component A):
// flat per-parent child allocation, atomic per-node statistics, and the
// pruning operations that let a tree survive across searches.
//
// All concurrently-touched fields are accessed through sync/atomic typed
// atomics. Go's atomic package gives every operation full sequential
// consistency, which is a strictly stronger guarantee than the relaxed and
// acquire/release orderings the originating design calls for — so every
// ordering requirement in the spec is satisfied by construction, at the
// cost of slightly more synchronization than a hand-tuned relaxed model
// would use.
package node

import (
	"math"
	"sync/atomic"

	"github.com/zerocoach/engine/internal/chessrules"
)

// Bound classifies how a node's value is constrained by a proven terminal
// outcome or tablebase probe.
type Bound uint8

const (
	BoundNone Bound = iota
	BoundUpper
	BoundLower
	BoundExact
)

// Expansion is the lifecycle state of a node's children.
type Expansion uint32

const (
	ExpansionNone Expansion = iota
	ExpansionExpanding
	ExpansionExpanded
)

// NoBest is the sentinel best-child index meaning "unset".
const NoBest int32 = -1

// DrawTerminal is the sentinel terminalValue for an exact draw. Mate
// distances are bounded well below it by the engine's move limit, so the
// sentinel never collides with a real mate-in-k value.
const DrawTerminal int32 = 127

// Node is one search-tree node. Fields set at construction time (Move,
// QuantizedPrior) are never written again. Everything else is atomic.
type Node struct {
	Move           chessrules.Move
	QuantizedPrior uint16

	visitCount         atomic.Uint32
	visitingCount      atomic.Uint32
	valueAverageBits   atomic.Uint32
	valueWeight        atomic.Uint32
	terminalValue      atomic.Int32
	tablebaseRankBound atomic.Int32
	expansion          atomic.Uint32
	bestIndex          atomic.Int32

	// children and childCount are non-atomic: they are only ever written
	// by the thread that wins the None->Expanding CAS on expansion, and
	// only read by threads that have already observed expansion==Expanded.
	children   []Node
	childCount uint8
}

func (n *Node) init(fpu float32) {
	n.bestIndex.Store(NoBest)
	n.valueAverageBits.Store(math.Float32bits(fpu))
}

// VisitCount / VisitingCount ---------------------------------------------

func (n *Node) VisitCount() uint32    { return n.visitCount.Load() }
func (n *Node) VisitingCount() uint32 { return n.visitingCount.Load() }

func (n *Node) IncrementVisiting() uint32 { return n.visitingCount.Add(1) }

// DecrementVisiting undoes a prior IncrementVisiting. Uses the standard
// atomic-decrement-by-add idiom since atomic.Uint32 has no Sub method.
func (n *Node) DecrementVisiting() uint32 { return n.visitingCount.Add(^uint32(0)) }

// ResetVisiting zeroes the virtual-loss counter outright, used by session
// finalization to repair paths a cancelled search left in flight (spec
// §4.9) rather than tracking and unwinding each one individually.
func (n *Node) ResetVisiting() { n.visitingCount.Store(0) }

func (n *Node) IncrementVisitCount() uint32 { return n.visitCount.Add(1) }

// Value -------------------------------------------------------------------

func (n *Node) ValueAverage() float32 {
	return math.Float32frombits(n.valueAverageBits.Load())
}

func (n *Node) StoreValueAverage(v float32) {
	n.valueAverageBits.Store(math.Float32bits(v))
}

// CompareAndSwapValueAverage atomically replaces the current value average
// with newV iff it currently equals oldV. Used by the draw-sibling FPU fixup
// (spec §4.4) which must not clobber a value a concurrent sample already
// wrote.
func (n *Node) CompareAndSwapValueAverage(oldV, newV float32) bool {
	return n.valueAverageBits.CompareAndSwap(math.Float32bits(oldV), math.Float32bits(newV))
}

func (n *Node) ValueWeight() uint32 { return n.valueWeight.Load() }

func (n *Node) StoreValueWeight(w uint32) { n.valueWeight.Store(w) }

func (n *Node) IncrementValueWeightCapped(cap uint32) uint32 {
	for {
		cur := n.valueWeight.Load()
		if cur >= cap {
			return cur
		}
		if n.valueWeight.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}

// BlendValueSample atomically folds sample into the running value average
// using a weight computed from the node's current weight via weightOf, the
// same CAS-retry shape as IncrementValueWeightCapped but threading the
// weight through to a caller-supplied blend function so backpropagation's
// "build up, then cap" weighting (internal/statutil.MovingAverage) and the
// average update happen as one atomic step from the perspective of any
// other thread touching this node.
func (n *Node) BlendValueSample(sample float32, weightOf func(priorWeight uint32) uint32, blend func(average float32, weight uint32, sample float32) float32) {
	for {
		priorWeight := n.valueWeight.Load()
		priorAvg := n.ValueAverage()
		newWeight := weightOf(priorWeight)
		newAvg := blend(priorAvg, priorWeight, sample)
		if !n.valueWeight.CompareAndSwap(priorWeight, newWeight) {
			continue
		}
		if n.CompareAndSwapValueAverage(priorAvg, newAvg) {
			return
		}
		// Someone else updated the average between our read and our CAS;
		// the weight CAS already went through, so just retry the whole
		// blend against fresh state rather than leaving it half-applied.
	}
}

// Terminal / bound ----------------------------------------------------------

// TerminalValue returns the node's raw encoded terminal state: 0 for
// non-terminal, DrawTerminal for an exact draw, k+1 for mate-in-k (this
// side to move forces mate), or -(k+1) for opponent-mate-in-k. The +1 shift
// lets mate-in-0 (the side to move has already been mated) round-trip
// through the sentinel the same as every other distance, since plain 0 is
// reserved for "not terminal".
func (n *Node) TerminalValue() int32 { return n.terminalValue.Load() }

// EncodeMateForSide and EncodeOpponentMate convert a plain mate distance
// into the shifted representation TerminalValue stores.
func EncodeMateForSide(k int32) int32  { return k + 1 }
func EncodeOpponentMate(k int32) int32 { return -(k + 1) }

func (n *Node) SetTerminalValue(v int32) { n.terminalValue.Store(v) }

func (n *Node) CompareAndSwapTerminalValue(old, new int32) bool {
	return n.terminalValue.CompareAndSwap(old, new)
}

func (n *Node) IsTerminal() bool { return n.terminalValue.Load() != 0 }
func (n *Node) IsDraw() bool     { return n.terminalValue.Load() == DrawTerminal }
func (n *Node) IsMateForSide() bool {
	v := n.terminalValue.Load()
	return v > 0 && v != DrawTerminal
}
func (n *Node) IsOpponentMate() bool { return n.terminalValue.Load() < 0 }

// MateDistance returns k for a mate-in-k node (0 if not mate-for-side).
func (n *Node) MateDistance() int32 {
	v := n.terminalValue.Load()
	if v > 0 && v != DrawTerminal {
		return v - 1
	}
	return 0
}

// OpponentMateDistance returns k for an opponent-mate-in-k node (0 otherwise).
func (n *Node) OpponentMateDistance() int32 {
	v := n.terminalValue.Load()
	if v < 0 {
		return -v - 1
	}
	return 0
}

// TablebaseRankBound packs (rank<<2)|bound. Rank is an arbitrary small
// integer ordering from the tablebase's root probe; bound degrades value
// sampling so backpropagation never crosses a proven WDL result.
func (n *Node) TablebaseRank() int16 {
	return int16(n.tablebaseRankBound.Load() >> 2)
}

func (n *Node) TablebaseBound() Bound {
	return Bound(n.tablebaseRankBound.Load() & 0x3)
}

func (n *Node) SetTablebaseRankBound(rank int16, bound Bound) {
	n.tablebaseRankBound.Store((int32(rank) << 2) | int32(bound))
}

// BoundScore returns the value implied purely by the node's bound, used by
// the PUCT scorer and by bounded-value clamping during backpropagation.
func (n *Node) BoundScore() (score float32, has bool) {
	switch n.TablebaseBound() {
	case BoundExact, BoundLower, BoundUpper:
		return tablebaseRankScore(n.TablebaseRank()), true
	}
	if n.IsMateForSide() {
		return 1.0, true
	}
	if n.IsOpponentMate() {
		return 0.0, true
	}
	if n.IsDraw() {
		return 0.5, true
	}
	return 0, false
}

// tablebaseRankScore maps a tablebase rank to a [0,1] value-space score.
// Higher rank is better for the side to move; ranks are small integers so
// a gentle monotone squashing keeps exact wins near 1 and exact losses near 0.
func tablebaseRankScore(rank int16) float32 {
	switch {
	case rank > 0:
		return 1.0
	case rank < 0:
		return 0.0
	default:
		return 0.5
	}
}

// Expansion -----------------------------------------------------------------

func (n *Node) ExpansionState() Expansion { return Expansion(n.expansion.Load()) }

// TryStartExpanding attempts the None->Expanding transition. Returns false
// if another thread already owns expansion (the caller must fail its path).
func (n *Node) TryStartExpanding() bool {
	return n.expansion.CompareAndSwap(uint32(ExpansionNone), uint32(ExpansionExpanding))
}

// FinishExpanding publishes n.children/childCount and transitions to
// Expanded. Must only be called by the thread that won TryStartExpanding.
func (n *Node) FinishExpanding(children []Node, childCount uint8) {
	n.children = children
	n.childCount = childCount
	n.expansion.Store(uint32(ExpansionExpanded))
}

// AbortExpanding reverts an Expanding node back to None, used by
// finalization to repair state after a cancelled iteration (spec §4.9).
func (n *Node) AbortExpanding() {
	n.expansion.CompareAndSwap(uint32(ExpansionExpanding), uint32(ExpansionNone))
}

func (n *Node) Children() []Node {
	if n.ExpansionState() != ExpansionExpanded {
		return nil
	}
	return n.children
}

func (n *Node) ChildCount() uint8 {
	if n.ExpansionState() != ExpansionExpanded {
		return 0
	}
	return n.childCount
}

func (n *Node) Child(i int) *Node { return &n.children[i] }

// BestIndex / best-child chain ----------------------------------------------

func (n *Node) BestIndex() int32 { return n.bestIndex.Load() }

func (n *Node) StoreBestIndex(i int32) { n.bestIndex.Store(i) }

func (n *Node) CompareAndSwapBestIndex(old, new int32) bool {
	return n.bestIndex.CompareAndSwap(old, new)
}

func (n *Node) BestChild() *Node {
	idx := n.bestIndex.Load()
	if idx == NoBest || n.ExpansionState() != ExpansionExpanded {
		return nil
	}
	return &n.children[idx]
}
