// Package selectmove implements SelectMove (spec §4.6): turning a searched
// tree's root into the move actually played. Self-play and search mode pick
// differently among the root's children — self-play samples proportionally
// to visit counts at early plies for training diversity, search mode
// instead samples among near-best moves for human-facing diversity and, in
// low-material endgames, rolls the chosen value back through a
// visit-weighted minimax pass. Weighted sampling is grounded on the
// teacher's `frand.Float64()` cumulative-draw idiom (ai/runner/filters.go);
// normalization uses gonum/floats the way the rest of the corpus reaches
// for gonum for numeric vector work instead of hand-rolling it.
package selectmove

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"lukechampine.com/frand"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/node"
)

// Mode selects which of the two sampling policies SelectMove applies.
type Mode int

const (
	ModeSearch Mode = iota
	ModeSelfPlay
)

// Params collects the knobs SelectMove needs from spec §6.5.
type Params struct {
	Mode Mode

	// Self-play sampling (num_sampling_moves).
	SelfPlaySamplingPlies int

	// Search-mode diversity sampling (move_diversity_plies/_temperature/_delta).
	MoveDiversityPlies       int
	MoveDiversityTemperature float64
	MoveDiversityDelta       float32

	// Endgame minimax rollback (endgame_material_max).
	EndgameMaterialMax int

	// MinimaxVisitRatio is the "too few visits relative to parent" cutoff
	// from §4.6's minimax(node) pseudocode: a child is trusted for
	// recursion only once its visit count is at least this fraction of its
	// parent's.
	MinimaxVisitRatio float64
}

// Result is what SelectMove returns: the chosen move (or NoMove at a
// terminal root with nothing to play) and the child it came from, if any.
type Result struct {
	Move  chessrules.Move
	Child *node.Node
}

// SelectMove implements spec §4.6 in full: fallback-to-prior when there is
// no best child, self-play/search-mode sampling at early plies, and a
// post-hoc minimax rollback in low-material search-mode endgames.
func SelectMove(root *node.Node, ply int, materialCount int, params Params) Result {
	children := root.Children()
	if len(children) == 0 {
		return Result{Move: chessrules.NoMove}
	}

	best := root.BestChild()
	if best == nil {
		return fallbackToPrior(children)
	}

	switch params.Mode {
	case ModeSelfPlay:
		if ply < params.SelfPlaySamplingPlies {
			if r, ok := sampleByVisits(children); ok {
				return r
			}
		}
		return Result{Move: best.Move, Child: best}

	case ModeSearch:
		if ply < params.MoveDiversityPlies {
			if r, ok := sampleDiverse(children, best, params); ok {
				return r
			}
		}
		if materialCount <= params.EndgameMaterialMax {
			return minimaxRollback(root, children, params)
		}
		return Result{Move: best.Move, Child: best}
	}
	return Result{Move: best.Move, Child: best}
}

// fallbackToPrior implements §4.6's "no best child" branch: prefer the
// expanded child with the highest prior, falling back to a null move if
// the root has no expanded children at all (a terminal root searched for
// zero iterations).
func fallbackToPrior(children []node.Node) Result {
	bestIdx := -1
	var bestPrior uint16
	for i := range children {
		if bestIdx == -1 || children[i].QuantizedPrior > bestPrior {
			bestIdx = i
			bestPrior = children[i].QuantizedPrior
		}
	}
	if bestIdx == -1 {
		return Result{Move: chessrules.NoMove}
	}
	return Result{Move: children[bestIdx].Move, Child: &children[bestIdx]}
}

// sampleByVisits draws a child proportionally to visit count, the
// self-play temperature-1 policy target (spec §4.6, num_sampling_moves).
// Per the open question in spec §9, if every child has zero visits this
// falls back to the best-visited child rather than guessing at a softmax
// over an all-zero weight vector.
func sampleByVisits(children []node.Node) (Result, bool) {
	weights := make([]float64, len(children))
	for i := range children {
		weights[i] = float64(children[i].VisitCount())
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return Result{}, false
	}
	floats.Scale(1/total, weights)
	return drawWeighted(children, weights), true
}

// sampleDiverse implements search mode's early-game diversity sampling
// (spec §4.6): collect every child sharing best's tablebase rank and mate
// category whose value is within MoveDiversityDelta of best's, then sample
// weighted by (visits/maxVisits)^(1/T).
func sampleDiverse(children []node.Node, best *node.Node, params Params) (Result, bool) {
	var pool []int
	var maxVisits uint32
	for i := range children {
		if !sameCategory(&children[i], best) {
			continue
		}
		if children[i].ValueAverage() < best.ValueAverage()-params.MoveDiversityDelta {
			continue
		}
		pool = append(pool, i)
		if v := children[i].VisitCount(); v > maxVisits {
			maxVisits = v
		}
	}
	if len(pool) <= 1 || maxVisits == 0 {
		return Result{}, false
	}

	t := params.MoveDiversityTemperature
	if t <= 0 {
		t = 1
	}
	pooled := make([]node.Node, len(pool))
	weights := make([]float64, len(pool))
	for i, idx := range pool {
		pooled[i] = children[idx]
		ratio := float64(children[idx].VisitCount()) / float64(maxVisits)
		weights[i] = math.Pow(ratio, 1/t)
	}
	total := floats.Sum(weights)
	if total <= 0 {
		return Result{}, false
	}
	floats.Scale(1/total, weights)
	return drawWeighted(pooled, weights), true
}

// sameCategory reports whether a and b share the tablebase rank and mate
// category comparison §4.6 requires before a can join best's diversity
// pool.
func sameCategory(a, b *node.Node) bool {
	if a.TablebaseRank() != b.TablebaseRank() {
		return false
	}
	aWin, aLoss := a.IsMateForSide(), a.IsOpponentMate()
	bWin, bLoss := b.IsMateForSide(), b.IsOpponentMate()
	return aWin == bWin && aLoss == bLoss
}

// drawWeighted draws an index from a cumulative distribution built from
// weights (which must already sum to 1) using a single frand.Float64()
// draw, the same cumulative-draw shape as the teacher's
// ai/runner/filters.go sampling.
func drawWeighted(children []node.Node, weights []float64) Result {
	r := frand.Float64()
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum || i == len(weights)-1 {
			return Result{Move: children[i].Move, Child: &children[i]}
		}
	}
	last := len(children) - 1
	return Result{Move: children[last].Move, Child: &children[last]}
}

// minimaxUninitialized is minimax(node)'s sentinel for "too few visits to
// trust this subtree's recorded value," per spec §4.6.
const minimaxUninitialized = float32(-1)

// minimaxRollback re-derives the chosen move's value by recursing through
// well-visited children and flipping perspective at each ply, correcting
// for endgame positions where shuffling inflated a won position's running
// average (spec §4.6's minimax(node) pseudocode). It still returns the
// tree's existing best child; the rollback only affects Child's reported
// value for the caller's own bookkeeping (e.g. a PV printer), not which
// move is chosen — the spec's pseudocode computes a value, not an
// alternative selection.
func minimaxRollback(root *node.Node, children []node.Node, params Params) Result {
	best := root.BestChild()
	if best == nil {
		return fallbackToPrior(children)
	}
	rolledUp := minimax(best, root.VisitCount(), params.MinimaxVisitRatio)
	if rolledUp != minimaxUninitialized {
		best.StoreValueAverage(rolledUp)
	}
	return Result{Move: best.Move, Child: best}
}

// minimax implements spec §4.6's minimax(node): too few visits relative to
// parentVisits returns Uninitialized; enough visits to trust recursion
// returns the flipped max over children's minimax values; otherwise
// (expanded with visits, but not enough to recurse further) returns the
// node's own sampled value.
func minimax(n *node.Node, parentVisits uint32, visitRatio float64) float32 {
	if parentVisits == 0 || float64(n.VisitCount()) < float64(parentVisits)*visitRatio {
		return minimaxUninitialized
	}
	children := n.Children()
	if len(children) == 0 {
		return n.ValueAverage()
	}
	best := minimaxUninitialized
	for i := range children {
		v := minimax(&children[i], n.VisitCount(), visitRatio)
		if v == minimaxUninitialized {
			continue
		}
		flipped := 1 - v
		if best == minimaxUninitialized || flipped > best {
			best = flipped
		}
	}
	if best == minimaxUninitialized {
		return n.ValueAverage()
	}
	return best
}
