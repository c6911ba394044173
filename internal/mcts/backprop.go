package mcts

import (
	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/searchpath"
	"github.com/zerocoach/engine/internal/statutil"
)

// drawScore is the flat value a draw backpropagates as: neither side is
// favored (spec §4.6, §4.9's glossary entry for "draw-sibling FPU").
const drawScore = float32(0.5)

// fullMaterialPieces seeds endgameProportion's scale: 32 pieces on the
// board is the opening position, so its material deficit is zero.
const fullMaterialPieces = 32

// backpropagate walks scratch's path from the evaluated leaf back to the
// root, releasing each node's virtual loss, finalizing its visit count, and
// (when the path's weight is nonzero) blending the sampled value into its
// running average. The value flips perspective at every step since each
// ply up the path is the opposing side to move (spec §4.4).
//
// Two leaf-only adjustments run before the walk, per spec §4.4:
//   - endgame value decay nudges the leaf's value toward a draw in
//     proportion to how far into a low-material, zero-progress endgame the
//     position is, so shuffling in a won endgame doesn't read as a sure win;
//   - draw-sibling FPU: if the leaf is this node's very first sample and it
//     turns out to be an exact draw, every untouched sibling's FPU seed is
//     replaced with a same-perspective estimate of the root's value, and
//     the rest of the path backpropagates visits-only (weight forced to 0)
//     so the single surprising draw sample doesn't starve a better move.
func (d *Driver) backpropagate(scratch *searchpath.Scratch, leafValue float32, pathWeight uint8) bool {
	leaf := scratch.Leaf()
	v := d.applyEndgameDecay(leaf, scratch.Position, leafValue)
	v = clampToBound(leaf, v)

	forceZeroWeight := false
	for i := len(scratch.Path) - 1; i >= 0; i-- {
		n := scratch.Path[i].Node
		n.DecrementVisiting()
		n.IncrementVisitCount()

		weight := pathWeight
		if forceZeroWeight {
			weight = 0
		}

		isLeaf := i == len(scratch.Path)-1
		firstSample := n.ValueWeight() == 0
		if weight > 0 {
			n.BlendValueSample(v, d.Averaging.Weight, statutil.Blend)
		}

		if isLeaf && weight > 0 && firstSample && v == drawScore && len(scratch.Path) >= 2 {
			d.forgiveDrawSiblings(scratch)
			forceZeroWeight = true
		}

		v = 1 - v
	}
	return d.updateBestChildChain(scratch)
}

// applyEndgameDecay implements spec §4.4's endgame value decay: skipped
// entirely once a tablebase bound pins the leaf's value, otherwise it pulls
// value toward drawScore in proportion to material scarcity and how long
// it's been since progress (pos.Rule50Count()).
func (d *Driver) applyEndgameDecay(leaf *node.Node, pos chessrules.Position, value float32) float32 {
	if leaf.TablebaseBound() != node.BoundNone {
		return value
	}
	if d.EndgameProgressDecayDivisor <= 0 {
		return value
	}
	proportion := endgameProportion(pos)
	if proportion <= 0 {
		return value
	}
	rule50 := float64(pos.Rule50Count())
	decay := float64(drawScore-value) * proportion * rule50 / d.EndgameProgressDecayDivisor
	return value + float32(decay)
}

// clampToBound enforces a tablebase bound on a freshly sampled leaf value:
// a lower bound (a cursed win) floors the sample at the bound's score, an
// upper bound (a blessed loss) ceils it, so a network guess never reads
// more confident than a tablebase-proven floor or ceiling on the other side
// of the bound (spec §3.2/§4.4).
func clampToBound(n *node.Node, v float32) float32 {
	score, ok := n.BoundScore()
	if !ok {
		return v
	}
	switch n.TablebaseBound() {
	case node.BoundLower:
		if v < score {
			return score
		}
	case node.BoundUpper:
		if v > score {
			return score
		}
	}
	return v
}

// endgameProportion scales from 0 (full material) to 1 (bare kings) as
// pieces leave the board; it is the "how endgame-ish is this position"
// factor spec §4.4 multiplies the decay by.
func endgameProportion(pos chessrules.Position) float64 {
	pieces := pos.PieceCount()
	if pieces >= fullMaterialPieces {
		return 0
	}
	if pieces <= 0 {
		return 1
	}
	return float64(fullMaterialPieces-pieces) / float64(fullMaterialPieces)
}

// forgiveDrawSiblings implements the draw-sibling FPU fixup: every sibling
// of the leaf that is still sitting on its untouched FPU seed (ValueWeight
// == 0) gets that seed replaced with the root's current value, reoriented
// to the siblings' own side-to-move perspective.
func (d *Driver) forgiveDrawSiblings(scratch *searchpath.Scratch) {
	leaf := scratch.Leaf()
	parent := scratch.Path[len(scratch.Path)-2].Node
	if parent.ExpansionState() != node.ExpansionExpanded {
		return
	}
	rootValue := rootValueFromLeafPerspective(scratch)
	children := parent.Children()
	for i := range children {
		sibling := &children[i]
		if sibling == leaf || sibling.ValueWeight() != 0 {
			continue
		}
		old := sibling.ValueAverage()
		sibling.CompareAndSwapValueAverage(old, rootValue)
	}
}

// rootValueFromLeafPerspective reorients the root's own running value
// average to whichever side is to move at the leaf's ply: the root and the
// leaf agree in perspective iff an even number of plies separate them.
func rootValueFromLeafPerspective(scratch *searchpath.Scratch) float32 {
	v := scratch.Root().ValueAverage()
	if (len(scratch.Path)-1)%2 == 1 {
		v = 1 - v
	}
	return v
}

// backpropagateMate walks the path back to the root applying the exact
// terminal value at the leaf instead of a sampled network value: reserved
// for leaves that just proved a forced mate (spec §4.4); ordinary draws
// backpropagate through the normal value path instead, so a single drawn
// line can't poison every ancestor into a false forced draw.
//
// A node only becomes opponent-mate — the side to move there is lost no
// matter what they play — once every one of its children is itself a
// proven mate for whoever moves there; one reply that escapes blocks the
// proof and the walk stops climbing any further (spec §4.4's "otherwise
// stop"). The reverse direction, a node becoming mate-for-side off a single
// proven opponent-mate child, needs no such scan: one forced win is enough
// for the side to move to choose it.
func (d *Driver) backpropagateMate(scratch *searchpath.Scratch) bool {
	leaf := scratch.Leaf()
	leaf.DecrementVisiting()
	leaf.IncrementVisitCount()
	if score, ok := leaf.BoundScore(); ok {
		leaf.BlendValueSample(score, d.Averaging.Weight, statutil.Blend)
	}

	cur := leaf.TerminalValue()
	stopped := false
	for i := len(scratch.Path) - 2; i >= 0; i-- {
		n := scratch.Path[i].Node
		n.DecrementVisiting()
		n.IncrementVisitCount()

		if !stopped {
			if cur > 0 && !everyChildMateForSide(n) {
				stopped = true
			} else {
				next := mateParentValue(cur)
				if n.CompareAndSwapTerminalValue(0, next) {
					cur = next
				} else {
					cur = n.TerminalValue()
				}
			}
		}

		if score, ok := n.BoundScore(); ok {
			n.BlendValueSample(score, d.Averaging.Weight, statutil.Blend)
		}
	}
	return d.updateBestChildChain(scratch)
}

// everyChildMateForSide reports whether every one of n's children is a
// proven forced mate for whoever is to move there, the condition spec
// §4.4 requires before n itself can be marked opponent-mate.
func everyChildMateForSide(n *node.Node) bool {
	if n.ExpansionState() != node.ExpansionExpanded {
		return false
	}
	children := n.Children()
	if len(children) == 0 {
		return false
	}
	for i := range children {
		if !children[i].IsMateForSide() {
			return false
		}
	}
	return true
}

// mateParentValue computes the terminal value one ply further from the
// leaf. A child where the side to move forces mate in k becomes, from the
// parent's perspective (the opponent, one ply earlier), opponent-mate in
// the same k: it's the same forced sequence, just viewed one move before
// it starts, so no extra move is added. A child where the side to move is
// the one forced into mate becomes, from the parent's perspective, a
// forced win one move sooner than the child's distance, since the parent's
// own move is what delivered the opponent into that loss.
func mateParentValue(child int32) int32 {
	if child > 0 {
		return -child
	}
	return node.EncodeMateForSide(-child)
}

// updateBestChildChain re-derives best_index for every node on the path,
// innermost first, using node.WorseThan so a mate proof or a tablebase
// bound anywhere on the path can promote a different child than raw visit
// count would (spec §4.5). It reports whether the root's best child
// changed, which callers use to decide whether to re-print the PV.
func (d *Driver) updateBestChildChain(scratch *searchpath.Scratch) bool {
	changed := false
	for i := len(scratch.Path) - 1; i >= 0; i-- {
		n := scratch.Path[i].Node
		if n.ExpansionState() != node.ExpansionExpanded {
			continue
		}
		children := n.Children()
		bestIdx := node.NoBest
		for idx := range children {
			if bestIdx == node.NoBest || node.WorseThan(n.Child(int(bestIdx)), &children[idx]) {
				bestIdx = int32(idx)
			}
		}
		if old := n.BestIndex(); old != bestIdx {
			n.CompareAndSwapBestIndex(old, bestIdx)
			if n == scratch.Root() {
				changed = true
			}
		}
	}
	return changed
}
