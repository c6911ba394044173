package mcts

import (
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/puct"
	"github.com/zerocoach/engine/internal/searchpath"
)

// selectPath descends scratch from its current root, following
// puct.SelectChild at each level, marking virtual-loss visits as it goes,
// until it reaches a node with no expanded children (a leaf to evaluate)
// or a terminal node. It returns the selective-backpropagation weight
// accumulated along the path: spec §4.3 takes the minimum weight seen at
// any step, since one low-confidence hop anywhere on the path should gate
// whether the whole path's value update is applied to averages or to
// visit counts only.
func (d *Driver) selectPath(scratch *searchpath.Scratch) uint8 {
	weight := uint8(1)
	root := scratch.Root()
	rootVisits := root.VisitCount()

	for {
		current := scratch.Leaf()
		current.IncrementVisiting()

		if current.IsTerminal() || current.ExpansionState() != node.ExpansionExpanded {
			return weight
		}

		sel := puct.SelectChild(current, d.Params, d.EliminationFraction(), rootVisits)
		if sel.BestIndex == -1 {
			// Every child is mid-expansion elsewhere; treat this node
			// itself as the leaf to retry against next iteration.
			return weight
		}
		if sel.BackpropWeight < weight {
			weight = sel.BackpropWeight
		}

		child := current.Child(sel.BestIndex)
		scratch.Push(child.Move, child, weight)
	}
}

// failPath undoes every virtual-loss increment selectPath made along
// scratch's path, spec §4.4/§7's fail_node: called when an iteration
// aborts (a transient expansion race) instead of reaching backpropagate,
// so the failure leaves no trace in visit_count(p) + visiting_count(p).
func failPath(scratch *searchpath.Scratch) {
	for _, elem := range scratch.Path {
		elem.Node.DecrementVisiting()
	}
}
