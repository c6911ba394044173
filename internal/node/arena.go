package node

import (
	"sync/atomic"

	"github.com/zerocoach/engine/internal/chessrules"
)

// Arena allocates flat per-parent child arrays and performs the bulk-free /
// pruning operations that let a tree survive across searches (spec §4.1).
// There is no explicit free in Go: "freeing" a subtree means dropping every
// reference to it so the garbage collector can reclaim it, but the arena
// still tracks live node counts the way the original design's allocator
// bookkeeping does, since the batch coordinator and telemetry report on it.
type Arena struct {
	liveNodes atomic.Int64
}

func NewArena() *Arena { return &Arena{} }

// NewRoot allocates a single standalone root node with the default FPU seed.
func (a *Arena) NewRoot(fpu float32) *Node {
	n := &Node{}
	n.init(fpu)
	a.liveNodes.Add(1)
	return n
}

// AllocateChildren allocates a contiguous block of M nodes for the legal
// moves of an expanding parent. Each child's Move/QuantizedPrior are set
// from the parallel moves/priors slices and ValueAverage seeded to fpu.
// child_count must satisfy 0 < len(moves) <= 255 per the data model.
func (a *Arena) AllocateChildren(moves []chessrules.Move, priors []uint16, fpu float32) []Node {
	if len(moves) == 0 || len(moves) > 255 {
		panic("node: child_count must be in (0, 255]")
	}
	children := make([]Node, len(moves))
	for i := range children {
		children[i].Move = moves[i]
		children[i].QuantizedPrior = priors[i]
		children[i].init(fpu)
	}
	a.liveNodes.Add(int64(len(children)))
	return children
}

// LiveNodes reports the number of nodes currently reachable from any root
// this arena has allocated (approximate: a subtree dropped via PruneAll or
// PruneExceptChild is deducted immediately, not waited on for GC).
func (a *Arena) LiveNodes() int64 { return a.liveNodes.Load() }

// PruneAll detaches every node reachable from root, for use between search
// sessions. It performs a DFS purely to update the live-node counter; the
// tree itself becomes unreachable once the caller drops its reference to
// root.
func (a *Arena) PruneAll(root *Node) {
	if root == nil {
		return
	}
	freed := int64(1)
	freed += a.countSubtree(root)
	a.liveNodes.Add(-freed)
}

func (a *Arena) countSubtree(n *Node) int64 {
	if n.ExpansionState() != ExpansionExpanded {
		return 0
	}
	var total int64
	for i := range n.children {
		total++
		total += a.countSubtree(&n.children[i])
	}
	return total
}

// PruneExceptChild implements the UCI-style "position update reuses a
// subtree" operation: detach the child at keepIdx, deep-free every other
// sibling, and promote the kept child into a fresh standalone node so the
// now-orphaned parent-sized children array (and the rest of its siblings)
// can be collected. The returned node has the kept child's exact search
// statistics transplanted, plus its own children intact (still Expanded if
// they were).
func (a *Arena) PruneExceptChild(parent *Node, keepIdx int) *Node {
	if keepIdx < 0 || keepIdx >= int(parent.childCount) {
		panic("node: keepIdx out of range")
	}
	kept := &parent.children[keepIdx]

	promoted := &Node{
		Move:           kept.Move,
		QuantizedPrior: kept.QuantizedPrior,
	}
	promoted.visitCount.Store(kept.visitCount.Load())
	promoted.visitingCount.Store(0) // any in-flight visits were finalized before a position update
	promoted.valueAverageBits.Store(kept.valueAverageBits.Load())
	promoted.valueWeight.Store(kept.valueWeight.Load())
	promoted.terminalValue.Store(kept.terminalValue.Load())
	promoted.tablebaseRankBound.Store(kept.tablebaseRankBound.Load())
	promoted.bestIndex.Store(kept.bestIndex.Load())

	if kept.ExpansionState() == ExpansionExpanded {
		promoted.children = kept.children
		promoted.childCount = kept.childCount
		promoted.expansion.Store(uint32(ExpansionExpanded))
	}

	var freed int64
	for i := range parent.children {
		if i == keepIdx {
			continue
		}
		freed++
		freed += a.countSubtree(&parent.children[i])
	}
	// The parent itself, and the kept child's old shell (now replaced by
	// promoted), are also no longer reachable under the old tree.
	freed += 2
	a.liveNodes.Add(-freed)
	a.liveNodes.Add(1) // the freshly promoted node

	return promoted
}
