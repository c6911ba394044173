// Package searchpath implements the per-worker scratch game and search
// path (component D): a mutable position copy descended fresh each
// iteration, plus the trail of {node, backprop weight} pairs visited on the
// way down so backpropagate() can walk it in reverse.
package searchpath

import (
	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/node"
)

// Elem is one step of a search path: the node selected, and the
// selective-backpropagation weight assigned when it was selected.
type Elem struct {
	Node   *node.Node
	Weight uint8
}

// Scratch is one parallel slot's working state: an independent position
// copy and the path of nodes visited while descending it this iteration.
// It is reused across iterations (Reset), which is what lets a fixed number
// of slots per worker thread (spec §4.7) avoid reallocating on every call.
type Scratch struct {
	Position chessrules.Position
	Path     []Elem
}

// New snapshots rootPosition into a fresh scratch game rooted at root.
func New(root *node.Node, rootPosition chessrules.Position) *Scratch {
	s := &Scratch{
		Position: rootPosition.Copy(),
		Path:     make([]Elem, 0, 64),
	}
	s.Path = append(s.Path, Elem{Node: root, Weight: 1})
	return s
}

// Reset rewinds the scratch game back to rootPosition and clears the path
// down to just the root, for starting a fresh iteration on an existing slot.
func (s *Scratch) Reset(root *node.Node, rootPosition chessrules.Position) {
	s.Position = rootPosition.Copy()
	s.Path = s.Path[:0]
	s.Path = append(s.Path, Elem{Node: root, Weight: 1})
}

// Push descends the scratch position by one move and appends the step to
// the path.
func (s *Scratch) Push(m chessrules.Move, n *node.Node, weight uint8) {
	s.Position.DoMove(m)
	s.Path = append(s.Path, Elem{Node: n, Weight: weight})
}

// Leaf returns the most recently pushed node: the node this iteration is
// trying to expand.
func (s *Scratch) Leaf() *node.Node {
	return s.Path[len(s.Path)-1].Node
}

// Root returns the first node on the path.
func (s *Scratch) Root() *node.Node {
	return s.Path[0].Node
}
