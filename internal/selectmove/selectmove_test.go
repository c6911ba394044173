package selectmove

import (
	"testing"

	"github.com/matryer/is"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/node"
)

func buildTree(priors []uint16) (*node.Arena, *node.Node) {
	a := node.NewArena()
	root := a.NewRoot(0.5)
	moves := make([]chessrules.Move, len(priors))
	for i := range moves {
		moves[i] = chessrules.NewMove(uint8(i), uint8(i+1), chessrules.FlagQuiet)
	}
	children := a.AllocateChildren(moves, priors, 0.5)
	root.FinishExpanding(children, uint8(len(children)))
	return a, root
}

func TestSelectMoveOnUnexpandedRootReturnsNoMove(t *testing.T) {
	is := is.New(t)
	a := node.NewArena()
	root := a.NewRoot(0.5)
	res := SelectMove(root, 0, 32, Params{})
	is.Equal(res.Move, chessrules.NoMove)
}

func TestSelectMoveFallsBackToHighestPriorWhenNoBestChild(t *testing.T) {
	is := is.New(t)
	_, root := buildTree([]uint16{100, 500, 200})
	// root.BestIndex defaults to NoBest, so SelectMove must fall back to the
	// highest-prior child.
	res := SelectMove(root, 0, 32, Params{Mode: ModeSearch})
	is.Equal(res.Move, root.Child(1).Move)
}

func TestSelectMoveSelfPlaySamplesDeterministicallyWhenOneChildHasAllVisits(t *testing.T) {
	is := is.New(t)
	_, root := buildTree([]uint16{100, 100, 100})
	root.Child(0).IncrementVisitCount()
	root.StoreBestIndex(0)

	res := SelectMove(root, 0, 32, Params{Mode: ModeSelfPlay, SelfPlaySamplingPlies: 30})
	is.Equal(res.Move, root.Child(0).Move)
}

func TestSelectMoveSelfPlayPastSamplingPliesReturnsBestChild(t *testing.T) {
	is := is.New(t)
	_, root := buildTree([]uint16{100, 100})
	root.Child(1).IncrementVisitCount()
	root.StoreBestIndex(1)

	res := SelectMove(root, 40, 32, Params{Mode: ModeSelfPlay, SelfPlaySamplingPlies: 30})
	is.Equal(res.Move, root.Child(1).Move)
}

func TestSelectMoveSearchModeReturnsBestChildOutsideDiversityAndEndgame(t *testing.T) {
	is := is.New(t)
	_, root := buildTree([]uint16{100, 100})
	root.Child(1).IncrementVisitCount()
	root.StoreBestIndex(1)

	res := SelectMove(root, 0, 32, Params{
		Mode:               ModeSearch,
		MoveDiversityPlies: 0,
		EndgameMaterialMax: 0,
	})
	is.Equal(res.Move, root.Child(1).Move)
}

func TestMinimaxReturnsUninitializedWhenParentHasNoVisits(t *testing.T) {
	is := is.New(t)
	_, root := buildTree([]uint16{100})
	root.Child(0).IncrementVisitCount()
	root.StoreValueAverage(0) // parent visits still zero
	v := minimax(root.Child(0), 0, 0.1)
	is.Equal(v, minimaxUninitialized)
}

func TestMinimaxFlipsChildValueForOpponentPerspective(t *testing.T) {
	is := is.New(t)
	a, root := buildTree([]uint16{100})
	child := root.Child(0)
	for i := 0; i < 10; i++ {
		root.IncrementVisitCount()
		child.IncrementVisitCount()
	}

	grandMoves := chessrules.NewMove(2, 3, chessrules.FlagQuiet)
	grandchildren := a.AllocateChildren([]chessrules.Move{grandMoves}, []uint16{100}, 0.5)
	child.FinishExpanding(grandchildren, 1)
	for i := 0; i < 10; i++ {
		child.Child(0).IncrementVisitCount()
	}
	child.Child(0).StoreValueAverage(0.9)

	v := minimax(child, root.VisitCount(), 0.1)
	is.Equal(v, 1-float32(0.9))
}
