package node

import (
	"sync"
	"testing"

	"github.com/matryer/is"

	"github.com/zerocoach/engine/internal/chessrules"
)

func testMoves(n int) []chessrules.Move {
	moves := make([]chessrules.Move, n)
	for i := range moves {
		moves[i] = chessrules.NewMove(uint8(i), uint8(i+1), chessrules.FlagQuiet)
	}
	return moves
}

func TestArenaAllocateChildrenCountsConserved(t *testing.T) {
	is := is.New(t)
	a := NewArena()
	root := a.NewRoot(0.5)
	is.Equal(a.LiveNodes(), int64(1))

	moves := testMoves(3)
	priors := []uint16{100, 200, 300}
	children := a.AllocateChildren(moves, priors, 0.5)
	root.FinishExpanding(children, uint8(len(children)))

	is.Equal(a.LiveNodes(), int64(4))
	is.Equal(root.ChildCount(), uint8(3))
	for i := range children {
		is.Equal(root.Child(i).QuantizedPrior, priors[i])
	}
}

func TestAllocateChildrenRejectsOutOfRangeCounts(t *testing.T) {
	is := is.New(t)
	a := NewArena()
	defer func() {
		is.True(recover() != nil)
	}()
	a.AllocateChildren(nil, nil, 0.5)
}

func TestBlendValueSampleConcurrentUpdatesConverge(t *testing.T) {
	is := is.New(t)
	n := &Node{}
	n.init(0.5)

	const workers = 16
	const perWorker = 200
	weightOf := func(prior uint32) uint32 {
		if prior >= 1000 {
			return prior
		}
		return prior + 1
	}
	blend := func(avg float32, weight uint32, sample float32) float32 {
		return avg + (sample-avg)/float32(weight+1)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n.BlendValueSample(1.0, weightOf, blend)
			}
		}()
	}
	wg.Wait()

	// weightOf stops growing the weight at 1000, well below the
	// workers*perWorker samples fed in.
	is.Equal(n.ValueWeight(), uint32(1000))
	// Every sample fed in was 1.0, so the average must converge to 1.0
	// regardless of the interleaving of concurrent blends.
	is.True(n.ValueAverage() > 0.999)
}

func TestMateDistanceRoundTrips(t *testing.T) {
	is := is.New(t)
	n := &Node{}
	n.init(0.5)

	n.SetTerminalValue(EncodeMateForSide(3))
	is.True(n.IsMateForSide())
	is.Equal(n.MateDistance(), int32(3))

	n.SetTerminalValue(EncodeOpponentMate(5))
	is.True(n.IsOpponentMate())
	is.Equal(n.OpponentMateDistance(), int32(5))

	n.SetTerminalValue(DrawTerminal)
	is.True(n.IsDraw())
	is.True(!n.IsMateForSide())
}

func TestWorseThanOrdersForcedWinsByShorterMate(t *testing.T) {
	is := is.New(t)
	shortMate := &Node{}
	shortMate.init(0.5)
	shortMate.SetTerminalValue(EncodeMateForSide(1))

	longMate := &Node{}
	longMate.init(0.5)
	longMate.SetTerminalValue(EncodeMateForSide(5))

	is.True(WorseThan(longMate, shortMate))
	is.True(!WorseThan(shortMate, longMate))
}

func TestWorseThanPrefersMoreVisitsWhenOtherwiseTied(t *testing.T) {
	is := is.New(t)
	a := &Node{}
	a.init(0.5)
	b := &Node{}
	b.init(0.5)
	b.IncrementVisitCount()

	is.True(WorseThan(a, b))
}

func TestArenaPruneAllDecrementsLiveNodes(t *testing.T) {
	is := is.New(t)
	a := NewArena()
	root := a.NewRoot(0.5)
	children := a.AllocateChildren(testMoves(2), []uint16{10, 20}, 0.5)
	root.FinishExpanding(children, 2)

	before := a.LiveNodes()
	is.Equal(before, int64(3))

	a.PruneAll(root)
	is.Equal(a.LiveNodes(), int64(0))
}

func TestArenaPruneExceptChildKeepsOnlyThatSubtree(t *testing.T) {
	is := is.New(t)
	a := NewArena()
	root := a.NewRoot(0.5)
	children := a.AllocateChildren(testMoves(3), []uint16{1, 2, 3}, 0.5)
	root.FinishExpanding(children, 3)

	kept := a.PruneExceptChild(root, 1)
	is.True(kept != nil)
	is.Equal(a.LiveNodes(), int64(1))
}
