package mcts

import (
	"testing"

	"github.com/matryer/is"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/tablebase"
)

type fakeEncoder struct{}

func (fakeEncoder) EncodeRow(pos chessrules.Position, shape nneval.PlaneShape) []float32 {
	return make([]float32, shape.RowFloats())
}

// PolicyIndex maps a move directly to its "to" square, giving each move in
// these tests a distinct, predictable policy slot.
func (fakeEncoder) PolicyIndex(pos chessrules.Position, m chessrules.Move) int {
	return int(m.To())
}

func TestQuantizePriorsSumsNearFullMassForRealMoves(t *testing.T) {
	is := is.New(t)
	d := &Driver{Encoder: fakeEncoder{}}
	moves := []chessrules.Move{
		chessrules.NewMove(0, 1, chessrules.FlagQuiet),
		chessrules.NewMove(0, 2, chessrules.FlagQuiet),
		chessrules.NewMove(0, 3, chessrules.FlagQuiet),
	}
	policy := make([]float32, 64)
	policy[1] = 1.0
	policy[2] = 2.0
	policy[3] = 0.5

	priors := d.quantizePriors(moves, &fakePosition{}, policy)
	is.Equal(len(priors), 3)

	sum := 0
	for _, p := range priors {
		sum += int(p)
	}
	is.True(sum > 65000 && sum <= 65535)
	// The move mapped to the highest logit gets the largest prior.
	is.True(priors[1] > priors[0])
	is.True(priors[1] > priors[2])
}

func TestQuantizePriorsAllZeroLogitsSplitEvenly(t *testing.T) {
	is := is.New(t)
	d := &Driver{Encoder: fakeEncoder{}}
	moves := []chessrules.Move{
		chessrules.NewMove(0, 1, chessrules.FlagQuiet),
		chessrules.NewMove(0, 2, chessrules.FlagQuiet),
	}
	policy := make([]float32, 64)

	priors := d.quantizePriors(moves, &fakePosition{}, policy)
	is.True(priors[0] > 0)
	diff := int(priors[0]) - int(priors[1])
	if diff < 0 {
		diff = -diff
	}
	is.True(diff <= 1)
}

func TestRestrictToSearchMovesKeepsOnlyAllowedSubsetInOrder(t *testing.T) {
	is := is.New(t)
	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	m2 := chessrules.NewMove(0, 2, chessrules.FlagQuiet)
	m3 := chessrules.NewMove(0, 3, chessrules.FlagQuiet)
	moves := []chessrules.Move{m1, m2, m3}
	restrict := []chessrules.Move{m3, m1}

	out := restrictToSearchMoves(moves, restrict)
	is.Equal(len(out), 2)
	is.Equal(out[0], m1)
	is.Equal(out[1], m3)
}

func TestTablebaseRankBoundMapsPlainResultsExact(t *testing.T) {
	is := is.New(t)
	rank, bound := tablebaseRankBound(tablebase.WDLWin)
	is.Equal(rank, int16(2))
	is.Equal(bound, node.BoundExact)

	rank, bound = tablebaseRankBound(tablebase.WDLLoss)
	is.Equal(rank, int16(-2))
	is.Equal(bound, node.BoundExact)

	rank, bound = tablebaseRankBound(tablebase.WDLDraw)
	is.Equal(rank, int16(0))
	is.Equal(bound, node.BoundExact)
}

func TestTablebaseRankBoundMapsCursedAndBlessedToDirectionalBounds(t *testing.T) {
	is := is.New(t)
	rank, bound := tablebaseRankBound(tablebase.WDLCursedWin)
	is.Equal(rank, int16(0))
	is.Equal(bound, node.BoundLower)

	rank, bound = tablebaseRankBound(tablebase.WDLBlessedLoss)
	is.Equal(rank, int16(0))
	is.Equal(bound, node.BoundUpper)
}

func TestRestrictToSearchMovesEmptyWhenNoneMatch(t *testing.T) {
	is := is.New(t)
	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	m2 := chessrules.NewMove(0, 2, chessrules.FlagQuiet)
	moves := []chessrules.Move{m1}
	restrict := []chessrules.Move{m2}

	out := restrictToSearchMoves(moves, restrict)
	is.Equal(len(out), 0)
}
