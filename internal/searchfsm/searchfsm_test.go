package searchfsm

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/engineconfig"
	"github.com/zerocoach/engine/internal/mcts"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/timecontrol"
)

type fakePosition struct {
	moves []chessrules.Move
}

func (p *fakePosition) Set(fen string) error { return nil }
func (p *fakePosition) Copy() chessrules.Position {
	cp := &fakePosition{moves: append([]chessrules.Move(nil), p.moves...)}
	return cp
}
func (p *fakePosition) DoMove(m chessrules.Move)              { p.moves = append(p.moves, m) }
func (p *fakePosition) UndoMove()                             { p.moves = p.moves[:len(p.moves)-1] }
func (p *fakePosition) GenerateLegalMoves() []chessrules.Move { return nil }
func (p *fakePosition) InCheck() bool                         { return false }
func (p *fakePosition) IsThreefoldRepetitionAfter(ply int) bool { return false }
func (p *fakePosition) IsThreefoldRepetition() bool           { return false }
func (p *fakePosition) Rule50Count() int                      { return 0 }
func (p *fakePosition) Key() uint64                           { return 0 }
func (p *fakePosition) Ply() int                              { return len(p.moves) }
func (p *fakePosition) PieceCount() int                       { return 32 }
func (p *fakePosition) SideToMove() bool                      { return len(p.moves)%2 == 0 }
func (p *fakePosition) FlipSideToMoveForDebug()               {}
func (p *fakePosition) FEN() string                           { return "fake" }

func TestNewSessionStartsIdle(t *testing.T) {
	is := is.New(t)
	s := NewSession(node.NewArena(), nil, nil, nil, nil, &engineconfig.Config{})
	is.Equal(s.State(), StateIdle)
}

func TestPlayMoveWithoutPositionReturnsError(t *testing.T) {
	is := is.New(t)
	s := NewSession(node.NewArena(), nil, nil, nil, nil, &engineconfig.Config{})
	err := s.PlayMove(chessrules.NewMove(0, 1, chessrules.FlagQuiet))
	is.Equal(err, ErrNoPosition)
}

func TestGoWithoutPositionReturnsError(t *testing.T) {
	is := is.New(t)
	s := NewSession(node.NewArena(), nil, nil, nil, nil, &engineconfig.Config{})
	_, err := s.Go(context.Background(), mcts.Options{}, timecontrol.TimeControl{})
	is.Equal(err, ErrNoPosition)
}

func TestGoWhileAlreadySearchingReturnsError(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	s.SetPosition(&fakePosition{})
	s.mu.Lock()
	s.state = StateSearching
	s.mu.Unlock()

	_, err := s.Go(context.Background(), mcts.Options{}, timecontrol.TimeControl{})
	is.Equal(err, ErrAlreadySearching)
}

func TestPlayMoveReusesExpandedSubtree(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	s.SetPosition(&fakePosition{})

	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	m2 := chessrules.NewMove(0, 2, chessrules.FlagQuiet)
	children := arena.AllocateChildren([]chessrules.Move{m1, m2}, []uint16{100, 100}, 0.5)
	s.root.FinishExpanding(children, 2)
	s.root.Child(1).IncrementVisitCount()

	is.NoErr(s.PlayMove(m2))
	is.Equal(s.root.Move, m2)
	is.Equal(s.root.VisitCount(), uint32(1))
}

func TestPlayMoveStartsFreshRootWhenMoveNotAmongExpandedChildren(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	s.SetPosition(&fakePosition{})

	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	children := arena.AllocateChildren([]chessrules.Move{m1}, []uint16{100}, 0.5)
	s.root.FinishExpanding(children, 1)

	other := chessrules.NewMove(5, 6, chessrules.FlagQuiet)
	is.NoErr(s.PlayMove(other))
	is.Equal(s.root.ExpansionState(), node.ExpansionNone)
}

func TestFinalizeAbortsMidExpandingNode(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	root := arena.NewRoot(0.5)
	root.TryStartExpanding()

	s.finalize(root)
	is.Equal(root.ExpansionState(), node.ExpansionNone)
}

func TestFinalizeRecursesIntoExpandedChildren(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	root := arena.NewRoot(0.5)
	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	children := arena.AllocateChildren([]chessrules.Move{m1}, []uint16{100}, 0.5)
	root.FinishExpanding(children, 1)
	root.Child(0).TryStartExpanding()

	s.finalize(root)
	is.Equal(root.Child(0).ExpansionState(), node.ExpansionNone)
}

func TestFinalizeLeavesUnexpandedNodeAlone(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	root := arena.NewRoot(0.5)

	s.finalize(root)
	is.Equal(root.ExpansionState(), node.ExpansionNone)
}

func TestFinalizeZeroesLeakedVisitingCount(t *testing.T) {
	is := is.New(t)
	arena := node.NewArena()
	s := NewSession(arena, nil, nil, nil, nil, &engineconfig.Config{})
	root := arena.NewRoot(0.5)
	m1 := chessrules.NewMove(0, 1, chessrules.FlagQuiet)
	children := arena.AllocateChildren([]chessrules.Move{m1}, []uint16{100}, 0.5)
	root.FinishExpanding(children, 1)

	root.IncrementVisiting()
	root.Child(0).IncrementVisiting()
	root.Child(0).IncrementVisiting()

	s.finalize(root)
	is.Equal(root.VisitingCount(), uint32(0))
	is.Equal(root.Child(0).VisitingCount(), uint32(0))
}
