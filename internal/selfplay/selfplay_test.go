package selfplay

import (
	"testing"

	"github.com/matryer/is"

	"github.com/zerocoach/engine/internal/chessrules"
)

type fakePosition struct {
	inCheck bool
	white   bool
}

func (p *fakePosition) Set(fen string) error                 { return nil }
func (p *fakePosition) Copy() chessrules.Position             { cp := *p; return &cp }
func (p *fakePosition) DoMove(m chessrules.Move)              {}
func (p *fakePosition) UndoMove()                             {}
func (p *fakePosition) GenerateLegalMoves() []chessrules.Move { return nil }
func (p *fakePosition) InCheck() bool                         { return p.inCheck }
func (p *fakePosition) IsThreefoldRepetitionAfter(ply int) bool { return false }
func (p *fakePosition) IsThreefoldRepetition() bool           { return false }
func (p *fakePosition) Rule50Count() int                      { return 0 }
func (p *fakePosition) Key() uint64                           { return 0 }
func (p *fakePosition) Ply() int                              { return 0 }
func (p *fakePosition) PieceCount() int                       { return 32 }
func (p *fakePosition) SideToMove() bool                      { return p.white }
func (p *fakePosition) FlipSideToMoveForDebug()               {}
func (p *fakePosition) FEN() string                           { return "fake" }

func TestTerminalResultStalemateIsDraw(t *testing.T) {
	is := is.New(t)
	is.Equal(terminalResult(&fakePosition{inCheck: false}), float32(0.5))
}

func TestTerminalResultCheckmateFavorsSideNotToMove(t *testing.T) {
	is := is.New(t)
	is.Equal(terminalResult(&fakePosition{inCheck: true, white: true}), float32(0))
	is.Equal(terminalResult(&fakePosition{inCheck: true, white: false}), float32(1))
}

func TestRootDirichletNoiseDisabledForNonPositiveParams(t *testing.T) {
	is := is.New(t)
	is.True(rootDirichletNoise(0, 0.25) == nil)
	is.True(rootDirichletNoise(0.3, 0) == nil)
	is.True(rootDirichletNoise(-1, 0.25) == nil)
}

func TestRootDirichletNoiseMixesWithinBounds(t *testing.T) {
	is := is.New(t)
	hook := rootDirichletNoise(0.3, 0.25)
	is.True(hook != nil)

	priors := []uint16{60000, 5000, 535}
	out := hook(priors)
	is.Equal(len(out), len(priors))
	for _, p := range out {
		is.True(p <= 65535)
	}
}

func TestSampleDirichletSumsToOne(t *testing.T) {
	is := is.New(t)
	samples := sampleDirichlet(5, 0.3)
	is.Equal(len(samples), 5)
	sum := 0.0
	for _, s := range samples {
		is.True(s >= 0)
		sum += s
	}
	is.True(sum > 0.999 && sum < 1.001)
}

func TestSampleDirichletZeroLengthReturnsNil(t *testing.T) {
	is := is.New(t)
	is.Equal(len(sampleDirichlet(0, 0.3)), 0)
}
