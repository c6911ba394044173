// Package tablebase declares the external endgame tablebase probe
// collaborator (spec §6.3): win/draw/loss lookups once the board is down to
// few enough pieces, used to clamp search values to a proven result instead
// of trusting the network. The search package only depends on the Probe
// interface; a concrete Syzygy-backed implementation lives outside this
// module, the same way the chess rule engine and the network evaluator do.
package tablebase

import "github.com/zerocoach/engine/internal/chessrules"

// WDL is a win/draw/loss classification from the perspective of the side to
// move, with the distinction between a precise distance-to-zero ranking and
// a cursed/blessed draw that tablebases with 50-move-rule awareness report.
type WDL int8

const (
	WDLLoss        WDL = -2
	WDLBlessedLoss WDL = -1
	WDLDraw        WDL = 0
	WDLCursedWin   WDL = 1
	WDLWin         WDL = 2
)

// RootMove is one root-probe candidate: a legal move paired with the WDL
// and distance-to-zero it leads to, ranked so the best move sorts first.
type RootMove struct {
	Move chessrules.Move
	WDL  WDL
	DTZ  int
	Rank int16
}

// Probe is the external tablebase collaborator.
type Probe interface {
	// Available reports whether any tables are loaded that cover
	// pieceCount pieces or fewer.
	Available(pieceCount int) bool

	// ProbeWDL returns the WDL classification of pos from the side to
	// move's perspective, without searching for a best move. ok is false
	// if pos isn't covered (too many pieces, or missing table file).
	ProbeWDL(pos chessrules.Position) (wdl WDL, ok bool)

	// ProbeRoot returns every legal move ranked by WDL and DTZ, used when
	// the search root itself is already within tablebase range so the
	// engine can report a provably optimal move without searching.
	ProbeRoot(pos chessrules.Position) (moves []RootMove, ok bool)
}

// NoProbe is a Probe that never has tables loaded, for engines run without
// a tablebase directory configured.
type NoProbe struct{}

func (NoProbe) Available(int) bool                                       { return false }
func (NoProbe) ProbeWDL(chessrules.Position) (WDL, bool)                 { return WDLDraw, false }
func (NoProbe) ProbeRoot(chessrules.Position) ([]RootMove, bool)          { return nil, false }
