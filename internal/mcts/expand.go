package mcts

import (
	"math"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/predcache"
	"github.com/zerocoach/engine/internal/searchpath"
	"github.com/zerocoach/engine/internal/tablebase"
)

// probeOrRequest implements expand_and_evaluate's non-blocking half (spec
// §4.4): detect an immediate terminal outcome, otherwise try to claim the
// leaf for expansion and consult the prediction cache, returning either a
// Pending network request, a cache Hit, a terminal result, or skip=true if
// another thread already owns this leaf's expansion.
func (d *Driver) probeOrRequest(scratch *searchpath.Scratch, weight uint8) (pending *Pending, hit predcache.Hit, legalMoves []chessrules.Move, terminal bool, skip bool, err error) {
	leaf := scratch.Leaf()
	pos := scratch.Position

	moves := pos.GenerateLegalMoves()
	if len(moves) == 0 {
		k := int32(0)
		if pos.InCheck() {
			leaf.SetTerminalValue(node.EncodeOpponentMate(k))
		} else {
			leaf.SetTerminalValue(node.DrawTerminal)
		}
		return nil, predcache.Hit{}, nil, true, false, nil
	}
	if leaf == scratch.Root() && len(d.Options.SearchMoves) > 0 {
		if restricted := restrictToSearchMoves(moves, d.Options.SearchMoves); len(restricted) > 0 {
			moves = restricted
		}
	}
	if pos.Rule50Count() >= 100 || pos.IsThreefoldRepetitionAfter(d.Options.RootPly) {
		leaf.SetTerminalValue(node.DrawTerminal)
		return nil, predcache.Hit{}, nil, true, false, nil
	}

	if d.Tablebase != nil && d.Tablebase.Available(pos.PieceCount()) {
		if wdl, ok := d.Tablebase.ProbeWDL(pos); ok {
			rank, bound := tablebaseRankBound(wdl)
			leaf.SetTablebaseRankBound(rank, bound)
			d.TablebaseHitCount.Add(1)
		}
	}

	if !leaf.TryStartExpanding() {
		return nil, predcache.Hit{}, nil, false, true, nil
	}

	if d.Cache != nil && len(moves) <= predcache.MaxMoveCount-1 {
		if h, handle, ok := d.Cache.Probe(pos.Key(), len(moves)); ok {
			_ = handle
			return nil, h, moves, false, false, nil
		}
	}

	row := d.Encoder.EncodeRow(pos, d.Evaluator.Shape())
	return &Pending{Scratch: scratch, Row: row, LegalMoves: moves, Weight: weight}, predcache.Hit{}, moves, false, false, nil
}

// quantizePriors turns the network's raw policy logits for just this
// position's legal moves into the cache/node-array's fixed uint16
// quantization, renormalizing over the legal subset via softmax the way
// the original design's policy head output is interpreted.
func (d *Driver) quantizePriors(moves []chessrules.Move, pos chessrules.Position, policy []float32) []uint16 {
	logits := make([]float64, len(moves))
	maxLogit := math.Inf(-1)
	for i, m := range moves {
		idx := d.Encoder.PolicyIndex(pos, m)
		v := float64(policy[idx])
		logits[i] = v
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(moves))
	sum := 0.0
	for i, v := range logits {
		p := math.Exp(v - maxLogit)
		probs[i] = p
		sum += p
	}
	priors := make([]uint16, len(moves))
	if sum <= 0 {
		return priors
	}
	for i, p := range probs {
		q := p / sum * 65535.0
		if q > 65535 {
			q = 65535
		} else if q < 0 {
			q = 0
		}
		priors[i] = uint16(q)
	}
	return priors
}

// tablebaseRankBound maps a WDL classification to the (rank, bound) pair
// BoundScore reads back. A plain win/draw/loss is exact. A cursed win or
// blessed loss is only a win/loss ignoring the 50-move rule; the position's
// real value is a draw unless the counter resets first, so it clamps as a
// directional bound at the draw rank rather than an exact score (spec
// §3.2/§4.4).
func tablebaseRankBound(wdl tablebase.WDL) (rank int16, bound node.Bound) {
	switch wdl {
	case tablebase.WDLCursedWin:
		return 0, node.BoundLower
	case tablebase.WDLBlessedLoss:
		return 0, node.BoundUpper
	default:
		return int16(wdl), node.BoundExact
	}
}

// restrictToSearchMoves narrows moves to the subset also present in
// restrict, preserving moves' order (which the caller's quantization and
// child indexing depend on).
func restrictToSearchMoves(moves, restrict []chessrules.Move) []chessrules.Move {
	allowed := make(map[chessrules.Move]struct{}, len(restrict))
	for _, m := range restrict {
		allowed[m] = struct{}{}
	}
	out := moves[:0:0]
	for _, m := range moves {
		if _, ok := allowed[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// cachePut writes (or refreshes) the cache entry for scratch's current
// position once a network result is available.
func (d *Driver) cachePut(scratch *searchpath.Scratch, moves []chessrules.Move, hit predcache.Hit) {
	if d.Cache == nil || len(moves) > predcache.MaxMoveCount-1 {
		return
	}
	key := scratch.Position.Key()
	_, handle, _ := d.Cache.Probe(key, len(moves))
	d.Cache.Put(handle, key, hit.Value, hit.Priors)
}

// finishExpanding allocates leaf's children from moves/hit.Priors and
// publishes them. Unvisited children are seeded below their parent's own
// value average by a first-play-urgency reduction, root-level children
// getting the (typically larger) root reduction so an unexplored root move
// doesn't look artificially attractive relative to already-sampled ones
// (spec §4.4/§6.5).
func (d *Driver) finishExpanding(leaf *node.Node, moves []chessrules.Move, hit predcache.Hit, isRoot bool) {
	priors := hit.Priors
	if len(priors) < len(moves) {
		padded := make([]uint16, len(moves))
		copy(padded, priors)
		priors = padded
	}
	if isRoot && d.RootPriorNoise != nil {
		priors = d.RootPriorNoise(priors)
	}

	reduction := d.FirstPlayUrgencyDefault
	if isRoot {
		reduction = d.FirstPlayUrgencyRoot
	}
	fpu := leaf.ValueAverage() - float32(reduction)
	if fpu < 0 {
		fpu = 0
	}
	children := d.Arena.AllocateChildren(moves, priors, fpu)
	leaf.FinishExpanding(children, uint8(len(children)))
	d.NodeCount.Add(uint64(len(children)))
}
