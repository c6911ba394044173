// Package selfplay implements the self-play driver (component I): it
// reuses the node arena, prediction cache, PUCT scorer, MCTS driver, and
// batch coordinator (components A-F) to generate complete training games,
// without any of the wall-clock/node-budget stopping logic component G
// layers on top for interactive search (spec §2's component table, row I).
// The per-thread/per-slot worker-pool shape mirrors the teacher's
// montecarlo.Simulate errgroup loop (montecarlo/montecarlo.go), generalized
// from "N sim threads search one position" to "K worker threads each play
// one game end-to-end."
package selfplay

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
	"lukechampine.com/frand"

	"github.com/zerocoach/engine/internal/batch"
	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/engineconfig"
	"github.com/zerocoach/engine/internal/mcts"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/predcache"
	"github.com/zerocoach/engine/internal/puct"
	"github.com/zerocoach/engine/internal/selectmove"
	"github.com/zerocoach/engine/internal/statutil"
	"github.com/zerocoach/engine/internal/tablebase"
)

// PlyRecord is one move of a generated game: the move actually played, and
// the root's visit distribution over every searched child, which is the
// training target a policy head learns against. Training data storage
// itself is out of scope (spec §1); this is the in-memory record a caller
// wiring up storage would serialize.
type PlyRecord struct {
	FENBeforeMove string
	Played        chessrules.Move
	VisitCounts   map[chessrules.Move]uint32
}

// GameRecord is one complete self-play game.
type GameRecord struct {
	StartFEN string
	Plies    []PlyRecord

	// ResultFromWhitePerspective is 1 for a white win, 0 for a black win,
	// 0.5 for a draw.
	ResultFromWhitePerspective float32
}

// Driver generates self-play games. It is safe to share across concurrent
// PlayGame calls driven by GenerateGames' worker pool; each call to
// PlayGame allocates its own arena root and scratch state, only sharing the
// prediction cache and evaluator.
type Driver struct {
	Arena     *node.Arena
	Cache     *predcache.Cache
	Evaluator nneval.Evaluator
	Encoder   nneval.Encoder
	Tablebase tablebase.Probe
	Config    *engineconfig.Config

	// NewPosition constructs a fresh starting position, usually FEN's
	// standard start; self-play drivers that vary openings supply their
	// own factory here.
	NewPosition func() (chessrules.Position, error)

	// MaxPlies bounds a single game's length as a last-resort guard against
	// positions the draw/repetition rules fail to terminate (not part of
	// spec §4.4's termination conditions themselves, just a safety valve
	// around them).
	MaxPlies int
}

// GenerateGames runs numGames self-play games across numWorkers concurrent
// goroutines and returns every completed GameRecord, the errgroup shape
// montecarlo.Simulate uses for its sim-thread pool generalized to
// "one goroutine per in-flight game" instead of "one goroutine per
// simulation thread searching the same position."
func (d *Driver) GenerateGames(ctx context.Context, numGames, numWorkers int) ([]GameRecord, error) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	records := make([]GameRecord, numGames)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for i := 0; i < numGames; i++ {
		idx := i
		g.Go(func() error {
			rec, err := d.PlayGame(gctx)
			if err != nil {
				return fmt.Errorf("selfplay: game %d: %w", idx, err)
			}
			records[idx] = rec
			log.Info().Int("game", idx).Int("plies", len(rec.Plies)).
				Float32("result", rec.ResultFromWhitePerspective).Msg("selfplay-game-complete")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// PlayGame plays one complete game, running Config.SelfPlayNodesPerMove MCTS
// iterations per move through a fresh root each ply (self-play does not
// reuse the tree across moves the way interactive search's PlayMove does,
// since every move's visit distribution is itself a training target that
// should reflect a clean search).
func (d *Driver) PlayGame(ctx context.Context) (GameRecord, error) {
	pos, err := d.NewPosition()
	if err != nil {
		return GameRecord{}, fmt.Errorf("selfplay: new position: %w", err)
	}
	record := GameRecord{StartFEN: pos.FEN()}

	maxPlies := d.MaxPlies
	if maxPlies <= 0 {
		maxPlies = d.Config.SelfPlayMaxPlies
	}
	if maxPlies <= 0 {
		maxPlies = 512
	}

	for ply := 0; ply < maxPlies; ply++ {
		if len(pos.GenerateLegalMoves()) == 0 {
			record.ResultFromWhitePerspective = terminalResult(pos)
			return record, nil
		}
		if pos.Rule50Count() >= 100 || pos.IsThreefoldRepetition() {
			record.ResultFromWhitePerspective = 0.5
			return record, nil
		}

		fenBeforeMove := pos.FEN()
		root, err := d.searchOneMove(ctx, pos, ply)
		if err != nil {
			return GameRecord{}, err
		}

		visits := map[chessrules.Move]uint32{}
		for _, c := range root.Children() {
			visits[c.Move] = c.VisitCount()
		}

		result := selectmove.SelectMove(root, ply, pos.PieceCount(), selectmove.Params{
			Mode:                  selectmove.ModeSelfPlay,
			SelfPlaySamplingPlies: d.Config.SelfPlaySamplingPlies,
		})
		if result.Move == chessrules.NoMove {
			record.ResultFromWhitePerspective = terminalResult(pos)
			return record, nil
		}

		record.Plies = append(record.Plies, PlyRecord{
			FENBeforeMove: fenBeforeMove,
			Played:        result.Move,
			VisitCounts:   visits,
		})
		pos.DoMove(result.Move)
		d.Arena.PruneAll(root)

		select {
		case <-ctx.Done():
			return GameRecord{}, ctx.Err()
		default:
		}
	}

	record.ResultFromWhitePerspective = 0.5
	return record, nil
}

// searchOneMove runs Config.SelfPlayNodesPerMove MCTS iterations from a freshly
// allocated root at pos, injecting Dirichlet noise into the root's priors
// once they're first computed (spec §6.5 / SPEC_FULL.md supplemented
// feature 1), and returns the searched root.
func (d *Driver) searchOneMove(ctx context.Context, pos chessrules.Position, ply int) (*node.Node, error) {
	root := d.Arena.NewRoot(0.5)

	driver := &mcts.Driver{
		Arena:                       d.Arena,
		Cache:                       d.Cache,
		Evaluator:                   d.Evaluator,
		Encoder:                     d.Encoder,
		Tablebase:                   d.Tablebase,
		Averaging:                   statutil.NewMovingAverage(d.Config.MovingAverageBuild, d.Config.MovingAverageCap),
		FirstPlayUrgencyRoot:        d.Config.FirstPlayUrgencyRoot,
		FirstPlayUrgencyDefault:     d.Config.FirstPlayUrgencyDefault,
		EndgameProgressDecayDivisor: d.Config.ProgressDecayDivisor,
		RootPriorNoise:              rootDirichletNoise(d.Config.RootDirichletAlpha, d.Config.RootExplorationFraction),
		Options:                     mcts.Options{RootPly: ply},
		Params: puct.Params{
			CPuctInit:                    d.Config.CPuctInit,
			CPuctBase:                    d.Config.CPuctBase,
			LinearRate:                   d.Config.LinearRate,
			LinearDelay:                  d.Config.LinearDelay,
			VirtualLossCoefficient:       d.Config.VirtualLossCoefficient,
			BackpropagationPuctThreshold: d.Config.BackpropagationPuctThreshold,
			EliminationBaseExponent:      d.Config.EliminationBaseExponent,
		},
		EliminationFraction: func() float64 { return 0 }, // self-play never eliminates; every visit counts toward the policy target
	}

	coordinator := &batch.Coordinator{
		Driver:              driver,
		NumWorkerThreads:    d.Config.NumWorkerThreads,
		PredictionBatchSize: d.Config.PredictionBatchSize,
		SlowstartThreads:    d.Config.SlowstartThreads,
		SlowstartNodes:      d.Config.SlowstartNodes,
		OnIteration: func(iterations uint64, _ mcts.Outcome) bool {
			return iterations >= d.Config.SelfPlayNodesPerMove
		},
	}

	if _, err := coordinator.Run(ctx, root, pos); err != nil {
		return nil, fmt.Errorf("selfplay: search: %w", err)
	}
	return root, nil
}

// terminalResult scores a position with no legal moves: checkmate favors
// whoever is NOT to move, stalemate is a draw.
func terminalResult(pos chessrules.Position) float32 {
	if !pos.InCheck() {
		return 0.5
	}
	if pos.SideToMove() {
		return 0 // white to move and mated: black won
	}
	return 1
}

// rootDirichletNoise returns an mcts.Driver.RootPriorNoise hook mixing
// Dirichlet(alpha) exploration noise into a freshly-expanded root's
// quantized priors at weight fraction, the same root-noise injection
// AlphaZero-style self-play applies so games don't collapse onto the raw
// policy head's favorite move every single game. nil alpha/fraction
// (<= 0) disables injection, returning nil so callers skip the hook
// entirely.
func rootDirichletNoise(alpha, fraction float64) func([]uint16) []uint16 {
	if alpha <= 0 || fraction <= 0 {
		return nil
	}
	return func(priors []uint16) []uint16 {
		noise := sampleDirichlet(len(priors), alpha)
		out := make([]uint16, len(priors))
		for i, p := range priors {
			mixed := (1-fraction)*float64(p) + fraction*noise[i]*65535.0
			if mixed > 65535 {
				mixed = 65535
			} else if mixed < 0 {
				mixed = 0
			}
			out[i] = uint16(mixed)
		}
		return out
	}
}

// sampleDirichlet draws a Dirichlet(alpha, alpha, ..., alpha)-distributed
// probability vector of length n via n independent Gamma(alpha, 1) draws
// normalized to sum to 1, the standard construction, using gonum's
// distuv.Gamma seeded from the engine's frand source the way the teacher's
// zobrist package seeds its own tables from frand.
func sampleDirichlet(n int, alpha float64) []float64 {
	if n == 0 {
		return nil
	}
	src := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(frand.Bytes(8)))))
	gamma := distuv.Gamma{Alpha: alpha, Beta: 1, Src: src}
	samples := make([]float64, n)
	sum := 0.0
	for i := range samples {
		samples[i] = gamma.Rand()
		sum += samples[i]
	}
	if sum <= 0 {
		for i := range samples {
			samples[i] = 1.0 / float64(n)
		}
		return samples
	}
	for i := range samples {
		samples[i] /= sum
	}
	return samples
}
