// Package searchfsm implements the search state machine (component H): it
// owns the long-lived tree and position across successive "go" calls,
// drives the batch coordinator for one search session at a time, and
// repairs tree state left mid-expansion when a session is cancelled
// partway through. It composes node, mcts, batch, timecontrol,
// engineconfig, and chessrules the way the teacher's montecarlo.Simmer
// owns one long-lived simulation across repeated Simulate calls.
package searchfsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zerocoach/engine/internal/batch"
	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/engineconfig"
	"github.com/zerocoach/engine/internal/journal"
	"github.com/zerocoach/engine/internal/mcts"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/predcache"
	"github.com/zerocoach/engine/internal/puct"
	"github.com/zerocoach/engine/internal/statutil"
	"github.com/zerocoach/engine/internal/tablebase"
	"github.com/zerocoach/engine/internal/timecontrol"
)

// State is the session's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateSearching
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// ErrAlreadySearching is returned by Go when a search is already running.
var ErrAlreadySearching = errors.New("searchfsm: a search is already running")

// ErrNoPosition is returned by Go/PlayMove when SetPosition hasn't been
// called yet.
var ErrNoPosition = errors.New("searchfsm: no position set")

// Result reports the outcome of one completed search.
type Result struct {
	BestMove          chessrules.Move
	Iterations        uint64
	StopReason        timecontrol.Reason
	NodeCount         uint64
	FailedNodeCount   uint64
	TablebaseHitCount uint64
}

// Session owns the tree, the current position, and the configuration
// needed to run searches against it across repeated Go calls.
type Session struct {
	Arena     *node.Arena
	Evaluator nneval.Evaluator
	Encoder   nneval.Encoder
	Tablebase tablebase.Probe
	Cache     *predcache.Cache
	Config    *engineconfig.Config

	// Journal, if non-nil, records this session's PV changes and final
	// result for postmortem debugging (supplemented feature). A nil
	// Journal disables journaling entirely; every Journal method is a
	// documented no-op on a nil receiver, so this field is safe to leave
	// unset.
	Journal *journal.Journal

	mu           sync.Mutex
	state        State
	root         *node.Node
	rootPosition chessrules.Position
	controller   *timecontrol.Controller
	pondering    bool
}

// NewSession builds an idle session. cfg's search/batch/cache knobs are
// read fresh every call to Go, so they can be changed between searches.
func NewSession(arena *node.Arena, evaluator nneval.Evaluator, encoder nneval.Encoder, tb tablebase.Probe, cache *predcache.Cache, cfg *engineconfig.Config) *Session {
	return &Session{
		Arena:     arena,
		Evaluator: evaluator,
		Encoder:   encoder,
		Tablebase: tb,
		Cache:     cache,
		Config:    cfg,
		state:     StateIdle,
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetPosition discards any existing tree and starts fresh from pos. Use
// PlayMove instead when the new position is reached by playing one legal
// move from the current position, to preserve the subtree under that move.
func (s *Session) SetPosition(pos chessrules.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != nil {
		s.Arena.PruneAll(s.root)
	}
	s.rootPosition = pos
	s.root = s.Arena.NewRoot(0.5)
}

// PlayMove advances the session's position by m, reusing the subtree under
// m if the current root has already expanded it (spec §4.1's UCI-style
// tree-reuse operation), or starting a fresh unexpanded root otherwise.
func (s *Session) PlayMove(m chessrules.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		return ErrNoPosition
	}
	if s.state != StateIdle {
		return ErrAlreadySearching
	}

	if s.root.ExpansionState() == node.ExpansionExpanded {
		children := s.root.Children()
		for i := range children {
			if children[i].Move == m {
				s.root = s.Arena.PruneExceptChild(s.root, i)
				s.rootPosition.DoMove(m)
				return nil
			}
		}
	}

	s.rootPosition.DoMove(m)
	s.Arena.PruneAll(s.root)
	s.root = s.Arena.NewRoot(0.5)
	return nil
}

// Go runs one search session to completion (either a stop condition fires,
// the context is cancelled, or tc requests pondering/infinite search
// forever until Stop/PonderHit). It blocks until the search ends.
func (s *Session) Go(ctx context.Context, opts mcts.Options, tc timecontrol.TimeControl) (Result, error) {
	s.mu.Lock()
	if s.root == nil {
		s.mu.Unlock()
		return Result{}, ErrNoPosition
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return Result{}, ErrAlreadySearching
	}
	s.state = StateSearching
	s.pondering = tc.Pondering
	root := s.root
	rootPosition := s.rootPosition
	cfg := s.Config
	s.mu.Unlock()

	tc.LegalMoveCount = len(rootPosition.GenerateLegalMoves())
	tc.WhiteToMove = rootPosition.SideToMove()

	sessionID, err := s.Journal.StartSession(ctx, rootPosition.FEN(), time.Now().UnixNano())
	if err != nil {
		log.Warn().Err(err).Msg("searchfsm: journal start session")
	}

	driver := &mcts.Driver{
		Arena:                        s.Arena,
		Cache:                        s.Cache,
		Evaluator:                    s.Evaluator,
		Encoder:                      s.Encoder,
		Tablebase:                    s.Tablebase,
		Averaging:                    statutil.NewMovingAverage(cfg.MovingAverageBuild, cfg.MovingAverageCap),
		FirstPlayUrgencyRoot:         cfg.FirstPlayUrgencyRoot,
		FirstPlayUrgencyDefault:      cfg.FirstPlayUrgencyDefault,
		EndgameProgressDecayDivisor:  cfg.ProgressDecayDivisor,
		Options:                      opts,
		Params: puct.Params{
			CPuctInit:                    cfg.CPuctInit,
			CPuctBase:                    cfg.CPuctBase,
			LinearRate:                   cfg.LinearRate,
			LinearDelay:                  cfg.LinearDelay,
			VirtualLossCoefficient:       cfg.VirtualLossCoefficient,
			BackpropagationPuctThreshold: cfg.BackpropagationPuctThreshold,
			EliminationBaseExponent:      cfg.EliminationBaseExponent,
		},
	}

	controller := timecontrol.NewController(cfg)
	controller.Configure(tc)
	controller.Start()
	driver.EliminationFraction = controller.EliminationFraction

	s.mu.Lock()
	s.controller = controller
	s.mu.Unlock()

	coordinator := &batch.Coordinator{
		Driver:              driver,
		NumWorkerThreads:    cfg.NumWorkerThreads,
		PredictionBatchSize: cfg.PredictionBatchSize,
		SlowstartThreads:    cfg.SlowstartThreads,
		SlowstartNodes:      cfg.SlowstartNodes,
		OnUpdatedNetwork:    func() { s.Cache.Clear() },
		OnIteration: func(iterations uint64, outcome mcts.Outcome) bool {
			if best := root.BestChild(); best != nil {
				controller.ReportBestMateDistance(best.MateDistance())
			}
			if outcome.PrincipalVariationChanged && controller.ShouldPrintPV() {
				logBestLine(root)
				if best := root.BestChild(); best != nil {
					if err := s.Journal.RecordPVUpdate(ctx, sessionID, iterations, best.Move.UCI(), best.ValueAverage(), best.VisitCount()); err != nil {
						log.Warn().Err(err).Msg("searchfsm: journal record pv update")
					}
				}
			}
			return controller.ShouldStop(iterations)
		},
	}

	iterations, err := coordinator.Run(ctx, root, rootPosition)

	s.mu.Lock()
	s.state = StateFinalizing
	s.mu.Unlock()

	s.finalize(root)

	s.mu.Lock()
	s.state = StateIdle
	s.pondering = false
	s.mu.Unlock()

	if err != nil {
		return Result{}, fmt.Errorf("searchfsm: search failed: %w", err)
	}

	counters := Result{
		NodeCount:         driver.NodeCount.Load(),
		FailedNodeCount:   driver.FailedNodeCount.Load(),
		TablebaseHitCount: driver.TablebaseHitCount.Load(),
	}

	best := root.BestChild()
	if best == nil {
		s.endJournalSession(ctx, sessionID, chessrules.NoMove, iterations, controller.StopReason())
		counters.Iterations = iterations
		counters.StopReason = controller.StopReason()
		return counters, errors.New("searchfsm: no best move found")
	}
	s.endJournalSession(ctx, sessionID, best.Move, iterations, controller.StopReason())
	counters.BestMove = best.Move
	counters.Iterations = iterations
	counters.StopReason = controller.StopReason()
	return counters, nil
}

// endJournalSession records a completed session's outcome, logging rather
// than failing the search if the journal write itself errors.
func (s *Session) endJournalSession(ctx context.Context, sessionID int64, bestMove chessrules.Move, iterations uint64, reason timecontrol.Reason) {
	if err := s.Journal.EndSession(ctx, sessionID, time.Now().UnixNano(), bestMove.UCI(), iterations, reason.String()); err != nil {
		log.Warn().Err(err).Msg("searchfsm: journal end session")
	}
}

// finalize repairs everything a cancelled search can leave behind (spec
// §4.9): a node claimed via TryStartExpanding but never FinishExpanding'd
// is reverted to ExpansionNone so the next search can claim and expand it
// again, and every node's virtual-loss counter is zeroed. The latter
// covers workers that incremented visiting_count along a path in
// selectPath and then never reached backpropagate because they were
// parked in the batch coordinator's submit when the search's context was
// cancelled — those goroutines return without a matching decrement, and
// since the search is over there is nothing left to reconcile against, so
// finalize resets rather than tracks-and-unwinds each one. Node doesn't
// track which of its descendants are mid-expansion, so this walks the
// live, already-Expanded part of the tree and aborts any child still
// stuck in Expanding.
func (s *Session) finalize(n *node.Node) {
	n.ResetVisiting()
	if n.ExpansionState() == node.ExpansionExpanding {
		n.AbortExpanding()
		return
	}
	if n.ExpansionState() != node.ExpansionExpanded {
		return
	}
	children := n.Children()
	for i := range children {
		s.finalize(&children[i])
	}
}

// Stop requests the running search (if any) stop at its next check.
func (s *Session) Stop() {
	s.mu.Lock()
	c := s.controller
	s.mu.Unlock()
	if c != nil {
		c.RequestStop()
	}
}

// PonderHit re-arms the time controller for a pondering search that just
// had its predicted move confirmed by the opponent: it restarts the clock
// from now without discarding the tree or cancelling the in-flight search,
// the supplemented ponder-hit continuation (SPEC_FULL.md item 3).
func (s *Session) PonderHit() {
	s.mu.Lock()
	c := s.controller
	pondering := s.pondering
	s.mu.Unlock()
	if c == nil || !pondering {
		return
	}
	s.mu.Lock()
	cfg := s.Config
	s.mu.Unlock()
	c.ArmLimits(cfg.SearchNodeLimit, time.Duration(cfg.SearchTimeLimitMs)*time.Millisecond)
	c.Start()
}

func logBestLine(root *node.Node) {
	best := root.BestChild()
	if best == nil {
		return
	}
	log.Info().
		Uint32("visits", best.VisitCount()).
		Float32("value", best.ValueAverage()).
		Str("move", best.Move.UCI()).
		Msg("pv-update")
}
