// Package timecontrol implements the time controller (component G): the
// search's stop conditions (infinite, node/move-time/mate/game-clock
// budgets, the single-legal-move and forced-mate-already-reported
// shortcuts), a continuously-advancing elimination fraction the selector
// reads every iteration, and the cadence gate for periodic PV printing.
// Stop-condition shape is grounded on the domain corpus's own
// depth/nodes/movetime limiter (a sibling MCTS engine's Limits/_Timer), kept
// in the teacher's zerolog-driven logging style.
package timecontrol

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/zerocoach/engine/internal/engineconfig"
)

// Reason identifies why a search stopped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInfinite
	ReasonMateFound
	ReasonNodeLimit
	ReasonMoveTimeLimit
	ReasonGameClockLimit
	ReasonSingleLegalMove
	ReasonForcedMateTimeSpent
	ReasonStopRequested
)

func (r Reason) String() string {
	switch r {
	case ReasonInfinite:
		return "infinite"
	case ReasonMateFound:
		return "mate_found"
	case ReasonNodeLimit:
		return "node_limit"
	case ReasonMoveTimeLimit:
		return "move_time_limit"
	case ReasonGameClockLimit:
		return "game_clock_limit"
	case ReasonSingleLegalMove:
		return "single_legal_move"
	case ReasonForcedMateTimeSpent:
		return "forced_mate_time_spent"
	case ReasonStopRequested:
		return "stop_requested"
	default:
		return "none"
	}
}

// TimeControl is spec §3.4's per-search time control: the knobs a UCI-style
// "go" command supplies, read once at Start and otherwise immutable for the
// duration of one search.
type TimeControl struct {
	Infinite  bool
	Pondering bool

	MoveTimeMs int64
	Nodes      uint64
	MateIn     int32 // 0 means unset

	MovesToGo     int
	WhiteTimeMs   int64
	BlackTimeMs   int64
	WhiteIncMs    int64
	BlackIncMs    int64
	WhiteToMove   bool

	// LegalMoveCount, when set by the caller (searchfsm fills it in from the
	// root position before starting the controller), lets
	// stop-condition 6 in spec §4.8 fire when the root only had one legal
	// move to begin with.
	LegalMoveCount int
}

// Controller tracks one search session's stopping conditions and the
// continuously-advancing elimination fraction PUCT selection reads.
// nodeLimit/timeLimitNs (which carries both the move-time and the
// game-clock budget) are atomics rather than plain
// fields because PonderHit re-arms them on a search already running
// concurrently across the batch coordinator's worker threads.
type Controller struct {
	tc TimeControl

	nodeLimit    atomic.Uint64
	timeLimitNs  atomic.Int64 // 0 means disabled
	infinite     atomic.Bool
	pondering    atomic.Bool
	mateIn       atomic.Int32

	pvPrintInterval     time.Duration
	eliminationTarget   float64
	eliminationExponent float64

	absoluteMinimumMs  int64
	safetyBufferMs     int64
	fractionOfRemaining float64

	startNanos atomic.Int64

	stopRequested atomic.Bool
	lastPvPrint   atomic.Int64 // unix nanoseconds; 0 means never printed
	iterations    atomic.Uint64

	mateFoundNanos  atomic.Int64 // 0 until a forced mate is first observed
	bestMateDistance atomic.Int32 // 0 means "no mate found yet"
	legalMoveCount  atomic.Int32

	reason atomic.Int32
}

// NewController builds a Controller from the engine's tunables. A zero
// NodeLimit or SearchTimeLimitMs means that limit is disabled.
func NewController(cfg *engineconfig.Config) *Controller {
	c := &Controller{
		pvPrintInterval:     time.Duration(cfg.PvPrintIntervalMs) * time.Millisecond,
		eliminationTarget:   cfg.EliminationFraction,
		eliminationExponent: cfg.EliminationBaseExponent,
		absoluteMinimumMs:   cfg.AbsoluteMinimumMs,
		safetyBufferMs:      cfg.SafetyBufferMs,
		fractionOfRemaining: cfg.TimeControlFractionOfRemaining,
	}
	c.nodeLimit.Store(cfg.SearchNodeLimit)
	c.timeLimitNs.Store(int64(time.Duration(cfg.SearchTimeLimitMs) * time.Millisecond))
	return c
}

// Configure applies a per-search TimeControl (spec §3.4) on top of the
// engine's static defaults, computing the effective node/time limits this
// search should stop at. Call before Start.
func (c *Controller) Configure(tc TimeControl) {
	c.tc = tc
	c.infinite.Store(tc.Infinite)
	c.pondering.Store(tc.Pondering)
	c.mateIn.Store(tc.MateIn)
	c.legalMoveCount.Store(int32(tc.LegalMoveCount))

	if tc.Nodes > 0 {
		c.nodeLimit.Store(tc.Nodes)
	}

	switch {
	case tc.Infinite || tc.Pondering:
		c.timeLimitNs.Store(0)
	case tc.MoveTimeMs > 0:
		c.timeLimitNs.Store(tc.MoveTimeMs * int64(time.Millisecond))
	default:
		if budget, ok := c.gameClockBudgetMs(tc); ok {
			c.timeLimitNs.Store(budget * int64(time.Millisecond))
		}
	}
}

// gameClockBudgetMs implements spec §4.8's stop condition 5: allocate a
// fraction of remaining time (capped by movesToGo), add the increment, and
// subtract a safety buffer, never going below an absolute minimum.
func (c *Controller) gameClockBudgetMs(tc TimeControl) (int64, bool) {
	remaining := tc.BlackTimeMs
	inc := tc.BlackIncMs
	if tc.WhiteToMove {
		remaining = tc.WhiteTimeMs
		inc = tc.WhiteIncMs
	}
	if remaining <= 0 {
		return 0, false
	}

	fraction := c.fractionOfRemaining
	if tc.MovesToGo > 0 {
		perMove := 1.0 / float64(tc.MovesToGo)
		if perMove < fraction {
			fraction = perMove
		}
	}
	excludingIncrement := float64(remaining) * fraction
	allowed := excludingIncrement + float64(inc)
	if allowed > float64(remaining) {
		allowed = float64(remaining)
	}
	allowed -= float64(c.safetyBufferMs)
	if allowed < float64(c.absoluteMinimumMs) {
		allowed = float64(c.absoluteMinimumMs)
	}
	return int64(allowed), true
}

// Start records the search's start time. Must be called once before the
// controller's methods are used to gate a running search.
func (c *Controller) Start() {
	c.startNanos.Store(time.Now().UnixNano())
	c.stopRequested.Store(false)
	c.lastPvPrint.Store(0)
	c.mateFoundNanos.Store(0)
	c.bestMateDistance.Store(0)
	c.reason.Store(int32(ReasonNone))
}

// DisableLimits turns off the node and time limits, for a pondering search
// that should run until Stop or PonderHit arms real limits.
func (c *Controller) DisableLimits() {
	c.nodeLimit.Store(0)
	c.timeLimitNs.Store(0)
	c.pondering.Store(true)
}

// ArmLimits sets the node and time limits a pondering search should use
// once PonderHit confirms the predicted move was played.
func (c *Controller) ArmLimits(nodeLimit uint64, timeLimit time.Duration) {
	c.nodeLimit.Store(nodeLimit)
	c.timeLimitNs.Store(int64(timeLimit))
	c.pondering.Store(false)
}

func (c *Controller) elapsed() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.startNanos.Load())
}

// RequestStop asks the controller to stop the search at its next check,
// the continuation of a UCI "stop" command.
func (c *Controller) RequestStop() {
	c.stopRequested.Store(true)
}

// Elapsed returns how long the search has been running.
func (c *Controller) Elapsed() time.Duration {
	return c.elapsed()
}

// ReportBestMateDistance lets the search driver tell the controller about
// the current best child's mate distance (0 if none), so stop conditions 2
// and 6 (spec §4.8) can react to a forced mate the moment it's found.
func (c *Controller) ReportBestMateDistance(k int32) {
	if k > 0 && c.bestMateDistance.Load() == 0 {
		c.mateFoundNanos.Store(time.Now().UnixNano())
	}
	c.bestMateDistance.Store(k)
}

// ShouldStop reports whether the search should stop given the iteration
// count observed so far. It is safe to call from any worker thread; the
// batch coordinator's OnIteration hook is the expected caller. Conditions
// are checked in spec §4.8's priority order.
func (c *Controller) ShouldStop(iterations uint64) bool {
	c.iterations.Store(iterations)

	// An explicit stop always wins, even over an infinite/pondering search
	// that would otherwise never check its other limits.
	if c.stopRequested.Load() {
		c.reason.Store(int32(ReasonStopRequested))
		return true
	}
	// 1. infinite never stops itself absent an explicit stop.
	if c.infinite.Load() {
		return false
	}
	// 2. mate_in_n satisfied.
	if mateIn := c.mateIn.Load(); mateIn > 0 {
		if best := c.bestMateDistance.Load(); best > 0 && best <= mateIn {
			c.reason.Store(int32(ReasonMateFound))
			return true
		}
	}
	// 3. node budget.
	if nodeLimit := c.nodeLimit.Load(); nodeLimit > 0 && iterations >= nodeLimit {
		c.reason.Store(int32(ReasonNodeLimit))
		return true
	}
	// 4/5. move time or game-clock budget (both stored in timeLimitNs by
	// Configure; which one it is only changes the reported Reason).
	if timeLimit := c.timeLimitNs.Load(); timeLimit > 0 && c.elapsed() >= time.Duration(timeLimit) {
		if c.tc.MoveTimeMs > 0 {
			c.reason.Store(int32(ReasonMoveTimeLimit))
		} else {
			c.reason.Store(int32(ReasonGameClockLimit))
		}
		return true
	}
	// 6. not pondering: single legal move at root, or forced mate already
	// reported for at least 3 seconds.
	if !c.pondering.Load() {
		if c.legalMoveCount.Load() == 1 {
			c.reason.Store(int32(ReasonSingleLegalMove))
			return true
		}
		if mateNanos := c.mateFoundNanos.Load(); mateNanos != 0 {
			if time.Duration(time.Now().UnixNano()-mateNanos) >= 3*time.Second {
				c.reason.Store(int32(ReasonForcedMateTimeSpent))
				return true
			}
		}
	}
	return false
}

// StopReason returns why the most recent ShouldStop call returned true, or
// ReasonNone if the search hasn't stopped.
func (c *Controller) StopReason() Reason {
	return Reason(c.reason.Load())
}

// EliminationFraction computes the selector's current top-K elimination
// fraction: it ramps from 0 up to the configured target as the search
// progresses toward whichever limit is active (nodes if a node limit is
// set, otherwise elapsed time), raised to eliminationExponent so the ramp
// can be front- or back-loaded. With neither limit configured the fraction
// never advances past 0, since there is no "how far along" signal to ramp
// against. Reads the iteration count most recently passed to ShouldStop,
// which is what lets this be handed to mcts.Driver.EliminationFraction
// directly as a zero-argument func() float64.
func (c *Controller) EliminationFraction() float64 {
	if c.eliminationTarget <= 0 {
		return 0
	}
	var progress float64
	switch {
	case c.nodeLimit.Load() > 0:
		progress = float64(c.iterations.Load()) / float64(c.nodeLimit.Load())
	case c.timeLimitNs.Load() > 0:
		progress = float64(c.elapsed()) / float64(c.timeLimitNs.Load())
	default:
		return 0
	}
	if progress > 1 {
		progress = 1
	} else if progress < 0 {
		progress = 0
	}
	return c.eliminationTarget * math.Pow(progress, c.eliminationExponent)
}

// ShouldPrintPV reports whether at least pvPrintInterval has elapsed since
// the last print, and if so marks now as the new last-print time. Callers
// that decide to actually print should call this first and only print on
// a true result, so concurrent callers don't race to print duplicates.
func (c *Controller) ShouldPrintPV() bool {
	if c.pvPrintInterval <= 0 {
		return false
	}
	now := time.Now().UnixNano()
	last := c.lastPvPrint.Load()
	if last != 0 && time.Duration(now-last) < c.pvPrintInterval {
		return false
	}
	return c.lastPvPrint.CompareAndSwap(last, now)
}
