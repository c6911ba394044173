// Package batch implements the batch coordinator (component F): it fans a
// search session's iterations out across a pool of worker threads, each
// driving its own searchpath.Scratch slot through mcts.Driver, and collects
// the network requests those iterations produce into fixed-size batches so
// a single evaluator call amortizes one round trip (network or RPC) over
// many tree iterations at once (spec §4.7). The worker-pool shape is
// adapted from the teacher corpus's errgroup-based simmer threads
// (montecarlo.Simmer.Simulate): one errgroup, one cancellable context, and
// atomic counters shared read-mostly across goroutines.
package batch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zerocoach/engine/internal/chessrules"
	"github.com/zerocoach/engine/internal/mcts"
	"github.com/zerocoach/engine/internal/nneval"
	"github.com/zerocoach/engine/internal/node"
	"github.com/zerocoach/engine/internal/searchpath"
)

// flushInterval bounds how long a partially-filled batch waits for more
// requests before it is sent to the evaluator anyway, so a coordinator
// running below its target batch size (few active threads, slowstart,
// near the end of a search) doesn't stall waiting to fill up.
const flushInterval = 2 * time.Millisecond

// networkUpdateNotifyInterval rate-limits OnUpdatedNetwork callbacks: every
// worker's batch can observe the evaluator's StatusUpdatedNetwork bit on
// the same network swap, but the prediction cache only needs flushing once
// (spec §6.2/§9).
const networkUpdateNotifyInterval = 5 * time.Minute

// Coordinator owns one search session's worker pool.
type Coordinator struct {
	Driver *mcts.Driver

	NumWorkerThreads    int
	PredictionBatchSize int

	// SlowstartThreads/SlowstartNodes ramp parallelism up gradually: only
	// SlowstartThreads workers run until the root has accumulated
	// SlowstartNodes visits, after which every worker joins. This avoids
	// many threads colliding on an empty, unexpanded tree (spec §4.7).
	SlowstartThreads int
	SlowstartNodes   int

	// OnIteration is called after every iteration (cache hit, network
	// expansion, mate backprop, or a path abandoned because another worker
	// was already expanding its leaf) with the session's total iteration
	// count so far, abandoned paths included. Returning true stops the search;
	// the time controller (component G) is the usual caller.
	OnIteration func(iterations uint64, outcome mcts.Outcome) (stop bool)

	// OnUpdatedNetwork is called, rate-limited to once per
	// networkUpdateNotifyInterval across the whole session, when the
	// evaluator reports it swapped in new weights.
	OnUpdatedNetwork func()

	lastNetworkNotify atomic.Int64 // unix nanoseconds, 0 until first notify
}

type request struct {
	pending *mcts.Pending
	reply   chan reply
}

type reply struct {
	result nneval.Result
	err    error
}

// Run drives iterations against root/rootPosition until the context is
// cancelled or OnIteration requests a stop, then returns the total number
// of iterations run, counted the same way as OnIteration's count.
func (c *Coordinator) Run(ctx context.Context, root *node.Node, rootPosition chessrules.Position) (uint64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan *request, c.PredictionBatchSize*2)
	var iterations atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.runBatcher(gctx, requests)
		return nil
	})

	for t := 0; t < c.NumWorkerThreads; t++ {
		threadID := t
		g.Go(func() error {
			return c.runWorker(gctx, threadID, root, rootPosition, requests, &iterations, cancel)
		})
	}

	err := g.Wait()
	close(requests)
	return iterations.Load(), err
}

func (c *Coordinator) runWorker(ctx context.Context, threadID int, root *node.Node, rootPosition chessrules.Position, requests chan<- *request, iterations *atomic.Uint64, cancel context.CancelFunc) error {
	scratch := searchpath.New(root, rootPosition)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if threadID >= c.activeThreads(root) {
			time.Sleep(time.Millisecond)
			continue
		}

		scratch.Reset(root, rootPosition)
		outcome, pending, err := c.Driver.SelectAndProbe(scratch)
		if err != nil {
			cancel()
			return err
		}

		if pending != nil {
			r, ok, err := c.submit(ctx, requests, pending)
			if err != nil {
				cancel()
				return err
			}
			if !ok {
				return nil
			}
			outcome = c.Driver.FinishPending(pending, r)
		}

		n := iterations.Add(1)
		if c.OnIteration != nil && c.OnIteration(n, outcome) {
			cancel()
			return nil
		}
	}
}

// submit hands pending to the batcher and waits for its result. ok is false
// if ctx was cancelled before a reply arrived (a normal stop, not an error).
func (c *Coordinator) submit(ctx context.Context, requests chan<- *request, pending *mcts.Pending) (nneval.Result, bool, error) {
	req := &request{pending: pending, reply: make(chan reply, 1)}
	select {
	case requests <- req:
	case <-ctx.Done():
		return nneval.Result{}, false, nil
	}
	select {
	case r := <-req.reply:
		return r.result, true, r.err
	case <-ctx.Done():
		return nneval.Result{}, false, nil
	}
}

// activeThreads returns how many of NumWorkerThreads are allowed to run
// right now, per the slowstart ramp.
func (c *Coordinator) activeThreads(root *node.Node) int {
	if c.SlowstartThreads <= 0 || c.SlowstartThreads >= c.NumWorkerThreads {
		return c.NumWorkerThreads
	}
	if root.VisitCount() >= uint32(c.SlowstartNodes) {
		return c.NumWorkerThreads
	}
	return c.SlowstartThreads
}

// runBatcher accumulates requests up to PredictionBatchSize, or until
// flushInterval elapses since the last flush, then evaluates the
// accumulated batch in one call and distributes results back to each
// request's reply channel.
func (c *Coordinator) runBatcher(ctx context.Context, requests <-chan *request) {
	timer := time.NewTimer(flushInterval)
	defer timer.Stop()

	var pending []*request
	for {
		select {
		case <-ctx.Done():
			// Workers that lose the race in submit's own ctx.Done() select
			// already stopped waiting on their reply, so there is nothing
			// left to notify; any request still sitting in the channel
			// buffer is simply dropped when Run closes it.
			c.failAll(pending, ctx.Err())
			return
		case req, ok := <-requests:
			if !ok {
				if len(pending) > 0 {
					c.flush(context.Background(), pending)
				}
				return
			}
			pending = append(pending, req)
			if len(pending) >= c.PredictionBatchSize {
				c.flush(ctx, pending)
				pending = nil
				timer.Reset(flushInterval)
			}
		case <-timer.C:
			if len(pending) > 0 {
				c.flush(ctx, pending)
				pending = nil
			}
			timer.Reset(flushInterval)
		}
	}
}

func (c *Coordinator) failAll(pending []*request, err error) {
	for _, req := range pending {
		req.reply <- reply{err: err}
	}
}

func (c *Coordinator) flush(ctx context.Context, batch []*request) {
	// A partial batch is padded with zero rows up to PredictionBatchSize so
	// the evaluator always sees the same batch shape; the padding rows'
	// results are discarded.
	size := len(batch)
	if c.PredictionBatchSize > size {
		size = c.PredictionBatchSize
	}
	rows := make([][]float32, size)
	for i, req := range batch {
		rows[i] = req.pending.Row
	}
	for i := len(batch); i < size; i++ {
		rows[i] = make([]float32, c.Driver.Evaluator.Shape().RowFloats())
	}

	results, status, err := c.Driver.Evaluator.PredictBatch(ctx, nneval.NetworkTypeSearch, rows)
	if err != nil {
		for _, req := range batch {
			req.reply <- reply{err: err}
		}
		return
	}
	if status.UpdatedNetwork() {
		c.notifyUpdatedNetwork()
	}
	for i, req := range batch {
		req.reply <- reply{result: results[i]}
	}
}

func (c *Coordinator) notifyUpdatedNetwork() {
	if c.OnUpdatedNetwork == nil {
		return
	}
	now := time.Now().UnixNano()
	last := c.lastNetworkNotify.Load()
	if last != 0 && time.Duration(now-last) < networkUpdateNotifyInterval {
		return
	}
	if !c.lastNetworkNotify.CompareAndSwap(last, now) {
		return
	}
	log.Info().Msg("evaluator reported a new network; flushing prediction cache")
	c.OnUpdatedNetwork()
}

// WarmUpPredictions pays the evaluator's JIT/device-setup latency before a
// search begins by calling it once for a full batch and once for a
// single-row batch, the two shapes search actually exercises.
func (c *Coordinator) WarmUpPredictions(ctx context.Context) error {
	return c.Driver.Evaluator.WarmUp(ctx, []int{1, c.PredictionBatchSize})
}
