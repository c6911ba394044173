package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// jobRequestTimeout bounds how long PublishGameRequest waits for a single
// worker's reply before treating the job as failed, the same request/reply
// shape the teacher's bot.Client.RequestMove uses against its own NATS
// subject (bot/client.go), generalized from "one move" to "one game."
const jobRequestTimeout = 10 * time.Minute

// gameJob is the wire message a Queue publishes to ask a worker to play one
// game; it carries nothing beyond a job id since Driver already knows how
// to construct a fresh starting position.
type gameJob struct {
	JobID int `json:"job_id"`
}

type gameJobResult struct {
	JobID int        `json:"job_id"`
	Game  GameRecord `json:"game,omitempty"`
	Err   string     `json:"err,omitempty"`
}

// Queue distributes self-play game generation across worker processes over
// NATS request/reply, the distributed game-generation job queue
// SPEC_FULL.md's domain stack lists for the self-play driver. A single
// process can be both a Queue's publisher (RunJobs) and one of its workers
// (ServeWorker); the self-play driver itself is oblivious to whether its
// games were generated in-process (GenerateGames) or dispatched over the
// queue.
type Queue struct {
	nc      *nats.Conn
	subject string
}

// NewQueue connects to a NATS server and binds to subject, the channel
// workers subscribe to and publishers request against.
func NewQueue(serverURL, subject string) (*Queue, error) {
	nc, err := nats.Connect(serverURL)
	if err != nil {
		return nil, fmt.Errorf("selfplay: connect nats %s: %w", serverURL, err)
	}
	return &Queue{nc: nc, subject: subject}, nil
}

// Close drains and closes the underlying NATS connection.
func (q *Queue) Close() {
	q.nc.Close()
}

// RunJobs dispatches numGames job requests one at a time to whichever
// worker in the subject's queue group picks them up next, and returns every
// completed GameRecord in job order. A worker's error for one job doesn't
// abort the rest; that job's slot is left as the zero GameRecord and
// logged.
func (q *Queue) RunJobs(ctx context.Context, numGames int) ([]GameRecord, error) {
	records := make([]GameRecord, numGames)
	for i := 0; i < numGames; i++ {
		job := gameJob{JobID: i}
		payload, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("selfplay: marshal job %d: %w", i, err)
		}

		jobCtx, cancel := context.WithTimeout(ctx, jobRequestTimeout)
		msg, err := q.nc.RequestWithContext(jobCtx, q.subject, payload)
		cancel()
		if err != nil {
			log.Warn().Int("job", i).Err(err).Msg("selfplay-queue-job-failed")
			continue
		}
		var result gameJobResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			log.Warn().Int("job", i).Err(err).Msg("selfplay-queue-job-unmarshal-failed")
			continue
		}
		if result.Err != "" {
			log.Warn().Int("job", i).Str("err", result.Err).Msg("selfplay-queue-job-worker-error")
			continue
		}
		records[i] = result.Game
	}
	return records, nil
}

// ServeWorker subscribes to the subject as a member of a shared queue group
// (so every job is delivered to exactly one of however many ServeWorker
// calls are running across however many processes), plays each job's game
// with driver, and replies with the result. It runs until ctx is cancelled.
func ServeWorker(ctx context.Context, q *Queue, driver *Driver) error {
	sub, err := q.nc.QueueSubscribeSync(q.subject, "selfplay-workers")
	if err != nil {
		return fmt.Errorf("selfplay: queue subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("selfplay: next job: %w", err)
		}

		var job gameJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			log.Warn().Err(err).Msg("selfplay-worker-bad-job")
			continue
		}

		result := gameJobResult{JobID: job.JobID}
		game, err := driver.PlayGame(ctx)
		if err != nil {
			result.Err = err.Error()
		} else {
			result.Game = game
		}

		payload, err := json.Marshal(result)
		if err != nil {
			log.Warn().Err(err).Msg("selfplay-worker-marshal-result")
			continue
		}
		if err := msg.Respond(payload); err != nil {
			log.Warn().Err(err).Msg("selfplay-worker-respond")
		}
	}
}
