package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestNilJournalIsNoOp(t *testing.T) {
	is := is.New(t)
	var j *Journal

	id, err := j.StartSession(context.Background(), "startpos", 1)
	is.NoErr(err)
	is.Equal(id, int64(0))

	is.NoErr(j.RecordPVUpdate(context.Background(), id, 10, "e2e4", 0.5, 4))
	is.NoErr(j.EndSession(context.Background(), id, 2, "e2e4", 10, "node_limit"))

	sessions, err := j.ListSessions(context.Background(), 10)
	is.NoErr(err)
	is.Equal(len(sessions), 0)

	is.NoErr(j.Close())
}

func TestOpenSessionLifecycleRoundTrips(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	is.NoErr(err)
	defer j.Close()

	ctx := context.Background()
	sessionID, err := j.StartSession(ctx, "startpos", 100)
	is.NoErr(err)
	is.True(sessionID != 0)

	is.NoErr(j.RecordPVUpdate(ctx, sessionID, 50, "e2e4", 0.55, 20))
	is.NoErr(j.RecordPVUpdate(ctx, sessionID, 100, "d2d4", 0.60, 40))
	is.NoErr(j.EndSession(ctx, sessionID, 200, "d2d4", 100, "node_limit"))

	sessions, err := j.ListSessions(ctx, 10)
	is.NoErr(err)
	is.Equal(len(sessions), 1)
	is.Equal(sessions[0].ID, sessionID)
	is.Equal(sessions[0].RootFEN, "startpos")
	is.Equal(sessions[0].BestMove, "d2d4")
	is.Equal(sessions[0].Iterations, uint64(100))
	is.Equal(sessions[0].StopReason, "node_limit")
}

func TestRecordPVUpdateIsNoOpForUnstartedSession(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	is.NoErr(err)
	defer j.Close()

	is.NoErr(j.RecordPVUpdate(context.Background(), 0, 1, "e2e4", 0.5, 1))
}

func TestListSessionsRespectsLimitAndOrdering(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	is.NoErr(err)
	defer j.Close()

	ctx := context.Background()
	var last int64
	for i := 0; i < 3; i++ {
		id, err := j.StartSession(ctx, "startpos", int64(i))
		is.NoErr(err)
		last = id
	}

	sessions, err := j.ListSessions(ctx, 1)
	is.NoErr(err)
	is.Equal(len(sessions), 1)
	is.Equal(sessions[0].ID, last)
}
