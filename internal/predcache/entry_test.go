package predcache

import (
	"testing"

	"github.com/matryer/is"
)

func TestValidateRejectsZeroOrNegativeMoveCount(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	is.True(!e.validate(0))
	is.True(!e.validate(-1))
}

func TestValidateRejectsMoveCountAtOrAboveMax(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	is.True(!e.validate(MaxMoveCount))
}

func TestValidateAcceptsExactGuardSum(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	e.Priors[0] = 30000
	e.Priors[1] = 30000
	e.Priors[2] = uint16(int(GuardQuantum) - 60000)
	is.True(e.validate(2))
}

func TestValidateAcceptsWithinTolerance(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	e.Priors[0] = 30000
	e.Priors[1] = 30000
	e.Priors[2] = uint16(int(GuardQuantum) - 60000 + GuardTolerance)
	is.True(e.validate(2))
}

func TestValidateRejectsBeyondTolerance(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	e.Priors[0] = 30000
	e.Priors[1] = 30000
	e.Priors[2] = uint16(int(GuardQuantum) - 60000 + GuardTolerance + 1)
	is.True(!e.validate(2))
}

func TestOccupiedIsFalseForZeroKey(t *testing.T) {
	is := is.New(t)
	e := &Entry{}
	is.True(!e.occupied())
	e.Key = 1
	is.True(e.occupied())
}

func TestChunkFindReturnsMinusOneWhenAbsent(t *testing.T) {
	is := is.New(t)
	var c chunk
	is.Equal(c.find(42), -1)
	c.entries[3].Key = 42
	is.Equal(c.find(42), 3)
}

func TestChunkOldestIndexPicksHighestAge(t *testing.T) {
	is := is.New(t)
	var c chunk
	for i := range c.entries {
		c.entries[i].Key = uint64(i + 1)
		c.entries[i].Age = int32(i)
	}
	idx, occupied := c.oldestIndex()
	is.Equal(idx, entriesPerChunk-1)
	is.True(occupied)
}
