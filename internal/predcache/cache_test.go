package predcache

import (
	"testing"

	"github.com/matryer/is"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c := &Cache{}
	// Small enough to allocate reliably in a test process, large enough for
	// prevPowerOfTwo to land on at least one chunk per table.
	is.New(t).NoErr(c.Allocate(1, 1))
	return c
}

func TestAllocateRejectsNonPowerOfTwoSizes(t *testing.T) {
	is := is.New(t)
	c := &Cache{}
	is.Equal(c.Allocate(3, 1), ErrInvalidSize)
}

func TestAllocateRejectsMinExceedingRequest(t *testing.T) {
	is := is.New(t)
	c := &Cache{}
	is.Equal(c.Allocate(1, 4), ErrInvalidSize)
}

func TestAllocateSucceedsAndReportsCapacity(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	is.True(c.capacity > 0)
	is.True(len(c.tables) > 0)
}

func TestProbeOnEmptyCacheIsAlwaysMiss(t *testing.T) {
	is := is.New(t)
	c := &Cache{}
	_, _, ok := c.Probe(12345, 4)
	is.True(!ok)
}

func TestPutThenProbeRoundTripsRealPriorsSuccessfully(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	priors := []uint16{32768, 32767}
	_, handle, ok := c.Probe(0xABCD, 2)
	is.True(!ok)
	c.Put(handle, 0xABCD, 0.5, priors)

	hit, _, ok := c.Probe(0xABCD, 2)
	is.True(ok)
	is.Equal(hit.Value, float32(0.5))
	is.Equal(hit.Priors[0], priors[0])
	is.Equal(hit.Priors[1], priors[1])
}

func TestPutWritesGuardAsComplementOfLivePriorSum(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	priors := []uint16{20000, 20000, 20000}
	_, handle, _ := c.Probe(0x1111, 3)
	c.Put(handle, 0x1111, 0.1, priors)

	ch := &c.tables[handle.table].chunks[handle.chunk]
	idx := ch.find(0x1111)
	is.True(idx >= 0)
	entry := &ch.entries[idx]
	// live priors sum to 60000; guard should make up the remaining 5535.
	is.Equal(entry.Priors[3], uint16(int(GuardQuantum)-60000))
}

func TestGuardRejectsCorruptedPriorWord(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	priors := []uint16{32768, 32767}
	_, handle, _ := c.Probe(0xBEEF, 2)
	c.Put(handle, 0xBEEF, 0.5, priors)

	ch := &c.tables[handle.table].chunks[handle.chunk]
	idx := ch.find(0xBEEF)
	is.True(idx >= 0)
	// Simulate a torn write / bit flip on one live prior word.
	ch.entries[idx].Priors[0] ^= 0x00FF

	_, _, ok := c.Probe(0xBEEF, 2)
	is.True(!ok)
}

func TestProbeMissReturnsWriteHandleForSubsequentPut(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	_, handle, ok := c.Probe(0x2222, 1)
	is.True(!ok)
	is.True(handle.table >= 0)

	c.Put(handle, 0x2222, 0.75, []uint16{60000})
	hit, _, ok := c.Probe(0x2222, 1)
	is.True(ok)
	is.Equal(hit.Value, float32(0.75))
}

func TestPermilleTelemetryTracksHitsAndProbes(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	_, handle, _ := c.Probe(0x3333, 1)
	c.Put(handle, 0x3333, 0.5, []uint16{60000})

	c.Probe(0x3333, 1) // hit
	c.Probe(0x4444, 1) // miss

	is.True(c.PermilleHits() > 0 && c.PermilleHits() < 1000)
}

func TestPermilleFullIsZeroBeforeAnyPut(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	is.Equal(c.PermilleFull(), 0)
}

func TestClearResetsEntriesAndMetrics(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	_, handle, _ := c.Probe(0x5555, 1)
	c.Put(handle, 0x5555, 0.5, []uint16{60000})
	c.Probe(0x5555, 1)

	c.Clear()
	is.Equal(c.PermilleFull(), 0)
	is.Equal(c.PermilleHits(), 0)
	_, _, ok := c.Probe(0x5555, 1)
	is.True(!ok)
}

func TestAgeHistogramBucketsOccupiedEntriesByAgeSpread(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	_, h1, _ := c.Probe(0x10, 1)
	c.Put(h1, 0x10, 0.5, []uint16{60000})
	for i := 0; i < 5; i++ {
		c.AgeAll()
	}
	_, h2, _ := c.Probe(0x20, 1)
	c.Put(h2, 0x20, 0.5, []uint16{60000})

	hist := c.AgeHistogram(4)
	total := 0
	for _, v := range hist {
		total += v
	}
	is.Equal(total, 2)
}

func TestAgeHistogramEmptyCacheReturnsAllZeroBuckets(t *testing.T) {
	is := is.New(t)
	c := newTestCache(t)
	hist := c.AgeHistogram(4)
	for _, v := range hist {
		is.Equal(v, 0)
	}
}
