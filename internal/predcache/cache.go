package predcache

import (
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
)

// ErrAllocationFailed is returned by Allocate when even MinGiB could not be
// carved out. The engine context treats this as a fatal startup error per
// spec §7.
var ErrAllocationFailed = errors.New("predcache: could not allocate minimum requested size")

// ErrInvalidSize is returned for negative or non-power-of-two size requests.
var ErrInvalidSize = errors.New("predcache: size must be a positive power-of-two number of GiB")

const maxTableCount = 256

// table is one shard: a contiguous array of chunks.
type table struct {
	chunks   []chunk
	sizeMask uint64
}

// Cache is the process-wide prediction cache: a map from a 64-bit position
// key to (value, quantized priors), sharded across up to 256 tables of
// 8-way set-associative chunks, lock-free, age-evicted.
type Cache struct {
	tables []table

	hits       atomic.Uint64
	probes     atomic.Uint64
	evictions  atomic.Uint64
	entries    atomic.Uint64
	capacity   uint64
}

// WriteHandle identifies the chunk a failed probe should insert into. It is
// only valid until the next Allocate/Clear.
type WriteHandle struct {
	table int
	chunk uint64
}

// Hit is the successful-probe result.
type Hit struct {
	Value  float32
	Priors []uint16 // length moveCount, dequantization is the caller's concern
}

// Allocate carves the cache into as few tables of as large a size as
// possible, honoring spec §4.2's degrade-and-retry allocation policy:
// halve the table size on failure, and halve the overall request (down to
// minGiB) on repeated failure.
func (c *Cache) Allocate(requestGiB, minGiB int) error {
	if requestGiB <= 0 || minGiB <= 0 || requestGiB&(requestGiB-1) != 0 || minGiB&(minGiB-1) != 0 {
		return ErrInvalidSize
	}
	if minGiB > requestGiB {
		return ErrInvalidSize
	}

	total := memory.TotalMemory()
	log.Info().Int("request-gib", requestGiB).Int("min-gib", minGiB).
		Uint64("system-memory-bytes", total).Msg("predcache-allocate")

	for gib := requestGiB; gib >= minGiB; gib /= 2 {
		budget := uint64(gib) << 30
		tables, ok := c.tryAllocate(budget)
		if ok {
			c.tables = tables
			c.capacity = 0
			for i := range tables {
				c.capacity += uint64(len(tables[i].chunks)) * entriesPerChunk
			}
			c.hits.Store(0)
			c.probes.Store(0)
			c.evictions.Store(0)
			c.entries.Store(0)
			log.Info().Int("allocated-gib", gib).Uint64("entry-capacity", c.capacity).
				Msg("predcache-allocated")
			return nil
		}
		log.Warn().Int("gib", gib).Msg("predcache-allocate-retry")
	}
	return fmt.Errorf("%w: min %d GiB unreachable", ErrAllocationFailed, minGiB)
}

// tryAllocate attempts to build as few tables as large as possible within
// budget bytes, halving the per-table size whenever a single make() attempt
// panics (the closest Go analogue to an allocator failure; real OS-level
// OOM may still be fatal, matching spec §7's framing of exhausted memory as
// an unrecoverable startup condition).
func (c *Cache) tryAllocate(budget uint64) ([]table, bool) {
	numTables := 1
	var maxChunks uint64 // 0 means no cap from an earlier failed attempt
	for {
		tableBytes := budget / uint64(numTables)
		chunksPerTable := tableBytes / chunkSize
		chunksPerTable = prevPowerOfTwo(chunksPerTable)
		if maxChunks > 0 && chunksPerTable > maxChunks {
			chunksPerTable = maxChunks
		}
		if chunksPerTable == 0 {
			if numTables >= maxTableCount {
				return nil, false
			}
			numTables *= 2
			continue
		}

		tables, ok := allocateTables(numTables, chunksPerTable)
		if ok {
			return tables, true
		}
		// Halve the table size and try again with the same table count,
		// unless we're already at the table-count cap.
		if chunksPerTable == 1 {
			if numTables >= maxTableCount {
				return nil, false
			}
			numTables *= 2
			continue
		}
		maxChunks = chunksPerTable / 2
	}
}

func allocateTables(numTables int, chunksPerTable uint64) (tables []table, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("recover", r).Msg("predcache-table-alloc-failed")
			tables, ok = nil, false
		}
	}()
	tables = make([]table, numTables)
	for i := range tables {
		tables[i] = table{
			chunks:   make([]chunk, chunksPerTable),
			sizeMask: chunksPerTable - 1,
		}
	}
	return tables, true
}

func prevPowerOfTwo(x uint64) uint64 {
	if x == 0 {
		return 0
	}
	return uint64(1) << (bits.Len64(x) - 1)
}

// Free drops all table allocations.
func (c *Cache) Free() {
	c.tables = nil
	c.capacity = 0
}

// Clear resets every entry's key to zero (treated as empty) without
// releasing memory, and resets probe metrics.
func (c *Cache) Clear() {
	for ti := range c.tables {
		for ci := range c.tables[ti].chunks {
			ch := &c.tables[ti].chunks[ci]
			for ei := range ch.entries {
				ch.entries[ei] = Entry{}
			}
		}
	}
	c.hits.Store(0)
	c.probes.Store(0)
	c.evictions.Store(0)
	c.entries.Store(0)
}

// tableIndex XOR-folds the top 16 bits of key down to 8 bits.
func tableIndex(key uint64, numTables int) int {
	top16 := uint16(key >> 48)
	folded := uint8(top16>>8) ^ uint8(top16)
	return int(folded) % numTables
}

// chunkIndex XOR-folds the bottom 48 bits of key down to 20 bits, mixed
// through xxhash first so the fold sees a well-avalanched input instead of
// raw Zobrist bit patterns (mirrors the teacher's use of cespare/xxhash as
// a fast general-purpose mixer elsewhere in the corpus).
func chunkIndex(key uint64, mask uint64) uint64 {
	bottom48 := key & ((1 << 48) - 1)
	mixed := xxhash.Sum64(uint64ToBytes(bottom48))
	a := mixed & 0xFFFFF
	b := (mixed >> 20) & 0xFFFFF
	c := (mixed >> 40) & 0xFF << 12
	folded := a ^ b ^ c
	return folded & mask
}

func uint64ToBytes(v uint64) []byte {
	return []byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	}
}

// Probe looks up key, validating the prior-sum guard (spec §3.2). On a
// miss, the returned WriteHandle designates the chunk a subsequent Put
// should insert into.
func (c *Cache) Probe(key uint64, moveCount int) (Hit, WriteHandle, bool) {
	c.probes.Add(1)
	if len(c.tables) == 0 {
		return Hit{}, WriteHandle{}, false
	}
	ti := tableIndex(key, len(c.tables))
	t := &c.tables[ti]
	ci := chunkIndex(key, t.sizeMask)
	ch := &t.chunks[ci]
	handle := WriteHandle{table: ti, chunk: ci}

	idx := ch.find(key)
	if idx < 0 {
		return Hit{}, handle, false
	}
	entry := &ch.entries[idx]
	if !entry.validate(moveCount) {
		return Hit{}, handle, false
	}
	entry.Age = minAge
	priors := make([]uint16, moveCount)
	copy(priors, entry.Priors[:moveCount])
	c.hits.Add(1)
	return Hit{Value: entry.Value, Priors: priors}, handle, true
}

const minAge = int32(-1 << 31)

// Put inserts (key, value, priors) into the chunk identified by handle,
// overwriting the oldest entry and writing the guard quantum right after
// the live priors. The guard is the complement of the live priors' sum
// against GuardQuantum, so an uncorrupted entry always sums to ~65535
// across its move_count+1 quanta; a torn write or bucket collision throws
// that sum off and validate() rejects the probe. Per spec §3.2/§4.2.
func (c *Cache) Put(handle WriteHandle, key uint64, value float32, priors []uint16) {
	if handle.table < 0 || handle.table >= len(c.tables) {
		return
	}
	ch := &c.tables[handle.table].chunks[handle.chunk]

	idx := ch.find(key)
	if idx < 0 {
		idx, _ = ch.oldestIndex()
	}
	e := &ch.entries[idx]
	wasOccupied := e.occupied()

	e.Key = key
	e.Value = value
	e.Age = minAge
	moveCount := len(priors)
	if moveCount > MaxMoveCount {
		moveCount = MaxMoveCount
	}
	copy(e.Priors[:moveCount], priors[:moveCount])
	for i := moveCount; i < MaxMoveCount; i++ {
		e.Priors[i] = 0
	}
	if moveCount < MaxMoveCount {
		sum := 0
		for i := 0; i < moveCount; i++ {
			sum += int(priors[i])
		}
		guard := int(GuardQuantum) - sum
		if guard < 0 {
			guard = 0
		} else if guard > int(GuardQuantum) {
			guard = int(GuardQuantum)
		}
		e.Priors[moveCount] = uint16(guard)
	}

	if wasOccupied {
		c.evictions.Add(1)
	} else {
		c.entries.Add(1)
	}
}

// AgeAll increments every occupied entry's age by one. Called periodically
// so relative freshness degrades over time even for chunks that are never
// probed again (mirrors the original's per-probe aging, generalized to a
// background sweep so single-probe latency stays flat).
func (c *Cache) AgeAll() {
	for ti := range c.tables {
		for ci := range c.tables[ti].chunks {
			ch := &c.tables[ti].chunks[ci]
			for ei := range ch.entries {
				if ch.entries[ei].occupied() {
					ch.entries[ei].Age++
				}
			}
		}
	}
}

func (c *Cache) PermilleFull() int {
	if c.capacity == 0 {
		return 0
	}
	return int(c.entries.Load() * 1000 / c.capacity)
}

func (c *Cache) PermilleHits() int {
	p := c.probes.Load()
	if p == 0 {
		return 0
	}
	return int(c.hits.Load() * 1000 / p)
}

func (c *Cache) PermilleEvictions() int {
	p := c.probes.Load()
	if p == 0 {
		return 0
	}
	return int(c.evictions.Load() * 1000 / p)
}

// AgeHistogram counts occupied entries into the given number of equal-width
// buckets spanning the observed age range, for diagnosing
// eviction pressure (the ChessCoach debug GUI's cache telemetry, folded
// into this engine per SPEC_FULL.md's supplemented-features list).
func (c *Cache) AgeHistogram(buckets int) []int {
	hist := make([]int, buckets)
	var minA, maxA int32 = 1<<31 - 1, -1 << 31
	for ti := range c.tables {
		for ci := range c.tables[ti].chunks {
			for ei := range c.tables[ti].chunks[ci].entries {
				e := &c.tables[ti].chunks[ci].entries[ei]
				if !e.occupied() {
					continue
				}
				if e.Age < minA {
					minA = e.Age
				}
				if e.Age > maxA {
					maxA = e.Age
				}
			}
		}
	}
	if maxA <= minA {
		return hist
	}
	span := float64(maxA-minA) + 1
	for ti := range c.tables {
		for ci := range c.tables[ti].chunks {
			for ei := range c.tables[ti].chunks[ci].entries {
				e := &c.tables[ti].chunks[ci].entries[ei]
				if !e.occupied() {
					continue
				}
				b := int(float64(e.Age-minA) / span * float64(buckets))
				if b >= buckets {
					b = buckets - 1
				}
				hist[b]++
			}
		}
	}
	return hist
}
