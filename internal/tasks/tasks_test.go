package tasks

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	id          int
	trimCalls   int32
	sweepCalls  int32
	optimize    int32
	empty       bool
	pruneNotify chan int
}

func (f *fakeDB) ID() int      { return f.id }
func (f *fakeDB) IsEmpty() bool { return f.empty }
func (f *fakeDB) TrimBatch(cursor uint64, batchSize int) (int, int, uint64) {
	atomic.AddInt32(&f.trimCalls, 1)
	return batchSize, 0, cursor + uint64(batchSize)
}
func (f *fakeDB) SweepStale(cursor string, batchSize int) (string, bool) {
	atomic.AddInt32(&f.sweepCalls, 1)
	return "", true
}
func (f *fakeDB) Optimize(cursor string, batchSize int) (string, bool) {
	atomic.AddInt32(&f.optimize, 1)
	return "", true
}

type fakeRegistry struct {
	mu   sync.Mutex
	dbs  []Database
	prune []int
}

func (r *fakeRegistry) Databases() []Database {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Database, len(r.dbs))
	copy(out, r.dbs)
	return out
}

func (r *fakeRegistry) PruneEmpty(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune = append(r.prune, id)
}

func TestTicksPerIntervalCoarsening(t *testing.T) {
	assert.Equal(t, uint64(1), ticksPerInterval(time.Second, 500*time.Millisecond))
	assert.Equal(t, uint64(5), ticksPerInterval(time.Second, 5*time.Second))
	assert.Equal(t, uint64(0), ticksPerInterval(time.Second, 0))
}

func TestDispatcherRunsDueHandlersOnly(t *testing.T) {
	db := &fakeDB{id: 1}
	reg := &fakeRegistry{dbs: []Database{db}}

	d, err := New(reg, Intervals{
		Tick:          time.Millisecond,
		Trim:          2 * time.Millisecond,
		StaleIDSweep:  0, // disabled
		BitmapOptim:   0,
		DBPrune:       0,
		TrimBatch:     10,
		SweepBatch:    10,
		OptimizeBatch: 10,
	})
	require.NoError(t, err)

	// Drive ticks directly rather than depending on wall-clock scheduling.
	d.tick()
	d.tick()
	d.tick()

	time.Sleep(20 * time.Millisecond) // let the fire-and-forget goroutines land

	assert.GreaterOrEqual(t, atomic.LoadInt32(&db.trimCalls), int32(1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&db.sweepCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&db.optimize))
}

func TestDispatcherPrunesEmptyDatabases(t *testing.T) {
	db := &fakeDB{id: 7, empty: true}
	reg := &fakeRegistry{dbs: []Database{db}}

	d, err := New(reg, Intervals{
		Tick:    time.Millisecond,
		DBPrune: time.Millisecond,
	})
	require.NoError(t, err)

	d.tick()
	time.Sleep(10 * time.Millisecond)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	require.Len(t, reg.prune, 1)
	assert.Equal(t, 7, reg.prune[0])
}
