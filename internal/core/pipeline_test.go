package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func initialSnapshot(id string, total int) Snapshot {
	return Snapshot{
		UploadID:      id,
		Status:        StatusProcessing,
		TotalRecords:  total,
		FailedRecords: []FailedRecord{},
		Progress:      "0%",
		CreatedAt:     fixedNow,
	}
}

// recordingStore wraps MemoryStore and keeps every snapshot written.
type recordingStore struct {
	*MemoryStore
	mu     sync.Mutex
	writes []Snapshot
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func (r *recordingStore) Put(ctx context.Context, id string, snap Snapshot) error {
	r.mu.Lock()
	r.writes = append(r.writes, snap.Clone())
	r.mu.Unlock()
	return r.MemoryStore.Put(ctx, id, snap)
}

func (r *recordingStore) history() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.writes))
	copy(out, r.writes)
	return out
}

// failingStore fails every Put after the first n.
type failingStore struct {
	*MemoryStore
	allowed int32
}

func (f *failingStore) Put(ctx context.Context, id string, snap Snapshot) error {
	if atomic.AddInt32(&f.allowed, -1) < 0 && !snap.Status.Terminal() {
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Put(ctx, id, snap)
}

// panickingStore panics on every progress write after the initial one.
type panickingStore struct {
	*MemoryStore
}

func (p *panickingStore) Put(ctx context.Context, id string, snap Snapshot) error {
	if snap.Status == StatusProcessing && snap.ProcessedRecords > 0 {
		panic("store exploded")
	}
	return p.MemoryStore.Put(ctx, id, snap)
}

func scenarioA() []Record {
	return []Record{
		{Name: "John", Email: "john@example.com"},
		{Name: "Jane", Email: "jane@example.com"},
		{Name: "Invalid", Email: "invalid-email"},
	}
}

func TestPipeline_MixedBatchTerminalCounts(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	p := NewPipeline(store, FormatValidator{}, NewLimiter(2), fixedClock)

	final, err := p.Run(ctx, initialSnapshot("job-a", 3), scenarioA(), nil)
	require.NoError(t, err)

	// Terminal processedRecords counts successes, not settled records.
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 3, final.TotalRecords)
	assert.Equal(t, 2, final.ProcessedRecords)
	require.Len(t, final.FailedRecords, 1)
	assert.Equal(t, FailedRecord{Name: "Invalid", Email: "invalid-email", Error: ReasonInvalidEmail}, final.FailedRecords[0])
	assert.Equal(t, "100%", final.Progress)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, fixedNow, *final.CompletedAt)

	stored, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, final, stored)
}

func TestPipeline_InFlightSnapshotsCountSettledRecords(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	p := NewPipeline(store, FormatValidator{Delay: time.Millisecond}, NewLimiter(3), fixedClock)

	records := append(scenarioA(), Record{Name: "Bad", Email: "nope"}, Record{Name: "Ok", Email: "ok@example.org"})
	_, err := p.Run(ctx, initialSnapshot("job-b", len(records)), records, nil)
	require.NoError(t, err)

	history := store.history()
	require.Len(t, history, len(records)+1, "one write per settle plus the terminal write")

	prev := 0
	for i, snap := range history[:len(records)] {
		assert.Equal(t, StatusProcessing, snap.Status, "write %d", i)
		assert.Equal(t, prev+1, snap.ProcessedRecords, "writes must be monotonic")
		assert.LessOrEqual(t, snap.ProcessedRecords, snap.TotalRecords)
		assert.LessOrEqual(t, len(snap.FailedRecords), snap.ProcessedRecords)
		assert.Equal(t, FormatProgress(snap.ProcessedRecords, snap.TotalRecords), snap.Progress)
		assert.Nil(t, snap.CompletedAt)
		prev = snap.ProcessedRecords
	}

	last := history[len(history)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 3, last.ProcessedRecords)
	assert.Len(t, last.FailedRecords, 2)
}

func TestPipeline_ValidatorErrorIsRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	validator := ValidatorFunc(func(_ context.Context, rec Record) (Verdict, error) {
		if rec.Name == "Flaky" {
			return Verdict{}, errors.New("upstream timeout")
		}
		if rec.Name == "Boom" {
			panic("validator crashed")
		}
		return Verdict{Valid: true}, nil
	})
	p := NewPipeline(store, validator, NewLimiter(2), fixedClock)

	records := []Record{
		{Name: "Flaky", Email: "flaky@example.com"},
		{Name: "Fine", Email: "fine@example.com"},
		{Name: "Boom", Email: "boom@example.com"},
	}
	final, err := p.Run(ctx, initialSnapshot("job-c", 3), records, nil)
	require.NoError(t, err, "record failures never fail the job")

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 1, final.ProcessedRecords)
	require.Len(t, final.FailedRecords, 2)

	reasons := map[string]string{}
	for _, f := range final.FailedRecords {
		reasons[f.Name] = f.Error
	}
	assert.Equal(t, "upstream timeout", reasons["Flaky"])
	assert.Contains(t, reasons["Boom"], "validator crashed")
}

func TestPipeline_InvalidVerdictWithoutReason(t *testing.T) {
	validator := ValidatorFunc(func(context.Context, Record) (Verdict, error) {
		return Verdict{Valid: false}, nil
	})
	p := NewPipeline(NewMemoryStore(), validator, NewLimiter(1), fixedClock)

	final, err := p.Run(context.Background(), initialSnapshot("job-d", 1), []Record{{Name: "A", Email: "a@b.co"}}, nil)
	require.NoError(t, err)
	require.Len(t, final.FailedRecords, 1)
	assert.Equal(t, ReasonInvalidEmail, final.FailedRecords[0].Error)
	assert.Equal(t, 0, final.ProcessedRecords)
}

func TestPipeline_StoreFaultFailsJob(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore(), allowed: 1}
	p := NewPipeline(store, FormatValidator{}, NewLimiter(1), fixedClock)

	final, err := p.Run(ctx, initialSnapshot("job-e", 3), scenarioA(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "store unavailable")
	assert.Equal(t, 3, final.ProcessedRecords, "failed jobs keep the settled count")
	require.NotNil(t, final.CompletedAt)

	stored, err := store.Get(ctx, "job-e")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestPipeline_UnitPanicFailsJob(t *testing.T) {
	ctx := context.Background()
	store := &panickingStore{MemoryStore: NewMemoryStore()}
	limiter := NewLimiter(2)
	p := NewPipeline(store, FormatValidator{}, limiter, fixedClock)

	final, err := p.Run(ctx, initialSnapshot("job-p", 3), scenarioA(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store exploded")

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Error, "store exploded")
	require.NotNil(t, final.CompletedAt)

	stored, err := store.Get(ctx, "job-p")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)

	// Slots held by the panicking units are released.
	st := limiter.Status()
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, 2, st.Available)
}

func TestPipeline_RespectsConcurrencyLimit(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		var inFlight, maxSeen int32
		validator := ValidatorFunc(func(context.Context, Record) (Verdict, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if cur <= m || atomic.CompareAndSwapInt32(&maxSeen, m, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return Verdict{Valid: true}, nil
		})

		records := make([]Record, 12)
		for i := range records {
			records[i] = Record{Name: "n", Email: "n@example.com"}
		}

		p := NewPipeline(NewMemoryStore(), validator, NewLimiter(n), fixedClock)
		final, err := p.Run(context.Background(), initialSnapshot("job-f", len(records)), records, nil)
		require.NoError(t, err)
		assert.Equal(t, len(records), final.ProcessedRecords)
		assert.LessOrEqual(t, int(maxSeen), n, "limit %d", n)
	}
}

// Scenario D: N=2, five validations of T each take at least ceil(5/2)*T and
// clearly less than 5*T.
func TestPipeline_BoundedNotSerialized(t *testing.T) {
	const T = 40 * time.Millisecond
	records := make([]Record, 5)
	for i := range records {
		records[i] = Record{Name: "n", Email: "n@example.com"}
	}

	p := NewPipeline(NewMemoryStore(), FormatValidator{Delay: T}, NewLimiter(2), fixedClock)

	start := time.Now()
	_, err := p.Run(context.Background(), initialSnapshot("job-g", 5), records, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, elapsed, 3*T)
	assert.Less(t, elapsed, 5*T)
}

func TestFormatProgress(t *testing.T) {
	tests := []struct {
		done, total int
		want        string
	}{
		{0, 3, "0%"},
		{1, 3, "33%"},
		{2, 3, "67%"},
		{3, 3, "100%"},
		{1, 8, "13%"},
		{0, 0, "0%"},
	}
	for _, tt := range tests {
		if got := FormatProgress(tt.done, tt.total); got != tt.want {
			t.Errorf("FormatProgress(%d, %d) = %q, want %q", tt.done, tt.total, got, tt.want)
		}
	}
}
