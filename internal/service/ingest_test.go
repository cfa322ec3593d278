package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/ptepg/internal/cache"
	"github.com/voyagen/ptepg/internal/fetcher"
	"github.com/voyagen/ptepg/internal/models"
	"github.com/voyagen/ptepg/internal/store"
)

type stubFetcher struct {
	channels []models.Channel
	block    chan struct{}
	entered  chan struct{}
	once     sync.Once

	mu         sync.Mutex
	batchSizes []int
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
}

func (f *stubFetcher) FetchChannels(context.Context) []models.Channel {
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.block != nil {
		<-f.block
	}
	return f.channels
}

func (f *stubFetcher) FetchBatch(_ context.Context, channels []models.Channel, start, end time.Time) fetcher.BatchResult {
	n := f.inFlight.Add(1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(channels))
	f.mu.Unlock()
	time.Sleep(10 * time.Millisecond)

	out := make([]models.Channel, len(channels))
	for i, ch := range channels {
		out[i] = ch.WithoutPrograms()
		out[i].Programs = []models.Program{{
			MeoProgramID:  "prog-" + ch.MeoID,
			StartDateTime: start,
			EndDateTime:   start.Add(time.Hour),
		}}
	}
	// Reverse to make sure callers do not rely on position.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return fetcher.BatchResult{Channels: out, Failed: []models.DetailResult{models.Failed("x-"+channels[0].MeoID, fetcher.ErrUpstreamRejected)}}
}

type countingCalls struct{ n atomic.Int64 }

func (c *countingCalls) Calls() int64 { return c.n.Load() }

type failingStore struct {
	calls int
}

func (s *failingStore) Upsert(context.Context, []models.Channel) (store.UpsertStats, error) {
	s.calls++
	return store.UpsertStats{}, fmt.Errorf("%w: connection reset", store.ErrPersistence)
}
func (s *failingStore) Counts(context.Context) (int64, int64, error) { return 0, 0, nil }
func (s *failingStore) Close()                                       {}

func makeChannels(n int) []models.Channel {
	channels := make([]models.Channel, n)
	for i := range channels {
		channels[i] = models.Channel{MeoID: fmt.Sprintf("CH%03d", i), Name: fmt.Sprintf("Channel %d", i), Position: -1}
	}
	return channels
}

func TestPartition(t *testing.T) {
	channels := makeChannels(65)
	batches := Partition(channels, 30)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 30)
	assert.Len(t, batches[1], 30)
	assert.Len(t, batches[2], 5)

	seen := map[string]int{}
	var flat []string
	for _, b := range batches {
		for _, ch := range b {
			seen[ch.MeoID]++
			flat = append(flat, ch.MeoID)
		}
	}
	assert.Len(t, seen, 65)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
	for i, ch := range channels {
		assert.Equal(t, ch.MeoID, flat[i])
	}

	assert.Empty(t, Partition(nil, 30))
	assert.Len(t, Partition(makeChannels(30), 30), 1)
}

func TestWindow(t *testing.T) {
	lisbon := time.FixedZone("WEST", 3600)
	now := time.Date(2025, 7, 1, 0, 30, 0, 0, lisbon) // 23:30 UTC the day before
	start, end := Window(now, 3)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), end)
}

func TestMergeRestoresOrder(t *testing.T) {
	channels := makeChannels(4)
	results := []fetcher.BatchResult{
		{Channels: []models.Channel{
			{MeoID: "CH003", Programs: []models.Program{{MeoProgramID: "c"}}},
			{MeoID: "CH002"},
		}},
		{Channels: []models.Channel{{MeoID: "CH000", Programs: []models.Program{{MeoProgramID: "a"}}}}},
	}
	merged := Merge(channels, results)
	require.Len(t, merged, 4)
	for i := range channels {
		assert.Equal(t, channels[i].MeoID, merged[i].MeoID)
	}
	assert.Len(t, merged[0].Programs, 1)
	assert.Empty(t, merged[1].Programs, "missing from results")
	assert.Len(t, merged[3].Programs, 1)
}

func TestRunProcessesAllBatches(t *testing.T) {
	f := &stubFetcher{channels: makeChannels(65)}
	mem, err := store.NewMemory()
	require.NoError(t, err)
	var reported []*Report
	in := NewIngester(f, mem, &countingCalls{}, Options{
		BatchConcurrency: 2,
		OnReport:         func(r *Report) { reported = append(reported, r) },
	})

	report, err := in.Run(context.Background(), 0)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{30, 30, 5}, f.batchSizes)
	assert.LessOrEqual(t, f.maxFlight.Load(), int32(2))
	assert.Equal(t, ResultOK, report.Result)
	assert.Equal(t, 1, report.WindowDays)
	assert.Equal(t, 65, report.Channels)
	assert.Equal(t, 65, report.Programs)
	assert.Equal(t, 3, report.FailedDetails)
	assert.Equal(t, 65, report.Stats.ChannelsInserted)
	assert.Equal(t, report.WindowStart.AddDate(0, 0, 1), report.WindowEnd)
	assert.Same(t, report, in.LastReport())
	require.Len(t, reported, 1)

	channels, programs, err := mem.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 65, channels)
	assert.EqualValues(t, 65, programs)

	// Programs stay with their own channel despite reversed batch output.
	p, err := mem.ProgramByMeoID("prog-CH042")
	require.NoError(t, err)
	ch, err := mem.ChannelByMeoID("CH042")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, p.ChannelID)
}

func TestRunAbortsWithoutChannels(t *testing.T) {
	f := &stubFetcher{}
	s := &failingStore{}
	in := NewIngester(f, s, &countingCalls{}, Options{})

	report, err := in.Run(context.Background(), 2)
	require.ErrorIs(t, err, ErrNoChannels)
	assert.Equal(t, ResultNoChannels, report.Result)
	assert.Zero(t, s.calls, "nothing may be persisted")
	assert.Empty(t, f.batchSizes)
}

func TestRunSurfacesPersistenceFailure(t *testing.T) {
	f := &stubFetcher{channels: makeChannels(3)}
	in := NewIngester(f, &failingStore{}, &countingCalls{}, Options{})

	report, err := in.Run(context.Background(), 1)
	require.ErrorIs(t, err, store.ErrPersistence)
	assert.Equal(t, ResultPersistenceFailed, report.Result)
	assert.Contains(t, report.Error, "connection reset")
}

func TestRunSkipsWhenAlreadyRunning(t *testing.T) {
	f := &stubFetcher{channels: makeChannels(1), block: make(chan struct{}), entered: make(chan struct{})}
	mem, err := store.NewMemory()
	require.NoError(t, err)
	in := NewIngester(f, mem, &countingCalls{}, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := in.Run(context.Background(), 1)
		done <- err
	}()

	<-f.entered
	_, err = in.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, in.Start(context.Background(), 1), ErrRunInProgress)

	close(f.block)
	require.NoError(t, <-done)

	// The lock is released afterwards.
	_, err = in.Run(context.Background(), 1)
	assert.NoError(t, err)
}

func TestRunUsesDistributedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	rds, err := cache.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rds.Close() })

	unlock, err := cache.TryLock(context.Background(), rds, cache.RunLockKey, time.Minute)
	require.NoError(t, err)

	f := &stubFetcher{channels: makeChannels(1)}
	mem, err := store.NewMemory()
	require.NoError(t, err)
	in := NewIngester(f, mem, &countingCalls{}, Options{Locker: cache.NewLocker(rds, cache.RunLockKey, time.Minute)})

	_, err = in.Run(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRunInProgress)

	unlock()
	_, err = in.Run(context.Background(), 1)
	assert.NoError(t, err)
}

func TestRunCancelledBeforePersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &failingStore{}
	in := NewIngester(&stubFetcher{channels: makeChannels(2)}, s, &countingCalls{}, Options{})

	report, err := in.Run(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ResultCancelled, report.Result)
	assert.Zero(t, s.calls)
}
