package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voyagen/ptepg/internal/cache"
	"github.com/voyagen/ptepg/internal/fetcher"
	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/metrics"
	"github.com/voyagen/ptepg/internal/models"
	"github.com/voyagen/ptepg/internal/store"
)

var (
	// ErrNoChannels aborts a run when the roster comes back empty. Nothing is persisted.
	ErrNoChannels = errors.New("no channels fetched")
	// ErrRunInProgress is returned when another run holds the run lock.
	ErrRunInProgress = errors.New("ingestion run already in progress")
)

// MaxWindowDays is the longest guide window a run may request.
const MaxWindowDays = 14

// Fetcher is the upstream side of a run.
type Fetcher interface {
	FetchChannels(ctx context.Context) []models.Channel
	FetchBatch(ctx context.Context, channels []models.Channel, start, end time.Time) fetcher.BatchResult
}

// CallCounter reports the total number of outbound calls made so far.
type CallCounter interface {
	Calls() int64
}

// Locker grants run-level exclusion. TryLock returns cache.ErrLocked when held elsewhere.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), err error)
}

// Options tunes an Ingester. Zero values use defaults.
type Options struct {
	DefaultWindowDays int
	BatchConcurrency  int
	Locker            Locker
	// OnReport is called with every report a run produces, including failed runs.
	OnReport func(*Report)
	Now      func() time.Time
}

// Ingester runs the channel → batch → detail → persist pipeline.
type Ingester struct {
	fetch Fetcher
	store store.Store
	calls CallCounter
	opts  Options

	mu   sync.RWMutex
	last *Report
}

// NewIngester wires a pipeline. calls is normally the shared rate limiter.
func NewIngester(f Fetcher, s store.Store, calls CallCounter, opts Options) *Ingester {
	if opts.DefaultWindowDays <= 0 {
		opts.DefaultWindowDays = 1
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 4
	}
	if opts.Locker == nil {
		opts.Locker = &localLocker{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ingester{fetch: f, store: s, calls: calls, opts: opts}
}

// Run performs one ingestion cycle over windowDays days starting today 00:00 UTC.
// windowDays <= 0 uses the configured default. Upstream failures below the channel
// roster degrade to partial data; an empty roster aborts with ErrNoChannels and a
// persistence failure is returned wrapped in store.ErrPersistence.
func (in *Ingester) Run(ctx context.Context, windowDays int) (*Report, error) {
	unlock, err := in.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return in.run(ctx, windowDays)
}

// Start takes the run lock, then runs in the background and returns at once.
// It returns ErrRunInProgress when any other run, scheduled or triggered, holds the lock.
func (in *Ingester) Start(ctx context.Context, windowDays int) error {
	unlock, err := in.lock(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer unlock()
		if _, err := in.run(ctx, windowDays); err != nil {
			logging.Warn().Err(err).Msg("background run failed")
		}
	}()
	return nil
}

func (in *Ingester) lock(ctx context.Context) (func(), error) {
	unlock, err := in.opts.Locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			metrics.Runs.WithLabelValues(ResultSkipped).Inc()
			return nil, ErrRunInProgress
		}
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	return unlock, nil
}

func (in *Ingester) run(ctx context.Context, windowDays int) (*Report, error) {
	if windowDays <= 0 {
		windowDays = in.opts.DefaultWindowDays
	}
	startedAt := in.opts.Now()
	report := &Report{ID: uuid.New(), StartedAt: startedAt, WindowDays: windowDays}
	callsBefore := in.calls.Calls()
	log := logging.With().Str("run_id", report.ID.String()).Logger()
	log.Info().Int("window_days", windowDays).Msg("ingestion run started")

	finish := func(result string, err error) (*Report, error) {
		report.Result = result
		if err != nil {
			report.Error = err.Error()
		}
		report.FinishedAt = in.opts.Now()
		report.Duration = report.FinishedAt.Sub(startedAt)
		report.OutboundCalls = in.calls.Calls() - callsBefore
		in.record(report)

		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("result", result).Dur("duration", report.Duration).Int64("outbound_calls", report.OutboundCalls).
			Int("channels", report.Channels).Int("programs", report.Programs).Int("failed_details", report.FailedDetails).
			Msg("ingestion run finished")
		return report, err
	}

	channels := in.fetch.FetchChannels(ctx)
	if len(channels) == 0 {
		return finish(ResultNoChannels, ErrNoChannels)
	}
	report.Channels = len(channels)
	report.WindowStart, report.WindowEnd = Window(startedAt, windowDays)

	batches := Partition(channels, fetcher.MaxBatchChannels)
	results := make([]fetcher.BatchResult, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.BatchConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = in.fetch.FetchBatch(gctx, batch, report.WindowStart, report.WindowEnd)
			log.Debug().Int("batch", i+1).Int("of", len(batches)).Msg("batch done")
			return nil
		})
	}
	_ = g.Wait()

	merged := Merge(channels, results)
	for _, ch := range merged {
		report.Programs += len(ch.Programs)
	}
	for _, r := range results {
		report.FailedDetails += len(r.Failed)
	}

	if err := ctx.Err(); err != nil {
		return finish(ResultCancelled, fmt.Errorf("run cancelled before persisting: %w", err))
	}
	stats, err := in.store.Upsert(ctx, merged)
	if err != nil {
		return finish(ResultPersistenceFailed, err)
	}
	report.Stats = stats
	return finish(ResultOK, nil)
}

// LastReport returns the most recent report, or nil before the first run.
func (in *Ingester) LastReport() *Report {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.last
}

func (in *Ingester) record(r *Report) {
	in.mu.Lock()
	in.last = r
	in.mu.Unlock()

	metrics.Runs.WithLabelValues(r.Result).Inc()
	metrics.RunOutboundCalls.Set(float64(r.OutboundCalls))
	metrics.ProgramsFailed.Add(float64(r.FailedDetails))
	if r.Result == ResultOK {
		metrics.RunDuration.Observe(r.Duration.Seconds())
		metrics.RowsUpserted.WithLabelValues("channels", "inserted").Add(float64(r.Stats.ChannelsInserted))
		metrics.RowsUpserted.WithLabelValues("channels", "updated").Add(float64(r.Stats.ChannelsUpdated))
		metrics.RowsUpserted.WithLabelValues("programs", "inserted").Add(float64(r.Stats.ProgramsInserted))
		metrics.RowsUpserted.WithLabelValues("programs", "updated").Add(float64(r.Stats.ProgramsUpdated))
	}
	if in.opts.OnReport != nil {
		in.opts.OnReport(r)
	}
}

// Window returns [today 00:00 UTC, today 00:00 UTC + days).
func Window(now time.Time, days int) (time.Time, time.Time) {
	y, m, d := now.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, days)
}

// Partition splits channels into consecutive batches of at most size, keeping order.
func Partition(channels []models.Channel, size int) [][]models.Channel {
	if size <= 0 {
		size = fetcher.MaxBatchChannels
	}
	batches := make([][]models.Channel, 0, (len(channels)+size-1)/size)
	for i := 0; i < len(channels); i += size {
		end := min(i+size, len(channels))
		batches = append(batches, channels[i:end])
	}
	return batches
}

// Merge puts batch output back into the order of channels, matching by meo_id.
// A channel missing from every batch result is kept with no programs.
func Merge(channels []models.Channel, results []fetcher.BatchResult) []models.Channel {
	byMeoID := make(map[string]models.Channel, len(channels))
	for _, r := range results {
		for _, ch := range r.Channels {
			byMeoID[ch.MeoID] = ch
		}
	}
	merged := make([]models.Channel, len(channels))
	for i, ch := range channels {
		if got, ok := byMeoID[ch.MeoID]; ok {
			merged[i] = got
			continue
		}
		merged[i] = ch.WithoutPrograms()
	}
	return merged
}

// localLocker is the in-process run lock used when no distributed lock is configured.
type localLocker struct {
	mu sync.Mutex
}

func (l *localLocker) TryLock(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, cache.ErrLocked
	}
	return l.mu.Unlock, nil
}
