package fetcher

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/models"
)

// MaxBatchChannels is the most channels the provider accepts in one guide request.
const MaxBatchChannels = 30

const windowLayout = "2006-01-02T15:04:05Z"

// BatchResult holds the batch's channels with programs attached, plus the detail
// fetches that failed. Failed programs are not attached to any channel.
type BatchResult struct {
	Channels []models.Channel
	Failed   []models.DetailResult
}

type programKey struct {
	meoID     string
	programID string
}

// FetchBatch fetches the guide for up to MaxBatchChannels channels over [start, end) and
// the detail of every program it lists. Extra channels are dropped with a warning.
// A failed or malformed guide response returns the channels with no programs.
// The input slice is not modified.
func (c *Client) FetchBatch(ctx context.Context, channels []models.Channel, start, end time.Time) BatchResult {
	if len(channels) > MaxBatchChannels {
		logging.Warn().Int("received", len(channels)).Int("limit", MaxBatchChannels).
			Msg("batch exceeds channel limit; truncating")
		channels = channels[:MaxBatchChannels]
	}
	out := make([]models.Channel, len(channels))
	index := make(map[string]int, len(channels))
	codes := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.WithoutPrograms()
		index[ch.MeoID] = i
		codes[i] = ch.MeoID
	}
	if len(out) == 0 {
		return BatchResult{Channels: out}
	}

	body := programsRequest{
		Service:   "channelsguide",
		Channels:  codes,
		DateStart: start.UTC().Format(windowLayout),
		DateEnd:   end.UTC().Format(windowLayout),
	}
	var resp programsResponse
	err := c.call(ctx, endpointPrograms, http.MethodPost, c.endpoints.Programs, body, &resp, func() bool {
		return resp.D != nil && resp.D.Channels != nil
	})
	if err != nil {
		logging.Warn().Err(err).Int("channels", len(out)).Msg("fetch programs failed; keeping channels without programs")
		return BatchResult{Channels: out}
	}

	// Program ids per channel, in guide order.
	order := make(map[string][]string, len(out))
	for _, gc := range resp.D.Channels {
		if _, ok := index[gc.Sigla]; !ok {
			continue
		}
		for _, p := range gc.Programs {
			if p.UniqueID == "" {
				continue
			}
			order[gc.Sigla] = append(order[gc.Sigla], string(p.UniqueID))
		}
	}

	var (
		mu         sync.Mutex
		results    = make(map[programKey]models.DetailResult)
		dispatched = make(map[programKey]bool)
		g          errgroup.Group
	)
	for meoID, ids := range order {
		for _, id := range ids {
			key := programKey{meoID: meoID, programID: id}
			if dispatched[key] {
				continue
			}
			dispatched[key] = true
			g.Go(func() error {
				r := c.FetchDetail(ctx, id)
				mu.Lock()
				results[key] = r
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()

	var failed []models.DetailResult
	for meoID, ids := range order {
		i := index[meoID]
		attached := make(map[string]bool, len(ids))
		for _, id := range ids {
			if attached[id] {
				continue
			}
			attached[id] = true
			r := results[programKey{meoID: meoID, programID: id}]
			if !r.OK() {
				failed = append(failed, r)
				continue
			}
			out[i].Programs = append(out[i].Programs, *r.Program)
		}
	}
	logging.Debug().Int("channels", len(out)).Int("programs", len(results)).Int("failed", len(failed)).
		Msg("fetched batch")
	return BatchResult{Channels: out, Failed: failed}
}
