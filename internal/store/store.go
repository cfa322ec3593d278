package store

import (
	"context"
	"errors"

	"github.com/voyagen/ptepg/internal/models"
)

// ErrPersistence wraps every failure of an Upsert. The whole call has been rolled back.
var ErrPersistence = errors.New("persistence failure")

// Store persists the channel/program catalog.
type Store interface {
	// Upsert writes channels and their programs in one transaction, matching rows by
	// meo_id and meo_program_id. Nothing is ever deleted.
	Upsert(ctx context.Context, channels []models.Channel) (UpsertStats, error)
	// Counts returns the number of stored channel and program rows.
	Counts(ctx context.Context) (channels, programs int64, err error)
	Close()
}

// UpsertStats summarizes one Upsert.
type UpsertStats struct {
	ChannelsInserted int `json:"channels_inserted"`
	ChannelsUpdated  int `json:"channels_updated"`
	ProgramsInserted int `json:"programs_inserted"`
	ProgramsUpdated  int `json:"programs_updated"`
}

// catalogTx is the set of row operations one backend transaction must provide.
type catalogTx interface {
	channelIDByMeoID(ctx context.Context, meoID string) (id int64, found bool, err error)
	insertChannel(ctx context.Context, ch *models.Channel) (int64, error)
	updateChannel(ctx context.Context, id int64, ch *models.Channel) error
	programIDsByMeoIDs(ctx context.Context, meoIDs []string) (map[string]int64, error)
	insertProgram(ctx context.Context, p *models.Program) (int64, error)
	updateProgram(ctx context.Context, id int64, p *models.Program) error
}

// upsertCatalog runs the update-or-insert pass for channels, then for programs.
// Programs are looked up across the whole call, so an id reported under several
// channels is written once per appearance against one row; the last channel wins.
func upsertCatalog(ctx context.Context, tx catalogTx, channels []models.Channel) (UpsertStats, error) {
	var stats UpsertStats
	channelIDs := make([]int64, len(channels))
	for i := range channels {
		ch := &channels[i]
		id, found, err := tx.channelIDByMeoID(ctx, ch.MeoID)
		if err != nil {
			return stats, err
		}
		if found {
			if err := tx.updateChannel(ctx, id, ch); err != nil {
				return stats, err
			}
			stats.ChannelsUpdated++
		} else {
			if id, err = tx.insertChannel(ctx, ch); err != nil {
				return stats, err
			}
			stats.ChannelsInserted++
		}
		channelIDs[i] = id
	}

	var meoIDs []string
	seen := make(map[string]bool)
	for _, ch := range channels {
		for _, p := range ch.Programs {
			if !seen[p.MeoProgramID] {
				seen[p.MeoProgramID] = true
				meoIDs = append(meoIDs, p.MeoProgramID)
			}
		}
	}
	if len(meoIDs) == 0 {
		return stats, nil
	}
	existing, err := tx.programIDsByMeoIDs(ctx, meoIDs)
	if err != nil {
		return stats, err
	}

	for i, ch := range channels {
		for _, p := range ch.Programs {
			p.ChannelID = channelIDs[i]
			if id, ok := existing[p.MeoProgramID]; ok {
				if err := tx.updateProgram(ctx, id, &p); err != nil {
					return stats, err
				}
				stats.ProgramsUpdated++
				continue
			}
			id, err := tx.insertProgram(ctx, &p)
			if err != nil {
				return stats, err
			}
			existing[p.MeoProgramID] = id
			stats.ProgramsInserted++
		}
	}
	return stats, nil
}
