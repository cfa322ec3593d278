package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voyagen/ptepg/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Upsert writes the catalog inside a single transaction. Any error rolls back everything.
func (p *Postgres) Upsert(ctx context.Context, channels []models.Channel) (UpsertStats, error) {
	return p.upsertWith(ctx, channels, nil)
}

// upsertWith lets tests decorate the row operations of the transaction.
func (p *Postgres) upsertWith(ctx context.Context, channels []models.Channel, wrap func(catalogTx) catalogTx) (UpsertStats, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return UpsertStats{}, fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after Commit

	var rows catalogTx = pgTx{tx}
	if wrap != nil {
		rows = wrap(rows)
	}
	stats, err := upsertCatalog(ctx, rows, channels)
	if err != nil {
		return UpsertStats{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return UpsertStats{}, fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return stats, nil
}

// Counts returns stored channel and program row counts.
func (p *Postgres) Counts(ctx context.Context) (int64, int64, error) {
	var channels, programs int64
	err := p.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM channels), (SELECT count(*) FROM programs)`,
	).Scan(&channels, &programs)
	if err != nil {
		return 0, 0, fmt.Errorf("Counts: %w", err)
	}
	return channels, programs, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t pgTx) channelIDByMeoID(ctx context.Context, meoID string) (int64, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM channels WHERE meo_id = $1`, meoID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select channel %s: %w", meoID, err)
	}
	return id, true, nil
}

func (t pgTx) insertChannel(ctx context.Context, ch *models.Channel) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO channels (meo_id, name, description, logo, theme, language, region, position, is_adult)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		ch.MeoID, ch.Name, ch.Description, ch.Logo, ch.Theme, ch.Language, ch.Region, ch.Position, ch.IsAdult,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert channel %s: %w", ch.MeoID, err)
	}
	return id, nil
}

func (t pgTx) updateChannel(ctx context.Context, id int64, ch *models.Channel) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE channels SET name = $2, description = $3, logo = $4, theme = $5, language = $6,
		   region = $7, position = $8, is_adult = $9
		 WHERE id = $1`,
		id, ch.Name, ch.Description, ch.Logo, ch.Theme, ch.Language, ch.Region, ch.Position, ch.IsAdult,
	)
	if err != nil {
		return fmt.Errorf("update channel %s: %w", ch.MeoID, err)
	}
	return nil
}

func (t pgTx) programIDsByMeoIDs(ctx context.Context, meoIDs []string) (map[string]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT meo_program_id, id FROM programs WHERE meo_program_id = ANY($1)`, meoIDs)
	if err != nil {
		return nil, fmt.Errorf("select programs: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]int64, len(meoIDs))
	for rows.Next() {
		var meoID string
		var id int64
		if err := rows.Scan(&meoID, &id); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		ids[meoID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select programs: %w", err)
	}
	return ids, nil
}

func (t pgTx) insertProgram(ctx context.Context, p *models.Program) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO programs (meo_program_id, start_date_time, end_date_time, name, description,
		   img_m, img_l, img_xl, series_id, channel_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		p.MeoProgramID, p.StartDateTime, p.EndDateTime, p.Name, p.Description,
		p.ImgM, p.ImgL, p.ImgXL, p.SeriesID, p.ChannelID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert program %s: %w", p.MeoProgramID, err)
	}
	return id, nil
}

func (t pgTx) updateProgram(ctx context.Context, id int64, p *models.Program) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE programs SET start_date_time = $2, end_date_time = $3, name = $4, description = $5,
		   img_m = $6, img_l = $7, img_xl = $8, series_id = $9, channel_id = $10
		 WHERE id = $1`,
		id, p.StartDateTime, p.EndDateTime, p.Name, p.Description,
		p.ImgM, p.ImgL, p.ImgXL, p.SeriesID, p.ChannelID,
	)
	if err != nil {
		return fmt.Errorf("update program %s: %w", p.MeoProgramID, err)
	}
	return nil
}
