package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/voyagen/ptepg/internal/models"
)

const (
	channelsTable = "channels"
	programsTable = "programs"

	idIndex           = "id"
	meoIDIndex        = "meo_id"
	meoProgramIDIndex = "meo_program_id"
)

// Memory implements Store on go-memdb. Rows live only as long as the process; it backs
// dry runs and tests. Write transactions are serialized by memdb.
type Memory struct {
	db *memdb.MemDB

	// guarded by memdb's writer lock
	nextChannelID int64
	nextProgramID int64
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() (*Memory, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("memdb: %w", err)
	}
	return &Memory{db: db}, nil
}

func memorySchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			channelsTable: {
				Name: channelsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:    {Name: idIndex, Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					meoIDIndex: {Name: meoIDIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "MeoID"}},
				},
			},
			programsTable: {
				Name: programsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex:           {Name: idIndex, Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					meoProgramIDIndex: {Name: meoProgramIDIndex, Unique: true, Indexer: &memdb.StringFieldIndex{Field: "MeoProgramID"}},
				},
			},
		},
	}
}

// Close is a no-op.
func (m *Memory) Close() {}

// Upsert writes the catalog inside one memdb write transaction.
func (m *Memory) Upsert(ctx context.Context, channels []models.Channel) (UpsertStats, error) {
	return m.upsertWith(ctx, channels, nil)
}

func (m *Memory) upsertWith(ctx context.Context, channels []models.Channel, wrap func(catalogTx) catalogTx) (UpsertStats, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	var tx catalogTx = &memTx{m: m, txn: txn}
	if wrap != nil {
		tx = wrap(tx)
	}
	stats, err := upsertCatalog(ctx, tx, channels)
	if err != nil {
		return UpsertStats{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := ctx.Err(); err != nil {
		return UpsertStats{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	txn.Commit()
	return stats, nil
}

// Counts returns stored channel and program row counts.
func (m *Memory) Counts(_ context.Context) (int64, int64, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	channels, err := count(txn, channelsTable)
	if err != nil {
		return 0, 0, err
	}
	programs, err := count(txn, programsTable)
	if err != nil {
		return 0, 0, err
	}
	return channels, programs, nil
}

// ChannelByMeoID returns the stored channel (without programs) or nil.
func (m *Memory) ChannelByMeoID(meoID string) (*models.Channel, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(channelsTable, meoIDIndex, meoID)
	if err != nil || raw == nil {
		return nil, err
	}
	ch := *raw.(*models.Channel)
	return &ch, nil
}

// ProgramByMeoID returns the stored program or nil.
func (m *Memory) ProgramByMeoID(meoProgramID string) (*models.Program, error) {
	txn := m.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(programsTable, meoProgramIDIndex, meoProgramID)
	if err != nil || raw == nil {
		return nil, err
	}
	p := *raw.(*models.Program)
	return &p, nil
}

func count(txn *memdb.Txn, table string) (int64, error) {
	it, err := txn.Get(table, idIndex)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	var n int64
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

type memTx struct {
	m   *Memory
	txn *memdb.Txn
}

func (t *memTx) channelIDByMeoID(_ context.Context, meoID string) (int64, bool, error) {
	raw, err := t.txn.First(channelsTable, meoIDIndex, meoID)
	if err != nil {
		return 0, false, fmt.Errorf("select channel %s: %w", meoID, err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return raw.(*models.Channel).ID, true, nil
}

func (t *memTx) insertChannel(_ context.Context, ch *models.Channel) (int64, error) {
	t.m.nextChannelID++
	id := t.m.nextChannelID
	if err := t.txn.Insert(channelsTable, channelRow(id, ch)); err != nil {
		return 0, fmt.Errorf("insert channel %s: %w", ch.MeoID, err)
	}
	return id, nil
}

func (t *memTx) updateChannel(_ context.Context, id int64, ch *models.Channel) error {
	if err := t.txn.Insert(channelsTable, channelRow(id, ch)); err != nil {
		return fmt.Errorf("update channel %s: %w", ch.MeoID, err)
	}
	return nil
}

func (t *memTx) programIDsByMeoIDs(_ context.Context, meoIDs []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(meoIDs))
	for _, meoID := range meoIDs {
		raw, err := t.txn.First(programsTable, meoProgramIDIndex, meoID)
		if err != nil {
			return nil, fmt.Errorf("select program %s: %w", meoID, err)
		}
		if raw != nil {
			ids[meoID] = raw.(*models.Program).ID
		}
	}
	return ids, nil
}

func (t *memTx) insertProgram(_ context.Context, p *models.Program) (int64, error) {
	t.m.nextProgramID++
	id := t.m.nextProgramID
	row := *p
	row.ID = id
	if err := t.txn.Insert(programsTable, &row); err != nil {
		return 0, fmt.Errorf("insert program %s: %w", p.MeoProgramID, err)
	}
	return id, nil
}

func (t *memTx) updateProgram(_ context.Context, id int64, p *models.Program) error {
	row := *p
	row.ID = id
	if err := t.txn.Insert(programsTable, &row); err != nil {
		return fmt.Errorf("update program %s: %w", p.MeoProgramID, err)
	}
	return nil
}

func channelRow(id int64, ch *models.Channel) *models.Channel {
	row := ch.WithoutPrograms()
	row.ID = id
	row.ExternalID = ""
	return &row
}
