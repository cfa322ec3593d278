package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagen/ptepg/internal/models"
)

// backend is a Store the catalog tests can inspect and inject failures into.
type backend interface {
	Store
	upsertWith(ctx context.Context, channels []models.Channel, wrap func(catalogTx) catalogTx) (UpsertStats, error)
	ChannelByMeoID(meoID string) (*models.Channel, error)
	ProgramByMeoID(meoProgramID string) (*models.Program, error)
}

// failingTx fails every write of one program id.
type failingTx struct {
	catalogTx
	programID string
}

func (f failingTx) insertProgram(ctx context.Context, p *models.Program) (int64, error) {
	if p.MeoProgramID == f.programID {
		return 0, fmt.Errorf("insert program %s: injected failure", p.MeoProgramID)
	}
	return f.catalogTx.insertProgram(ctx, p)
}

func (f failingTx) updateProgram(ctx context.Context, id int64, p *models.Program) error {
	if p.MeoProgramID == f.programID {
		return fmt.Errorf("update program %s: injected failure", p.MeoProgramID)
	}
	return f.catalogTx.updateProgram(ctx, id, p)
}

func failOnProgram(programID string) func(catalogTx) catalogTx {
	return func(tx catalogTx) catalogTx { return failingTx{catalogTx: tx, programID: programID} }
}

// runCatalogTests checks the upsert properties every backend must share.
func runCatalogTests(t *testing.T, newBackend func(*testing.T) backend) {
	tests := map[string]func(*testing.T, func(*testing.T) backend){
		"InsertsThenUpdates":         testUpsertInsertsThenUpdates,
		"UpdatesInPlace":             testUpsertUpdatesInPlace,
		"DeduplicatesAcrossChannels": testUpsertDeduplicatesAcrossChannels,
		"MovesProgramToNewChannel":   testUpsertMovesProgramToNewChannel,
		"RollsBackOnFailure":         testUpsertRollsBackOnFailure,
		"ChannelsWithoutPrograms":    testUpsertChannelsWithoutPrograms,
		"HonoursCancelledContext":    testUpsertHonoursCancelledContext,
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) { tt(t, newBackend) })
	}
}

func sampleCatalog() []models.Channel {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.Channel{
		{
			MeoID: "RTP1", Name: "RTP 1", Position: 1,
			Programs: []models.Program{
				{MeoProgramID: "p1", Name: "News", StartDateTime: day.Add(20 * time.Hour), EndDateTime: day.Add(21 * time.Hour)},
				{MeoProgramID: "p2", Name: "Film", StartDateTime: day.Add(21 * time.Hour), EndDateTime: day.Add(23 * time.Hour)},
			},
		},
		{
			MeoID: "SIC", Name: "SIC", Position: -1,
			Programs: []models.Program{
				{MeoProgramID: "p3", Name: "Late", StartDateTime: day.Add(23*time.Hour + 30*time.Minute), EndDateTime: day.Add(24*time.Hour + 30*time.Minute)},
			},
		},
	}
}

func requireCounts(t *testing.T, s Store, channels, programs int64) {
	t.Helper()
	c, p, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, channels, c, "channels")
	assert.Equal(t, programs, p, "programs")
}

func testUpsertInsertsThenUpdates(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	ctx := context.Background()

	stats, err := m.Upsert(ctx, sampleCatalog())
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{ChannelsInserted: 2, ProgramsInserted: 3}, stats)
	requireCounts(t, m, 2, 3)

	stats, err = m.Upsert(ctx, sampleCatalog())
	require.NoError(t, err)
	assert.Equal(t, UpsertStats{ChannelsUpdated: 2, ProgramsUpdated: 3}, stats)
	requireCounts(t, m, 2, 3)
}

func testUpsertUpdatesInPlace(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	ctx := context.Background()
	_, err := m.Upsert(ctx, sampleCatalog())
	require.NoError(t, err)
	before, err := m.ProgramByMeoID("p3")
	require.NoError(t, err)

	changed := sampleCatalog()
	changed[1].Name = "SIC HD"
	changed[1].Programs[0].Name = "Late Night"
	_, err = m.Upsert(ctx, changed)
	require.NoError(t, err)

	after, err := m.ProgramByMeoID("p3")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Late Night", after.Name)
	ch, err := m.ChannelByMeoID("SIC")
	require.NoError(t, err)
	assert.Equal(t, "SIC HD", ch.Name)
	requireCounts(t, m, 2, 3)
}

func testUpsertDeduplicatesAcrossChannels(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	catalog := sampleCatalog()
	shared := catalog[0].Programs[0]
	shared.Name = "News (simulcast)"
	catalog[1].Programs = append(catalog[1].Programs, shared)

	stats, err := m.Upsert(context.Background(), catalog)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ProgramsInserted)
	assert.Equal(t, 1, stats.ProgramsUpdated)
	requireCounts(t, m, 2, 3)

	p, err := m.ProgramByMeoID("p1")
	require.NoError(t, err)
	sic, err := m.ChannelByMeoID("SIC")
	require.NoError(t, err)
	assert.Equal(t, sic.ID, p.ChannelID, "last channel reporting the program owns it")
	assert.Equal(t, "News (simulcast)", p.Name)
}

func testUpsertMovesProgramToNewChannel(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	ctx := context.Background()
	_, err := m.Upsert(ctx, sampleCatalog())
	require.NoError(t, err)

	moved := []models.Channel{{MeoID: "TVI", Name: "TVI", Programs: []models.Program{sampleCatalog()[0].Programs[0]}}}
	stats, err := m.Upsert(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ChannelsInserted)
	assert.Equal(t, 1, stats.ProgramsUpdated)

	tvi, err := m.ChannelByMeoID("TVI")
	require.NoError(t, err)
	p, err := m.ProgramByMeoID("p1")
	require.NoError(t, err)
	assert.Equal(t, tvi.ID, p.ChannelID)
	requireCounts(t, m, 3, 3)
}

func testUpsertRollsBackOnFailure(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	ctx := context.Background()
	_, err := m.Upsert(ctx, sampleCatalog()[:1])
	require.NoError(t, err)

	changed := sampleCatalog()
	changed[0].Name = "renamed"
	_, err = m.upsertWith(ctx, changed, failOnProgram("p3"))
	require.ErrorIs(t, err, ErrPersistence)

	requireCounts(t, m, 1, 2)
	ch, err := m.ChannelByMeoID("RTP1")
	require.NoError(t, err)
	assert.Equal(t, "RTP 1", ch.Name, "update before the failure must be rolled back")
	sic, err := m.ChannelByMeoID("SIC")
	require.NoError(t, err)
	assert.Nil(t, sic)
}

func testUpsertChannelsWithoutPrograms(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	stats, err := m.Upsert(context.Background(), []models.Channel{{MeoID: "RTP1"}, {MeoID: "SIC"}})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChannelsInserted)
	requireCounts(t, m, 2, 0)
}

func testUpsertHonoursCancelledContext(t *testing.T, newBackend func(*testing.T) backend) {
	m := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Upsert(ctx, sampleCatalog())
	require.ErrorIs(t, err, ErrPersistence)
	requireCounts(t, m, 0, 0)
}
