package lots

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/domain"
)

// setupLedgerDB creates an in-memory SQLite database with the ledger tables
func setupLedgerDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE holding_lots (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			security_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			acquired_at INTEGER,
			cost_basis_per_unit TEXT NOT NULL,
			original_quantity TEXT NOT NULL,
			current_quantity TEXT NOT NULL,
			is_closed INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			activity_id TEXT,
			version INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	_, err = db.Exec(`
		CREATE TABLE lot_disposals (
			id TEXT PRIMARY KEY,
			lot_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			security_id TEXT NOT NULL,
			disposed_at INTEGER,
			quantity TEXT NOT NULL,
			proceeds_per_unit TEXT NOT NULL,
			source TEXT NOT NULL,
			activity_id TEXT,
			disposal_group_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func repoTestLot(id string, current string) domain.Lot {
	return domain.Lot{
		ID:               id,
		AccountID:        "acc-1",
		SecurityID:       "sec-1",
		Symbol:           "AAPL",
		CostBasisPerUnit: decimal.NewFromInt(100),
		OriginalQuantity: decimal.NewFromInt(10),
		CurrentQuantity:  decimal.RequireFromString(current),
		IsClosed:         decimal.RequireFromString(current).IsZero(),
		Source:           domain.SourceManual,
	}
}

func TestLotRepository_CreateAndGet(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	acquired := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := repoTestLot("lot-1", "10")
	lot.AcquiredAt = &acquired

	require.NoError(t, repo.Create(lot))

	got, err := repo.Get("lot-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "acc-1", got.AccountID)
	assert.Equal(t, "sec-1", got.SecurityID)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, got.CostBasisPerUnit.Equal(decimal.NewFromInt(100)))
	assert.True(t, got.OriginalQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.CurrentQuantity.Equal(decimal.NewFromInt(10)))
	assert.False(t, got.IsClosed)
	assert.Equal(t, domain.SourceManual, got.Source)
	require.NotNil(t, got.AcquiredAt)
	assert.True(t, got.AcquiredAt.Equal(acquired))
	assert.Equal(t, int64(0), got.Version)
}

func TestLotRepository_GetMissing(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	got, err := repo.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLotRepository_CreateValidates(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	bad := repoTestLot("lot-1", "10")
	bad.OriginalQuantity = decimal.Zero
	bad.CurrentQuantity = decimal.Zero
	bad.IsClosed = true

	err := repo.Create(bad)
	assert.Error(t, err, "zero original quantity must be rejected before insertion")
}

func TestLotRepository_UpdateVersioned(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	require.NoError(t, repo.Create(repoTestLot("lot-1", "10")))

	got, err := repo.Get("lot-1")
	require.NoError(t, err)

	next, err := got.ApplyDisposal(decimal.NewFromInt(4))
	require.NoError(t, err)

	updated, err := repo.UpdateVersioned(db, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	persisted, err := repo.Get("lot-1")
	require.NoError(t, err)
	assert.True(t, persisted.CurrentQuantity.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, int64(1), persisted.Version)
}

func TestLotRepository_UpdateVersioned_StaleVersionConflicts(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	require.NoError(t, repo.Create(repoTestLot("lot-1", "10")))

	// Two readers load the same version
	first, err := repo.Get("lot-1")
	require.NoError(t, err)
	second, err := repo.Get("lot-1")
	require.NoError(t, err)

	firstNext, err := first.ApplyDisposal(decimal.NewFromInt(2))
	require.NoError(t, err)
	_, err = repo.UpdateVersioned(db, firstNext)
	require.NoError(t, err)

	// The second write is now stale and must be rejected, not applied
	secondNext, err := second.ApplyDisposal(decimal.NewFromInt(3))
	require.NoError(t, err)
	_, err = repo.UpdateVersioned(db, secondNext)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	persisted, err := repo.Get("lot-1")
	require.NoError(t, err)
	assert.True(t, persisted.CurrentQuantity.Equal(decimal.NewFromInt(8)),
		"stale write must not overwrite the newer state")
}

func TestLotRepository_ListOrdering(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	newest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	oldest := time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC)

	withDate := func(id string, at *time.Time) domain.Lot {
		lot := repoTestLot(id, "10")
		lot.AcquiredAt = at
		return lot
	}

	require.NoError(t, repo.Create(withDate("lot-new", &newest)))
	require.NoError(t, repo.Create(withDate("lot-undated", nil)))
	require.NoError(t, repo.Create(withDate("lot-old", &oldest)))

	lots, err := repo.ListForSecurity("acc-1", "sec-1", true)
	require.NoError(t, err)
	require.Len(t, lots, 3)

	// Undated lots first, then oldest acquisition first
	assert.Equal(t, "lot-undated", lots[0].ID)
	assert.Equal(t, "lot-old", lots[1].ID)
	assert.Equal(t, "lot-new", lots[2].ID)
}

func TestLotRepository_ListExcludesClosed(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewLotRepository(db, log)

	open := repoTestLot("lot-open", "10")
	closed := repoTestLot("lot-closed", "0")

	require.NoError(t, repo.Create(open))
	require.NoError(t, repo.Create(closed))

	lots, err := repo.ListForAccount("acc-1", false)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "lot-open", lots[0].ID)

	all, err := repo.ListForAccount("acc-1", true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDisposalRepository_CreateAndQuery(t *testing.T) {
	db := setupLedgerDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	lotRepo := NewLotRepository(db, log)
	dispRepo := NewDisposalRepository(db, log)

	require.NoError(t, lotRepo.Create(repoTestLot("lot-1", "6")))

	d := domain.Disposal{
		ID:              "disp-1",
		LotID:           "lot-1",
		AccountID:       "acc-1",
		SecurityID:      "sec-1",
		Quantity:        decimal.NewFromInt(4),
		ProceedsPerUnit: decimal.NewFromInt(150),
		Source:          domain.SourceActivity,
		ActivityID:      "act-1",
		GroupID:         "grp-1",
	}
	require.NoError(t, dispRepo.CreateTx(db, d))

	byGroup, err := dispRepo.GetByGroup("acc-1", "grp-1")
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "lot-1", byGroup[0].LotID)
	assert.True(t, byGroup[0].Quantity.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, "act-1", byGroup[0].ActivityID)

	// Group lookup is scoped to the account
	other, err := dispRepo.GetByGroup("acc-2", "grp-1")
	require.NoError(t, err)
	assert.Empty(t, other)

	forLot, err := dispRepo.ListForLot("lot-1")
	require.NoError(t, err)
	assert.Len(t, forLot, 1)

	require.NoError(t, dispRepo.DeleteByGroupTx(db, "acc-1", "grp-1"))
	byGroup, err = dispRepo.GetByGroup("acc-1", "grp-1")
	require.NoError(t, err)
	assert.Empty(t, byGroup)
}
