package universe

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupUniverseDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE securities (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'EUR',
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func TestSecurityRepository_CreateAndResolve(t *testing.T) {
	db := setupUniverseDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewSecurityRepository(db, log)

	created, err := repo.Create(Security{Symbol: "aapl ", Name: "Apple Inc.", Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "AAPL", created.Symbol, "symbol is normalized to upper case")

	id, err := repo.ResolveSymbol("AAPL")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	// Lookup is case-insensitive on input
	id, err = repo.ResolveSymbol(" aapl")
	require.NoError(t, err)
	assert.Equal(t, created.ID, id)

	symbol, err := repo.SymbolByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", symbol)
}

func TestSecurityRepository_UnknownLookups(t *testing.T) {
	db := setupUniverseDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewSecurityRepository(db, log)

	id, err := repo.ResolveSymbol("MISSING")
	require.NoError(t, err)
	assert.Empty(t, id)

	sec, err := repo.GetByID("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, sec)

	symbol, err := repo.SymbolByID("no-such-id")
	require.NoError(t, err)
	assert.Empty(t, symbol)
}

func TestSecurityRepository_GetAllActive(t *testing.T) {
	db := setupUniverseDB(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewSecurityRepository(db, log)

	_, err := repo.Create(Security{Symbol: "MSFT", Active: true})
	require.NoError(t, err)
	_, err = repo.Create(Security{Symbol: "AAPL", Active: true})
	require.NoError(t, err)
	_, err = repo.Create(Security{Symbol: "DEAD", Active: false})
	require.NoError(t, err)

	active, err := repo.GetAllActive()
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "AAPL", active[0].Symbol, "ordered by symbol")
	assert.Equal(t, "MSFT", active[1].Symbol)
}
