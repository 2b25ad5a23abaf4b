// Package lots implements the lot ledger: tax-lot cost basis tracking,
// disposal recording, disposal-group reassignment and gain/loss aggregation.
package lots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// dbtx is the subset of database operations shared by *sql.DB and *sql.Tx.
// Repository helpers take it so the same query code serves both the plain
// read paths and the transactional multi-row operations.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// lotColumns is the list of columns for the holding_lots table.
// Used to avoid SELECT * which can break when the schema changes.
// Column order must match scanLot().
const lotColumns = `id, account_id, security_id, symbol, acquired_at, cost_basis_per_unit,
original_quantity, current_quantity, is_closed, source, activity_id, version, created_at, updated_at`

// LotRepository handles holding-lot database operations against ledger.db.
type LotRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewLotRepository creates a new lot repository.
func NewLotRepository(ledgerDB *sql.DB, log zerolog.Logger) *LotRepository {
	return &LotRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "lot").Logger(),
	}
}

// Create inserts a new lot record.
func (r *LotRepository) Create(lot domain.Lot) error {
	return r.CreateTx(r.ledgerDB, lot)
}

// CreateTx inserts a new lot record using the given transaction (or connection).
func (r *LotRepository) CreateTx(tx dbtx, lot domain.Lot) error {
	if err := lot.Validate(); err != nil {
		return fmt.Errorf("failed to create lot: %w", err)
	}

	now := time.Now().Unix()

	query := `
		INSERT INTO holding_lots
		(id, account_id, security_id, symbol, acquired_at, cost_basis_per_unit,
		 original_quantity, current_quantity, is_closed, source, activity_id,
		 version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		lot.ID,
		lot.AccountID,
		lot.SecurityID,
		lot.Symbol,
		nullUnix(lot.AcquiredAt),
		lot.CostBasisPerUnit.String(),
		lot.OriginalQuantity.String(),
		lot.CurrentQuantity.String(),
		boolToInt(lot.IsClosed),
		string(lot.Source),
		nullString(lot.ActivityID),
		lot.Version,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lot: %w", err)
	}

	r.log.Debug().Str("lot_id", lot.ID).Str("symbol", lot.Symbol).Msg("Lot created")
	return nil
}

// Get returns a lot by id, or nil when it does not exist.
func (r *LotRepository) Get(id string) (*domain.Lot, error) {
	return r.GetTx(r.ledgerDB, id)
}

// GetTx returns a lot by id using the given transaction (or connection).
func (r *LotRepository) GetTx(tx dbtx, id string) (*domain.Lot, error) {
	query := "SELECT " + lotColumns + " FROM holding_lots WHERE id = ?"

	rows, err := tx.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query lot: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Lot not found
	}

	lot, err := scanLot(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan lot: %w", err)
	}

	return &lot, nil
}

// ListForAccount returns all lots for an account, oldest acquisition first.
// Lots without an acquisition date sort before dated ones.
func (r *LotRepository) ListForAccount(accountID string, includeClosed bool) ([]domain.Lot, error) {
	query := "SELECT " + lotColumns + " FROM holding_lots WHERE account_id = ?"
	if !includeClosed {
		query += " AND is_closed = 0"
	}
	query += " ORDER BY acquired_at ASC, created_at ASC"

	return r.list(r.ledgerDB, query, accountID)
}

// ListForSecurity returns the lots for one security within an account,
// oldest acquisition first.
func (r *LotRepository) ListForSecurity(accountID, securityID string, includeClosed bool) ([]domain.Lot, error) {
	return r.ListForSecurityTx(r.ledgerDB, accountID, securityID, includeClosed)
}

// ListForSecurityTx is ListForSecurity within a transaction.
func (r *LotRepository) ListForSecurityTx(tx dbtx, accountID, securityID string, includeClosed bool) ([]domain.Lot, error) {
	query := "SELECT " + lotColumns + " FROM holding_lots WHERE account_id = ? AND security_id = ?"
	if !includeClosed {
		query += " AND is_closed = 0"
	}
	query += " ORDER BY acquired_at ASC, created_at ASC"

	return r.list(tx, query, accountID, securityID)
}

func (r *LotRepository) list(tx dbtx, query string, args ...interface{}) ([]domain.Lot, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []domain.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lots: %w", err)
	}

	return lots, nil
}

// UpdateVersioned writes the lot's mutable fields back with an optimistic
// version check. When another writer has committed a newer version since
// this lot was read, no row matches and domain.ErrConflict is returned;
// callers retry the whole operation.
func (r *LotRepository) UpdateVersioned(tx dbtx, lot domain.Lot) (domain.Lot, error) {
	if err := lot.Validate(); err != nil {
		return domain.Lot{}, fmt.Errorf("failed to update lot: %w", err)
	}

	query := `
		UPDATE holding_lots
		SET acquired_at = ?,
		    cost_basis_per_unit = ?,
		    original_quantity = ?,
		    current_quantity = ?,
		    is_closed = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := tx.Exec(query,
		nullUnix(lot.AcquiredAt),
		lot.CostBasisPerUnit.String(),
		lot.OriginalQuantity.String(),
		lot.CurrentQuantity.String(),
		boolToInt(lot.IsClosed),
		time.Now().Unix(),
		lot.ID,
		lot.Version,
	)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("failed to update lot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Lot{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Lot{}, fmt.Errorf("lot %s changed since read (version %d): %w",
			lot.ID, lot.Version, domain.ErrConflict)
	}

	lot.Version++
	r.log.Debug().Str("lot_id", lot.ID).Int64("version", lot.Version).Msg("Lot updated")
	return lot, nil
}

// DeleteTx removes a lot row. Its disposals are removed by the caller
// (or by the foreign-key cascade).
func (r *LotRepository) DeleteTx(tx dbtx, id string) error {
	result, err := tx.Exec("DELETE FROM holding_lots WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete lot: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.log.Info().Str("lot_id", id).Int64("rows_affected", rowsAffected).Msg("Lot deleted")
	return nil
}

// scanLot scans a database row into a domain.Lot.
// Column order must match lotColumns.
func scanLot(rows *sql.Rows) (domain.Lot, error) {
	var lot domain.Lot
	var acquiredAt sql.NullInt64
	var costBasis, original, current string
	var isClosed int
	var source string
	var activityID sql.NullString
	var createdAt, updatedAt int64

	err := rows.Scan(
		&lot.ID,
		&lot.AccountID,
		&lot.SecurityID,
		&lot.Symbol,
		&acquiredAt,
		&costBasis,
		&original,
		&current,
		&isClosed,
		&source,
		&activityID,
		&lot.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return lot, err
	}

	if lot.CostBasisPerUnit, err = decimal.NewFromString(costBasis); err != nil {
		return lot, fmt.Errorf("bad cost_basis_per_unit %q: %w", costBasis, err)
	}
	if lot.OriginalQuantity, err = decimal.NewFromString(original); err != nil {
		return lot, fmt.Errorf("bad original_quantity %q: %w", original, err)
	}
	if lot.CurrentQuantity, err = decimal.NewFromString(current); err != nil {
		return lot, fmt.Errorf("bad current_quantity %q: %w", current, err)
	}

	lot.IsClosed = isClosed != 0
	lot.Source = domain.LotSource(source)
	if activityID.Valid {
		lot.ActivityID = activityID.String
	}
	if acquiredAt.Valid {
		t := time.Unix(acquiredAt.Int64, 0).UTC()
		lot.AcquiredAt = &t
	}
	lot.CreatedAt = time.Unix(createdAt, 0).UTC()
	lot.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return lot, nil
}

// Helper functions for nullable types

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
