package lots

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/domain"
)

// disposalColumns is the list of columns for the lot_disposals table.
// Column order must match scanDisposal().
const disposalColumns = `id, lot_id, account_id, security_id, disposed_at, quantity,
proceeds_per_unit, source, activity_id, disposal_group_id, created_at`

// DisposalRepository handles disposal database operations against ledger.db.
// Disposal rows are insert-and-delete only: a disposal is never updated in
// place, correcting one means reassigning its whole group.
type DisposalRepository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewDisposalRepository creates a new disposal repository.
func NewDisposalRepository(ledgerDB *sql.DB, log zerolog.Logger) *DisposalRepository {
	return &DisposalRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "disposal").Logger(),
	}
}

// CreateTx inserts a new disposal row using the given transaction.
func (r *DisposalRepository) CreateTx(tx dbtx, d domain.Disposal) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("failed to create disposal: %w", err)
	}

	query := `
		INSERT INTO lot_disposals
		(id, lot_id, account_id, security_id, disposed_at, quantity,
		 proceeds_per_unit, source, activity_id, disposal_group_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		d.ID,
		d.LotID,
		d.AccountID,
		d.SecurityID,
		nullUnix(d.DisposedAt),
		d.Quantity.String(),
		d.ProceedsPerUnit.String(),
		string(d.Source),
		nullString(d.ActivityID),
		d.GroupID,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert disposal: %w", err)
	}

	r.log.Debug().
		Str("disposal_id", d.ID).
		Str("lot_id", d.LotID).
		Str("group_id", d.GroupID).
		Msg("Disposal created")
	return nil
}

// GetByGroup returns all disposals carrying the given group id for an account.
func (r *DisposalRepository) GetByGroup(accountID, groupID string) ([]domain.Disposal, error) {
	return r.GetByGroupTx(r.ledgerDB, accountID, groupID)
}

// GetByGroupTx is GetByGroup within a transaction.
func (r *DisposalRepository) GetByGroupTx(tx dbtx, accountID, groupID string) ([]domain.Disposal, error) {
	query := "SELECT " + disposalColumns + ` FROM lot_disposals
		WHERE account_id = ? AND disposal_group_id = ?
		ORDER BY created_at ASC, id ASC`

	return r.list(tx, query, accountID, groupID)
}

// ListForLot returns all disposals recorded against one lot.
func (r *DisposalRepository) ListForLot(lotID string) ([]domain.Disposal, error) {
	query := "SELECT " + disposalColumns + ` FROM lot_disposals
		WHERE lot_id = ?
		ORDER BY disposed_at ASC, created_at ASC`

	return r.list(r.ledgerDB, query, lotID)
}

// ListForSecurity returns every disposal ever recorded for a security in an
// account, across open and closed lots.
func (r *DisposalRepository) ListForSecurity(accountID, securityID string) ([]domain.Disposal, error) {
	query := "SELECT " + disposalColumns + ` FROM lot_disposals
		WHERE account_id = ? AND security_id = ?
		ORDER BY disposed_at ASC, created_at ASC`

	return r.list(r.ledgerDB, query, accountID, securityID)
}

// DeleteByGroupTx removes every disposal row under a group id.
func (r *DisposalRepository) DeleteByGroupTx(tx dbtx, accountID, groupID string) error {
	result, err := tx.Exec(
		"DELETE FROM lot_disposals WHERE account_id = ? AND disposal_group_id = ?",
		accountID, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete disposal group: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.log.Debug().Str("group_id", groupID).Int64("rows_affected", rowsAffected).Msg("Disposal group deleted")
	return nil
}

// DeleteForLotTx removes all disposals belonging to a lot (cascade on lot delete).
func (r *DisposalRepository) DeleteForLotTx(tx dbtx, lotID string) error {
	if _, err := tx.Exec("DELETE FROM lot_disposals WHERE lot_id = ?", lotID); err != nil {
		return fmt.Errorf("failed to delete disposals for lot: %w", err)
	}
	return nil
}

func (r *DisposalRepository) list(tx dbtx, query string, args ...interface{}) ([]domain.Disposal, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query disposals: %w", err)
	}
	defer rows.Close()

	var disposals []domain.Disposal
	for rows.Next() {
		d, err := scanDisposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disposal: %w", err)
		}
		disposals = append(disposals, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating disposals: %w", err)
	}

	return disposals, nil
}

// scanDisposal scans a database row into a domain.Disposal.
// Column order must match disposalColumns.
func scanDisposal(rows *sql.Rows) (domain.Disposal, error) {
	var d domain.Disposal
	var disposedAt sql.NullInt64
	var quantity, proceeds string
	var source string
	var activityID sql.NullString
	var createdAt int64

	err := rows.Scan(
		&d.ID,
		&d.LotID,
		&d.AccountID,
		&d.SecurityID,
		&disposedAt,
		&quantity,
		&proceeds,
		&source,
		&activityID,
		&d.GroupID,
		&createdAt,
	)
	if err != nil {
		return d, err
	}

	if d.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return d, fmt.Errorf("bad quantity %q: %w", quantity, err)
	}
	if d.ProceedsPerUnit, err = decimal.NewFromString(proceeds); err != nil {
		return d, fmt.Errorf("bad proceeds_per_unit %q: %w", proceeds, err)
	}

	d.Source = domain.LotSource(source)
	if activityID.Valid {
		d.ActivityID = activityID.String
	}
	if disposedAt.Valid {
		t := time.Unix(disposedAt.Int64, 0).UTC()
		d.DisposedAt = &t
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()

	return d, nil
}
