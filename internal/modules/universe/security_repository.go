package universe

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SecurityRepository handles security database operations.
type SecurityRepository struct {
	universeDB *sql.DB // universe.db - securities table
	log        zerolog.Logger
}

// securitiesColumns is the list of columns for the securities table.
// Used to avoid SELECT * which can break when the schema changes.
const securitiesColumns = `id, symbol, name, currency, active`

// NewSecurityRepository creates a new security repository.
func NewSecurityRepository(universeDB *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		universeDB: universeDB,
		log:        log.With().Str("repo", "security").Logger(),
	}
}

// GetBySymbol returns a security by ticker symbol, or nil when unknown.
func (r *SecurityRepository) GetBySymbol(symbol string) (*Security, error) {
	query := "SELECT " + securitiesColumns + " FROM securities WHERE symbol = ?"

	rows, err := r.universeDB.Query(query, strings.ToUpper(strings.TrimSpace(symbol)))
	if err != nil {
		return nil, fmt.Errorf("failed to query security by symbol: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil // Security not found
	}

	security, err := scanSecurity(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security: %w", err)
	}

	return &security, nil
}

// GetByID returns a security by its id, or nil when unknown.
func (r *SecurityRepository) GetByID(id string) (*Security, error) {
	query := "SELECT " + securitiesColumns + " FROM securities WHERE id = ?"

	rows, err := r.universeDB.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query security by id: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, nil
	}

	security, err := scanSecurity(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security: %w", err)
	}

	return &security, nil
}

// GetAllActive returns all active securities ordered by symbol.
func (r *SecurityRepository) GetAllActive() ([]Security, error) {
	query := "SELECT " + securitiesColumns + " FROM securities WHERE active = 1 ORDER BY symbol"

	rows, err := r.universeDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		security, err := scanSecurity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security: %w", err)
		}
		securities = append(securities, security)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating securities: %w", err)
	}

	return securities, nil
}

// Create inserts a new security. The symbol is normalized to upper case and
// an id is assigned when the caller did not provide one.
func (r *SecurityRepository) Create(security Security) (Security, error) {
	security.Symbol = strings.ToUpper(strings.TrimSpace(security.Symbol))
	if security.Symbol == "" {
		return Security{}, fmt.Errorf("symbol is required")
	}
	if security.ID == "" {
		security.ID = uuid.NewString()
	}
	if security.Currency == "" {
		security.Currency = "EUR"
	}

	query := `
		INSERT INTO securities (id, symbol, name, currency, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	active := 0
	if security.Active {
		active = 1
	}

	_, err := r.universeDB.Exec(query,
		security.ID,
		security.Symbol,
		security.Name,
		security.Currency,
		active,
		time.Now().Unix(),
	)
	if err != nil {
		return Security{}, fmt.Errorf("failed to create security: %w", err)
	}

	r.log.Info().Str("id", security.ID).Str("symbol", security.Symbol).Msg("Security created")
	return security, nil
}

// ResolveSymbol maps a ticker symbol to its security id.
// Returns an empty id when the ticker is unknown.
func (r *SecurityRepository) ResolveSymbol(symbol string) (string, error) {
	security, err := r.GetBySymbol(symbol)
	if err != nil {
		return "", err
	}
	if security == nil {
		return "", nil
	}
	return security.ID, nil
}

// SymbolByID maps a security id back to its ticker symbol.
// Returns an empty symbol when the id is unknown.
func (r *SecurityRepository) SymbolByID(id string) (string, error) {
	security, err := r.GetByID(id)
	if err != nil {
		return "", err
	}
	if security == nil {
		return "", nil
	}
	return security.Symbol, nil
}

// scanSecurity scans a database row into a Security struct.
func scanSecurity(rows *sql.Rows) (Security, error) {
	var sec Security
	var name, currency sql.NullString
	var active int

	err := rows.Scan(&sec.ID, &sec.Symbol, &name, &currency, &active)
	if err != nil {
		return sec, err
	}

	if name.Valid {
		sec.Name = name.String
	}
	if currency.Valid {
		sec.Currency = currency.String
	}
	sec.Active = active != 0
	sec.Symbol = strings.ToUpper(strings.TrimSpace(sec.Symbol))

	return sec, nil
}
