package lots

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/lotledger/internal/database"
	"github.com/aristath/lotledger/internal/domain"
	"github.com/aristath/lotledger/internal/utils"
)

// SecurityResolver defines the contract for ticker resolution.
// Defined here to avoid an import dependency on the universe package.
type SecurityResolver interface {
	// ResolveSymbol maps a ticker to a security id; empty when unknown.
	ResolveSymbol(symbol string) (string, error)
	// SymbolByID maps a security id back to its ticker; empty when unknown.
	SymbolByID(id string) (string, error)
}

// LedgerService is the sole writer of lots and disposals. Every mutation of
// current_quantity, is_closed or disposal rows goes through its operations;
// multi-row operations (batch edits, disposal recording, reassignment) run
// inside one transaction with optimistic version checks on every touched lot.
type LedgerService struct {
	ledgerDB   *sql.DB
	lotRepo    *LotRepository
	dispRepo   *DisposalRepository
	securities SecurityResolver
	log        zerolog.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(
	ledgerDB *sql.DB,
	lotRepo *LotRepository,
	dispRepo *DisposalRepository,
	securities SecurityResolver,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		ledgerDB:   ledgerDB,
		lotRepo:    lotRepo,
		dispRepo:   dispRepo,
		securities: securities,
		log:        log.With().Str("service", "ledger").Logger(),
	}
}

// CreateLotParams holds the inputs for a manually entered lot.
type CreateLotParams struct {
	AccountID        string
	Symbol           string
	AcquiredAt       *time.Time
	CostBasisPerUnit decimal.Decimal
	Quantity         decimal.Decimal
}

// CreateLot creates a manual lot. The ticker must resolve to a known
// security: downstream aggregation joins on the security id.
func (s *LedgerService) CreateLot(p CreateLotParams) (domain.Lot, error) {
	return s.createLot(p.AccountID, p.Symbol, p.AcquiredAt, p.CostBasisPerUnit, p.Quantity, domain.SourceManual, "")
}

// RecordActivityLotParams holds the inputs for a lot derived from the
// external transaction feed (a recognized buy).
type RecordActivityLotParams struct {
	AccountID        string
	Symbol           string
	AcquiredAt       *time.Time
	CostBasisPerUnit decimal.Decimal
	Quantity         decimal.Decimal
	ActivityID       string
}

// RecordActivityLot creates an activity-sourced lot. Such lots are immutable:
// they mirror a fact from the feed, and no later edit or delete may touch them.
func (s *LedgerService) RecordActivityLot(p RecordActivityLotParams) (domain.Lot, error) {
	if p.ActivityID == "" {
		return domain.Lot{}, fmt.Errorf("activity lot requires an activity id")
	}
	return s.createLot(p.AccountID, p.Symbol, p.AcquiredAt, p.CostBasisPerUnit, p.Quantity, domain.SourceActivity, p.ActivityID)
}

func (s *LedgerService) createLot(
	accountID, symbol string,
	acquiredAt *time.Time,
	costBasis, quantity decimal.Decimal,
	source domain.LotSource,
	activityID string,
) (domain.Lot, error) {
	securityID, err := s.securities.ResolveSymbol(symbol)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("failed to resolve ticker %q: %w", symbol, err)
	}
	if securityID == "" {
		return domain.Lot{}, fmt.Errorf("ticker %q: %w", symbol, domain.ErrUnknownSecurity)
	}

	lot := domain.Lot{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		SecurityID:       securityID,
		Symbol:           normalizeSymbol(symbol),
		AcquiredAt:       acquiredAt,
		CostBasisPerUnit: costBasis,
		OriginalQuantity: quantity,
		CurrentQuantity:  quantity,
		IsClosed:         false,
		Source:           source,
		ActivityID:       activityID,
	}

	if err := lot.Validate(); err != nil {
		return domain.Lot{}, err
	}
	if err := s.lotRepo.Create(lot); err != nil {
		return domain.Lot{}, err
	}

	s.log.Info().
		Str("lot_id", lot.ID).
		Str("account_id", lot.AccountID).
		Str("symbol", lot.Symbol).
		Str("source", string(lot.Source)).
		Msg("Lot created")
	return lot, nil
}

// UpdateLotParams holds the optional fields of a lot edit. A supplied
// Quantity is the new original quantity; the already disposed amount is
// preserved by recomputing the current quantity.
type UpdateLotParams struct {
	AcquiredAt       *time.Time
	CostBasisPerUnit *decimal.Decimal
	Quantity         *decimal.Decimal
}

// UpdateLot edits a lot's acquisition date, cost basis and/or size.
// Activity-sourced lots are immutable.
func (s *LedgerService) UpdateLot(lotID string, p UpdateLotParams) (domain.Lot, error) {
	var updated domain.Lot

	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		lot, err := s.lotRepo.GetTx(tx, lotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return fmt.Errorf("lot %s: %w", lotID, domain.ErrNotFound)
		}
		if !lot.Source.Editable() {
			return fmt.Errorf("lot %s: %w", lotID, domain.ErrImmutable)
		}

		next := *lot
		if p.AcquiredAt != nil {
			next.AcquiredAt = p.AcquiredAt
		}
		if p.CostBasisPerUnit != nil {
			if p.CostBasisPerUnit.IsNegative() {
				return fmt.Errorf("cost basis must not be negative: %w", domain.ErrInvalidQuantity)
			}
			next.CostBasisPerUnit = *p.CostBasisPerUnit
		}
		if p.Quantity != nil {
			next, err = next.Resize(*p.Quantity)
			if err != nil {
				return err
			}
		}

		updated, err = s.lotRepo.UpdateVersioned(tx, next)
		return err
	})
	if err != nil {
		return domain.Lot{}, err
	}

	s.log.Info().Str("lot_id", lotID).Msg("Lot updated")
	return updated, nil
}

// DeleteLot removes a lot and cascades its disposals.
// Activity-sourced lots are immutable.
func (s *LedgerService) DeleteLot(lotID string) error {
	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		lot, err := s.lotRepo.GetTx(tx, lotID)
		if err != nil {
			return err
		}
		if lot == nil {
			return fmt.Errorf("lot %s: %w", lotID, domain.ErrNotFound)
		}
		if !lot.Source.Editable() {
			return fmt.Errorf("lot %s: %w", lotID, domain.ErrImmutable)
		}

		if err := s.dispRepo.DeleteForLotTx(tx, lotID); err != nil {
			return err
		}
		return s.lotRepo.DeleteTx(tx, lotID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("lot_id", lotID).Msg("Lot deleted")
	return nil
}

// LotsForAccount returns the account's lots, oldest acquisition first.
func (s *LedgerService) LotsForAccount(accountID string, includeClosed bool) ([]domain.Lot, error) {
	return s.lotRepo.ListForAccount(accountID, includeClosed)
}

// LotsForSecurity returns the lots for one security within an account,
// oldest acquisition first.
func (s *LedgerService) LotsForSecurity(accountID, securityID string, includeClosed bool) ([]domain.Lot, error) {
	return s.lotRepo.ListForSecurity(accountID, securityID, includeClosed)
}

// BatchUpdate is one lot edit within an atomic batch.
type BatchUpdate struct {
	LotID string
	UpdateLotParams
}

// BatchCreate is one new lot within an atomic batch. Account, security and
// symbol come from the batch itself.
type BatchCreate struct {
	AcquiredAt       *time.Time
	CostBasisPerUnit decimal.Decimal
	Quantity         decimal.Decimal
}

// ApplyBatch applies every update then every create as a single atomic unit
// and returns the resulting open lots for the security, oldest first. Each
// update must target a lot owned by the given account and security; a batch
// that fails any validation persists nothing. Bulk reconciliation edits an
// entire lot table at once, and a partially applied batch would silently
// break quantity conservation against the holding's true total.
func (s *LedgerService) ApplyBatch(accountID, securityID string, updates []BatchUpdate, creates []BatchCreate) ([]domain.Lot, error) {
	defer utils.OperationTimer("apply_batch", s.log)()

	symbol, err := s.securities.SymbolByID(securityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security %q: %w", securityID, err)
	}
	if symbol == "" {
		return nil, fmt.Errorf("security %q: %w", securityID, domain.ErrUnknownSecurity)
	}

	var result []domain.Lot

	err = database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		for _, u := range updates {
			lot, err := s.lotRepo.GetTx(tx, u.LotID)
			if err != nil {
				return err
			}
			if lot == nil {
				return fmt.Errorf("lot %s: %w", u.LotID, domain.ErrNotFound)
			}
			if lot.AccountID != accountID || lot.SecurityID != securityID {
				return fmt.Errorf("lot %s does not belong to account %s / security %s: %w",
					u.LotID, accountID, securityID, domain.ErrOwnershipMismatch)
			}
			if !lot.Source.Editable() {
				return fmt.Errorf("lot %s: %w", u.LotID, domain.ErrImmutable)
			}

			next := *lot
			if u.AcquiredAt != nil {
				next.AcquiredAt = u.AcquiredAt
			}
			if u.CostBasisPerUnit != nil {
				if u.CostBasisPerUnit.IsNegative() {
					return fmt.Errorf("cost basis must not be negative: %w", domain.ErrInvalidQuantity)
				}
				next.CostBasisPerUnit = *u.CostBasisPerUnit
			}
			if u.Quantity != nil {
				next, err = next.Resize(*u.Quantity)
				if err != nil {
					return err
				}
			}

			if _, err := s.lotRepo.UpdateVersioned(tx, next); err != nil {
				return err
			}
		}

		for _, c := range creates {
			lot := domain.Lot{
				ID:               uuid.NewString(),
				AccountID:        accountID,
				SecurityID:       securityID,
				Symbol:           symbol,
				AcquiredAt:       c.AcquiredAt,
				CostBasisPerUnit: c.CostBasisPerUnit,
				OriginalQuantity: c.Quantity,
				CurrentQuantity:  c.Quantity,
				Source:           domain.SourceManual,
			}
			if err := lot.Validate(); err != nil {
				return err
			}
			if err := s.lotRepo.CreateTx(tx, lot); err != nil {
				return err
			}
		}

		result, err = s.lotRepo.ListForSecurityTx(tx, accountID, securityID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("security_id", securityID).
		Int("updates", len(updates)).
		Int("creates", len(creates)).
		Msg("Lot batch applied")
	return result, nil
}

// DisposalLeg names one lot and the quantity a consuming event draws from it.
type DisposalLeg struct {
	LotID    string
	Quantity decimal.Decimal
}

// RecordDisposalGroupParams holds the inputs of one logical consuming event
// (a sale or withdrawal that may draw from several lots). Which lots a sell
// debits is the ingestion collaborator's decision, not this engine's.
type RecordDisposalGroupParams struct {
	AccountID       string
	SecurityID      string
	DisposedAt      *time.Time
	ProceedsPerUnit decimal.Decimal
	Source          domain.LotSource
	ActivityID      string
	Legs            []DisposalLeg
}

// RecordDisposalGroup creates the disposal rows for one consuming event under
// a fresh group id, debiting the named lots in one transaction.
func (s *LedgerService) RecordDisposalGroup(p RecordDisposalGroupParams) ([]domain.Disposal, error) {
	defer utils.OperationTimer("record_disposal_group", s.log)()

	if len(p.Legs) == 0 {
		return nil, fmt.Errorf("disposal group requires at least one leg")
	}

	groupID := uuid.NewString()
	var created []domain.Disposal

	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		for _, leg := range p.Legs {
			lot, err := s.lotRepo.GetTx(tx, leg.LotID)
			if err != nil {
				return err
			}
			if lot == nil {
				return fmt.Errorf("lot %s: %w", leg.LotID, domain.ErrNotFound)
			}
			if lot.AccountID != p.AccountID || lot.SecurityID != p.SecurityID {
				return fmt.Errorf("lot %s does not belong to account %s / security %s: %w",
					leg.LotID, p.AccountID, p.SecurityID, domain.ErrOwnershipMismatch)
			}

			next, err := lot.ApplyDisposal(leg.Quantity)
			if err != nil {
				return err
			}
			if _, err := s.lotRepo.UpdateVersioned(tx, next); err != nil {
				return err
			}

			d := domain.Disposal{
				ID:              uuid.NewString(),
				LotID:           leg.LotID,
				AccountID:       p.AccountID,
				SecurityID:      p.SecurityID,
				DisposedAt:      p.DisposedAt,
				Quantity:        leg.Quantity,
				ProceedsPerUnit: p.ProceedsPerUnit,
				Source:          p.Source,
				ActivityID:      p.ActivityID,
				GroupID:         groupID,
			}
			if err := s.dispRepo.CreateTx(tx, d); err != nil {
				return err
			}
			created = append(created, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", p.AccountID).
		Str("security_id", p.SecurityID).
		Str("group_id", groupID).
		Int("legs", len(created)).
		Msg("Disposal group recorded")
	return created, nil
}

// Assignment names a target lot and the quantity a reassignment moves to it.
type Assignment struct {
	LotID    string
	Quantity decimal.Decimal
}

// ReassignDisposals corrects which lots a historical disposal group debited,
// without altering the event's total quantity, date, proceeds or source.
// The old group is reversed (quantity restored onto its lots, rows deleted)
// and the assignments reapplied under a fresh group id, all in one
// transaction: a half-reversed ledger would double-count and lose quantity
// at the same time. Returns the newly created disposals.
func (s *LedgerService) ReassignDisposals(accountID, groupID string, assignments []Assignment) ([]domain.Disposal, error) {
	defer utils.OperationTimer("reassign_disposals", s.log)()

	if len(assignments) == 0 {
		return nil, fmt.Errorf("reassignment requires at least one assignment")
	}

	var created []domain.Disposal

	err := database.WithTransaction(s.ledgerDB, func(tx *sql.Tx) error {
		group, err := s.dispRepo.GetByGroupTx(tx, accountID, groupID)
		if err != nil {
			return err
		}
		if len(group) == 0 {
			return fmt.Errorf("disposal group %s: %w", groupID, domain.ErrGroupNotFound)
		}

		// A reassignment must be quantity-neutral
		oldTotal := decimal.Zero
		for _, d := range group {
			oldTotal = oldTotal.Add(d.Quantity)
		}
		newTotal := decimal.Zero
		for _, a := range assignments {
			if !a.Quantity.IsPositive() {
				return fmt.Errorf("assignment quantity must be positive: %w", domain.ErrInvalidQuantity)
			}
			newTotal = newTotal.Add(a.Quantity)
		}
		if !oldTotal.Equal(newTotal) {
			return fmt.Errorf("group total %s, assignments total %s: %w",
				oldTotal, newTotal, domain.ErrQuantityMismatch)
		}

		// The new disposals inherit the group's metadata unchanged
		meta := group[0]

		// Working set of lots touched by the reversal and the reapply.
		// A lot can appear on both sides; tracking one in-memory state per
		// lot keeps the net quantity delta correct.
		touched := make(map[string]domain.Lot)
		loadLot := func(id string) (domain.Lot, error) {
			if lot, ok := touched[id]; ok {
				return lot, nil
			}
			lot, err := s.lotRepo.GetTx(tx, id)
			if err != nil {
				return domain.Lot{}, err
			}
			if lot == nil {
				return domain.Lot{}, fmt.Errorf("lot %s: %w", id, domain.ErrNotFound)
			}
			return *lot, nil
		}

		// Validate the assignment targets before mutating anything
		for _, a := range assignments {
			lot, err := loadLot(a.LotID)
			if err != nil {
				return err
			}
			if lot.AccountID != accountID || lot.SecurityID != meta.SecurityID {
				return fmt.Errorf("lot %s does not belong to account %s / security %s: %w",
					a.LotID, accountID, meta.SecurityID, domain.ErrOwnershipMismatch)
			}
			touched[a.LotID] = lot
		}

		// Reverse: restore each old disposal's quantity onto its owning lot
		for _, d := range group {
			lot, err := loadLot(d.LotID)
			if err != nil {
				return err
			}
			lot, err = lot.RestoreQuantity(d.Quantity)
			if err != nil {
				return err
			}
			touched[d.LotID] = lot
		}
		if err := s.dispRepo.DeleteByGroupTx(tx, accountID, groupID); err != nil {
			return err
		}

		// Reapply under a fresh group id
		newGroupID := uuid.NewString()
		for _, a := range assignments {
			lot := touched[a.LotID]
			lot, err = lot.ApplyDisposal(a.Quantity)
			if err != nil {
				return err
			}
			touched[a.LotID] = lot

			d := domain.Disposal{
				ID:              uuid.NewString(),
				LotID:           a.LotID,
				AccountID:       accountID,
				SecurityID:      meta.SecurityID,
				DisposedAt:      meta.DisposedAt,
				Quantity:        a.Quantity,
				ProceedsPerUnit: meta.ProceedsPerUnit,
				Source:          meta.Source,
				ActivityID:      meta.ActivityID,
				GroupID:         newGroupID,
			}
			if err := s.dispRepo.CreateTx(tx, d); err != nil {
				return err
			}
			created = append(created, d)
		}

		// Persist each touched lot once, with its version check
		for _, lot := range touched {
			if _, err := s.lotRepo.UpdateVersioned(tx, lot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("old_group_id", groupID).
		Str("new_group_id", created[0].GroupID).
		Int("assignments", len(created)).
		Msg("Disposal group reassigned")
	return created, nil
}

// LotSummary computes the gain/loss summary for one security in one account.
func (s *LedgerService) LotSummary(accountID, securityID string, opts SummaryOptions) (Summary, error) {
	allLots, err := s.lotRepo.ListForSecurity(accountID, securityID, true)
	if err != nil {
		return Summary{}, err
	}
	disposals, err := s.dispRepo.ListForSecurity(accountID, securityID)
	if err != nil {
		return Summary{}, err
	}

	return Summarize(accountID, securityID, allLots, disposals, opts), nil
}

// LotSummariesForAccount computes summaries for every security with at least
// one open lot in the account, keyed by security id. priceMap and quantityMap
// supply the optional market price and true holding quantity per security.
func (s *LedgerService) LotSummariesForAccount(
	accountID string,
	priceMap map[string]decimal.Decimal,
	quantityMap map[string]decimal.Decimal,
) (map[string]Summary, error) {
	allLots, err := s.lotRepo.ListForAccount(accountID, true)
	if err != nil {
		return nil, err
	}

	hasOpen := make(map[string]bool)
	for _, lot := range allLots {
		if !lot.IsClosed {
			hasOpen[lot.SecurityID] = true
		}
	}

	summaries := make(map[string]Summary, len(hasOpen))
	for securityID := range hasOpen {
		opts := SummaryOptions{}
		if price, ok := priceMap[securityID]; ok {
			p := price
			opts.MarketPrice = &p
		}
		if qty, ok := quantityMap[securityID]; ok {
			q := qty
			opts.TotalHoldingQuantity = &q
		}

		summary, err := s.LotSummary(accountID, securityID, opts)
		if err != nil {
			return nil, err
		}
		summaries[securityID] = summary
	}

	return summaries, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
