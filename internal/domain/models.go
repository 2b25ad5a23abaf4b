// Package domain provides the core ledger entities: holding lots and the
// disposals recorded against them. Lots and disposals are value records;
// all state changes go through the explicit transition methods below, which
// return new values and enforce the quantity invariants.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LotSource identifies how a lot (or disposal) entered the ledger.
type LotSource string

const (
	// SourceManual - entered by hand through the API
	SourceManual LotSource = "manual"
	// SourceActivity - derived from an external transaction feed; immutable
	SourceActivity LotSource = "activity"
	// SourceInferred - reconstructed from incomplete history
	SourceInferred LotSource = "inferred"
	// SourceInitial - created from an initial holdings snapshot
	SourceInitial LotSource = "initial"
)

// Valid reports whether the source is one of the known values.
func (s LotSource) Valid() bool {
	switch s {
	case SourceManual, SourceActivity, SourceInferred, SourceInitial:
		return true
	}
	return false
}

// Editable reports whether lots with this source may be edited or deleted.
// Activity-sourced lots mirror a fact from the transaction feed; editing them
// would desynchronize the ledger from its source of truth.
func (s LotSource) Editable() bool {
	switch s {
	case SourceManual, SourceInferred, SourceInitial:
		return true
	case SourceActivity:
		return false
	}
	return false
}

// Lot represents a discrete acquisition of units of a security at a specific
// cost basis. CurrentQuantity always equals OriginalQuantity minus the sum of
// quantities of the disposals attached to the lot, and IsClosed holds exactly
// when CurrentQuantity is zero.
type Lot struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	SecurityID       string          `json:"security_id"`
	Symbol           string          `json:"symbol"`
	AcquiredAt       *time.Time      `json:"acquired_at,omitempty"`
	CostBasisPerUnit decimal.Decimal `json:"cost_basis_per_unit"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	CurrentQuantity  decimal.Decimal `json:"current_quantity"`
	IsClosed         bool            `json:"is_closed"`
	Source           LotSource       `json:"source"`
	ActivityID       string          `json:"activity_id,omitempty"`
	Version          int64           `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks the lot invariants.
func (l Lot) Validate() error {
	if l.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if l.SecurityID == "" {
		return fmt.Errorf("security_id is required")
	}
	if !l.Source.Valid() {
		return fmt.Errorf("invalid lot source: %q", l.Source)
	}
	if l.Source == SourceActivity && l.ActivityID == "" {
		return fmt.Errorf("activity-sourced lot requires an activity_id")
	}
	if l.CostBasisPerUnit.IsNegative() {
		return fmt.Errorf("cost basis must not be negative: %w", ErrInvalidQuantity)
	}
	if !l.OriginalQuantity.IsPositive() {
		return fmt.Errorf("original quantity must be positive: %w", ErrInvalidQuantity)
	}
	if l.CurrentQuantity.IsNegative() || l.CurrentQuantity.GreaterThan(l.OriginalQuantity) {
		return fmt.Errorf("current quantity out of range: %w", ErrInvalidQuantity)
	}
	if l.IsClosed != l.CurrentQuantity.IsZero() {
		return fmt.Errorf("is_closed must hold exactly when current quantity is zero")
	}
	return nil
}

// DisposedQuantity returns the quantity already consumed from the lot.
func (l Lot) DisposedQuantity() decimal.Decimal {
	return l.OriginalQuantity.Sub(l.CurrentQuantity)
}

// ApplyDisposal returns a copy of the lot with quantity consumed from it,
// closing the lot when the remainder reaches zero.
func (l Lot) ApplyDisposal(quantity decimal.Decimal) (Lot, error) {
	if !quantity.IsPositive() {
		return Lot{}, fmt.Errorf("disposal quantity must be positive: %w", ErrInvalidQuantity)
	}
	remaining := l.CurrentQuantity.Sub(quantity)
	if remaining.IsNegative() {
		return Lot{}, fmt.Errorf("disposal of %s exceeds current quantity %s: %w",
			quantity, l.CurrentQuantity, ErrInvalidQuantity)
	}

	l.CurrentQuantity = remaining
	l.IsClosed = remaining.IsZero()
	return l, nil
}

// RestoreQuantity returns a copy of the lot with previously disposed quantity
// added back, reopening the lot. Used when a disposal group is reversed.
func (l Lot) RestoreQuantity(quantity decimal.Decimal) (Lot, error) {
	if !quantity.IsPositive() {
		return Lot{}, fmt.Errorf("restored quantity must be positive: %w", ErrInvalidQuantity)
	}
	restored := l.CurrentQuantity.Add(quantity)
	if restored.GreaterThan(l.OriginalQuantity) {
		return Lot{}, fmt.Errorf("restoring %s would exceed original quantity %s: %w",
			quantity, l.OriginalQuantity, ErrInvalidQuantity)
	}

	l.CurrentQuantity = restored
	l.IsClosed = restored.IsZero()
	return l, nil
}

// Resize returns a copy of the lot with a new original quantity. The already
// disposed amount is preserved: current quantity is recomputed as the new
// original minus what has been consumed. The edit fails when it would make
// recorded disposals impossible.
func (l Lot) Resize(newOriginal decimal.Decimal) (Lot, error) {
	if !newOriginal.IsPositive() {
		return Lot{}, fmt.Errorf("original quantity must be positive: %w", ErrInvalidQuantity)
	}
	disposed := l.DisposedQuantity()
	if newOriginal.LessThan(disposed) {
		return Lot{}, fmt.Errorf("new quantity %s is below already disposed %s: %w",
			newOriginal, disposed, ErrInvalidQuantity)
	}

	l.OriginalQuantity = newOriginal
	l.CurrentQuantity = newOriginal.Sub(disposed)
	l.IsClosed = l.CurrentQuantity.IsZero()
	return l, nil
}

// Disposal records units consumed from a specific lot via a sale or similar
// event. Disposals are never edited in place; correcting one means
// reassigning its whole group.
type Disposal struct {
	ID              string          `json:"id"`
	LotID           string          `json:"lot_id"`
	AccountID       string          `json:"account_id"`
	SecurityID      string          `json:"security_id"`
	DisposedAt      *time.Time      `json:"disposed_at,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	ProceedsPerUnit decimal.Decimal `json:"proceeds_per_unit"`
	Source          LotSource       `json:"source"`
	ActivityID      string          `json:"activity_id,omitempty"`
	GroupID         string          `json:"disposal_group_id"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the disposal invariants.
func (d Disposal) Validate() error {
	if d.LotID == "" {
		return fmt.Errorf("lot_id is required")
	}
	if d.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if d.SecurityID == "" {
		return fmt.Errorf("security_id is required")
	}
	if d.GroupID == "" {
		return fmt.Errorf("disposal_group_id is required")
	}
	if !d.Source.Valid() {
		return fmt.Errorf("invalid disposal source: %q", d.Source)
	}
	if !d.Quantity.IsPositive() {
		return fmt.Errorf("disposal quantity must be positive: %w", ErrInvalidQuantity)
	}
	if d.ProceedsPerUnit.IsNegative() {
		return fmt.Errorf("proceeds must not be negative: %w", ErrInvalidQuantity)
	}
	return nil
}
