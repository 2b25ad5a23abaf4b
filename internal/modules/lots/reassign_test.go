package lots

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/lotledger/internal/domain"
)

// recordGroup disposes the given legs as one group and returns the group id.
func (e *testEnv) recordGroup(t *testing.T, legs []DisposalLeg) string {
	t.Helper()
	disposedAt := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	disposals, err := e.svc.RecordDisposalGroup(RecordDisposalGroupParams{
		AccountID:       "acc-1",
		SecurityID:      e.secID,
		DisposedAt:      &disposedAt,
		ProceedsPerUnit: dec("150"),
		Source:          domain.SourceActivity,
		ActivityID:      "act-sell-1",
		Legs:            legs,
	})
	require.NoError(t, err)
	return disposals[0].GroupID
}

// A sale of 5 was debited entirely from lot A; moving 3 of it to lot B
// restores A to 8 and debits B to 7, with the event's total unchanged.
func TestReassignDisposals_MovesQuantityBetweenLots(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "10", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	created, err := env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotA.ID, Quantity: dec("2")},
		{LotID: lotB.ID, Quantity: dec("3")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	aAfter, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, aAfter.CurrentQuantity.Equal(dec("8")))
	assert.False(t, aAfter.IsClosed)

	bAfter, err := env.lotRepo.Get(lotB.ID)
	require.NoError(t, err)
	assert.True(t, bAfter.CurrentQuantity.Equal(dec("7")))

	// The old group is gone, the new one holds the event under a fresh id
	old, err := env.dispRepo.GetByGroup("acc-1", groupID)
	require.NoError(t, err)
	assert.Empty(t, old)

	newGroup, err := env.dispRepo.GetByGroup("acc-1", created[0].GroupID)
	require.NoError(t, err)
	require.Len(t, newGroup, 2)
	assert.NotEqual(t, groupID, created[0].GroupID)

	// Event metadata is carried over unchanged
	total := decimal.Zero
	for _, d := range newGroup {
		total = total.Add(d.Quantity)
		assert.True(t, d.ProceedsPerUnit.Equal(dec("150")))
		assert.Equal(t, domain.SourceActivity, d.Source)
		assert.Equal(t, "act-sell-1", d.ActivityID)
		require.NotNil(t, d.DisposedAt)
	}
	assert.True(t, total.Equal(dec("5")))
}

// Reassigning a group away from a fully consumed lot reopens it.
func TestReassignDisposals_ReopensClosedLot(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "5", "100")
	lotB := env.mustCreateLot(t, "10", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	closed, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, closed.IsClosed)

	_, err = env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotB.ID, Quantity: dec("5")},
	})
	require.NoError(t, err)

	reopened, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.False(t, reopened.IsClosed)
	assert.True(t, reopened.CurrentQuantity.Equal(dec("5")))

	bAfter, err := env.lotRepo.Get(lotB.ID)
	require.NoError(t, err)
	assert.True(t, bAfter.CurrentQuantity.Equal(dec("5")))
}

func TestReassignDisposals_QuantityMismatch(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "10", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	_, err := env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotB.ID, Quantity: dec("4")},
	})
	assert.True(t, errors.Is(err, domain.ErrQuantityMismatch))

	// Nothing moved
	aAfter, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, aAfter.CurrentQuantity.Equal(dec("5")))

	old, err := env.dispRepo.GetByGroup("acc-1", groupID)
	require.NoError(t, err)
	assert.Len(t, old, 1)
}

func TestReassignDisposals_GroupNotFound(t *testing.T) {
	env := newTestEnv(t)
	lot := env.mustCreateLot(t, "10", "100")

	_, err := env.svc.ReassignDisposals("acc-1", "no-such-group", []Assignment{
		{LotID: lot.ID, Quantity: dec("5")},
	})
	assert.True(t, errors.Is(err, domain.ErrGroupNotFound))
}

// Group lookup is account-scoped: another account's group id must not be
// visible, let alone reassignable.
func TestReassignDisposals_GroupScopedToAccount(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "10", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	_, err := env.svc.ReassignDisposals("acc-other", groupID, []Assignment{
		{LotID: lotB.ID, Quantity: dec("5")},
	})
	assert.True(t, errors.Is(err, domain.ErrGroupNotFound))
}

func TestReassignDisposals_TargetOwnershipMismatch(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")

	// A lot of the same ticker in another account is not a valid target
	foreign, err := env.svc.CreateLot(CreateLotParams{
		AccountID:        "acc-other",
		Symbol:           "AAPL",
		CostBasisPerUnit: dec("100"),
		Quantity:         dec("10"),
	})
	require.NoError(t, err)

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	_, err = env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: foreign.ID, Quantity: dec("5")},
	})
	assert.True(t, errors.Is(err, domain.ErrOwnershipMismatch))

	aAfter, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, aAfter.CurrentQuantity.Equal(dec("5")), "failed reassignment must not mutate lots")
}

func TestReassignDisposals_TargetNotFound(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	_, err := env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: "no-such-lot", Quantity: dec("5")},
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

// An assignment that overdraws its target rolls the whole reassignment back,
// including the already-performed reversal of the old group.
func TestReassignDisposals_OverdrawRollsBack(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "3", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})

	// lotB only holds 3, so assigning 5 to it must fail
	_, err := env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotB.ID, Quantity: dec("5")},
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))

	aAfter, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, aAfter.CurrentQuantity.Equal(dec("5")), "reversal must not survive the rollback")

	bAfter, err := env.lotRepo.Get(lotB.ID)
	require.NoError(t, err)
	assert.True(t, bAfter.CurrentQuantity.Equal(dec("3")))

	old, err := env.dispRepo.GetByGroup("acc-1", groupID)
	require.NoError(t, err)
	assert.Len(t, old, 1, "old group must survive the rollback")
}

// A lot appearing on both sides of a reassignment nets out to a single write:
// 5 from A reassigned as 2 from A plus 3 from B leaves A at 8, not at 10 or 3.
func TestReassignDisposals_SameLotOnBothSides(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "10", "120")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("5")}})
	versionBefore, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)

	_, err = env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotA.ID, Quantity: dec("2")},
		{LotID: lotB.ID, Quantity: dec("3")},
	})
	require.NoError(t, err)

	aAfter, err := env.lotRepo.Get(lotA.ID)
	require.NoError(t, err)
	assert.True(t, aAfter.CurrentQuantity.Equal(dec("8")))
	assert.Equal(t, versionBefore.Version+1, aAfter.Version, "netted lot is written exactly once")
}

// Splitting one group across more lots and merging it back are both
// quantity-neutral and leave total disposed quantity invariant.
func TestReassignDisposals_RepeatedReassignmentConserves(t *testing.T) {
	env := newTestEnv(t)
	lotA := env.mustCreateLot(t, "10", "100")
	lotB := env.mustCreateLot(t, "10", "120")
	lotC := env.mustCreateLot(t, "10", "90")

	groupID := env.recordGroup(t, []DisposalLeg{{LotID: lotA.ID, Quantity: dec("6")}})

	created, err := env.svc.ReassignDisposals("acc-1", groupID, []Assignment{
		{LotID: lotA.ID, Quantity: dec("2")},
		{LotID: lotB.ID, Quantity: dec("2")},
		{LotID: lotC.ID, Quantity: dec("2")},
	})
	require.NoError(t, err)

	created, err = env.svc.ReassignDisposals("acc-1", created[0].GroupID, []Assignment{
		{LotID: lotC.ID, Quantity: dec("6")},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	// A and B are fully restored, C carries the whole event
	for id, want := range map[string]string{lotA.ID: "10", lotB.ID: "10", lotC.ID: "4"} {
		lot, err := env.lotRepo.Get(id)
		require.NoError(t, err)
		assert.True(t, lot.CurrentQuantity.Equal(dec(want)), "lot %s", id)
		assert.True(t, lot.OriginalQuantity.Sub(lot.DisposedQuantity()).Equal(lot.CurrentQuantity))
	}
}
