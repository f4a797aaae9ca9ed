package transfer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
	"github.com/odyssey-erp/odyssey-pos/internal/ledger"
	"github.com/odyssey-erp/odyssey-pos/internal/observability"
	"github.com/odyssey-erp/odyssey-pos/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var (
	branch1Indomie = ledger.Key{BranchID: 1, ItemID: indomieID}
	branch2Indomie = ledger.Key{BranchID: 2, ItemID: indomieID}
	branch1Teh     = ledger.Key{BranchID: 1, ItemID: tehID}
	branch2Teh     = ledger.Key{BranchID: 2, ItemID: tehID}
)

func newTestService(repo *memoryRepo, deps Dependencies) *Service {
	deps.Repo = repo
	return NewService(deps, ServiceConfig{MaxRetries: 3})
}

func twentyDus() CreateRequest {
	return CreateRequest{
		TransactionDate: "2024-05-01",
		FromBranchID:    1,
		ToBranchID:      2,
		Lines:           []LineRequest{{ItemID: indomieID, VariantID: dusVariant, Qty: 20}},
	}
}

func TestCreateTransferAllowsShortage(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	alerts := &alertSpy{}
	svc := newTestService(repo, Dependencies{Alerts: alerts})

	result, err := svc.Create(context.Background(), 9, "", twentyDus())
	require.NoError(t, err)

	require.Equal(t, int64(-700), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(800), repo.ledger.Quantity(branch2Indomie))
	require.Equal(t, StatusCommitted, result.Transfer.Status)
	require.Equal(t, int64(800), result.Transfer.Lines[0].BaseQty)
	require.Equal(t, int64(40), result.Transfer.Lines[0].ConversionAmount)
	require.Equal(t, []ledger.Shortage{{BranchID: 1, ItemID: indomieID, Quantity: -700}}, result.Shortages)

	require.Len(t, alerts.alerts, 1)
	require.Equal(t, result.Transfer.Code, alerts.alerts[0].DocumentCode)
	require.Equal(t, ledger.SourceTransferOut, alerts.alerts[0].SourceType)
}

func TestCreateTransferIsPureMovement(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, Dependencies{})

	_, err := svc.Create(context.Background(), 1, "", CreateRequest{
		FromBranchID: 1,
		ToBranchID:   2,
		Lines: []LineRequest{
			{ItemID: indomieID, VariantID: dusVariant, Qty: 2},
			{ItemID: indomieID, VariantID: pcsVariant, Qty: 5},
			{ItemID: tehID, VariantID: tehBotol, Qty: 12},
		},
	})
	require.NoError(t, err)

	var sum int64
	for _, m := range repo.ledger.AllMovements() {
		sum += m.Delta
	}
	require.Zero(t, sum)
	require.Equal(t, int64(85), repo.ledger.Quantity(branch2Indomie))
	require.Equal(t, int64(-85), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(12), repo.ledger.Quantity(branch2Teh))
}

func TestVoidRestoresBothBranches(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	repo.ledger.Seed(branch2Indomie, 15)
	repo.ledger.Seed(branch1Teh, 4)
	audit := &auditSpy{}
	metrics := observability.NewMetrics()
	svc := newTestService(repo, Dependencies{Audit: audit, Metrics: metrics})

	created, err := svc.Create(context.Background(), 1, "", CreateRequest{
		FromBranchID: 1,
		ToBranchID:   2,
		Lines: []LineRequest{
			{ItemID: indomieID, VariantID: dusVariant, Qty: 20},
			{ItemID: tehID, VariantID: tehBotol, Qty: 6},
		},
	})
	require.NoError(t, err)

	voided, err := svc.Void(context.Background(), 2, created.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Transfer.Status)
	require.Equal(t, int64(2), *voided.Transfer.VoidedBy)

	require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(15), repo.ledger.Quantity(branch2Indomie))
	require.Equal(t, int64(4), repo.ledger.Quantity(branch1Teh))
	require.Equal(t, int64(0), repo.ledger.Quantity(branch2Teh))

	stored, err := svc.Get(context.Background(), created.Transfer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, stored.Status)
	require.Equal(t, []string{"transfer:create", "transfer:void"}, audit.actions)
}

func TestVoidTwiceIsRejectedWithoutDelta(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	svc := newTestService(repo, Dependencies{})

	created, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.NoError(t, err)
	_, err = svc.Void(context.Background(), 1, created.Transfer.ID)
	require.NoError(t, err)
	moves := len(repo.ledger.AllMovements())

	_, err = svc.Void(context.Background(), 1, created.Transfer.ID)
	require.ErrorIs(t, err, ErrAlreadyVoided)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(0), repo.ledger.Quantity(branch2Indomie))
	require.Len(t, repo.ledger.AllMovements(), moves)
}

func TestVoidUnknownTransfer(t *testing.T) {
	svc := newTestService(newMemoryRepo(), Dependencies{})
	_, err := svc.Void(context.Background(), 1, 404)
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	cases := map[string]struct {
		req  CreateRequest
		kind error
		code string
	}{
		"same branch": {
			req:  CreateRequest{FromBranchID: 1, ToBranchID: 1, Lines: []LineRequest{{ItemID: indomieID, VariantID: pcsVariant, Qty: 1}}},
			kind: shared.ErrValidation, code: "SAME_BRANCH",
		},
		"no lines": {
			req:  CreateRequest{FromBranchID: 1, ToBranchID: 2},
			kind: shared.ErrValidation, code: shared.CodeInvalidInput,
		},
		"zero qty": {
			req:  CreateRequest{FromBranchID: 1, ToBranchID: 2, Lines: []LineRequest{{ItemID: indomieID, VariantID: pcsVariant, Qty: 0}}},
			kind: shared.ErrValidation, code: shared.CodeInvalidInput,
		},
		"duplicate variant": {
			req: CreateRequest{FromBranchID: 1, ToBranchID: 2, Lines: []LineRequest{
				{ItemID: indomieID, VariantID: dusVariant, Qty: 1},
				{ItemID: indomieID, VariantID: dusVariant, Qty: 2},
			}},
			kind: shared.ErrConflict, code: "DUPLICATE_LINE",
		},
		"variant of another item": {
			req:  CreateRequest{FromBranchID: 1, ToBranchID: 2, Lines: []LineRequest{{ItemID: tehID, VariantID: dusVariant, Qty: 1}}},
			kind: shared.ErrValidation, code: "VARIANT_ITEM_MISMATCH",
		},
		"unknown variant": {
			req:  CreateRequest{FromBranchID: 1, ToBranchID: 2, Lines: []LineRequest{{ItemID: indomieID, VariantID: 77, Qty: 1}}},
			kind: shared.ErrNotFound, code: "VARIANT_NOT_FOUND",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newMemoryRepo()
			repo.ledger.Seed(branch1Indomie, 100)
			svc := newTestService(repo, Dependencies{})

			_, err := svc.Create(context.Background(), 1, "", tc.req)
			require.ErrorIs(t, err, tc.kind)
			require.Equal(t, tc.code, shared.CodeOf(err))
			require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
			require.Empty(t, repo.ledger.AllMovements())
			require.Empty(t, repo.transfers)
		})
	}
}

func TestCreateRejectsRemovedVariant(t *testing.T) {
	repo := newMemoryRepo()
	removed := time.Now()
	v := repo.variants[dusVariant]
	v.DeletedAt = &removed
	repo.variants[dusVariant] = v
	svc := newTestService(repo, Dependencies{})

	_, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestFailedLineLeavesLedgerUntouched(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	repo.ledger.Seed(branch1Teh, 10)
	repo.ledger.FailOn(branch2Teh)
	svc := newTestService(repo, Dependencies{})

	_, err := svc.Create(context.Background(), 1, "", CreateRequest{
		FromBranchID: 1,
		ToBranchID:   2,
		Lines: []LineRequest{
			{ItemID: indomieID, VariantID: dusVariant, Qty: 1},
			{ItemID: tehID, VariantID: tehBotol, Qty: 3},
		},
	})
	require.Error(t, err)
	require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(0), repo.ledger.Quantity(branch2Indomie))
	require.Equal(t, int64(10), repo.ledger.Quantity(branch1Teh))
	require.Empty(t, repo.ledger.AllMovements())
	require.Empty(t, repo.transfers)
}

func TestCreateRetriesConsistencyFailures(t *testing.T) {
	repo := newMemoryRepo()
	repo.failures = []error{shared.ErrConcurrentModification}
	svc := newTestService(repo, Dependencies{Metrics: observability.NewMetrics()})

	_, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Equal(t, int64(800), repo.ledger.Quantity(branch2Indomie))
}

func TestCreateGivesUpAfterMaxRetries(t *testing.T) {
	repo := newMemoryRepo()
	repo.failures = []error{shared.ErrConcurrentModification, shared.ErrConcurrentModification, shared.ErrConcurrentModification}
	idem := newIdempotencySpy()
	svc := newTestService(repo, Dependencies{Idempotency: idem})
	key := uuid.NewString()

	_, err := svc.Create(context.Background(), 1, key, twentyDus())
	require.ErrorIs(t, err, shared.ErrConsistency)
	require.Equal(t, 3, repo.attempts)
	require.Empty(t, idem.keys, "failed submission must release its idempotency key")
}

func TestCreateHonoursIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	idem := newIdempotencySpy()
	svc := newTestService(repo, Dependencies{Idempotency: idem})
	key := uuid.NewString()

	_, err := svc.Create(context.Background(), 1, key, twentyDus())
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), 1, key, twentyDus())
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(800), repo.ledger.Quantity(branch2Indomie))

	_, err = svc.Create(context.Background(), 1, "not-a-uuid", twentyDus())
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateHoldsRedisLocksOnlyDuringSubmission(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.New(rdb, lock.Options{TTL: time.Second, Retries: 1, Backoff: time.Millisecond}, nil)

	repo := newMemoryRepo()
	svc := newTestService(repo, Dependencies{Locker: locker})

	_, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.LedgerLockKey(1, indomieID)))

	// another instance holds the destination key
	require.NoError(t, mr.Set(shared.LedgerLockKey(2, indomieID), "other"))
	_, err = svc.Create(context.Background(), 1, "", twentyDus())
	require.ErrorIs(t, err, shared.ErrConsistency)
	require.False(t, mr.Exists(shared.LedgerLockKey(1, indomieID)))
	require.Equal(t, int64(800), repo.ledger.Quantity(branch2Indomie))
}

func TestCreateSucceedsWhileRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := lock.New(rdb, lock.Options{TTL: time.Second, Retries: 1, Backoff: time.Millisecond}, nil)
	mr.Close()

	repo := newMemoryRepo()
	svc := newTestService(repo, Dependencies{Locker: locker})

	_, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.NoError(t, err)
	require.Equal(t, int64(800), repo.ledger.Quantity(branch2Indomie))
}

func TestListValidatesStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, Dependencies{})
	_, err := svc.Create(context.Background(), 1, "", twentyDus())
	require.NoError(t, err)

	list, total, err := svc.List(context.Background(), ListFilter{BranchID: 2, Status: StatusCommitted})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)

	_, _, err = svc.List(context.Background(), ListFilter{Status: "DRAFT"})
	require.True(t, errors.Is(err, ErrInvalidStatus))
}

func TestCreateRejectsLedgerOverflow(t *testing.T) {
	repo := newMemoryRepo()
	repo.ledger.Seed(branch1Indomie, 100)
	svc := newTestService(repo, Dependencies{})

	_, err := svc.Create(context.Background(), 1, "", CreateRequest{
		FromBranchID: 1,
		ToBranchID:   2,
		Lines: []LineRequest{
			{ItemID: indomieID, VariantID: pcsVariant, Qty: math.MaxInt64 - 10},
			{ItemID: indomieID, VariantID: dusVariant, Qty: 1},
		},
	})
	require.ErrorIs(t, err, ledger.ErrQuantityOverflow)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, int64(100), repo.ledger.Quantity(branch1Indomie))
	require.Equal(t, int64(0), repo.ledger.Quantity(branch2Indomie))
	require.Empty(t, repo.ledger.AllMovements())
	require.Empty(t, repo.transfers)
}
