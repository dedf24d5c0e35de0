package redisstore

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bankledger/internal/ledger"
	"bankledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	_, client := testutil.NewRedis(t)
	return NewStore(client)
}

func TestApplyAndLimit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 1000}))

	applied, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: 500, Description: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(-500), applied.Balance)
	assert.Equal(t, int64(1000), applied.Limit)

	_, err = s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: 600, Description: "b"})
	assert.ErrorIs(t, err, ledger.ErrLimitExceeded)

	applied, err = s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindCredit, Amount: 500, Description: "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), applied.Balance)

	account, err := s.Account(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Account{ID: 1, Limit: 1000, Balance: 0}, account)

	records, err := s.RecentTransactions(ctx, 1, ledger.ExtractSize)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].Description)
	assert.Equal(t, ledger.KindCredit, records[0].Kind)
	assert.Equal(t, "a", records[1].Description)
	assert.Equal(t, int64(500), records[1].Amount)
}

func TestUnknownAccount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 7, Kind: ledger.KindCredit, Amount: 1, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.Account(ctx, 7)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	records, err := s.RecentTransactions(ctx, 7, ledger.ExtractSize)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAppliedAtStrictlyIncreasing(t *testing.T) {
	s := newStore(t)
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1}))

	for i := 0; i < 12; i++ {
		_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindCredit, Amount: 1, Description: fmt.Sprintf("t%d", i)})
		require.NoError(t, err)
	}

	records, err := s.RecentTransactions(ctx, 1, ledger.ExtractSize)
	require.NoError(t, err)
	require.Len(t, records, ledger.ExtractSize)
	assert.Equal(t, "t11", records[0].Description)
	assert.Equal(t, frozen.Add(11*time.Millisecond), records[0].AppliedAt)
	for i := 1; i < len(records); i++ {
		assert.True(t, records[i-1].AppliedAt.After(records[i].AppliedAt))
	}
}

func TestDescriptionWithSeparator(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1}))

	_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindCredit, Amount: 3, Description: "a:b:c"})
	require.NoError(t, err)

	records, err := s.RecentTransactions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a:b:c", records[0].Description)
}

func TestConcurrentDebits(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 1000}))

	var applied, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: 100, Description: "d"})
			if err == nil {
				applied.Add(1)
			} else if assert.ErrorIs(t, err, ledger.ErrLimitExceeded) {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), applied.Load())
	assert.Equal(t, int64(30), rejected.Load())
	account, err := s.Account(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), account.Balance)
}

func TestCorruptedBalanceIsReported(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	s := NewStore(client)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 10}))
	mr.HSet(AccountKey(1), "balance", "-50")

	_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindCredit, Amount: 1, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
	assert.Equal(t, "-50", mr.HGet(AccountKey(1), "balance"))
}

func TestApplyRejectsOverflow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 1000, Balance: -1000}))
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 2, Limit: 1000, Balance: 10}))

	_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: math.MaxInt64, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidCommand)
	_, err = s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: ledger.MaxAmount, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrLimitExceeded)

	_, err = s.AtomicApply(ctx, ledger.Command{AccountID: 2, Kind: ledger.KindCredit, Amount: math.MaxInt64, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidCommand)
	_, err = s.AtomicApply(ctx, ledger.Command{AccountID: 2, Kind: ledger.KindCredit, Amount: ledger.MaxAmount - 9, Description: "x"})
	assert.ErrorIs(t, err, ledger.ErrInvalidCommand)

	for id, balance := range map[int64]int64{1: -1000, 2: 10} {
		account, err := s.Account(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, balance, account.Balance)
		assert.True(t, account.Healthy())
		records, err := s.RecentTransactions(ctx, id, ledger.ExtractSize)
		require.NoError(t, err)
		assert.Empty(t, records)
	}

	applied, err := s.AtomicApply(ctx, ledger.Command{AccountID: 2, Kind: ledger.KindCredit, Amount: ledger.MaxAmount - 10, Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxAmount, applied.Balance)
	account, err := s.Account(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.MaxAmount, account.Balance, "stored without losing digits")

	assert.ErrorIs(t, s.Provision(ctx, ledger.Account{ID: 3, Limit: math.MaxInt64}), ledger.ErrInvalidCommand)
}

func TestProvisionIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 100, Balance: 20}))
	_, err := s.AtomicApply(ctx, ledger.Command{AccountID: 1, Kind: ledger.KindDebit, Amount: 30, Description: "x"})
	require.NoError(t, err)

	require.NoError(t, s.Provision(ctx, ledger.Account{ID: 1, Limit: 5}))
	account, err := s.Account(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Account{ID: 1, Limit: 100, Balance: -10}, account)
}

func TestStoreErrorWhenRedisDown(t *testing.T) {
	mr, client := testutil.NewRedis(t)
	s := NewStore(client)
	mr.Close()

	_, err := s.AtomicApply(context.Background(), ledger.Command{AccountID: 1, Kind: ledger.KindCredit, Amount: 1, Description: "x"})
	require.Error(t, err)
	assert.False(t, ledger.IsOutcome(err))
}

func TestParseEntry(t *testing.T) {
	rec, err := parseEntry("1767225600000:d:42:rent")
	require.NoError(t, err)
	assert.Equal(t, ledger.Record{
		Amount:      42,
		Kind:        ledger.KindDebit,
		Description: "rent",
		AppliedAt:   time.UnixMilli(1767225600000).UTC(),
	}, rec)

	for _, bad := range []string{"", "1:d:2", "x:d:1:a", "1:z:1:a", "1:c:x:a"} {
		_, err := parseEntry(bad)
		assert.Error(t, err, bad)
	}
}
