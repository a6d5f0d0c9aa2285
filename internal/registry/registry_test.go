package registry

import (
	"context"
	"sync"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abyssgrid/gridmarket/internal/store"
	"github.com/abyssgrid/gridmarket/internal/types"
	"github.com/abyssgrid/gridmarket/pkg/logger"
)

func setupRegistry() *Registry {
	return New(store.NewMemoryStore(), types.DefaultParams(), logger.NewLogger("registry-test"))
}

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

func TestGetOrCreateDefaults(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	p, err := r.GetOrCreate(ctx, "peer:1")
	require.NoError(t, err)
	assert.Equal(t, "peer:1", p.PeerID)
	assert.True(t, p.StakeAmount.IsZero())
	assert.True(t, p.TrustScore.Equal(dec("100")))
	assert.True(t, p.SuccessRate.Equal(dec("1")))

	// Second call returns the existing record.
	again, err := r.GetOrCreate(ctx, "peer:1")
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestGetUnknownProvider(t *testing.T) {
	r := setupRegistry()
	_, err := r.Get(context.Background(), "peer:unknown")
	require.Error(t, err)
	assert.True(t, types.ErrProviderNotFound.Is(err))
}

func TestStakeWithdrawScenario(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	p, err := r.Stake(ctx, "peer:42", dec("100"))
	require.NoError(t, err)
	assert.True(t, p.StakeAmount.Equal(dec("100")))

	p, err = r.Withdraw(ctx, "peer:42", dec("30"))
	require.NoError(t, err)
	assert.True(t, p.StakeAmount.Equal(dec("70")))

	_, err = r.Withdraw(ctx, "peer:42", dec("100"))
	require.Error(t, err)
	assert.True(t, types.ErrInsufficientStake.Is(err))

	// Stake unchanged by the failed withdrawal.
	p, err = r.Get(ctx, "peer:42")
	require.NoError(t, err)
	assert.True(t, p.StakeAmount.Equal(dec("70")))
}

func TestStakeRejectsNonPositiveAmounts(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.Stake(ctx, "peer:1", dec("0"))
	assert.True(t, types.ErrInvalidAmount.Is(err))

	_, err = r.Stake(ctx, "peer:1", dec("-5"))
	assert.True(t, types.ErrInvalidAmount.Is(err))

	_, err = r.Withdraw(ctx, "peer:1", dec("0"))
	assert.True(t, types.ErrInvalidAmount.Is(err))
}

func TestSlashDefaultAmount(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.Stake(ctx, "peer:42", dec("100"))
	require.NoError(t, err)
	_, err = r.Withdraw(ctx, "peer:42", dec("30"))
	require.NoError(t, err)

	res, err := r.Slash(ctx, "peer:42", "invalid receipt", nil)
	require.NoError(t, err)
	assert.True(t, res.SlashedAmount.Equal(dec("7")), "expected 10%% of 70, got %s", res.SlashedAmount)
	assert.True(t, res.NewStake.Equal(dec("63")))
	assert.True(t, res.NewTrustScore.Equal(dec("90")))

	p, err := r.Get(ctx, "peer:42")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.SlashCount)
}

func TestSlashExplicitAmountCappedAtStake(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.Stake(ctx, "peer:1", dec("10"))
	require.NoError(t, err)

	amt := dec("50")
	res, err := r.Slash(ctx, "peer:1", "fraud", &amt)
	require.NoError(t, err)
	assert.True(t, res.SlashedAmount.Equal(dec("10")))
	assert.True(t, res.NewStake.IsZero())
}

func TestSlashZeroStakeStillPenalizesTrust(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "peer:broke")
	require.NoError(t, err)

	res, err := r.Slash(ctx, "peer:broke", "repeat offender", nil)
	require.NoError(t, err)
	assert.True(t, res.SlashedAmount.IsZero())
	assert.True(t, res.NewStake.IsZero())
	assert.True(t, res.NewTrustScore.Equal(dec("90")))

	p, _ := r.Get(ctx, "peer:broke")
	assert.Equal(t, uint64(1), p.SlashCount)
}

func TestTrustScoreFlooredAtZero(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "peer:1")
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		res, err := r.Slash(ctx, "peer:1", "repeated", nil)
		require.NoError(t, err)
		assert.False(t, res.NewTrustScore.IsNegative())
		assert.False(t, res.NewStake.IsNegative())
	}

	p, _ := r.Get(ctx, "peer:1")
	assert.True(t, p.TrustScore.IsZero())
	assert.Equal(t, uint64(15), p.SlashCount)
}

func TestSlashUnknownProvider(t *testing.T) {
	r := setupRegistry()
	_, err := r.Slash(context.Background(), "peer:ghost", "reason", nil)
	assert.True(t, types.ErrProviderNotFound.Is(err))
}

func TestListOrdering(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.Stake(ctx, "peer:b", dec("50"))
	require.NoError(t, err)
	_, err = r.Stake(ctx, "peer:a", dec("50"))
	require.NoError(t, err)
	_, err = r.Stake(ctx, "peer:c", dec("200"))
	require.NoError(t, err)
	_, err = r.Slash(ctx, "peer:c", "late result", nil) // trust 90, below the others
	require.NoError(t, err)

	providers, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, providers, 3)

	// Equal trust ties break by stake, then peer id ascending.
	assert.Equal(t, "peer:a", providers[0].PeerID)
	assert.Equal(t, "peer:b", providers[1].PeerID)
	assert.Equal(t, "peer:c", providers[2].PeerID)
}

func TestApplyStatsUpdate(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	require.NoError(t, r.ApplyStatsUpdate(ctx, "peer:1", 4, 3))
	p, err := r.Get(ctx, "peer:1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), p.TotalJobs)
	assert.Equal(t, uint64(3), p.SuccessfulJobs)
	assert.True(t, p.SuccessRate.Equal(dec("0.75")))
}

func TestConcurrentStakeAndSlashNonNegative(t *testing.T) {
	r := setupRegistry()
	ctx := context.Background()

	_, err := r.Stake(ctx, "peer:1", dec("1000"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = r.Stake(ctx, "peer:1", dec("10"))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Withdraw(ctx, "peer:1", dec("15"))
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Slash(ctx, "peer:1", "stress", nil)
		}()
	}
	wg.Wait()

	p, err := r.Get(ctx, "peer:1")
	require.NoError(t, err)
	assert.False(t, p.StakeAmount.IsNegative(), "stake went negative: %s", p.StakeAmount)
	assert.False(t, p.TrustScore.IsNegative())
	assert.True(t, p.TrustScore.LTE(dec("100")))
	assert.Equal(t, uint64(20), p.SlashCount)
}
