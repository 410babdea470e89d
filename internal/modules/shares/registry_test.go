package shares

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	steward "github.com/aristath/steward/internal/testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db := steward.NewTestDB(t, "vault")
	return NewRegistry(db.Conn(), zerolog.Nop())
}

func TestEmptyRegistry(t *testing.T) {
	reg := newTestRegistry(t)

	total, err := reg.TotalSupply()
	require.NoError(t, err)
	assert.Zero(t, total)

	balance, err := reg.BalanceOf("alice")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestMintAccumulates(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Mint("alice", 1_000))
	require.NoError(t, reg.Mint("alice", 500))
	require.NoError(t, reg.Mint("bob", 2_000))

	balance, err := reg.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500), balance)

	total, err := reg.TotalSupply()
	require.NoError(t, err)
	assert.Equal(t, uint64(3_500), total)
}

func TestBurn(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Mint("alice", 1_000))

	require.NoError(t, reg.Burn("alice", 400))
	balance, err := reg.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), balance)

	// Burning past the balance fails and changes nothing.
	err = reg.Burn("alice", 601)
	require.ErrorIs(t, err, ErrInsufficientShares)
	balance, err = reg.BalanceOf("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(600), balance)

	// Unknown holders have nothing to burn.
	require.ErrorIs(t, reg.Burn("carol", 1), ErrInsufficientShares)
}

func TestZeroAmountsAreNoOps(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.Mint("alice", 0))
	require.NoError(t, reg.Burn("alice", 0))

	total, err := reg.TotalSupply()
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestHolders(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.Mint("alice", 100))
	require.NoError(t, reg.Mint("bob", 200))
	require.NoError(t, reg.Burn("bob", 200))

	holders, err := reg.Holders()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"alice": 100}, holders)
}
