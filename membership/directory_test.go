package membership_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/costledger/core"
	"github.com/warp/costledger/membership"
	"github.com/warp/costledger/store/sqlstore"
)

func owner(id, pct string) core.Owner {
	return core.Owner{UserID: core.UserID(id), Percentage: decimal.RequireFromString(pct)}
}

func TestValidateOwners(t *testing.T) {
	tests := []struct {
		name   string
		owners []core.Owner
		want   error
	}{
		{"empty", nil, core.ErrNoOwners},
		{"blank user", []core.Owner{owner("", "100")}, core.ErrInvalidOwners},
		{"duplicate", []core.Owner{owner("a", "50"), owner("a", "50")}, core.ErrInvalidOwners},
		{"negative", []core.Owner{owner("a", "110"), owner("b", "-10")}, core.ErrInvalidOwners},
		{"sum too low", []core.Owner{owner("a", "60"), owner("b", "39")}, core.ErrInvalidOwners},
		{"thirds within tolerance", []core.Owner{owner("a", "33.33"), owner("b", "33.33"), owner("c", "33.33")}, nil},
		{"exact thirds rounded", []core.Owner{owner("a", "33.34"), owner("b", "33.33"), owner("c", "33.33")}, nil},
		{"zero share allowed", []core.Owner{owner("a", "100"), owner("b", "0")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := membership.ValidateOwners(tt.owners)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	owners := []core.Owner{owner("alice", "60"), owner("bob", "40")}

	assert.True(t, membership.IsOwner(owners, "bob"))
	assert.False(t, membership.IsOwner(owners, "mallory"))
}

func TestStoreDirectory(t *testing.T) {
	// GIVEN: An empty store
	store, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()
	dir := membership.NewStoreDirectory(store)
	ctx := context.Background()

	// THEN: An unknown group has no owners
	_, err = dir.Owners(ctx, "g1")
	assert.ErrorIs(t, err, core.ErrNoOwners)

	// WHEN: An invalid set is stored
	err = dir.SetOwners(ctx, "g1", []core.Owner{owner("alice", "70")})

	// THEN: It is rejected and nothing is written
	assert.ErrorIs(t, err, core.ErrInvalidOwners)
	_, err = dir.Owners(ctx, "g1")
	assert.ErrorIs(t, err, core.ErrNoOwners)

	// WHEN: A valid set is stored, then replaced
	require.NoError(t, dir.SetOwners(ctx, "g1", []core.Owner{owner("carol", "50"), owner("alice", "50")}))
	require.NoError(t, dir.SetOwners(ctx, "g1", []core.Owner{owner("bob", "25"), owner("alice", "75")}))

	// THEN: The latest set comes back in insertion order
	got, err := dir.Owners(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.UserID("bob"), got[0].UserID)
	assert.True(t, got[0].Percentage.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, core.UserID("alice"), got[1].UserID)
}

func TestStatic(t *testing.T) {
	dir := membership.NewStatic().Set("g1", owner("alice", "100"))
	ctx := context.Background()

	got, err := dir.Owners(ctx, "g1")
	require.NoError(t, err)
	got[0].UserID = "mallory"

	again, err := dir.Owners(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), again[0].UserID)

	_, err = dir.Owners(ctx, "g2")
	assert.ErrorIs(t, err, core.ErrNoOwners)
}
