// Package membership answers "who owns this group, and with what share".
//
// The owner set belongs to an identity/group service; this package is the
// boundary to it. StoreDirectory reads a local copy kept in group_owners,
// Static serves fixed data for tests and demos.
package membership

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/costledger/core"
)

// Directory looks up the owner set of a group.
// The returned order is stable; the split calculator relies on it.
type Directory interface {
	Owners(ctx context.Context, groupID core.GroupID) ([]core.Owner, error)
}

// ValidateOwners checks an owner set before it is stored.
// Percentages must be non-negative and sum to 100 (within 0.01).
func ValidateOwners(owners []core.Owner) error {
	if len(owners) == 0 {
		return core.ErrNoOwners
	}
	seen := make(map[core.UserID]bool, len(owners))
	total := decimal.Zero
	for _, o := range owners {
		if o.UserID == "" {
			return fmt.Errorf("%w: empty user id", core.ErrInvalidOwners)
		}
		if seen[o.UserID] {
			return fmt.Errorf("%w: duplicate owner %s", core.ErrInvalidOwners, o.UserID)
		}
		seen[o.UserID] = true
		if o.Percentage.IsNegative() {
			return fmt.Errorf("%w: negative percentage for %s", core.ErrInvalidOwners, o.UserID)
		}
		total = total.Add(o.Percentage)
	}
	if total.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.New(1, -2)) {
		return fmt.Errorf("%w: percentages sum to %s, want 100", core.ErrInvalidOwners, total)
	}
	return nil
}

// IsOwner reports whether user belongs to the owner set.
func IsOwner(owners []core.Owner, user core.UserID) bool {
	for _, o := range owners {
		if o.UserID == user {
			return true
		}
	}
	return false
}

// =============================================================================
// STORE-BACKED DIRECTORY
// =============================================================================

// StoreDirectory reads and writes the group_owners table.
type StoreDirectory struct {
	store core.MembershipStore
}

func NewStoreDirectory(store core.MembershipStore) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) Owners(ctx context.Context, groupID core.GroupID) ([]core.Owner, error) {
	owners, err := d.store.ListGroupOwners(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owners of %s: %w", groupID, err)
	}
	if len(owners) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNoOwners, groupID)
	}
	return owners, nil
}

// SetOwners validates and replaces the owner set of a group.
func (d *StoreDirectory) SetOwners(ctx context.Context, groupID core.GroupID, owners []core.Owner) error {
	if err := ValidateOwners(owners); err != nil {
		return err
	}
	return d.store.ReplaceGroupOwners(ctx, groupID, owners)
}

// =============================================================================
// STATIC DIRECTORY
// =============================================================================

// Static is an in-memory Directory.
type Static struct {
	mu     sync.RWMutex
	groups map[core.GroupID][]core.Owner
}

func NewStatic() *Static {
	return &Static{groups: make(map[core.GroupID][]core.Owner)}
}

// Set replaces the owners of a group.
func (s *Static) Set(groupID core.GroupID, owners ...core.Owner) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[groupID] = append([]core.Owner(nil), owners...)
	return s
}

func (s *Static) Owners(_ context.Context, groupID core.GroupID) ([]core.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners, ok := s.groups[groupID]
	if !ok || len(owners) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNoOwners, groupID)
	}
	return append([]core.Owner(nil), owners...), nil
}
