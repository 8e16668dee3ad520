package approval

import (
	"context"
	"fmt"

	"github.com/sourcelane/sourcelane/internal/directory"
)

// DirectoryPort exposes the user/role directory lookups the resolver needs.
type DirectoryPort interface {
	FirstUserWithRole(ctx context.Context, companyID int64, role string) (directory.User, error)
	UserHasRole(ctx context.Context, companyID, userID int64, role string) (bool, error)
}

// Resolver determines the expected approver for an approval level.
type Resolver struct {
	directory DirectoryPort
}

// NewResolver constructs a Resolver.
func NewResolver(directory DirectoryPort) *Resolver {
	return &Resolver{directory: directory}
}

// ExpectedApprover resolves who is expected to act on the approval under the
// rule. Only the level's own ceiling is consulted: when the amount exceeds
// it the level cannot authorize and resolution fails with ErrNoApprover.
// There is deliberately no auto-escalation to a higher level whose ceiling
// would cover the amount.
//
// Role levels resolve to the first company user by ascending id holding the
// role, read at call time.
func (r *Resolver) ExpectedApprover(ctx context.Context, rule Rule, a Approval) (int64, error) {
	lvl := rule.Level(a.LevelNo)
	if lvl == nil {
		return 0, fmt.Errorf("%w: rule %d has no level %d", ErrNoApprover, rule.ID, a.LevelNo)
	}
	if lvl.MaxAmountMinor > 0 && a.AmountMinor > lvl.MaxAmountMinor {
		return 0, fmt.Errorf("%w: amount exceeds level %d ceiling", ErrNoApprover, a.LevelNo)
	}
	if lvl.UserID != 0 {
		return lvl.UserID, nil
	}
	if lvl.Role != "" {
		user, err := r.directory.FirstUserWithRole(ctx, a.CompanyID, lvl.Role)
		if err != nil {
			return 0, err
		}
		if user.ID == 0 {
			return 0, fmt.Errorf("%w: no user holds role %q", ErrNoApprover, lvl.Role)
		}
		return user.ID, nil
	}
	return 0, fmt.Errorf("%w: level %d names neither user nor role", ErrNoApprover, a.LevelNo)
}
