// Package approval implements multi-level approval rules, time-bounded
// delegation, and the pending/approved/rejected workflow state machine.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// TargetKind identifies the kind of business object an approval chain
// attaches to. Target ids are opaque to this package; each kind is owned by
// the module that creates chains for it.
type TargetKind string

const (
	TargetRFQ           TargetKind = "rfq"
	TargetPurchaseOrder TargetKind = "purchase_order"
	TargetChangeOrder   TargetKind = "change_order"
	TargetInvoice       TargetKind = "invoice"
	TargetNCR           TargetKind = "ncr"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetRFQ, TargetPurchaseOrder, TargetChangeOrder, TargetInvoice, TargetNCR:
		return true
	}
	return false
}

// Approval step statuses.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is the action a user takes on a pending approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ApproverSpec names who may approve a level: a specific user or the first
// holder of a role. Exactly one variant must be set; ValidateLevels enforces
// this at rule write time. Legacy rows that violate it simply never resolve
// to an approver.
type ApproverSpec struct {
	UserID int64  `json:"approver_user_id,omitempty"`
	Role   string `json:"approver_role,omitempty"`
}

// Validate checks the exactly-one-variant invariant.
func (s ApproverSpec) Validate() error {
	if (s.UserID != 0) == (s.Role != "") {
		return fmt.Errorf("%w: level must set exactly one of approver_user_id or approver_role", ErrValidation)
	}
	return nil
}

// Level is a single rung of an approval chain. MaxAmountMinor of zero means
// the level has no amount ceiling.
type Level struct {
	LevelNo        int   `json:"level_no"`
	ApproverSpec         // embedded so the stored JSON stays flat
	MaxAmountMinor int64 `json:"max_amount_minor,omitempty"`
}

// Rule is a company-scoped approval rule for one target kind, applying to
// amounts within [ThresholdMinMinor, ThresholdMaxMinor]. A max of zero means
// unbounded. Deactivation soft-deletes the rule; it never mutates history.
type Rule struct {
	ID                int64
	CompanyID         int64
	TargetKind        TargetKind
	ThresholdMinMinor int64
	ThresholdMaxMinor int64
	Levels            []Level
	Active            bool
	CreatedBy         int64
	DeactivatedAt     *time.Time
}

// Level returns the configured level by number, or nil.
func (r Rule) Level(levelNo int) *Level {
	for i := range r.Levels {
		if r.Levels[i].LevelNo == levelNo {
			return &r.Levels[i]
		}
	}
	return nil
}

// FirstLevel returns the lowest configured level, or nil.
func (r Rule) FirstLevel() *Level {
	if len(r.Levels) == 0 {
		return nil
	}
	first := &r.Levels[0]
	for i := range r.Levels {
		if r.Levels[i].LevelNo < first.LevelNo {
			first = &r.Levels[i]
		}
	}
	return first
}

// Matches reports whether the rule applies to an amount in minor units.
func (r Rule) Matches(amountMinor int64) bool {
	if amountMinor < r.ThresholdMinMinor {
		return false
	}
	return r.ThresholdMaxMinor == 0 || amountMinor <= r.ThresholdMaxMinor
}

// ValidateLevels enforces write-time invariants on a rule's level list:
// at least one level, unique ascending level numbers, exactly one approver
// variant per level, non-negative ceilings.
func ValidateLevels(levels []Level) error {
	if len(levels) == 0 {
		return fmt.Errorf("%w: rule requires at least one level", ErrValidation)
	}
	seen := make(map[int]bool, len(levels))
	for _, lvl := range levels {
		if lvl.LevelNo <= 0 {
			return fmt.Errorf("%w: level_no must be positive", ErrValidation)
		}
		if seen[lvl.LevelNo] {
			return fmt.Errorf("%w: duplicate level_no %d", ErrValidation, lvl.LevelNo)
		}
		seen[lvl.LevelNo] = true
		if err := lvl.ApproverSpec.Validate(); err != nil {
			return err
		}
		if lvl.MaxAmountMinor < 0 {
			return fmt.Errorf("%w: max_amount_minor must not be negative", ErrValidation)
		}
	}
	return nil
}

// DecodeLevels parses the stored JSON level configuration and sorts it by
// level number. Decoding is lenient; ValidateLevels holds the strict checks
// so legacy rows still load.
func DecodeLevels(raw []byte) ([]Level, error) {
	var levels []Level
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("approval: decode levels: %w", err)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].LevelNo < levels[j].LevelNo })
	return levels, nil
}

// EncodeLevels serialises levels for storage.
func EncodeLevels(levels []Level) ([]byte, error) {
	return json.Marshal(levels)
}

// Approval is one row per (target, level). For a given target at most one
// pending approval exists at any time: the lowest unresolved level.
type Approval struct {
	ID           int64
	CompanyID    int64
	RuleID       int64
	TargetKind   TargetKind
	TargetID     int64
	LevelNo      int
	AmountMinor  int64
	Currency     string
	Status       Status
	ApprovedByID int64
	Comment      string
	ApprovedAt   *time.Time
	CreatedAt    time.Time
}

// Delegation lets one user act as another's approver for an inclusive date
// range within a company.
type Delegation struct {
	ID             int64
	CompanyID      int64
	ApproverUserID int64
	DelegateUserID int64
	StartsAt       time.Time
	EndsAt         time.Time
	CreatedAt      time.Time
}

// Covers reports whether asOf falls inside the delegation's inclusive range.
// Only the calendar date matters.
func (d Delegation) Covers(asOf time.Time) bool {
	day := asOf.Truncate(24 * time.Hour)
	start := d.StartsAt.Truncate(24 * time.Hour)
	end := d.EndsAt.Truncate(24 * time.Hour)
	return !day.Before(start) && !day.After(end)
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("approval: not found")
	// ErrInvalidState occurs when acting on a non-pending approval.
	ErrInvalidState = errors.New("approval: approval is not pending")
	// ErrForbidden occurs when the acting user is neither the expected
	// approver, an active delegate, nor a holder of the level's role.
	ErrForbidden = errors.New("approval: user may not act on this level")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("approval: invalid input")
	// ErrNoApprover indicates the level cannot resolve to an approver for
	// the amount: missing config, exceeded ceiling, or an empty role.
	ErrNoApprover = errors.New("approval: no resolvable approver")
)
