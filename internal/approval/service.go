package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcelane/sourcelane/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetApproval(ctx context.Context, companyID, id int64) (Approval, error)
	GetRule(ctx context.Context, companyID, id int64) (Rule, error)
	ListActiveRules(ctx context.Context, companyID int64, kind TargetKind) ([]Rule, error)
	ListPending(ctx context.Context, companyID int64) ([]Approval, error)
	ListDelegations(ctx context.Context, companyID, approverUserID int64) ([]Delegation, error)
	GetDelegation(ctx context.Context, companyID, id int64) (Delegation, error)
	CreateRule(ctx context.Context, rule Rule) (int64, error)
	DeactivateRule(ctx context.Context, companyID, id int64, at time.Time) error
	CreateDelegation(ctx context.Context, d Delegation) (int64, error)
	UpdateDelegation(ctx context.Context, d Delegation) error
	DeleteDelegation(ctx context.Context, companyID, id int64) error
}

// NotifierPort hands the next pending approver off to the notification
// pipeline. Delivery happens outside this core; only the "who" is computed
// here.
type NotifierPort interface {
	ApprovalHandoff(ctx context.Context, a Approval, approverID int64) error
}

// AuditPort records before/after snapshots of mutated rows.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates approval chains: creation, decisions, and level
// advancement.
type Service struct {
	repo     RepositoryPort
	resolver *Resolver
	audit    AuditPort
	notifier NotifierPort
	now      func() time.Time
}

// NewService constructs the approval service.
func NewService(repo RepositoryPort, resolver *Resolver, audit AuditPort, notifier NotifierPort) *Service {
	return &Service{repo: repo, resolver: resolver, audit: audit, notifier: notifier, now: time.Now}
}

// StartChainInput describes a threshold-crossing business object.
type StartChainInput struct {
	CompanyID   int64
	TargetKind  TargetKind
	TargetID    int64
	AmountMinor int64
	Currency    string
	ActorID     int64
}

// StartChain creates the first pending level for every active rule matching
// the target kind and amount. Re-submitting the same target is idempotent:
// an already materialised level is returned, not duplicated.
func (s *Service) StartChain(ctx context.Context, input StartChainInput) ([]Approval, error) {
	if !input.TargetKind.Valid() {
		return nil, fmt.Errorf("%w: unknown target kind %q", ErrValidation, input.TargetKind)
	}
	if input.TargetID == 0 {
		return nil, fmt.Errorf("%w: target id required", ErrValidation)
	}
	rules, err := s.repo.ListActiveRules(ctx, input.CompanyID, input.TargetKind)
	if err != nil {
		return nil, err
	}
	var created []Approval
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, rule := range rules {
			if !rule.Matches(input.AmountMinor) {
				continue
			}
			first := rule.FirstLevel()
			if first == nil {
				continue
			}
			a := Approval{
				CompanyID:   input.CompanyID,
				RuleID:      rule.ID,
				TargetKind:  input.TargetKind,
				TargetID:    input.TargetID,
				LevelNo:     first.LevelNo,
				AmountMinor: input.AmountMinor,
				Currency:    input.Currency,
				Status:      StatusPending,
			}
			id, err := tx.CreateApproval(ctx, a)
			if errors.Is(err, ErrDuplicateLevel) {
				existing, ferr := tx.FindApproval(ctx, input.CompanyID, input.TargetKind, input.TargetID, first.LevelNo)
				if ferr != nil {
					return ferr
				}
				created = append(created, existing)
				continue
			}
			if err != nil {
				return err
			}
			a.ID = id
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, a := range created {
		s.handoff(ctx, a)
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "APPROVAL_CHAIN_START",
		fmt.Sprintf("%s:%d", input.TargetKind, input.TargetID), nil, created)
	return created, nil
}

// ProcessInput carries a decision on a pending approval.
type ProcessInput struct {
	CompanyID  int64
	ApprovalID int64
	Decision   Decision
	Comment    string
	ActorID    int64
}

// ProcessResult reports the decided approval and, after an approve that has
// a configured next level, the newly pending approval.
type ProcessResult struct {
	Approval Approval
	Next     *Approval
	// ChainComplete is true when an approve resolved the final level.
	ChainComplete bool
}

// Process applies a single approve/reject decision.
//
// Approve advances the chain: the next configured level is materialised as a
// new pending row, idempotently. Reject is terminal for the whole chain; no
// further levels are ever created. The status flip is a compare-and-swap so
// two concurrent decisions on the same level cannot both advance it.
func (s *Service) Process(ctx context.Context, input ProcessInput) (ProcessResult, error) {
	if input.Decision != DecisionApprove && input.Decision != DecisionReject {
		return ProcessResult{}, fmt.Errorf("%w: unknown decision %q", ErrValidation, input.Decision)
	}
	a, err := s.repo.GetApproval(ctx, input.CompanyID, input.ApprovalID)
	if err != nil {
		return ProcessResult{}, err
	}
	if a.Status != StatusPending {
		return ProcessResult{}, ErrInvalidState
	}
	rule, err := s.repo.GetRule(ctx, input.CompanyID, a.RuleID)
	if err != nil {
		return ProcessResult{}, err
	}
	if err := s.authorize(ctx, rule, a, input.ActorID); err != nil {
		return ProcessResult{}, err
	}

	before := a
	now := s.now()
	status := StatusApproved
	if input.Decision == DecisionReject {
		status = StatusRejected
	}

	result := ProcessResult{}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.DecideApproval(ctx, input.CompanyID, a.ID, status, input.ActorID, input.Comment, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race against a concurrent decision.
			return ErrInvalidState
		}
		a.Status = status
		a.ApprovedByID = input.ActorID
		a.Comment = input.Comment
		a.ApprovedAt = &now
		result.Approval = a

		if status != StatusApproved {
			return nil
		}
		next := rule.Level(a.LevelNo + 1)
		if next == nil {
			result.ChainComplete = true
			return nil
		}
		na := Approval{
			CompanyID:   a.CompanyID,
			RuleID:      a.RuleID,
			TargetKind:  a.TargetKind,
			TargetID:    a.TargetID,
			LevelNo:     next.LevelNo,
			AmountMinor: a.AmountMinor,
			Currency:    a.Currency,
			Status:      StatusPending,
		}
		id, err := tx.CreateApproval(ctx, na)
		if errors.Is(err, ErrDuplicateLevel) {
			existing, ferr := tx.FindApproval(ctx, a.CompanyID, a.TargetKind, a.TargetID, next.LevelNo)
			if ferr != nil {
				return ferr
			}
			result.Next = &existing
			return nil
		}
		if err != nil {
			return err
		}
		na.ID = id
		result.Next = &na
		return nil
	})
	if err != nil {
		return ProcessResult{}, err
	}

	s.recordAudit(ctx, a.CompanyID, input.ActorID, "APPROVAL_"+string(input.Decision),
		fmt.Sprintf("%d", a.ID), before, result.Approval)
	if result.Next != nil {
		s.handoff(ctx, *result.Next)
	}
	return result, nil
}

// authorize verifies the actor may decide this level: the expected approver,
// an active delegate of them as of today, or any holder of the level's role.
func (s *Service) authorize(ctx context.Context, rule Rule, a Approval, actorID int64) error {
	expected, err := s.resolver.ExpectedApprover(ctx, rule, a)
	if err != nil && !errors.Is(err, ErrNoApprover) {
		return err
	}
	if expected != 0 {
		if actorID == expected {
			return nil
		}
		delegations, err := s.repo.ListDelegations(ctx, a.CompanyID, expected)
		if err != nil {
			return err
		}
		if d := ActiveDelegate(delegations, s.now()); d != nil && d.DelegateUserID == actorID {
			return nil
		}
	}
	if lvl := rule.Level(a.LevelNo); lvl != nil && lvl.Role != "" {
		ok, err := s.resolver.directory.UserHasRole(ctx, a.CompanyID, actorID, lvl.Role)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden
}

// ListPendingFor returns pending approvals the user may act on. Approvals
// whose rule cannot resolve an approver are silently excluded until an admin
// fixes the rule.
func (s *Service) ListPendingFor(ctx context.Context, companyID, userID int64) ([]Approval, error) {
	pending, err := s.repo.ListPending(ctx, companyID)
	if err != nil {
		return nil, err
	}
	rules := make(map[int64]Rule)
	var queue []Approval
	for _, a := range pending {
		rule, ok := rules[a.RuleID]
		if !ok {
			rule, err = s.repo.GetRule(ctx, companyID, a.RuleID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			rules[a.RuleID] = rule
		}
		if err := s.authorize(ctx, rule, a, userID); err != nil {
			if errors.Is(err, ErrForbidden) {
				continue
			}
			return nil, err
		}
		queue = append(queue, a)
	}
	return queue, nil
}

// ResolveActiveDelegate returns the delegate covering asOf for the expected
// approver, or nil. Pure read.
func (s *Service) ResolveActiveDelegate(ctx context.Context, companyID, approverUserID int64, asOf time.Time) (*Delegation, error) {
	delegations, err := s.repo.ListDelegations(ctx, companyID, approverUserID)
	if err != nil {
		return nil, err
	}
	return ActiveDelegate(delegations, asOf), nil
}

func (s *Service) handoff(ctx context.Context, a Approval) {
	if s.notifier == nil {
		return
	}
	rule, err := s.repo.GetRule(ctx, a.CompanyID, a.RuleID)
	if err != nil {
		return
	}
	approverID, err := s.resolver.ExpectedApprover(ctx, rule, a)
	if err != nil {
		// Misconfigured rule: the approval stays out of everyone's queue
		// until the rule is fixed. Not an error here.
		return
	}
	_ = s.notifier.ApprovalHandoff(ctx, a, approverID)
}

func (s *Service) recordAudit(ctx context.Context, companyID, actorID int64, action, entityID string, before, after any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "approval",
		EntityID:  entityID,
		Before:    before,
		After:     after,
	})
}
