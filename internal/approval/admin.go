package approval

import (
	"context"
	"fmt"
	"time"
)

// CreateRuleInput describes a new approval rule.
type CreateRuleInput struct {
	CompanyID         int64
	TargetKind        TargetKind
	ThresholdMinMinor int64
	ThresholdMaxMinor int64
	Levels            []Level
	ActorID           int64
}

// CreateRule validates and persists a rule. Level configuration is checked
// strictly at write time so a rule that can never resolve an approver is
// rejected before it silently stalls chains.
func (s *Service) CreateRule(ctx context.Context, input CreateRuleInput) (Rule, error) {
	if !input.TargetKind.Valid() {
		return Rule{}, fmt.Errorf("%w: unknown target kind %q", ErrValidation, input.TargetKind)
	}
	if input.ThresholdMinMinor < 0 || input.ThresholdMaxMinor < 0 {
		return Rule{}, fmt.Errorf("%w: thresholds must not be negative", ErrValidation)
	}
	if input.ThresholdMaxMinor != 0 && input.ThresholdMaxMinor < input.ThresholdMinMinor {
		return Rule{}, fmt.Errorf("%w: threshold_max below threshold_min", ErrValidation)
	}
	if err := ValidateLevels(input.Levels); err != nil {
		return Rule{}, err
	}
	rule := Rule{
		CompanyID:         input.CompanyID,
		TargetKind:        input.TargetKind,
		ThresholdMinMinor: input.ThresholdMinMinor,
		ThresholdMaxMinor: input.ThresholdMaxMinor,
		Levels:            input.Levels,
		Active:            true,
		CreatedBy:         input.ActorID,
	}
	id, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return Rule{}, err
	}
	rule.ID = id
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "APPROVAL_RULE_CREATE", fmt.Sprintf("%d", id), nil, rule)
	return rule, nil
}

// DeactivateRule soft-deletes a rule. Existing approval history is never
// mutated; in-flight chains keep resolving against the stored rule.
func (s *Service) DeactivateRule(ctx context.Context, companyID, ruleID, actorID int64) error {
	rule, err := s.repo.GetRule(ctx, companyID, ruleID)
	if err != nil {
		return err
	}
	if !rule.Active {
		return nil
	}
	now := s.now()
	if err := s.repo.DeactivateRule(ctx, companyID, ruleID, now); err != nil {
		return err
	}
	after := rule
	after.Active = false
	after.DeactivatedAt = &now
	s.recordAudit(ctx, companyID, actorID, "APPROVAL_RULE_DEACTIVATE", fmt.Sprintf("%d", ruleID), rule, after)
	return nil
}

// DelegationInput describes delegation create/update payloads.
type DelegationInput struct {
	CompanyID      int64
	ApproverUserID int64
	DelegateUserID int64
	StartsAt       time.Time
	EndsAt         time.Time
	ActorID        int64
}

func (in DelegationInput) validate() error {
	if in.ApproverUserID == 0 || in.DelegateUserID == 0 {
		return fmt.Errorf("%w: approver and delegate required", ErrValidation)
	}
	if in.ApproverUserID == in.DelegateUserID {
		return fmt.Errorf("%w: user cannot delegate to themselves", ErrValidation)
	}
	if in.EndsAt.Before(in.StartsAt) {
		return fmt.Errorf("%w: ends_at before starts_at", ErrValidation)
	}
	return nil
}

// CreateDelegation registers a time-bounded substitution.
func (s *Service) CreateDelegation(ctx context.Context, input DelegationInput) (Delegation, error) {
	if err := input.validate(); err != nil {
		return Delegation{}, err
	}
	d := Delegation{
		CompanyID:      input.CompanyID,
		ApproverUserID: input.ApproverUserID,
		DelegateUserID: input.DelegateUserID,
		StartsAt:       input.StartsAt,
		EndsAt:         input.EndsAt,
	}
	id, err := s.repo.CreateDelegation(ctx, d)
	if err != nil {
		return Delegation{}, err
	}
	d.ID = id
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "DELEGATION_CREATE", fmt.Sprintf("%d", id), nil, d)
	return d, nil
}

// UpdateDelegation changes a delegation's delegate or range.
func (s *Service) UpdateDelegation(ctx context.Context, delegationID int64, input DelegationInput) (Delegation, error) {
	if err := input.validate(); err != nil {
		return Delegation{}, err
	}
	before, err := s.repo.GetDelegation(ctx, input.CompanyID, delegationID)
	if err != nil {
		return Delegation{}, err
	}
	d := before
	d.ApproverUserID = input.ApproverUserID
	d.DelegateUserID = input.DelegateUserID
	d.StartsAt = input.StartsAt
	d.EndsAt = input.EndsAt
	if err := s.repo.UpdateDelegation(ctx, d); err != nil {
		return Delegation{}, err
	}
	s.recordAudit(ctx, input.CompanyID, input.ActorID, "DELEGATION_UPDATE", fmt.Sprintf("%d", d.ID), before, d)
	return d, nil
}

// DeleteDelegation removes a delegation.
func (s *Service) DeleteDelegation(ctx context.Context, companyID, delegationID, actorID int64) error {
	before, err := s.repo.GetDelegation(ctx, companyID, delegationID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDelegation(ctx, companyID, delegationID); err != nil {
		return err
	}
	s.recordAudit(ctx, companyID, actorID, "DELEGATION_DELETE", fmt.Sprintf("%d", delegationID), before, nil)
	return nil
}
