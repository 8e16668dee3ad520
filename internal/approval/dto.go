package approval

import "time"

// StartChainRequest submits a business object for approval. Amount is a
// display value in the given currency.
type StartChainRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=rfq purchase_order change_order invoice ncr"`
	TargetID   int64  `json:"target_id" validate:"required,gt=0"`
	Amount     string `json:"amount" validate:"required"`
	Currency   string `json:"currency" validate:"required,len=3"`
}

// DecisionRequest is the approval action payload.
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Comment  string `json:"comment" validate:"max=2000"`
}

// RuleRequest is the rule creation payload. Amounts are display values in
// the company currency; the handler converts to minor units.
type RuleRequest struct {
	TargetType   string             `json:"target_type" validate:"required,oneof=rfq purchase_order change_order invoice ncr"`
	ThresholdMin string             `json:"threshold_min" validate:"omitempty"`
	ThresholdMax string             `json:"threshold_max" validate:"omitempty"`
	Levels       []RuleLevelRequest `json:"levels" validate:"required,min=1,dive"`
}

// RuleLevelRequest is one level of a rule payload.
type RuleLevelRequest struct {
	LevelNo        int    `json:"level_no" validate:"required,min=1"`
	ApproverUserID int64  `json:"approver_user_id"`
	ApproverRole   string `json:"approver_role"`
	MaxAmount      string `json:"max_amount"`
}

// DelegationRequest is the delegation create/update payload.
type DelegationRequest struct {
	ApproverUserID int64  `json:"approver_user_id" validate:"required"`
	DelegateUserID int64  `json:"delegate_user_id" validate:"required"`
	StartsAt       string `json:"starts_at" validate:"required,datetime=2006-01-02"`
	EndsAt         string `json:"ends_at" validate:"required,datetime=2006-01-02"`
}

// ApprovalResponse is the wire shape of an approval row.
type ApprovalResponse struct {
	ID           int64      `json:"id"`
	RuleID       int64      `json:"rule_id"`
	TargetType   string     `json:"target_type"`
	TargetID     int64      `json:"target_id"`
	LevelNo      int        `json:"level_no"`
	AmountMinor  int64      `json:"amount_minor"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	ApprovedByID int64      `json:"approved_by_id,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

func toApprovalResponse(a Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:           a.ID,
		RuleID:       a.RuleID,
		TargetType:   string(a.TargetKind),
		TargetID:     a.TargetID,
		LevelNo:      a.LevelNo,
		AmountMinor:  a.AmountMinor,
		Currency:     a.Currency,
		Status:       string(a.Status),
		ApprovedByID: a.ApprovedByID,
		Comment:      a.Comment,
		ApprovedAt:   a.ApprovedAt,
	}
}

// DelegationResponse is the wire shape of a delegation.
type DelegationResponse struct {
	ID             int64  `json:"id"`
	ApproverUserID int64  `json:"approver_user_id"`
	DelegateUserID int64  `json:"delegate_user_id"`
	StartsAt       string `json:"starts_at"`
	EndsAt         string `json:"ends_at"`
}

func toDelegationResponse(d Delegation) DelegationResponse {
	return DelegationResponse{
		ID:             d.ID,
		ApproverUserID: d.ApproverUserID,
		DelegateUserID: d.DelegateUserID,
		StartsAt:       d.StartsAt.Format("2006-01-02"),
		EndsAt:         d.EndsAt.Format("2006-01-02"),
	}
}
