package jobs

import (
	"context"

	"github.com/sourcelane/sourcelane/internal/approval"
)

// ApprovalNotifier enqueues handoff tasks for newly pending approvals.
type ApprovalNotifier struct {
	client *Client
}

func NewApprovalNotifier(client *Client) *ApprovalNotifier {
	return &ApprovalNotifier{client: client}
}

func (n *ApprovalNotifier) ApprovalHandoff(ctx context.Context, a approval.Approval, approverID int64) error {
	_, err := n.client.EnqueueApprovalHandoff(ctx, ApprovalHandoffPayload{
		CompanyID:      a.CompanyID,
		ApprovalID:     a.ID,
		TargetType:     string(a.TargetKind),
		TargetID:       a.TargetID,
		LevelNo:        a.LevelNo,
		ApproverUserID: approverID,
	})
	return err
}
