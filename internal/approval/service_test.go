package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryApprovalRepo struct {
	approvals   map[int64]Approval
	rules       map[int64]Rule
	delegations map[int64]Delegation
	nextID      int64
}

func newMemoryApprovalRepo() *memoryApprovalRepo {
	return &memoryApprovalRepo{
		approvals:   make(map[int64]Approval),
		rules:       make(map[int64]Rule),
		delegations: make(map[int64]Delegation),
	}
}

type memoryApprovalTx struct {
	repo *memoryApprovalRepo
}

func (r *memoryApprovalRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryApprovalRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryApprovalTx{repo: r})
}

func (r *memoryApprovalRepo) GetApproval(ctx context.Context, companyID, id int64) (Approval, error) {
	a, ok := r.approvals[id]
	if !ok || a.CompanyID != companyID {
		return Approval{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryApprovalRepo) GetRule(ctx context.Context, companyID, id int64) (Rule, error) {
	rule, ok := r.rules[id]
	if !ok || rule.CompanyID != companyID {
		return Rule{}, ErrNotFound
	}
	return rule, nil
}

func (r *memoryApprovalRepo) ListActiveRules(ctx context.Context, companyID int64, kind TargetKind) ([]Rule, error) {
	var rules []Rule
	for _, rule := range r.rules {
		if rule.CompanyID == companyID && rule.TargetKind == kind && rule.Active {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (r *memoryApprovalRepo) ListPending(ctx context.Context, companyID int64) ([]Approval, error) {
	var pending []Approval
	for _, a := range r.approvals {
		if a.CompanyID == companyID && a.Status == StatusPending {
			pending = append(pending, a)
		}
	}
	return pending, nil
}

func (r *memoryApprovalRepo) ListDelegations(ctx context.Context, companyID, approverUserID int64) ([]Delegation, error) {
	var out []Delegation
	for _, d := range r.delegations {
		if d.CompanyID == companyID && d.ApproverUserID == approverUserID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memoryApprovalRepo) GetDelegation(ctx context.Context, companyID, id int64) (Delegation, error) {
	d, ok := r.delegations[id]
	if !ok || d.CompanyID != companyID {
		return Delegation{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryApprovalRepo) CreateRule(ctx context.Context, rule Rule) (int64, error) {
	id := r.id()
	rule.ID = id
	r.rules[id] = rule
	return id, nil
}

func (r *memoryApprovalRepo) DeactivateRule(ctx context.Context, companyID, id int64, at time.Time) error {
	rule, ok := r.rules[id]
	if !ok || rule.CompanyID != companyID {
		return ErrNotFound
	}
	rule.Active = false
	rule.DeactivatedAt = &at
	r.rules[id] = rule
	return nil
}

func (r *memoryApprovalRepo) CreateDelegation(ctx context.Context, d Delegation) (int64, error) {
	id := r.id()
	d.ID = id
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	r.delegations[id] = d
	return id, nil
}

func (r *memoryApprovalRepo) UpdateDelegation(ctx context.Context, d Delegation) error {
	if _, ok := r.delegations[d.ID]; !ok {
		return ErrNotFound
	}
	r.delegations[d.ID] = d
	return nil
}

func (r *memoryApprovalRepo) DeleteDelegation(ctx context.Context, companyID, id int64) error {
	if _, ok := r.delegations[id]; !ok {
		return ErrNotFound
	}
	delete(r.delegations, id)
	return nil
}

func (t *memoryApprovalTx) DecideApproval(ctx context.Context, companyID, id int64, status Status, actorID int64, comment string, at time.Time) (bool, error) {
	a, ok := t.repo.approvals[id]
	if !ok || a.CompanyID != companyID || a.Status != StatusPending {
		return false, nil
	}
	a.Status = status
	a.ApprovedByID = actorID
	a.Comment = comment
	a.ApprovedAt = &at
	t.repo.approvals[id] = a
	return true, nil
}

func (t *memoryApprovalTx) CreateApproval(ctx context.Context, a Approval) (int64, error) {
	for _, existing := range t.repo.approvals {
		if existing.TargetKind == a.TargetKind && existing.TargetID == a.TargetID && existing.LevelNo == a.LevelNo {
			return 0, ErrDuplicateLevel
		}
	}
	id := t.repo.id()
	a.ID = id
	a.CreatedAt = time.Now()
	t.repo.approvals[id] = a
	return id, nil
}

func (t *memoryApprovalTx) FindApproval(ctx context.Context, companyID int64, kind TargetKind, targetID int64, levelNo int) (Approval, error) {
	for _, a := range t.repo.approvals {
		if a.CompanyID == companyID && a.TargetKind == kind && a.TargetID == targetID && a.LevelNo == levelNo {
			return a, nil
		}
	}
	return Approval{}, ErrNotFound
}

type recordedHandoff struct {
	approval   Approval
	approverID int64
}

type stubNotifier struct {
	handoffs []recordedHandoff
}

func (s *stubNotifier) ApprovalHandoff(ctx context.Context, a Approval, approverID int64) error {
	s.handoffs = append(s.handoffs, recordedHandoff{approval: a, approverID: approverID})
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryApprovalRepo, *stubDirectory, *stubNotifier) {
	t.Helper()
	repo := newMemoryApprovalRepo()
	dir := &stubDirectory{roleMembers: map[string][]int64{"finance": {7}}}
	notifier := &stubNotifier{}
	svc := NewService(repo, NewResolver(dir), nil, notifier)
	return svc, repo, dir, notifier
}

func seedRule(repo *memoryApprovalRepo, levels []Level) Rule {
	rule := Rule{CompanyID: 1, TargetKind: TargetInvoice, Levels: levels, Active: true}
	id, _ := repo.CreateRule(context.Background(), rule)
	rule.ID = id
	return rule
}

func pendingCount(repo *memoryApprovalRepo, kind TargetKind, targetID int64) int {
	n := 0
	for _, a := range repo.approvals {
		if a.TargetKind == kind && a.TargetID == targetID && a.Status == StatusPending {
			n++
		}
	}
	return n
}

func TestChainRoleThenUser(t *testing.T) {
	svc, repo, _, notifier := newTestService(t)
	ctx := context.Background()
	seedRule(repo, []Level{
		{LevelNo: 1, ApproverSpec: ApproverSpec{Role: "finance"}},
		{LevelNo: 2, ApproverSpec: ApproverSpec{UserID: 42}},
	})

	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 55,
		AmountMinor: 120000, Currency: "USD", ActorID: 3,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, 1, created[0].LevelNo)
	require.Len(t, notifier.handoffs, 1)
	require.EqualValues(t, 7, notifier.handoffs[0].approverID)

	// A finance-role user approves level 1; level 2 pends for user 42.
	result, err := svc.Process(ctx, ProcessInput{
		CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionApprove, ActorID: 7,
	})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, result.Approval.Status)
	require.False(t, result.ChainComplete)
	require.NotNil(t, result.Next)
	require.Equal(t, 2, result.Next.LevelNo)
	require.Equal(t, 1, pendingCount(repo, TargetInvoice, 55))
	require.EqualValues(t, 42, notifier.handoffs[len(notifier.handoffs)-1].approverID)

	// User 42 approves level 2; no level 3 exists, the chain completes.
	result, err = svc.Process(ctx, ProcessInput{
		CompanyID: 1, ApprovalID: result.Next.ID, Decision: DecisionApprove, ActorID: 42,
	})
	require.NoError(t, err)
	require.True(t, result.ChainComplete)
	require.Nil(t, result.Next)
	require.Equal(t, 0, pendingCount(repo, TargetInvoice, 55))
}

func TestAtMostOnePending(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedRule(repo, []Level{
		{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 10}},
		{LevelNo: 2, ApproverSpec: ApproverSpec{UserID: 20}},
		{LevelNo: 3, ApproverSpec: ApproverSpec{UserID: 30}},
	})

	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 9, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)

	// Restart is idempotent: no second level-1 row.
	again, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 9, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)
	require.Equal(t, created[0].ID, again[0].ID)
	require.Equal(t, 1, pendingCount(repo, TargetInvoice, 9))

	approvers := []int64{10, 20, 30}
	id := created[0].ID
	for i, actor := range approvers {
		require.LessOrEqual(t, pendingCount(repo, TargetInvoice, 9), 1)
		result, err := svc.Process(ctx, ProcessInput{CompanyID: 1, ApprovalID: id, Decision: DecisionApprove, ActorID: actor})
		require.NoError(t, err)
		if i < len(approvers)-1 {
			require.NotNil(t, result.Next)
			id = result.Next.ID
		} else {
			require.True(t, result.ChainComplete)
		}
	}
	require.Equal(t, 0, pendingCount(repo, TargetInvoice, 9))
}

func TestRejectionIsTerminal(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	seedRule(repo, []Level{
		{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 10}},
		{LevelNo: 2, ApproverSpec: ApproverSpec{UserID: 20}},
	})
	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 77, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)

	result, err := svc.Process(ctx, ProcessInput{
		CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionReject, Comment: "over budget", ActorID: 10,
	})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, result.Approval.Status)
	require.Nil(t, result.Next)
	require.Equal(t, 0, pendingCount(repo, TargetInvoice, 77))

	// Acting again on the rejected level conflicts.
	_, err = svc.Process(ctx, ProcessInput{CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionApprove, ActorID: 10})
	require.ErrorIs(t, err, ErrInvalidState)

	// No level 2 was ever materialised.
	for _, a := range repo.approvals {
		require.NotEqual(t, 2, a.LevelNo)
	}
}

func TestDelegateFallback(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }
	seedRule(repo, []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 100}}})

	_, err := repo.CreateDelegation(ctx, Delegation{
		CompanyID: 1, ApproverUserID: 100, DelegateUserID: 200,
		StartsAt: now.AddDate(0, 0, -1), EndsAt: now.AddDate(0, 0, 1),
	})
	require.NoError(t, err)

	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 5, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)

	// An unrelated third party is rejected.
	_, err = svc.Process(ctx, ProcessInput{CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionApprove, ActorID: 300})
	require.ErrorIs(t, err, ErrForbidden)

	// The active delegate may act for the expected approver.
	result, err := svc.Process(ctx, ProcessInput{CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionApprove, ActorID: 200})
	require.NoError(t, err)
	require.EqualValues(t, 200, result.Approval.ApprovedByID)
}

func TestExpiredDelegationDoesNotAuthorize(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()
	svc.now = func() time.Time { return now }
	seedRule(repo, []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 100}}})

	_, err := repo.CreateDelegation(ctx, Delegation{
		CompanyID: 1, ApproverUserID: 100, DelegateUserID: 200,
		StartsAt: now.AddDate(0, 0, -10), EndsAt: now.AddDate(0, 0, -2),
	})
	require.NoError(t, err)

	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 6, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)

	_, err = svc.Process(ctx, ProcessInput{CompanyID: 1, ApprovalID: created[0].ID, Decision: DecisionApprove, ActorID: 200})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestMisconfiguredRuleExcludedFromQueue(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	// Level resolves to nobody: both variants empty.
	rule := seedRule(repo, []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 10}}})
	broken := rule
	broken.Levels = []Level{{LevelNo: 1}}
	repo.rules[rule.ID] = broken

	_, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 8, AmountMinor: 100, Currency: "USD",
	})
	require.NoError(t, err)

	// The approval exists but shows in nobody's queue until the rule is fixed.
	queue, err := svc.ListPendingFor(ctx, 1, 10)
	require.NoError(t, err)
	require.Empty(t, queue)
	require.Equal(t, 1, pendingCount(repo, TargetInvoice, 8))
}

func TestStartChainThresholdFilter(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	rule := Rule{
		CompanyID: 1, TargetKind: TargetInvoice, Active: true,
		ThresholdMinMinor: 100000,
		Levels:            []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 10}}},
	}
	_, err := repo.CreateRule(ctx, rule)
	require.NoError(t, err)

	created, err := svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 4, AmountMinor: 99999, Currency: "USD",
	})
	require.NoError(t, err)
	require.Empty(t, created)

	created, err = svc.StartChain(ctx, StartChainInput{
		CompanyID: 1, TargetKind: TargetInvoice, TargetID: 4, AmountMinor: 100000, Currency: "USD",
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestCreateRuleRecordsCreator(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	rule, err := svc.CreateRule(ctx, CreateRuleInput{
		CompanyID:  1,
		TargetKind: TargetInvoice,
		Levels:     []Level{{LevelNo: 1, ApproverSpec: ApproverSpec{UserID: 10}}},
		ActorID:    42,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), rule.CreatedBy)
	require.Equal(t, int64(42), repo.rules[rule.ID].CreatedBy)
}
