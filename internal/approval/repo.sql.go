package approval

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcelane/sourcelane/internal/platform/db"
)

// ErrDuplicateLevel indicates an approval row already exists for the
// (target, level) pair. The uniqueness constraint backs the at-most-one
// pending invariant under concurrent level advancement.
var ErrDuplicateLevel = errors.New("approval: level already exists for target")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	DecideApproval(ctx context.Context, companyID, id int64, status Status, actorID int64, comment string, at time.Time) (bool, error)
	CreateApproval(ctx context.Context, a Approval) (int64, error)
	FindApproval(ctx context.Context, companyID int64, kind TargetKind, targetID int64, levelNo int) (Approval, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const approvalColumns = `id, company_id, rule_id, target_type, target_id, level_no,
amount_minor, currency, status, COALESCE(approved_by_id,0), COALESCE(comment,''), approved_at, created_at`

func scanApproval(row pgx.Row) (Approval, error) {
	var a Approval
	var kind string
	var status string
	err := row.Scan(&a.ID, &a.CompanyID, &a.RuleID, &kind, &a.TargetID, &a.LevelNo,
		&a.AmountMinor, &a.Currency, &status, &a.ApprovedByID, &a.Comment, &a.ApprovedAt, &a.CreatedAt)
	if err != nil {
		return Approval{}, err
	}
	a.TargetKind = TargetKind(kind)
	a.Status = Status(status)
	return a, nil
}

// GetApproval returns one approval scoped to the company.
func (r *Repository) GetApproval(ctx context.Context, companyID, id int64) (Approval, error) {
	a, err := scanApproval(r.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrNotFound
		}
		return Approval{}, err
	}
	return a, nil
}

// ListPending returns pending approvals for a company, oldest first.
func (r *Repository) ListPending(ctx context.Context, companyID int64) ([]Approval, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE company_id=$1 AND status='pending' ORDER BY created_at ASC, id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var approvals []Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	var kind string
	var levelsJSON []byte
	err := row.Scan(&rule.ID, &rule.CompanyID, &kind, &rule.ThresholdMinMinor, &rule.ThresholdMaxMinor,
		&levelsJSON, &rule.Active, &rule.CreatedBy, &rule.DeactivatedAt)
	if err != nil {
		return Rule{}, err
	}
	rule.TargetKind = TargetKind(kind)
	rule.Levels, err = DecodeLevels(levelsJSON)
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

const ruleColumns = `id, company_id, target_type, threshold_min_minor, threshold_max_minor, levels, active, created_by, deactivated_at`

// GetRule returns a rule including deactivated ones; in-flight chains keep
// resolving against deactivated rules.
func (r *Repository) GetRule(ctx context.Context, companyID, id int64) (Rule, error) {
	rule, err := scanRule(r.pool.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM approval_rules WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrNotFound
		}
		return Rule{}, err
	}
	return rule, nil
}

// ListActiveRules returns active rules for a company and target kind.
func (r *Repository) ListActiveRules(ctx context.Context, companyID int64, kind TargetKind) ([]Rule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ruleColumns+` FROM approval_rules WHERE company_id=$1 AND target_type=$2 AND active ORDER BY id`, companyID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateRule inserts a rule and its JSON level configuration.
func (r *Repository) CreateRule(ctx context.Context, rule Rule) (int64, error) {
	levelsJSON, err := EncodeLevels(rule.Levels)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO approval_rules
(company_id, target_type, threshold_min_minor, threshold_max_minor, levels, active, created_by)
VALUES ($1, $2, $3, $4, $5, true, $6) RETURNING id`,
		rule.CompanyID, string(rule.TargetKind), rule.ThresholdMinMinor, rule.ThresholdMaxMinor, levelsJSON, rule.CreatedBy).Scan(&id)
	return id, err
}

// DeactivateRule soft-deletes a rule.
func (r *Repository) DeactivateRule(ctx context.Context, companyID, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE approval_rules SET active=false, deactivated_at=$3 WHERE company_id=$1 AND id=$2 AND active`, companyID, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDelegations returns all delegations for an approver within a company.
func (r *Repository) ListDelegations(ctx context.Context, companyID, approverUserID int64) ([]Delegation, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, approver_user_id, delegate_user_id, starts_at, ends_at, created_at
FROM delegations WHERE company_id=$1 AND approver_user_id=$2 ORDER BY created_at DESC, id DESC`, companyID, approverUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var delegations []Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.ApproverUserID, &d.DelegateUserID, &d.StartsAt, &d.EndsAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		delegations = append(delegations, d)
	}
	return delegations, rows.Err()
}

// GetDelegation returns one delegation scoped to the company.
func (r *Repository) GetDelegation(ctx context.Context, companyID, id int64) (Delegation, error) {
	var d Delegation
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, approver_user_id, delegate_user_id, starts_at, ends_at, created_at
FROM delegations WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&d.ID, &d.CompanyID, &d.ApproverUserID, &d.DelegateUserID, &d.StartsAt, &d.EndsAt, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delegation{}, ErrNotFound
		}
		return Delegation{}, err
	}
	return d, nil
}

// CreateDelegation inserts a delegation.
func (r *Repository) CreateDelegation(ctx context.Context, d Delegation) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO delegations (company_id, approver_user_id, delegate_user_id, starts_at, ends_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		d.CompanyID, d.ApproverUserID, d.DelegateUserID, d.StartsAt, d.EndsAt).Scan(&id)
	return id, err
}

// UpdateDelegation rewrites delegate and range.
func (r *Repository) UpdateDelegation(ctx context.Context, d Delegation) error {
	tag, err := r.pool.Exec(ctx, `UPDATE delegations SET approver_user_id=$3, delegate_user_id=$4, starts_at=$5, ends_at=$6
WHERE company_id=$1 AND id=$2`, d.CompanyID, d.ID, d.ApproverUserID, d.DelegateUserID, d.StartsAt, d.EndsAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDelegation removes a delegation.
func (r *Repository) DeleteDelegation(ctx context.Context, companyID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM delegations WHERE company_id=$1 AND id=$2`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecideApproval flips a pending approval to its terminal status. The WHERE
// clause re-checks pending so concurrent decisions race on the row, not past
// it. Returns false when the compare-and-swap lost.
func (t *txRepo) DecideApproval(ctx context.Context, companyID, id int64, status Status, actorID int64, comment string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE approvals
SET status=$3, approved_by_id=$4, comment=$5, approved_at=$6
WHERE company_id=$1 AND id=$2 AND status='pending'`,
		companyID, id, string(status), actorID, comment, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CreateApproval inserts an approval row; a unique clash on
// (target_type, target_id, level_no) maps to ErrDuplicateLevel.
func (t *txRepo) CreateApproval(ctx context.Context, a Approval) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO approvals
(company_id, rule_id, target_type, target_id, level_no, amount_minor, currency, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		a.CompanyID, a.RuleID, string(a.TargetKind), a.TargetID, a.LevelNo, a.AmountMinor, a.Currency, string(a.Status)).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, "approvals_target_level_key") {
			return 0, ErrDuplicateLevel
		}
		return 0, err
	}
	return id, nil
}

// FindApproval returns the approval for a (target, level).
func (t *txRepo) FindApproval(ctx context.Context, companyID int64, kind TargetKind, targetID int64, levelNo int) (Approval, error) {
	a, err := scanApproval(t.tx.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approvals
WHERE company_id=$1 AND target_type=$2 AND target_id=$3 AND level_no=$4`,
		companyID, string(kind), targetID, levelNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Approval{}, ErrNotFound
		}
		return Approval{}, err
	}
	return a, nil
}
