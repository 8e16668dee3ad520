package sourcing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sourcelane/sourcelane/internal/platform/db"
)

// ErrPOExists signals the unique quote constraint fired; the caller should
// re-read the existing purchase order.
var ErrPOExists = errors.New("sourcing: purchase order already exists for quote")

// TxRepository exposes mutations that must run inside one transaction.
type TxRepository interface {
	LockRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error)
	ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error)
	GetRFQItem(ctx context.Context, itemID int64) (RFQItem, error)
	GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error)
	GetQuoteItem(ctx context.Context, quoteItemID int64) (QuoteItem, error)
	UpdateQuoteStatus(ctx context.Context, quoteID int64, status QuoteStatus) error
	WithdrawQuote(ctx context.Context, quoteID int64, at time.Time) error
	ActiveAwardForItem(ctx context.Context, rfqItemID int64) (*Award, error)
	CountActiveAwardsForQuote(ctx context.Context, quoteID int64) (int, error)
	SupersedeAward(ctx context.Context, awardID int64) error
	CreateAward(ctx context.Context, award Award) (int64, error)
	SetAwardPO(ctx context.Context, awardIDs []int64, poID int64) error
	FindPOByQuote(ctx context.Context, quoteID int64) (PurchaseOrder, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	ListPOLines(ctx context.Context, poID int64) ([]POLine, error)
	InsertPOLine(ctx context.Context, line POLine) error
}

// Repository is the pgx-backed store for sourcing data.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const rfqColumns = `id, company_id, number, currency, status, created_by, created_at`

func scanRFQ(row pgx.Row) (RFQ, error) {
	var rfq RFQ
	err := row.Scan(&rfq.ID, &rfq.CompanyID, &rfq.Number, &rfq.Currency, &rfq.Status, &rfq.CreatedBy, &rfq.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RFQ{}, ErrNotFound
	}
	return rfq, err
}

func (r *Repository) GetRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+rfqColumns+` FROM rfqs WHERE company_id = $1 AND id = $2`,
		companyID, rfqID)
	return scanRFQ(row)
}

func (r *Repository) ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, rfq_id, line_no, description, qty, unit, target_price_minor
		   FROM rfq_items WHERE rfq_id = $1 ORDER BY line_no`,
		rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRFQItems(rows)
}

func collectRFQItems(rows pgx.Rows) ([]RFQItem, error) {
	var items []RFQItem
	for rows.Next() {
		var item RFQItem
		if err := rows.Scan(&item.ID, &item.RFQID, &item.LineNo, &item.Description, &item.Qty, &item.Unit, &item.TargetPriceMinor); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const quoteColumns = `id, rfq_id, company_id, supplier_id, number, currency, revision_no, status, submitted_at, withdrawn_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	err := row.Scan(&q.ID, &q.RFQID, &q.CompanyID, &q.SupplierID, &q.Number, &q.Currency, &q.RevisionNo, &q.Status, &q.SubmittedAt, &q.WithdrawnAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Quote{}, ErrNotFound
	}
	return q, err
}

func (r *Repository) GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE company_id = $1 AND id = $2`,
		companyID, quoteID)
	return scanQuote(row)
}

func (r *Repository) ListQuotes(ctx context.Context, rfqID int64) ([]Quote, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE rfq_id = $1 ORDER BY submitted_at, id`,
		rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.RFQID, &q.CompanyID, &q.SupplierID, &q.Number, &q.Currency, &q.RevisionNo, &q.Status, &q.SubmittedAt, &q.WithdrawnAt); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (r *Repository) ListQuoteItems(ctx context.Context, quoteID int64) ([]QuoteItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, quote_id, rfq_item_id, qty, unit_price_minor, currency, lead_time_days
		   FROM quote_items WHERE quote_id = $1 ORDER BY id`,
		quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QuoteItem
	for rows.Next() {
		var qi QuoteItem
		if err := rows.Scan(&qi.ID, &qi.QuoteID, &qi.RFQItemID, &qi.Qty, &qi.UnitPriceMinor, &qi.Currency, &qi.LeadTimeDays); err != nil {
			return nil, err
		}
		items = append(items, qi)
	}
	return items, rows.Err()
}

const awardColumns = `id, rfq_item_id, quote_item_id, quote_id, supplier_id, awarded_qty, status, COALESCE(po_id, 0), created_by, created_at`

func (r *Repository) ListActiveAwards(ctx context.Context, rfqID int64) ([]Award, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.rfq_item_id, a.quote_item_id, a.quote_id, a.supplier_id, a.awarded_qty, a.status, COALESCE(a.po_id, 0), a.created_by, a.created_at
		   FROM rfq_item_awards a
		   JOIN rfq_items i ON i.id = a.rfq_item_id
		  WHERE i.rfq_id = $1 AND a.status = 'awarded'
		  ORDER BY a.id`,
		rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var awards []Award
	for rows.Next() {
		var a Award
		if err := rows.Scan(&a.ID, &a.RFQItemID, &a.QuoteItemID, &a.QuoteID, &a.SupplierID, &a.AwardedQty, &a.Status, &a.POID, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		awards = append(awards, a)
	}
	return awards, rows.Err()
}

func (r *Repository) GetPO(ctx context.Context, companyID, poID int64) (PurchaseOrder, []POLine, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, company_id, supplier_id, quote_id, number, status, currency, revision_no, created_at
		   FROM purchase_orders WHERE company_id = $1 AND id = $2`,
		companyID, poID)
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.CompanyID, &po.SupplierID, &po.QuoteID, &po.Number, &po.Status, &po.Currency, &po.RevisionNo, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, po_id, quote_item_id, rfq_item_id, description, qty, unit_price_minor
		   FROM purchase_order_lines WHERE po_id = $1 ORDER BY id`,
		po.ID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.QuoteItemID, &line.RFQItemID, &line.Description, &line.Qty, &line.UnitPriceMinor); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) LockRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+rfqColumns+` FROM rfqs WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		companyID, rfqID)
	return scanRFQ(row)
}

func (t *txRepo) ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, rfq_id, line_no, description, qty, unit, target_price_minor
		   FROM rfq_items WHERE rfq_id = $1 ORDER BY line_no`,
		rfqID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRFQItems(rows)
}

func (t *txRepo) GetRFQItem(ctx context.Context, itemID int64) (RFQItem, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, rfq_id, line_no, description, qty, unit, target_price_minor
		   FROM rfq_items WHERE id = $1`,
		itemID)
	var item RFQItem
	err := row.Scan(&item.ID, &item.RFQID, &item.LineNo, &item.Description, &item.Qty, &item.Unit, &item.TargetPriceMinor)
	if errors.Is(err, pgx.ErrNoRows) {
		return RFQItem{}, ErrNotFound
	}
	return item, err
}

func (t *txRepo) GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE company_id = $1 AND id = $2`,
		companyID, quoteID)
	return scanQuote(row)
}

func (t *txRepo) GetQuoteItem(ctx context.Context, quoteItemID int64) (QuoteItem, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, quote_id, rfq_item_id, qty, unit_price_minor, currency, lead_time_days
		   FROM quote_items WHERE id = $1`,
		quoteItemID)
	var qi QuoteItem
	err := row.Scan(&qi.ID, &qi.QuoteID, &qi.RFQItemID, &qi.Qty, &qi.UnitPriceMinor, &qi.Currency, &qi.LeadTimeDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuoteItem{}, ErrNotFound
	}
	return qi, err
}

func (t *txRepo) UpdateQuoteStatus(ctx context.Context, quoteID int64, status QuoteStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quotes SET status = $2 WHERE id = $1`,
		quoteID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) WithdrawQuote(ctx context.Context, quoteID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE quotes SET status = 'withdrawn', withdrawn_at = $2 WHERE id = $1 AND status <> 'awarded'`,
		quoteID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (t *txRepo) ActiveAwardForItem(ctx context.Context, rfqItemID int64) (*Award, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+awardColumns+` FROM rfq_item_awards
		  WHERE rfq_item_id = $1 AND status = 'awarded'
		  FOR UPDATE`,
		rfqItemID)
	var a Award
	err := row.Scan(&a.ID, &a.RFQItemID, &a.QuoteItemID, &a.QuoteID, &a.SupplierID, &a.AwardedQty, &a.Status, &a.POID, &a.CreatedBy, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *txRepo) CountActiveAwardsForQuote(ctx context.Context, quoteID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT count(*) FROM rfq_item_awards WHERE quote_id = $1 AND status = 'awarded'`,
		quoteID).Scan(&n)
	return n, err
}

func (t *txRepo) SupersedeAward(ctx context.Context, awardID int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE rfq_item_awards SET status = 'superseded' WHERE id = $1 AND status = 'awarded'`,
		awardID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (t *txRepo) CreateAward(ctx context.Context, award Award) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO rfq_item_awards (rfq_item_id, quote_item_id, quote_id, supplier_id, awarded_qty, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 RETURNING id`,
		award.RFQItemID, award.QuoteItemID, award.QuoteID, award.SupplierID, award.AwardedQty, award.Status, award.CreatedBy,
	).Scan(&id)
	if db.IsUniqueViolation(err, "rfq_item_awards_active_key") {
		return 0, ErrConflict
	}
	return id, err
}

func (t *txRepo) SetAwardPO(ctx context.Context, awardIDs []int64, poID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE rfq_item_awards SET po_id = $2 WHERE id = ANY($1)`,
		awardIDs, poID)
	return err
}

func (t *txRepo) FindPOByQuote(ctx context.Context, quoteID int64) (PurchaseOrder, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, company_id, supplier_id, quote_id, number, status, currency, revision_no, created_at
		   FROM purchase_orders WHERE quote_id = $1`,
		quoteID)
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.CompanyID, &po.SupplierID, &po.QuoteID, &po.Number, &po.Status, &po.Currency, &po.RevisionNo, &po.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, err
}

func (t *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_orders (company_id, supplier_id, quote_id, number, status, currency, revision_no, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		po.CompanyID, po.SupplierID, po.QuoteID, po.Number, po.Status, po.Currency, po.RevisionNo, po.CreatedAt,
	).Scan(&id)
	if db.IsUniqueViolation(err, "purchase_orders_quote_id_key") {
		return 0, ErrPOExists
	}
	return id, err
}

func (t *txRepo) ListPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, po_id, quote_item_id, rfq_item_id, description, qty, unit_price_minor
		   FROM purchase_order_lines WHERE po_id = $1 ORDER BY id`,
		poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.QuoteItemID, &line.RFQItemID, &line.Description, &line.Qty, &line.UnitPriceMinor); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (t *txRepo) InsertPOLine(ctx context.Context, line POLine) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO purchase_order_lines (po_id, quote_item_id, rfq_item_id, description, qty, unit_price_minor)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		line.POID, line.QuoteItemID, line.RFQItemID, line.Description, line.Qty, line.UnitPriceMinor)
	return err
}
