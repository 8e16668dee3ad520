package sourcing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sourcelane/sourcelane/internal/directory"
	"github.com/sourcelane/sourcelane/internal/money"
)

type memorySourcingRepo struct {
	rfqs       map[int64]RFQ
	rfqItems   map[int64]RFQItem
	quotes     map[int64]Quote
	quoteItems map[int64]QuoteItem
	awards     map[int64]Award
	pos        map[int64]PurchaseOrder
	poLines    map[int64][]POLine
	nextID     int64
}

func newMemorySourcingRepo() *memorySourcingRepo {
	return &memorySourcingRepo{
		rfqs:       make(map[int64]RFQ),
		rfqItems:   make(map[int64]RFQItem),
		quotes:     make(map[int64]Quote),
		quoteItems: make(map[int64]QuoteItem),
		awards:     make(map[int64]Award),
		pos:        make(map[int64]PurchaseOrder),
		poLines:    make(map[int64][]POLine),
	}
}

func (r *memorySourcingRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memorySourcingRepo) addRFQ(companyID int64, currency string) RFQ {
	rfq := RFQ{ID: r.id(), CompanyID: companyID, Number: "RFQ-1", Currency: currency, Status: RFQStatusPublished}
	r.rfqs[rfq.ID] = rfq
	return rfq
}

func (r *memorySourcingRepo) addItem(rfqID int64, lineNo int, qty float64) RFQItem {
	item := RFQItem{ID: r.id(), RFQID: rfqID, LineNo: lineNo, Description: fmt.Sprintf("line %d", lineNo), Qty: qty, Unit: "EA"}
	r.rfqItems[item.ID] = item
	return item
}

func (r *memorySourcingRepo) addQuote(rfqID, companyID, supplierID int64, currency string, submittedAt time.Time) Quote {
	q := Quote{ID: r.id(), RFQID: rfqID, CompanyID: companyID, SupplierID: supplierID, Currency: currency, Status: QuoteStatusSubmitted, SubmittedAt: submittedAt}
	r.quotes[q.ID] = q
	return q
}

func (r *memorySourcingRepo) addQuoteItem(quoteID, rfqItemID int64, qty float64, unitPriceMinor int64, currency string) QuoteItem {
	qi := QuoteItem{ID: r.id(), QuoteID: quoteID, RFQItemID: rfqItemID, Qty: qty, UnitPriceMinor: unitPriceMinor, Currency: currency, LeadTimeDays: 14}
	r.quoteItems[qi.ID] = qi
	return qi
}

func (r *memorySourcingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memorySourcingTx{repo: r})
}

func (r *memorySourcingRepo) GetRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error) {
	rfq, ok := r.rfqs[rfqID]
	if !ok || rfq.CompanyID != companyID {
		return RFQ{}, ErrNotFound
	}
	return rfq, nil
}

func (r *memorySourcingRepo) ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error) {
	var items []RFQItem
	for _, item := range r.rfqItems {
		if item.RFQID == rfqID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *memorySourcingRepo) ListQuotes(ctx context.Context, rfqID int64) ([]Quote, error) {
	var quotes []Quote
	for _, q := range r.quotes {
		if q.RFQID == rfqID {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

func (r *memorySourcingRepo) ListQuoteItems(ctx context.Context, quoteID int64) ([]QuoteItem, error) {
	var items []QuoteItem
	for _, qi := range r.quoteItems {
		if qi.QuoteID == quoteID {
			items = append(items, qi)
		}
	}
	return items, nil
}

func (r *memorySourcingRepo) ListActiveAwards(ctx context.Context, rfqID int64) ([]Award, error) {
	var awards []Award
	for _, a := range r.awards {
		item := r.rfqItems[a.RFQItemID]
		if item.RFQID == rfqID && a.Status == AwardStatusAwarded {
			awards = append(awards, a)
		}
	}
	return awards, nil
}

func (r *memorySourcingRepo) GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error) {
	q, ok := r.quotes[quoteID]
	if !ok || q.CompanyID != companyID {
		return Quote{}, ErrNotFound
	}
	return q, nil
}

func (r *memorySourcingRepo) GetPO(ctx context.Context, companyID, poID int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.pos[poID]
	if !ok || po.CompanyID != companyID {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, r.poLines[po.ID], nil
}

type memorySourcingTx struct {
	repo *memorySourcingRepo
}

func (t *memorySourcingTx) LockRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error) {
	return t.repo.GetRFQ(ctx, companyID, rfqID)
}

func (t *memorySourcingTx) ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error) {
	return t.repo.ListRFQItems(ctx, rfqID)
}

func (t *memorySourcingTx) GetRFQItem(ctx context.Context, itemID int64) (RFQItem, error) {
	item, ok := t.repo.rfqItems[itemID]
	if !ok {
		return RFQItem{}, ErrNotFound
	}
	return item, nil
}

func (t *memorySourcingTx) GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error) {
	return t.repo.GetQuote(ctx, companyID, quoteID)
}

func (t *memorySourcingTx) GetQuoteItem(ctx context.Context, quoteItemID int64) (QuoteItem, error) {
	qi, ok := t.repo.quoteItems[quoteItemID]
	if !ok {
		return QuoteItem{}, ErrNotFound
	}
	return qi, nil
}

func (t *memorySourcingTx) UpdateQuoteStatus(ctx context.Context, quoteID int64, status QuoteStatus) error {
	q, ok := t.repo.quotes[quoteID]
	if !ok {
		return ErrNotFound
	}
	q.Status = status
	t.repo.quotes[quoteID] = q
	return nil
}

func (t *memorySourcingTx) WithdrawQuote(ctx context.Context, quoteID int64, at time.Time) error {
	q, ok := t.repo.quotes[quoteID]
	if !ok {
		return ErrNotFound
	}
	if q.Status == QuoteStatusAwarded {
		return ErrInvalidState
	}
	q.Status = QuoteStatusWithdrawn
	q.WithdrawnAt = &at
	t.repo.quotes[quoteID] = q
	return nil
}

func (t *memorySourcingTx) ActiveAwardForItem(ctx context.Context, rfqItemID int64) (*Award, error) {
	for _, a := range t.repo.awards {
		if a.RFQItemID == rfqItemID && a.Status == AwardStatusAwarded {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memorySourcingTx) CountActiveAwardsForQuote(ctx context.Context, quoteID int64) (int, error) {
	n := 0
	for _, a := range t.repo.awards {
		if a.QuoteID == quoteID && a.Status == AwardStatusAwarded {
			n++
		}
	}
	return n, nil
}

func (t *memorySourcingTx) SupersedeAward(ctx context.Context, awardID int64) error {
	a, ok := t.repo.awards[awardID]
	if !ok || a.Status != AwardStatusAwarded {
		return ErrInvalidState
	}
	a.Status = AwardStatusSuperseded
	t.repo.awards[awardID] = a
	return nil
}

func (t *memorySourcingTx) CreateAward(ctx context.Context, award Award) (int64, error) {
	for _, a := range t.repo.awards {
		if a.RFQItemID == award.RFQItemID && a.Status == AwardStatusAwarded {
			return 0, ErrConflict
		}
	}
	award.ID = t.repo.id()
	award.CreatedAt = time.Now()
	t.repo.awards[award.ID] = award
	return award.ID, nil
}

func (t *memorySourcingTx) SetAwardPO(ctx context.Context, awardIDs []int64, poID int64) error {
	for _, id := range awardIDs {
		a, ok := t.repo.awards[id]
		if !ok {
			return ErrNotFound
		}
		a.POID = poID
		t.repo.awards[id] = a
	}
	return nil
}

func (t *memorySourcingTx) FindPOByQuote(ctx context.Context, quoteID int64) (PurchaseOrder, error) {
	for _, po := range t.repo.pos {
		if po.QuoteID == quoteID {
			return po, nil
		}
	}
	return PurchaseOrder{}, ErrNotFound
}

func (t *memorySourcingTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	for _, existing := range t.repo.pos {
		if existing.QuoteID == po.QuoteID {
			return 0, ErrPOExists
		}
	}
	po.ID = t.repo.id()
	t.repo.pos[po.ID] = po
	return po.ID, nil
}

func (t *memorySourcingTx) ListPOLines(ctx context.Context, poID int64) ([]POLine, error) {
	return t.repo.poLines[poID], nil
}

func (t *memorySourcingTx) InsertPOLine(ctx context.Context, line POLine) error {
	line.ID = t.repo.id()
	t.repo.poLines[line.POID] = append(t.repo.poLines[line.POID], line)
	return nil
}

type stubCompanies struct {
	currency string
}

func (s stubCompanies) GetCompany(ctx context.Context, companyID int64) (directory.Company, error) {
	return directory.Company{ID: companyID, Name: "Acme", Currency: s.currency}, nil
}

type mapRates struct {
	rates map[string]string
}

func (m mapRates) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	raw, ok := m.rates[from+":"+to]
	if !ok {
		return decimal.Decimal{}, money.ErrRateNotFound
	}
	return decimal.RequireFromString(raw), nil
}

func newTestEngine(repo *memorySourcingRepo, rates map[string]string) *Engine {
	converter := money.NewConverter(mapRates{rates: rates})
	e := NewEngine(repo, converter, stubCompanies{currency: "USD"}, NewPOFactory(), nil)
	e.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return e
}
