package sourcing

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcelane/sourcelane/internal/shared"
)

// RepositoryPort describes repository operations used by Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRFQ(ctx context.Context, companyID, rfqID int64) (RFQ, error)
	ListRFQItems(ctx context.Context, rfqID int64) ([]RFQItem, error)
	ListQuotes(ctx context.Context, rfqID int64) ([]Quote, error)
	ListQuoteItems(ctx context.Context, quoteID int64) ([]QuoteItem, error)
	ListActiveAwards(ctx context.Context, rfqID int64) ([]Award, error)
	GetQuote(ctx context.Context, companyID, quoteID int64) (Quote, error)
	GetPO(ctx context.Context, companyID, poID int64) (PurchaseOrder, []POLine, error)
}

// AuditPort records before/after snapshots of mutated rows.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Engine allocates RFQ awards and generates purchase orders.
type Engine struct {
	repo      RepositoryPort
	converter ConverterPort
	companies CompanyPort
	pos       *POFactory
	audit     AuditPort
	now       func() time.Time
}

// NewEngine constructs the award allocation engine.
func NewEngine(repo RepositoryPort, converter ConverterPort, companies CompanyPort, pos *POFactory, audit AuditPort) *Engine {
	return &Engine{repo: repo, converter: converter, companies: companies, pos: pos, audit: audit, now: time.Now}
}

// AwardEntry is one buyer-selected award decision.
type AwardEntry struct {
	RFQItemID   int64
	QuoteItemID int64
	// AwardedQty of zero awards the full line quantity.
	AwardedQty float64
}

// ExecuteInput carries an award submission.
type ExecuteInput struct {
	CompanyID   int64
	RFQID       int64
	Entries     []AwardEntry
	ActorID     int64
	GeneratePOs bool
}

// ExecuteResult reports the surviving awards and any purchase orders
// created or reused.
type ExecuteResult struct {
	Awards         []Award
	PurchaseOrders []PurchaseOrder
}

// Execute applies buyer-selected awards for an RFQ inside one transaction.
// The RFQ row is locked for the duration so concurrent award submissions
// against the same RFQ serialise. A prior active award for a targeted line
// is superseded so exactly one active award survives per line; a prior
// award that already carries a purchase order conflicts instead.
//
// With GeneratePOs, accepted awards are grouped by supplier quote and
// handed to the PO factory once per quote; re-invocation reuses the
// existing purchase order.
func (e *Engine) Execute(ctx context.Context, input ExecuteInput) (ExecuteResult, error) {
	if len(input.Entries) == 0 {
		return ExecuteResult{}, fmt.Errorf("%w: at least one award entry required", ErrValidation)
	}
	var result ExecuteResult
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rfq, err := tx.LockRFQ(ctx, input.CompanyID, input.RFQID)
		if err != nil {
			return err
		}
		items, err := tx.ListRFQItems(ctx, rfq.ID)
		if err != nil {
			return err
		}
		itemsByID := make(map[int64]RFQItem, len(items))
		for _, item := range items {
			itemsByID[item.ID] = item
		}

		type quoteAwards struct {
			quote    Quote
			itemIDs  []int64
			awardIDs []int64
		}
		byQuote := make(map[int64]*quoteAwards)
		var quoteOrder []int64
		targeted := make(map[int64]bool, len(input.Entries))

		for _, entry := range input.Entries {
			item, ok := itemsByID[entry.RFQItemID]
			if !ok {
				return fmt.Errorf("%w: rfq line %d does not belong to rfq %d", ErrValidation, entry.RFQItemID, rfq.ID)
			}
			if targeted[entry.RFQItemID] {
				return fmt.Errorf("%w: rfq line %d targeted twice", ErrValidation, entry.RFQItemID)
			}
			targeted[entry.RFQItemID] = true
			qi, err := tx.GetQuoteItem(ctx, entry.QuoteItemID)
			if err != nil {
				return err
			}
			if qi.RFQItemID != entry.RFQItemID {
				return fmt.Errorf("%w: quote item %d bids a different rfq line", ErrValidation, qi.ID)
			}
			quote, err := tx.GetQuote(ctx, input.CompanyID, qi.QuoteID)
			if err != nil {
				return err
			}
			if quote.RFQID != rfq.ID {
				return fmt.Errorf("%w: quote %d belongs to a different rfq", ErrValidation, quote.ID)
			}
			if !quote.Status.Competing() || quote.WithdrawnAt != nil {
				return fmt.Errorf("%w: quote %d is not open for award", ErrValidation, quote.ID)
			}
			if entry.AwardedQty < 0 {
				return fmt.Errorf("%w: awarded qty must not be negative", ErrValidation)
			}
			if entry.AwardedQty > 0 && entry.AwardedQty > item.Qty {
				return fmt.Errorf("%w: awarded qty %v exceeds line qty %v", ErrValidation, entry.AwardedQty, item.Qty)
			}

			prior, err := tx.ActiveAwardForItem(ctx, entry.RFQItemID)
			if err != nil {
				return err
			}
			if prior != nil {
				if prior.POID != 0 {
					return fmt.Errorf("%w: rfq line %d already awarded on purchase order %d", ErrConflict, entry.RFQItemID, prior.POID)
				}
				if err := tx.SupersedeAward(ctx, prior.ID); err != nil {
					return err
				}
			}

			award := Award{
				RFQItemID:   entry.RFQItemID,
				QuoteItemID: qi.ID,
				QuoteID:     quote.ID,
				SupplierID:  quote.SupplierID,
				AwardedQty:  entry.AwardedQty,
				Status:      AwardStatusAwarded,
				CreatedBy:   input.ActorID,
			}
			id, err := tx.CreateAward(ctx, award)
			if err != nil {
				return err
			}
			award.ID = id
			result.Awards = append(result.Awards, award)

			// A quote that lost its last active award is back in
			// competition; drop its awarded status.
			if prior != nil && prior.QuoteID != quote.ID {
				if err := e.demoteIfUnawarded(ctx, tx, input.CompanyID, prior.QuoteID); err != nil {
					return err
				}
			}

			group, ok := byQuote[quote.ID]
			if !ok {
				group = &quoteAwards{quote: quote}
				byQuote[quote.ID] = group
				quoteOrder = append(quoteOrder, quote.ID)
			}
			group.itemIDs = append(group.itemIDs, qi.ID)
			group.awardIDs = append(group.awardIDs, id)
		}

		if !input.GeneratePOs {
			return nil
		}
		for _, quoteID := range quoteOrder {
			group := byQuote[quoteID]
			po, err := e.pos.FromQuote(ctx, tx, group.quote, group.itemIDs)
			if err != nil {
				return err
			}
			if err := tx.SetAwardPO(ctx, group.awardIDs, po.ID); err != nil {
				return err
			}
			for i := range result.Awards {
				for _, id := range group.awardIDs {
					if result.Awards[i].ID == id {
						result.Awards[i].POID = po.ID
					}
				}
			}
			if group.quote.Status != QuoteStatusAwarded {
				if err := tx.UpdateQuoteStatus(ctx, group.quote.ID, QuoteStatusAwarded); err != nil {
					return err
				}
			}
			result.PurchaseOrders = append(result.PurchaseOrders, po)
		}
		return nil
	})
	if err != nil {
		return ExecuteResult{}, err
	}
	e.recordAudit(ctx, input.CompanyID, input.ActorID, "RFQ_AWARD", fmt.Sprintf("%d", input.RFQID), nil, result.Awards)
	return result, nil
}

func (e *Engine) demoteIfUnawarded(ctx context.Context, tx TxRepository, companyID, quoteID int64) error {
	n, err := tx.CountActiveAwardsForQuote(ctx, quoteID)
	if err != nil || n > 0 {
		return err
	}
	quote, err := tx.GetQuote(ctx, companyID, quoteID)
	if err != nil {
		return err
	}
	if quote.Status != QuoteStatusAwarded {
		return nil
	}
	return tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusSubmitted)
}

// WithdrawQuote pulls a supplier's quote out of competition. An awarded
// quote cannot be withdrawn; its lines must be re-awarded first.
func (e *Engine) WithdrawQuote(ctx context.Context, companyID, quoteID, actorID int64) error {
	quote, err := e.repo.GetQuote(ctx, companyID, quoteID)
	if err != nil {
		return err
	}
	if quote.Status == QuoteStatusAwarded {
		return fmt.Errorf("%w: awarded quote cannot be withdrawn", ErrInvalidState)
	}
	if quote.Status == QuoteStatusWithdrawn {
		return nil
	}
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.WithdrawQuote(ctx, quoteID, e.now())
	})
	if err != nil {
		return err
	}
	after := quote
	after.Status = QuoteStatusWithdrawn
	e.recordAudit(ctx, companyID, actorID, "QUOTE_WITHDRAW", fmt.Sprintf("%d", quoteID), quote, after)
	return nil
}

func (e *Engine) recordAudit(ctx context.Context, companyID, actorID int64, action, entityID string, before, after any) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "sourcing",
		EntityID:  entityID,
		Before:    before,
		After:     after,
	})
}
