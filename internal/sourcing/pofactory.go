package sourcing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// POFactory turns an awarded quote into a draft purchase order, snapshotting
// the awarded quote item prices so later quote edits never leak into the PO.
type POFactory struct {
	now func() time.Time
}

func NewPOFactory() *POFactory {
	return &POFactory{now: time.Now}
}

// FromQuote returns the purchase order for a quote, creating it on first
// call. Creation is idempotent: the unique quote constraint catches a
// concurrent insert and the winner's row is looked up and returned. On
// reuse, lines for newly awarded quote items are appended without
// duplicating existing lines.
func (f *POFactory) FromQuote(ctx context.Context, tx TxRepository, quote Quote, quoteItemIDs []int64) (PurchaseOrder, error) {
	po, err := tx.FindPOByQuote(ctx, quote.ID)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		po = PurchaseOrder{
			CompanyID:  quote.CompanyID,
			SupplierID: quote.SupplierID,
			QuoteID:    quote.ID,
			Number:     generateNumber("PO"),
			Status:     POStatusDraft,
			Currency:   quote.Currency,
			RevisionNo: 0,
			CreatedAt:  f.now(),
		}
		id, createErr := tx.CreatePO(ctx, po)
		if errors.Is(createErr, ErrPOExists) {
			po, err = tx.FindPOByQuote(ctx, quote.ID)
			if err != nil {
				return PurchaseOrder{}, err
			}
		} else if createErr != nil {
			return PurchaseOrder{}, createErr
		} else {
			po.ID = id
		}
	default:
		return PurchaseOrder{}, err
	}

	existing, err := tx.ListPOLines(ctx, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	covered := make(map[int64]bool, len(existing))
	for _, line := range existing {
		covered[line.QuoteItemID] = true
	}
	for _, qiID := range quoteItemIDs {
		if covered[qiID] {
			continue
		}
		qi, err := tx.GetQuoteItem(ctx, qiID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		item, err := tx.GetRFQItem(ctx, qi.RFQItemID)
		if err != nil {
			return PurchaseOrder{}, err
		}
		line := POLine{
			POID:           po.ID,
			QuoteItemID:    qi.ID,
			RFQItemID:      qi.RFQItemID,
			Description:    item.Description,
			Qty:            qi.Qty,
			UnitPriceMinor: qi.UnitPriceMinor,
		}
		if err := tx.InsertPOLine(ctx, line); err != nil {
			return PurchaseOrder{}, err
		}
		covered[qiID] = true
	}
	return po, nil
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
