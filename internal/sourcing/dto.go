package sourcing

import "time"

// AwardRequest is the buyer's award submission payload.
type AwardRequest struct {
	Entries     []AwardEntryRequest `json:"entries" validate:"required,min=1,dive"`
	GeneratePOs bool                `json:"generate_pos"`
}

// AwardEntryRequest selects one quote item for one RFQ line.
type AwardEntryRequest struct {
	RFQItemID   int64   `json:"rfq_item_id" validate:"required,gt=0"`
	QuoteItemID int64   `json:"quote_item_id" validate:"required,gt=0"`
	AwardedQty  float64 `json:"awarded_qty" validate:"gte=0"`
}

// AwardResponse mirrors a stored award.
type AwardResponse struct {
	ID          int64   `json:"id"`
	RFQItemID   int64   `json:"rfq_item_id"`
	QuoteItemID int64   `json:"quote_item_id"`
	QuoteID     int64   `json:"quote_id"`
	SupplierID  int64   `json:"supplier_id"`
	AwardedQty  float64 `json:"awarded_qty"`
	Status      string  `json:"status"`
	POID        int64   `json:"po_id,omitempty"`
}

// POResponse mirrors a purchase order header.
type POResponse struct {
	ID         int64     `json:"id"`
	SupplierID int64     `json:"supplier_id"`
	QuoteID    int64     `json:"quote_id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	Currency   string    `json:"currency"`
	RevisionNo int       `json:"revision_no"`
	CreatedAt  time.Time `json:"created_at"`
}

// POLineResponse mirrors one snapshotted PO line.
type POLineResponse struct {
	ID             int64   `json:"id"`
	QuoteItemID    int64   `json:"quote_item_id"`
	RFQItemID      int64   `json:"rfq_item_id"`
	Description    string  `json:"description"`
	Qty            float64 `json:"qty"`
	UnitPriceMinor int64   `json:"unit_price_minor"`
}

func toAwardResponse(a Award) AwardResponse {
	return AwardResponse{
		ID:          a.ID,
		RFQItemID:   a.RFQItemID,
		QuoteItemID: a.QuoteItemID,
		QuoteID:     a.QuoteID,
		SupplierID:  a.SupplierID,
		AwardedQty:  a.AwardedQty,
		Status:      string(a.Status),
		POID:        a.POID,
	}
}

func toPOResponse(po PurchaseOrder) POResponse {
	return POResponse{
		ID:         po.ID,
		SupplierID: po.SupplierID,
		QuoteID:    po.QuoteID,
		Number:     po.Number,
		Status:     string(po.Status),
		Currency:   po.Currency,
		RevisionNo: po.RevisionNo,
		CreatedAt:  po.CreatedAt,
	}
}

func toPOLineResponse(line POLine) POLineResponse {
	return POLineResponse{
		ID:             line.ID,
		QuoteItemID:    line.QuoteItemID,
		RFQItemID:      line.RFQItemID,
		Description:    line.Description,
		Qty:            line.Qty,
		UnitPriceMinor: line.UnitPriceMinor,
	}
}
