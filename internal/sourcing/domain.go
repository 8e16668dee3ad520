// Package sourcing implements RFQ award allocation, best-price ranking, and
// purchase order generation from awarded quotes.
package sourcing

import (
	"errors"
	"time"
)

// RFQ lifecycle statuses.
type RFQStatus string

const (
	RFQStatusDraft     RFQStatus = "draft"
	RFQStatusPublished RFQStatus = "published"
	RFQStatusAwarded   RFQStatus = "awarded"
	RFQStatusClosed    RFQStatus = "closed"
)

// Quote lifecycle statuses.
type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "draft"
	QuoteStatusSubmitted QuoteStatus = "submitted"
	QuoteStatusAwarded   QuoteStatus = "awarded"
	QuoteStatusWithdrawn QuoteStatus = "withdrawn"
	QuoteStatusDeclined  QuoteStatus = "declined"
)

// Competing reports whether a quote in this status takes part in award
// ranking.
func (s QuoteStatus) Competing() bool {
	return s == QuoteStatusSubmitted || s == QuoteStatusAwarded
}

// Award statuses. A superseded award was replaced by a later decision for
// the same RFQ line.
type AwardStatus string

const (
	AwardStatusAwarded    AwardStatus = "awarded"
	AwardStatusSuperseded AwardStatus = "superseded"
)

// Purchase order statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "draft"
	POStatusReleased  POStatus = "released"
	POStatusClosed    POStatus = "closed"
	POStatusCancelled POStatus = "cancelled"
)

// RFQ is a buyer's request for quotation.
type RFQ struct {
	ID        int64
	CompanyID int64
	Number    string
	Currency  string
	Status    RFQStatus
	CreatedBy int64
	CreatedAt time.Time
}

// RFQItem is one RFQ line.
type RFQItem struct {
	ID               int64
	RFQID            int64
	LineNo           int
	Description      string
	Qty              float64
	Unit             string
	TargetPriceMinor int64
}

// Quote is a supplier's bid header against an RFQ.
type Quote struct {
	ID          int64
	RFQID       int64
	CompanyID   int64
	SupplierID  int64
	Number      string
	Currency    string
	RevisionNo  int
	Status      QuoteStatus
	SubmittedAt time.Time
	WithdrawnAt *time.Time
}

// QuoteItem is a supplier's bid against one RFQ line.
type QuoteItem struct {
	ID             int64
	QuoteID        int64
	RFQItemID      int64
	Qty            float64
	UnitPriceMinor int64
	Currency       string
	LeadTimeDays   int
}

// Award links an RFQ line to the winning quote item. AwardedQty of zero
// means the full line quantity. POID is set once a purchase order is
// generated for the quote.
type Award struct {
	ID          int64
	RFQItemID   int64
	QuoteItemID int64
	QuoteID     int64
	SupplierID  int64
	AwardedQty  float64
	Status      AwardStatus
	POID        int64
	CreatedBy   int64
	CreatedAt   time.Time
}

// PurchaseOrder is generated from exactly one quote. RevisionNo increments
// on each approved change order.
type PurchaseOrder struct {
	ID         int64
	CompanyID  int64
	SupplierID int64
	QuoteID    int64
	Number     string
	Status     POStatus
	Currency   string
	RevisionNo int
	CreatedAt  time.Time
}

// POLine snapshots an awarded quote item at award time. Later quote edits
// never change an issued PO; changes flow through the change-order chain.
type POLine struct {
	ID             int64
	POID           int64
	QuoteItemID    int64
	RFQItemID      int64
	Description    string
	Qty            float64
	UnitPriceMinor int64
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("sourcing: not found")
	// ErrValidation indicates a malformed award payload.
	ErrValidation = errors.New("sourcing: invalid input")
	// ErrConflict indicates the line is already claimed in a way the
	// payload does not account for.
	ErrConflict = errors.New("sourcing: conflicting award state")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("sourcing: invalid state transition")
)
