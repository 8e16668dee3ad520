package sourcing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sourcelane/sourcelane/internal/directory"
	"github.com/sourcelane/sourcelane/internal/money"
)

// Candidate is one quote item competing for an RFQ line. Prices are minor
// units; Converted fields are in the company currency. When no rate exists
// ConversionUnavailable is set and the candidate is excluded from
// price-based ranking but still listed for visibility.
type Candidate struct {
	QuoteID                 int64     `json:"quote_id"`
	QuoteItemID             int64     `json:"quote_item_id"`
	SupplierID              int64     `json:"supplier_id"`
	UnitPriceMinor          int64     `json:"unit_price_minor"`
	Currency                string    `json:"currency"`
	ConvertedUnitPriceMinor int64     `json:"converted_unit_price_minor"`
	ConvertedCurrency       string    `json:"converted_currency"`
	ConversionUnavailable   bool      `json:"conversion_unavailable"`
	LeadTimeDays            int       `json:"lead_time_days"`
	SubmittedAt             time.Time `json:"submitted_at"`
	ExistingAwardID         int64     `json:"existing_award_id,omitempty"`
}

// ConverterPort is the FX conversion dependency.
type ConverterPort interface {
	Convert(ctx context.Context, m money.Money, to string, asOf time.Time) (money.Money, error)
}

// CompanyPort resolves tenant settings.
type CompanyPort interface {
	GetCompany(ctx context.Context, companyID int64) (directory.Company, error)
}

// BuildCandidates collects, per RFQ line, every competing quote item from
// non-withdrawn quotes in submitted or awarded status, converting unit
// prices to the company currency as of now.
func (e *Engine) BuildCandidates(ctx context.Context, companyID, rfqID int64) (map[int64][]Candidate, error) {
	rfq, err := e.repo.GetRFQ(ctx, companyID, rfqID)
	if err != nil {
		return nil, err
	}
	company, err := e.companies.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	items, err := e.repo.ListRFQItems(ctx, rfq.ID)
	if err != nil {
		return nil, err
	}
	itemIDs := make(map[int64]bool, len(items))
	for _, item := range items {
		itemIDs[item.ID] = true
	}
	quotes, err := e.repo.ListQuotes(ctx, rfq.ID)
	if err != nil {
		return nil, err
	}
	awards, err := e.repo.ListActiveAwards(ctx, rfq.ID)
	if err != nil {
		return nil, err
	}
	awardByQuoteItem := make(map[int64]int64, len(awards))
	for _, a := range awards {
		awardByQuoteItem[a.QuoteItemID] = a.ID
	}

	now := e.now()
	candidates := make(map[int64][]Candidate, len(items))
	for _, quote := range quotes {
		if !quote.Status.Competing() || quote.WithdrawnAt != nil {
			continue
		}
		quoteItems, err := e.repo.ListQuoteItems(ctx, quote.ID)
		if err != nil {
			return nil, err
		}
		for _, qi := range quoteItems {
			if !itemIDs[qi.RFQItemID] {
				continue
			}
			c := Candidate{
				QuoteID:         quote.ID,
				QuoteItemID:     qi.ID,
				SupplierID:      quote.SupplierID,
				UnitPriceMinor:  qi.UnitPriceMinor,
				Currency:        qi.Currency,
				LeadTimeDays:    qi.LeadTimeDays,
				SubmittedAt:     quote.SubmittedAt,
				ExistingAwardID: awardByQuoteItem[qi.ID],
			}
			converted, err := e.converter.Convert(ctx, money.Money{AmountMinor: qi.UnitPriceMinor, Currency: qi.Currency}, company.Currency, now)
			switch {
			case err == nil:
				c.ConvertedUnitPriceMinor = converted.AmountMinor
				c.ConvertedCurrency = converted.Currency
			case errors.Is(err, money.ErrRateNotFound):
				c.ConversionUnavailable = true
			default:
				return nil, err
			}
			candidates[qi.RFQItemID] = append(candidates[qi.RFQItemID], c)
		}
	}
	for _, list := range candidates {
		sortCandidates(list)
	}
	return candidates, nil
}

// sortCandidates orders converted candidates by converted price ascending,
// then unconvertible ones by raw price, with submission time and quote item
// id as deterministic tie-breaks.
func sortCandidates(list []Candidate) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.ConversionUnavailable != b.ConversionUnavailable {
			return !a.ConversionUnavailable
		}
		pa, pb := a.ConvertedUnitPriceMinor, b.ConvertedUnitPriceMinor
		if a.ConversionUnavailable {
			pa, pb = a.UnitPriceMinor, b.UnitPriceMinor
		}
		if pa != pb {
			return pa < pb
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.QuoteItemID < b.QuoteItemID
	})
}

// BestCandidate returns the lowest-priced candidate. An unconvertible
// candidate is never preferred over any converted one; only when nothing
// converted does ranking fall back to raw minor units, and the caller sees
// that through ConversionUnavailable. Returns nil for an empty slate.
func BestCandidate(candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sortCandidates(sorted)
	best := sorted[0]
	return &best
}
