// Package lineitems computes invoice totals from ordered line items:
// priority tiers, cascading percentages and amounts, discounts, and
// penny-exact quantization. Amounts travel as decimal strings and all
// arithmetic runs on arbitrary-precision decimals so the same cents come
// out no matter which side of the wire computes them.
package lineitems

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Kind categorizes a line item.
type Kind int

const (
	BasePrice              Kind = 0
	AddOn                  Kind = 1
	Shield                 Kind = 2
	Bonus                  Kind = 3
	Tip                    Kind = 4
	TableService           Kind = 5
	Tax                    Kind = 6
	Extra                  Kind = 7
	PremiumSubscription    Kind = 8
	OtherFee               Kind = 9
	DeliverableTracking    Kind = 10
	Processing             Kind = 11
	Reconciliation         Kind = 12
	CardFee                Kind = 13
	CrossBorderTransferFee Kind = 14
	PayoutFee              Kind = 15
	ConnectFee             Kind = 16
	// Bogus marks lines used in tests and placeholder calculations.
	Bogus Kind = 1234
)

// LineItem is one immutable input row of an invoice calculation. The
// engine never mutates a line; it produces derived per-line values.
type LineItem struct {
	// ID must be unique within a calculation or lines clobber each
	// other.
	ID int64 `json:"id"`
	// Priority orders application: a line's percentage is computed
	// against the running total of all lower-priority tiers.
	Priority int `json:"priority"`
	// CascadeUnder bounds which lower-priority lines absorb this line's
	// cascaded value. Must not exceed Priority.
	CascadeUnder int    `json:"cascade_under"`
	Kind         Kind   `json:"type"`
	Amount       string `json:"amount"`
	Percentage   string `json:"percentage"`
	// CascadeAmount pulls the static amount out of lower-priority lines
	// instead of adding it to the total.
	CascadeAmount bool `json:"cascade_amount"`
	// CascadePercentage does the same for the percentage-derived value.
	CascadePercentage bool `json:"cascade_percentage"`
	// BackIntoPercentage computes the percentage such that the line's
	// value is that percentage of the FINAL total, the shape card fees
	// take.
	BackIntoPercentage bool `json:"back_into_percentage"`
	// FrozenValue pins a historical computed value once an invoice is
	// finalized. When set, it replaces the computed working amount.
	FrozenValue *string `json:"frozen_value"`
	Description string  `json:"description"`
}

// Totals is the result of a full calculation.
type Totals struct {
	// Total is the amount to charge, clamped at zero.
	Total *apd.Decimal
	// RawTotal is the unclamped total; negative when discounts exceed
	// the charge, which callers use for escrow decisions.
	RawTotal *apd.Decimal
	// Discount is the accumulated value of negative lines, zero or
	// below.
	Discount *apd.Decimal
	// Subtotals maps line ID to that line's resolved value. The values
	// sum to RawTotal exactly.
	Subtotals map[int64]*apd.Decimal
}

// ErrNoDistributionTarget is returned when leftover pennies exist but no
// line can absorb them.
var ErrNoDistributionTarget = errors.New(
	"lineitems: no line items to distribute difference to; a base price line is required even when the base price is zero")

// Label returns the invoice display label for a line: its description
// when present, otherwise a name derived from its kind, with negative
// add-ons surfacing as discounts.
func Label(line LineItem, value *apd.Decimal) string {
	if line.Description != "" {
		return line.Description
	}
	if value != nil && value.Sign() < 0 {
		return "Discount"
	}
	switch line.Kind {
	case BasePrice:
		return "Base price"
	case AddOn:
		return "Additional requirements"
	case Shield:
		return "Shield protection"
	case Bonus:
		return "Bonus"
	case Tip:
		return "Tip"
	case TableService:
		return "Table service"
	case Tax:
		return "Tax"
	case Extra:
		return "Extra"
	case PremiumSubscription:
		return "Premium subscription"
	case DeliverableTracking:
		return "Deliverable tracking"
	case Processing:
		return "Processing fee"
	case CardFee:
		return "Card fee"
	case CrossBorderTransferFee:
		return "Cross-border transfer fee"
	case PayoutFee:
		return "Payout fee"
	case ConnectFee:
		return "Connect fee"
	default:
		return "Other fee"
	}
}

func parseDecimal(s string) (*apd.Decimal, error) {
	if s == "" {
		return apd.New(0, 0), nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("lineitems: parsing %q: %w", s, err)
	}
	return d, nil
}
