package discount

import (
	"context"

	"github.com/shopspring/decimal"
)

// Type enumerates the platform discount categories. Unknown values from the
// platform are passed through unchanged.
type Type string

const (
	TypePercentage   Type = "percentage"
	TypeFixedAmount  Type = "fixed_amount"
	TypeFreeShipping Type = "free_shipping"
	TypeBuyXGetY     Type = "buy_x_get_y"
)

// Discount is a read-only snapshot of a shop's promotional rule.
type Discount struct {
	// ID is the internal identifier, unique within a shop.
	ID     string
	ShopID string
	// ExternalID is the platform-assigned identifier. Empty when absent.
	ExternalID string
	// Code is empty for automatic discounts.
	Code       string
	Title      string
	Type       Type
	Percentage decimal.Decimal
	Automatic  bool
	Active     bool
}

// NaturalCode returns the value stored in the discount_code column of the
// reporting table. Automatic discounts without a code fall back to a
// synthetic "auto:" key so every discount keeps its own row. Two coded
// discounts sharing a code share a row; the active one, then the lowest ID,
// is written.
func (d Discount) NaturalCode() string {
	if d.Code != "" {
		return d.Code
	}
	if d.ExternalID != "" {
		return "auto:" + d.ExternalID
	}
	return "auto:" + d.ID
}

// Repository reads the discount catalog of a shop.
//
// ListByShop returns a non-nil slice when the catalog was read successfully,
// even if it holds no discounts. A nil slice with a nil error is treated by
// callers as an inconclusive read.
type Repository interface {
	ListByShop(ctx context.Context, shopID string) ([]Discount, error)
}

// Writer persists discount snapshots, replacing existing ones by ID.
type Writer interface {
	UpsertDiscounts(ctx context.Context, discounts []Discount) error
}

// FilterActive returns the discounts with Active set. The input is not modified.
func FilterActive(discounts []Discount) []Discount {
	out := make([]Discount, 0, len(discounts))
	for _, d := range discounts {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}
