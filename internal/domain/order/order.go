package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a raw order record as delivered by the storefront platform.
// Timestamps and amounts are kept in their delivered string form and are
// parsed on demand.
type Order struct {
	ID     string
	ShopID string
	// ProcessedAt is preferred over CreatedAt when dating the order.
	ProcessedAt string
	CreatedAt   string
	// TotalPrice and TotalDiscounts are decimal strings. Empty means zero.
	TotalPrice     string
	TotalDiscounts string
	// DiscountID is the platform id of the applied discount, if any.
	DiscountID    string
	DiscountCodes []string
	// RawData is the optional platform payload (JSON).
	RawData []byte
}

// Repository reads the raw orders of a shop. Orders are not filtered by date.
type Repository interface {
	ListByShop(ctx context.Context, shopID string) ([]Order, error)
}

// Writer persists raw orders, replacing existing ones by ID.
type Writer interface {
	UpsertOrders(ctx context.Context, orders []Order) error
}

// Time returns the instant the order is dated at, in UTC. ProcessedAt wins
// when it parses; CreatedAt is the fallback. ok is false when neither parses.
func (o Order) Time() (t time.Time, ok bool) {
	if t, err := ParseTimestamp(o.ProcessedAt); err == nil {
		return t, true
	}
	if t, err := ParseTimestamp(o.CreatedAt); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// Price returns TotalPrice as a decimal.
func (o Order) Price() decimal.Decimal {
	return Amount(o.TotalPrice)
}

// Discounts returns TotalDiscounts as a decimal.
func (o Order) Discounts() decimal.Decimal {
	return Amount(o.TotalDiscounts)
}

// Codes returns the normalized set of discount codes applied to the order:
// DiscountCodes merged with the codes found in RawData. When RawData cannot
// be decoded the codes from DiscountCodes are still returned together with
// the decode error.
func (o Order) Codes() (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(o.DiscountCodes))
	for _, c := range o.DiscountCodes {
		if n := NormalizeCode(c); n != "" {
			set[n] = struct{}{}
		}
	}
	if len(o.RawData) == 0 {
		return set, nil
	}

	payloadCodes, err := PayloadCodes(o.RawData)
	for _, c := range payloadCodes {
		if n := NormalizeCode(c); n != "" {
			set[n] = struct{}{}
		}
	}
	return set, err
}

// NormalizeCode trims and upper-cases a discount code. Platform codes are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Amount parses a decimal string. Missing or malformed values are zero.
func Amount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}
