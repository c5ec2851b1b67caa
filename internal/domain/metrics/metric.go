// Package metrics aggregates discount usage into per-day performance rows.
package metrics

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
)

// DailyMetric is the performance of one discount on one UTC calendar day.
type DailyMetric struct {
	ShopID             string
	DiscountID         string
	DiscountExternalID string
	DiscountCode       string
	Title              string
	DiscountType       discount.Type
	Automatic          bool
	Active             bool
	Date               civil.Date

	OrderCount              int
	TotalRevenue            decimal.Decimal
	TotalDiscountExpense    decimal.Decimal
	AverageOrderValue       decimal.Decimal
	AverageDiscountPerOrder decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metrics maps a discount's internal ID to its daily metric.
type Metrics map[string]*DailyMetric

// newDailyMetric returns a zero-valued metric for d on day.
func newDailyMetric(shopID string, d discount.Discount, day civil.Date, now time.Time) *DailyMetric {
	return &DailyMetric{
		ShopID:                  shopID,
		DiscountID:              d.ID,
		DiscountExternalID:      d.ExternalID,
		DiscountCode:            d.NaturalCode(),
		Title:                   d.Title,
		DiscountType:            d.Type,
		Automatic:               d.Automatic,
		Active:                  d.Active,
		Date:                    day,
		TotalRevenue:            decimal.Zero,
		TotalDiscountExpense:    decimal.Zero,
		AverageOrderValue:       decimal.Zero,
		AverageDiscountPerOrder: decimal.Zero,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// add accounts one attributed order.
func (m *DailyMetric) add(price, discounts decimal.Decimal) {
	m.OrderCount++
	m.TotalRevenue = m.TotalRevenue.Add(price)
	m.TotalDiscountExpense = m.TotalDiscountExpense.Add(discounts)
}

// finalize computes the averages. They stay zero when no order was attributed.
func (m *DailyMetric) finalize() {
	if m.OrderCount == 0 {
		m.AverageOrderValue = decimal.Zero
		m.AverageDiscountPerOrder = decimal.Zero
		return
	}
	n := decimal.NewFromInt(int64(m.OrderCount))
	m.AverageOrderValue = m.TotalRevenue.DivRound(n, 2)
	m.AverageDiscountPerOrder = m.TotalDiscountExpense.DivRound(n, 2)
}

// Window returns the inclusive UTC bounds of day: 00:00:00.000000 through
// 23:59:59.999999.
func Window(day civil.Date) (start, end time.Time) {
	start = day.In(time.UTC)
	end = start.AddDate(0, 0, 1).Add(-time.Microsecond)
	return start, end
}

// Yesterday returns the UTC calendar day before now.
func Yesterday(now time.Time) civil.Date {
	return civil.DateOf(now.UTC()).AddDays(-1)
}

// CatalogFetchError reports that a shop's discount catalog could not be
// read, or that the read was inconclusive.
type CatalogFetchError struct {
	ShopID string
	Err    error
}

func (e *CatalogFetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch discount catalog for shop %s: inconclusive empty result", e.ShopID)
	}
	return fmt.Sprintf("fetch discount catalog for shop %s: %v", e.ShopID, e.Err)
}

func (e *CatalogFetchError) Unwrap() error {
	return e.Err
}
