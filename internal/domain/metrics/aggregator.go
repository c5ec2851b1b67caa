package metrics

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
)

// Stats describes what an aggregation pass saw.
type Stats struct {
	OrdersScanned   int
	OrdersInWindow  int
	OrdersUndated   int
	OrdersMatched   int
	PayloadsInvalid int
}

// Aggregator builds daily metrics from a discount catalog and a shop's orders.
type Aggregator struct {
	now func() time.Time
}

// NewAggregator returns an Aggregator stamping metrics with the wall clock.
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

// candidate is a discount in scope with its matching keys precomputed.
type candidate struct {
	id         string
	externalID string
	code       string
}

// Aggregate computes one DailyMetric per discount in scope for day.
//
// When activeOnly is set, inactive discounts are dropped before any metric
// is created. Orders dated outside the day, or without a parseable date,
// are ignored. An order is attributed to every discount it matches, either
// by external ID or by code.
func (a *Aggregator) Aggregate(
	shopID string,
	day civil.Date,
	discounts []discount.Discount,
	orders []order.Order,
	activeOnly bool,
) (Metrics, Stats) {
	if activeOnly {
		discounts = discount.FilterActive(discounts)
	}

	now := a.now().UTC()
	result := make(Metrics, len(discounts))
	candidates := make([]candidate, 0, len(discounts))
	for _, d := range discounts {
		result[d.ID] = newDailyMetric(shopID, d, day, now)
		candidates = append(candidates, candidate{
			id:         d.ID,
			externalID: d.ExternalID,
			code:       order.NormalizeCode(d.Code),
		})
	}

	var stats Stats
	start, _ := Window(day)
	next := start.AddDate(0, 0, 1)
	for _, o := range orders {
		stats.OrdersScanned++

		at, ok := o.Time()
		if !ok {
			stats.OrdersUndated++
			continue
		}
		// Compared against the next day's start so sub-microsecond timestamps
		// in the last instant of the day still land on it.
		if at.Before(start) || !at.Before(next) {
			continue
		}
		stats.OrdersInWindow++

		codes, err := o.Codes()
		if err != nil {
			stats.PayloadsInvalid++
		}

		matched := false
		price, disc := o.Price(), o.Discounts()
		for _, c := range candidates {
			if !c.matches(o.DiscountID, codes) {
				continue
			}
			result[c.id].add(price, disc)
			matched = true
		}
		if matched {
			stats.OrdersMatched++
		}
	}

	for _, m := range result {
		m.finalize()
	}
	return result, stats
}

func (c candidate) matches(orderDiscountID string, codes map[string]struct{}) bool {
	if c.externalID != "" && c.externalID == orderDiscountID {
		return true
	}
	if c.code == "" {
		return false
	}
	_, ok := codes[c.code]
	return ok
}
