package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUpsertBatch_Empty(t *testing.T) {
	rows := ToUpsertBatch(nil)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestToUpsertBatch_MapsAndOrders(t *testing.T) {
	m := Metrics{
		"d2": {
			ShopID:               "shop-1",
			DiscountID:           "d2",
			DiscountCode:         "ZED",
			Date:                 testDay,
			OrderCount:           3,
			TotalRevenue:         d("10.004"),
			TotalDiscountExpense: d("1.005"),
			AverageOrderValue:    d("3.33"),
		},
		"d1": {
			ShopID:       "shop-1",
			DiscountID:   "d1",
			DiscountCode: "ALPHA",
			Date:         testDay,
			CreatedAt:    testNow,
			UpdatedAt:    testNow,
		},
	}

	rows := ToUpsertBatch(m)

	require.Len(t, rows, 2)
	assert.Equal(t, "ALPHA", rows[0].DiscountCode)
	assert.Equal(t, "ZED", rows[1].DiscountCode)

	zed := rows[1]
	assert.Equal(t, 3, zed.OrdersCount)
	assert.Equal(t, "10", zed.TotalOrdersValue.String())
	assert.Equal(t, "1.01", zed.TotalDiscountAmount.String())
	assert.True(t, zed.RevenueImpact.IsZero())
	assert.True(t, zed.ProfitImpact.IsZero())
	assert.Nil(t, zed.ConversionRate)
	assert.Zero(t, zed.UniqueCustomers)
	assert.Zero(t, zed.POSOrdersCount)

	assert.Equal(t, testNow, rows[0].CreatedAt)
}

func TestToUpsertBatch_CollapsesSharedCode(t *testing.T) {
	metric := func(id string, active bool, orders int) *DailyMetric {
		return &DailyMetric{
			ShopID:       "shop-1",
			DiscountID:   id,
			DiscountCode: "SAVE10",
			Active:       active,
			Date:         testDay,
			OrderCount:   orders,
		}
	}

	t.Run("active wins", func(t *testing.T) {
		rows := ToUpsertBatch(Metrics{
			"a-retired": metric("a-retired", false, 7),
			"b-current": metric("b-current", true, 2),
		})

		require.Len(t, rows, 1)
		assert.Equal(t, "b-current", rows[0].DiscountID)
		assert.Equal(t, 2, rows[0].OrdersCount)
	})
	t.Run("lowest id breaks ties", func(t *testing.T) {
		rows := ToUpsertBatch(Metrics{
			"d2": metric("d2", true, 2),
			"d1": metric("d1", true, 1),
		})

		require.Len(t, rows, 1)
		assert.Equal(t, "d1", rows[0].DiscountID)
	})
	t.Run("other days are kept", func(t *testing.T) {
		later := metric("d2", true, 2)
		later.Date = testDay.AddDays(1)

		rows := ToUpsertBatch(Metrics{"d1": metric("d1", true, 1), "d2": later})

		assert.Len(t, rows, 2)
	})
}

func TestRowID_Deterministic(t *testing.T) {
	a := RowID("shop-1", "SAVE10", testDay)
	b := RowID("shop-1", "SAVE10", testDay)
	c := RowID("shop-1", "SAVE10", testDay.AddDays(1))
	e := RowID("shop-2", "SAVE10", testDay)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, e)
	assert.Equal(t, 5, int(a.Version()))
}
