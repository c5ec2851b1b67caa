package metrics

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// rowNamespace seeds deterministic row IDs derived from the natural key.
var rowNamespace = uuid.MustParse("6f1d2c9e-3b0a-4c57-9a52-0d8e7b51f2a4")

// sinkScale is the number of fractional digits of the reporting table's
// NUMERIC money columns.
const sinkScale = 2

// Row is the flat shape of a discount_performance record. The natural key is
// (ShopID, DiscountCode, Date).
type Row struct {
	ID                 uuid.UUID
	ShopID             string
	DiscountCode       string
	DiscountID         string
	DiscountExternalID string
	Title              string
	DiscountType       string
	Automatic          bool
	Date               civil.Date

	OrdersCount             int
	TotalOrdersValue        decimal.Decimal
	TotalDiscountAmount     decimal.Decimal
	AverageOrderValue       decimal.Decimal
	AverageDiscountPerOrder decimal.Decimal

	// Dimensions not computed yet. They are always written so the row shape
	// stays stable.
	UniqueCustomers    int
	NewCustomers       int
	ReturningCustomers int
	OnlineOrdersCount  int
	POSOrdersCount     int
	RevenueImpact      decimal.Decimal
	ProfitImpact       decimal.Decimal
	ConversionRate     *decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RowID returns the deterministic identifier of the row with the given key.
func RowID(shopID, discountCode string, date civil.Date) uuid.UUID {
	return uuid.NewSHA1(rowNamespace, []byte(shopID+"\x00"+discountCode+"\x00"+date.String()))
}

type naturalKey struct {
	shopID string
	code   string
	date   civil.Date
}

// ToUpsertBatch maps metrics to sink rows ordered by discount code, then
// discount ID. Money values are rounded to the sink scale here and nowhere
// else.
//
// Discounts sharing a natural key produce a single row: an active discount
// wins over an inactive one, then the lowest discount ID wins. Callers can
// compare the batch length with len(m) to detect collapsed discounts.
func ToUpsertBatch(m Metrics) []Row {
	kept := make(map[naturalKey]*DailyMetric, len(m))
	for _, dm := range m {
		k := naturalKey{shopID: dm.ShopID, code: dm.DiscountCode, date: dm.Date}
		if cur, ok := kept[k]; !ok || preferred(dm, cur) {
			kept[k] = dm
		}
	}

	rows := make([]Row, 0, len(kept))
	for _, dm := range kept {
		rows = append(rows, Row{
			ID:                      RowID(dm.ShopID, dm.DiscountCode, dm.Date),
			ShopID:                  dm.ShopID,
			DiscountCode:            dm.DiscountCode,
			DiscountID:              dm.DiscountID,
			DiscountExternalID:      dm.DiscountExternalID,
			Title:                   dm.Title,
			DiscountType:            string(dm.DiscountType),
			Automatic:               dm.Automatic,
			Date:                    dm.Date,
			OrdersCount:             dm.OrderCount,
			TotalOrdersValue:        dm.TotalRevenue.Round(sinkScale),
			TotalDiscountAmount:     dm.TotalDiscountExpense.Round(sinkScale),
			AverageOrderValue:       dm.AverageOrderValue.Round(sinkScale),
			AverageDiscountPerOrder: dm.AverageDiscountPerOrder.Round(sinkScale),
			RevenueImpact:           decimal.Zero,
			ProfitImpact:            decimal.Zero,
			CreatedAt:               dm.CreatedAt,
			UpdatedAt:               dm.UpdatedAt,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].DiscountCode != rows[j].DiscountCode {
			return rows[i].DiscountCode < rows[j].DiscountCode
		}
		return rows[i].DiscountID < rows[j].DiscountID
	})
	return rows
}

func preferred(a, b *DailyMetric) bool {
	if a.Active != b.Active {
		return a.Active
	}
	return a.DiscountID < b.DiscountID
}

// UpsertResult reports the outcome of a sink write.
type UpsertResult struct {
	Count   int
	Message string
}

// Sink writes performance rows with insert-or-update semantics on the
// natural key. Writing the same key twice replaces the row. An empty batch
// is a successful no-op.
type Sink interface {
	Upsert(ctx context.Context, rows []Row) (UpsertResult, error)
}
