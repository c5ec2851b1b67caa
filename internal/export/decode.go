package export

import (
	"context"
	"io"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/JourneymanNYC/promowell-shopify/internal/domain/discount"
	"github.com/JourneymanNYC/promowell-shopify/internal/domain/order"
)

// ReadOrders decodes order lines from r for shopID and calls fn with batches
// of at most size orders. The whole line is kept as the order's raw payload.
func ReadOrders(ctx context.Context, r io.Reader, shopID string, size int, fn func([]order.Order) error) (int, error) {
	return readBatches(ctx, r, size, func(line []byte) (order.Order, error) {
		return DecodeOrder(line, shopID)
	}, fn)
}

// ReadDiscounts decodes discount lines from r for shopID and calls fn with
// batches of at most size discounts.
func ReadDiscounts(ctx context.Context, r io.Reader, shopID string, size int, fn func([]discount.Discount) error) (int, error) {
	return readBatches(ctx, r, size, func(line []byte) (discount.Discount, error) {
		return DecodeDiscount(line, shopID)
	}, fn)
}

// DecodeOrder decodes one exported order. Numeric and string ids are both
// accepted.
func DecodeOrder(line []byte, shopID string) (order.Order, error) {
	o := order.Order{
		ShopID:  shopID,
		RawData: append([]byte(nil), line...),
	}
	d := jx.DecodeBytes(line)
	if d.Next() != jx.Object {
		return o, errors.New("order is not an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			o.ID, err = readScalar(d)
		case "processed_at", "processedAt":
			o.ProcessedAt, err = readScalar(d)
		case "created_at", "createdAt":
			o.CreatedAt, err = readScalar(d)
		case "total_price", "totalPrice":
			o.TotalPrice, err = readScalar(d)
		case "total_discounts", "totalDiscounts":
			o.TotalDiscounts, err = readScalar(d)
		case "discount_id", "discountId":
			o.DiscountID, err = readScalar(d)
		case "discount_codes", "discountCodes":
			o.DiscountCodes, err = readCodes(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return o, errors.Wrap(err, "decode order")
	}
	if o.ID == "" {
		return o, errors.New("order without id")
	}
	return o, nil
}

// DecodeDiscount decodes one exported discount. Activity comes from "active"
// or, when absent, from a "status" of ACTIVE.
func DecodeDiscount(line []byte, shopID string) (discount.Discount, error) {
	dc := discount.Discount{ShopID: shopID, Percentage: decimal.Zero}
	var (
		status    string
		hasActive bool
	)
	d := jx.DecodeBytes(line)
	if d.Next() != jx.Object {
		return dc, errors.New("discount is not an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			dc.ID, err = readScalar(d)
		case "shopify_discount_id", "shopifyDiscountId":
			dc.ExternalID, err = readScalar(d)
		case "code":
			dc.Code, err = readScalar(d)
		case "title":
			dc.Title, err = readScalar(d)
		case "discount_type", "discountType":
			var v string
			v, err = readScalar(d)
			dc.Type = discount.Type(v)
		case "percentage":
			var v string
			if v, err = readScalar(d); err == nil && v != "" {
				dc.Percentage, err = decimal.NewFromString(v)
			}
		case "is_automatic", "isAutomatic":
			dc.Automatic, err = readBool(d)
		case "active":
			hasActive = true
			dc.Active, err = readBool(d)
		case "status":
			status, err = readScalar(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return dc, errors.Wrap(err, "decode discount")
	}
	if dc.ID == "" {
		return dc, errors.New("discount without id")
	}
	if !hasActive {
		dc.Active = strings.EqualFold(status, "active")
	}
	return dc, nil
}

// readScalar reads a string, number or null as a string.
func readScalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.New("expected string or number")
	}
}

func readBool(d *jx.Decoder) (bool, error) {
	switch d.Next() {
	case jx.Bool:
		return d.Bool()
	case jx.Null:
		return false, d.Null()
	default:
		return false, errors.New("expected bool")
	}
}

// readCodes reads a list of codes given either as strings or as objects with
// a "code" member.
func readCodes(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var codes []string
	err := d.Arr(func(d *jx.Decoder) error {
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			codes = append(codes, s)
			return nil
		case jx.Object:
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "code" {
					return d.Skip()
				}
				s, err := readScalar(d)
				if err != nil {
					return err
				}
				if s != "" {
					codes = append(codes, s)
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
	return codes, err
}
