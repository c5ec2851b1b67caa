package order

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// PayloadCodes extracts discount codes from a raw platform order payload.
//
// Both the REST shape (discount_codes, discount_applications, line_items)
// and the GraphQL shape (discountApplications, lineItems, with or without
// edges/node wrappers) are understood. Line-item allocations contribute
// their own code, either directly or through a nested discount application.
func PayloadCodes(raw []byte) ([]string, error) {
	var codes []string
	d := jx.DecodeBytes(raw)
	if d.Next() != jx.Object {
		return nil, errors.New("order payload is not an object")
	}

	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "discount_codes", "discountCodes", "discount_applications", "discountApplications":
			return eachNode(d, func(d *jx.Decoder) error {
				return collectCode(d, &codes)
			})
		case "line_items", "lineItems":
			return eachNode(d, func(d *jx.Decoder) error {
				return lineItemCodes(d, &codes)
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return codes, errors.Wrap(err, "decode order payload")
	}
	return codes, nil
}

func lineItemCodes(d *jx.Decoder, codes *[]string) error {
	if d.Next() != jx.Object {
		return d.Skip()
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "discount_allocations", "discountAllocations":
			return eachNode(d, func(d *jx.Decoder) error {
				return collectCode(d, codes)
			})
		default:
			return d.Skip()
		}
	})
}

// collectCode reads an object and appends its "code" field. Nested
// discount application objects are searched as well.
func collectCode(d *jx.Decoder, codes *[]string) error {
	if d.Next() != jx.Object {
		return d.Skip()
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "code":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			*codes = append(*codes, s)
			return nil
		case "discount_application", "discountApplication":
			return collectCode(d, codes)
		default:
			return d.Skip()
		}
	})
}

// eachNode calls fn for every element of a plain array or of a GraphQL
// connection ({"edges":[{"node":{...}}]}). Other values are skipped.
func eachNode(d *jx.Decoder, fn func(d *jx.Decoder) error) error {
	switch d.Next() {
	case jx.Array:
		return d.Arr(fn)
	case jx.Object:
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "edges" || d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				if d.Next() != jx.Object {
					return d.Skip()
				}
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "node" {
						return d.Skip()
					}
					return fn(d)
				})
			})
		})
	default:
		return d.Skip()
	}
}
