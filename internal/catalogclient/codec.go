package catalogclient

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
	"github.com/xenking/birdfarm-cart/internal/domain/money"
	"github.com/xenking/birdfarm-cart/internal/domain/voucher"
)

// encodeIDs builds {"<field>":[ids...]}.
func encodeIDs(field string, ids []string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart(field)
	e.ArrStart()
	for _, id := range ids {
		e.Str(id)
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

// decodeList walks the array under field of a top-level object. A missing
// or null field is an empty list.
func decodeList(data []byte, field string, item func(d *jx.Decoder) error) error {
	d := jx.DecodeBytes(data)
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != field {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(item)
	})
}

func decodeProducts(data []byte, field, priceField string, kind catalog.Kind) ([]catalog.Product, error) {
	products := []catalog.Product{}
	err := decodeList(data, field, func(d *jx.Decoder) error {
		p := catalog.Product{Kind: kind}
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "_id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "sold":
				p.Sold, err = decodeBool(d)
			case "imageUrls":
				p.ImageURLs, err = decodeStrings(d)
			case priceField:
				p.Price, err = decodeAmount(d)
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return err
		}
		if p.ID == "" {
			return errors.New("record without _id")
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func decodeVouchers(data []byte) ([]voucher.Voucher, error) {
	vouchers := []voucher.Voucher{}
	err := decodeList(data, "vouchers", func(d *jx.Decoder) error {
		var v voucher.Voucher
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "_id":
				v.ID, err = d.Str()
			case "discountPercent":
				v.DiscountPercent, err = decodeDecimal(d)
			case "maxDiscountValue":
				v.MaxDiscountValue, err = decodeAmount(d)
			case "conditionPrice":
				v.ConditionPrice, err = decodeAmount(d)
			case "quantity":
				var q decimal.Decimal
				q, err = decodeDecimal(d)
				v.Quantity = int(q.IntPart())
			case "expiredAt":
				v.ExpiredAt, err = decodeTime(d)
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return err
		}
		if v.ID == "" {
			return errors.New("voucher without _id")
		}
		vouchers = append(vouchers, v.Normalize())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vouchers, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		// Some catalog exports quote numbers.
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func decodeAmount(d *jx.Decoder) (money.Amount, error) {
	v, err := decodeDecimal(d)
	if err != nil {
		return money.Zero, err
	}
	return money.FromDecimal(v), nil
}

func decodeBool(d *jx.Decoder) (bool, error) {
	if d.Next() == jx.Null {
		return false, d.Null()
	}
	return d.Bool()
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// decodeTime parses an RFC 3339 timestamp. Null or an empty string means
// the voucher never expires.
func decodeTime(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Null {
		return time.Time{}, d.Null()
	}
	s, err := d.Str()
	if err != nil || s == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Dump is a full catalog export in the catalog service's record format:
// {"birds":[...],"nests":[...],"vouchers":[...]}.
type Dump struct {
	Birds    []catalog.Product
	Nests    []catalog.Product
	Vouchers []voucher.Voucher
}

// DecodeDump parses a catalog export. Missing sections are empty.
func DecodeDump(data []byte) (*Dump, error) {
	var (
		dump Dump
		err  error
	)
	if dump.Birds, err = decodeProducts(data, "birds", "sellPrice", catalog.KindBird); err != nil {
		return nil, errors.Wrap(err, "decode birds")
	}
	if dump.Nests, err = decodeProducts(data, "nests", "price", catalog.KindNest); err != nil {
		return nil, errors.Wrap(err, "decode nests")
	}
	if dump.Vouchers, err = decodeVouchers(data); err != nil {
		return nil, errors.Wrap(err, "decode vouchers")
	}
	return &dump, nil
}
