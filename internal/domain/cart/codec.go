package cart

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Encode serializes s as {"birds":[...],"nests":[...]}.
func Encode(s Snapshot) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("birds")
	encodeIDs(&e, s.Birds)
	e.FieldStart("nests")
	encodeIDs(&e, s.Nests)
	e.ObjEnd()
	return e.Bytes()
}

func encodeIDs(e *jx.Encoder, ids []string) {
	e.ArrStart()
	for _, id := range ids {
		e.Str(id)
	}
	e.ArrEnd()
}

// Decode parses a persisted snapshot. Unknown fields are ignored, missing or
// null collections decode as empty, and repeated ids are collapsed.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return Snapshot{}, errors.New("cart snapshot is not an object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "birds":
			s.Birds, err = decodeIDs(d)
		case "nests":
			s.Nests, err = decodeIDs(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode cart snapshot")
	}
	return s.normalize(), nil
}

func decodeIDs(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var ids []string
	err := d.Arr(func(d *jx.Decoder) error {
		id, err := d.Str()
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}
