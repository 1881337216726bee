package handler

import (
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if len(data) > maxBodySize {
		return nil, errors.New("body too large")
	}
	return data, nil
}

// decodeStringFields decodes a flat JSON object, storing the known string
// fields into their destinations. Unknown fields are skipped and null
// leaves the destination empty.
func decodeStringFields(data []byte, fields map[string]*string) error {
	d := jx.DecodeBytes(data)
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		dst, ok := fields[string(key)]
		if !ok {
			return d.Skip()
		}
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		*dst = v
		return nil
	})
}
