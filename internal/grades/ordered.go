package grades

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

//
// Ordered is a string-keyed map that remembers first-insertion
// order and serializes as a json object in that order.
//
type Ordered[T any] struct {
	keys []string
	m    map[string]T
}

func newOrdered[T any]() *Ordered[T] {
	return &Ordered[T]{m: make(map[string]T)}
}

// Set stores v under k, keeping k's original position if it was already present.
func (o *Ordered[T]) Set(k string, v T) {
	if o.m == nil {
		o.m = make(map[string]T)
	}
	if _, ok := o.m[k]; !ok {
		o.keys = append(o.keys, k)
	}
	o.m[k] = v
}

func (o *Ordered[T]) Get(k string) (T, bool) {
	v, ok := o.m[k]
	return v, ok
}

func (o *Ordered[T]) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the keys in insertion order.
func (o *Ordered[T]) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Values returns the values in key order.
func (o *Ordered[T]) Values() []T {
	if o == nil {
		return nil
	}
	out := make([]T, 0, len(o.keys))
	for _, k := range o.keys {
		out = append(out, o.m[k])
	}
	return out
}

func (o *Ordered[T]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.m[k])
		if err != nil {
			return nil, errors.Wrapf(err, "cannot encode %s", k)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *Ordered[T]) UnmarshalJSON(b []byte) error {

	o.keys = nil
	o.m = make(map[string]T)

	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.Errorf("expected json object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		k, ok := tok.(string)
		if !ok {
			return errors.Errorf("expected object key, got %v", tok)
		}
		var v T
		if err := dec.Decode(&v); err != nil {
			return errors.Wrapf(err, "cannot decode %s", k)
		}
		o.Set(k, v)
	}
	_, err = dec.Token()
	return err
}
