// Package diff computes the minimal field-level change set between an entity's
// current state and the fields a caller proposes to write.
package diff

import (
	"math"
	"math/big"
	"reflect"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ChangeSet holds the prior and new values of every field that actually changed.
// Before and After always carry exactly the same keys.
type ChangeSet struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

// Fields returns the changed field names in lexical order.
func (c *ChangeSet) Fields() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.After))
	for k := range c.After {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether field is part of the change set.
func (c *ChangeSet) Has(field string) bool {
	if c == nil {
		return false
	}
	_, ok := c.After[field]
	return ok
}

// Compute compares proposed against before and returns the fields whose values
// differ. Only keys present in proposed are considered; fields of before that
// the caller did not propose are never reported. A field missing from before
// is reported with a nil prior value. When nothing differs Compute returns nil
// and the caller must skip both the write and the audit entry.
func Compute(before, proposed map[string]any) *ChangeSet {
	var cs *ChangeSet
	for k, next := range proposed {
		prev := before[k]
		if Equal(prev, next) {
			continue
		}
		if cs == nil {
			cs = &ChangeSet{Before: map[string]any{}, After: map[string]any{}}
		}
		cs.Before[k] = prev
		cs.After[k] = next
	}
	return cs
}

// Equal reports deep value equality as the audit trail understands it:
// decimals and timestamps compare by value, numbers compare numerically across
// Go types, nil and empty collections are the same, and slices and maps are
// compared element by element.
func Equal(a, b any) bool {
	a, b = deref(a), deref(b)

	if isNilOrEmpty(a) && isNilOrEmpty(b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch x := a.(type) {
	case decimal.Decimal:
		y, ok := asDecimal(b)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	if _, ok := b.(decimal.Decimal); ok {
		return Equal(b, a)
	}

	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na.equal(nb)
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isList(va) && isList(vb):
		if va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !Equal(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case va.Kind() == reflect.Map && vb.Kind() == reflect.Map:
		if va.Len() != vb.Len() || va.Type().Key() != vb.Type().Key() {
			return false
		}
		iter := va.MapRange()
		for iter.Next() {
			other := vb.MapIndex(iter.Key())
			if !other.IsValid() {
				return false
			}
			if !Equal(iter.Value().Interface(), other.Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func isNilOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isList(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

type numKind uint8

const (
	numSigned numKind = iota
	numUnsigned
	numFloat
)

// number holds a Go numeric value without losing precision: integers stay
// integers, so values above 2^53 still compare exactly.
type number struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
}

func asNumber(v any) (number, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number{kind: numSigned, i: rv.Int()}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return number{kind: numUnsigned, u: rv.Uint()}, true
	case reflect.Float32, reflect.Float64:
		return number{kind: numFloat, f: rv.Float()}, true
	}
	return number{}, false
}

func (n number) equal(o number) bool {
	if n.kind > o.kind {
		n, o = o, n
	}
	switch {
	case n.kind == numSigned && o.kind == numSigned:
		return n.i == o.i
	case n.kind == numUnsigned && o.kind == numUnsigned:
		return n.u == o.u
	case n.kind == numSigned && o.kind == numUnsigned:
		return n.i >= 0 && uint64(n.i) == o.u
	case n.kind == numFloat:
		return n.f == o.f
	}
	// Integer against float: exact only when the float is that integer.
	if math.IsNaN(o.f) || math.IsInf(o.f, 0) {
		return false
	}
	return n.big().Cmp(big.NewFloat(o.f)) == 0
}

func (n number) big() *big.Float {
	if n.kind == numUnsigned {
		return new(big.Float).SetUint64(n.u)
	}
	return new(big.Float).SetInt64(n.i)
}

func (n number) decimal() decimal.Decimal {
	switch n.kind {
	case numSigned:
		return decimal.NewFromInt(n.i)
	case numUnsigned:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n.u), 0)
	}
	return decimal.NewFromFloat(n.f)
}

func asDecimal(v any) (decimal.Decimal, bool) {
	if d, ok := v.(decimal.Decimal); ok {
		return d, true
	}
	if n, ok := asNumber(v); ok {
		if n.kind == numFloat && (math.IsNaN(n.f) || math.IsInf(n.f, 0)) {
			return decimal.Decimal{}, false
		}
		return n.decimal(), true
	}
	return decimal.Decimal{}, false
}
