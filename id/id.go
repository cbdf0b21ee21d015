// Package id implements an arbitrary-precision, non-negative integer used to
// address chunks in the tree.
//
// A regular octree of factor 8 exceeds 64 bits of addressable node index by
// roughly depth 22 (8^22 > 2^64); deep cold hierarchies routinely go beyond
// that, so chunk identifiers cannot be represented as a fixed-width integer.
// Id wraps math/big so arithmetic and comparison stay exact at any depth,
// while still offering a fast path back to uint64 for the (overwhelmingly
// common) case where the value fits.
package id

import (
	"fmt"
	"math/big"
)

// Id is an arbitrary-precision unsigned integer.
//
// The zero value is a valid Id representing 0.
type Id struct {
	v big.Int
}

// Zero returns the Id representing 0.
func Zero() Id {
	return Id{}
}

// FromUint64 creates an Id from a native unsigned 64-bit value.
func FromUint64(v uint64) Id {
	var out Id
	out.v.SetUint64(v)
	return out
}

// FromString parses a decimal string into an Id.
//
// Returns an error if s is not a valid non-negative decimal integer.
func FromString(s string) (Id, error) {
	var z big.Int
	if _, ok := z.SetString(s, 10); !ok {
		return Id{}, fmt.Errorf("id: invalid decimal string %q", s)
	}
	if z.Sign() < 0 {
		return Id{}, fmt.Errorf("id: negative value %q", s)
	}
	return Id{v: z}, nil
}

// Add returns a + b.
func Add(a, b Id) Id {
	var out Id
	out.v.Add(&a.v, &b.v)
	return out
}

// Sub returns a - b.
//
// The caller is responsible for ensuring a >= b; Id has no representation
// for negative values, and Sub will panic if the result would be negative.
func Sub(a, b Id) Id {
	var out Id
	out.v.Sub(&a.v, &b.v)
	if out.v.Sign() < 0 {
		panic(fmt.Sprintf("id: Sub(%s, %s) underflows", a, b))
	}
	return out
}

// Mul returns a * b.
func Mul(a, b Id) Id {
	var out Id
	out.v.Mul(&a.v, &b.v)
	return out
}

// AddUint64 returns a + n.
func (a Id) AddUint64(n uint64) Id {
	return Add(a, FromUint64(n))
}

// Pow returns base^exp as an Id.
//
// Used by Structure to compute how many nodes exist at a given tree depth
// (factor^depth), a value that routinely exceeds 64 bits past depth ~22 for
// an octree.
func Pow(base uint64, exp uint) Id {
	var out Id
	out.v.Exp(big.NewInt(0).SetUint64(base), big.NewInt(0).SetUint64(uint64(exp)), nil)
	return out
}

// Div returns a / b, truncated toward zero. b must be non-zero.
func Div(a, b Id) Id {
	var out Id
	out.v.Div(&a.v, &b.v)
	return out
}

// Cmp returns -1, 0, or +1 depending on whether a is less than, equal to, or
// greater than b.
func (a Id) Cmp(b Id) int {
	return a.v.Cmp(&b.v)
}

// Equal reports whether a and b represent the same value.
func (a Id) Equal(b Id) bool {
	return a.Cmp(b) == 0
}

// Less reports whether a < b.
func (a Id) Less(b Id) bool {
	return a.Cmp(b) < 0
}

// IsZero reports whether the Id is 0.
func (a Id) IsZero() bool {
	return a.v.Sign() == 0
}

// Uint64 extracts the native value, reporting ok=false if the Id does not
// fit in 64 bits.
func (a Id) Uint64() (v uint64, ok bool) {
	if !a.v.IsUint64() {
		return 0, false
	}
	return a.v.Uint64(), true
}

// Uint64Must is Uint64 without the ok flag, panicking if the Id does not fit
// in 64 bits. Intended for call sites where the caller has already
// established the value must fit (e.g. a base-band level index).
func (a Id) Uint64Must() uint64 {
	v, ok := a.Uint64()
	if !ok {
		panic(fmt.Sprintf("id: %s does not fit in uint64", a))
	}
	return v
}

// String returns the decimal representation of the Id.
func (a Id) String() string {
	return a.v.String()
}

// MarshalJSON encodes the Id as a decimal-string JSON value, matching how
// the on-disk metadata represents chunk ids that may exceed 64 bits.
func (a Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.String() + `"`), nil
}

// UnmarshalJSON decodes an Id from a decimal-string JSON value.
func (a *Id) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := FromString(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
