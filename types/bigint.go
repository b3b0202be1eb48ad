// Copyright (C) 2024, Bountyrelay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"database/sql/driver"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// BigInt is an arbitrary-precision integer that always JSON-encodes as a
// decimal string, never a number. Bounty prices and gas quantities are
// unbounded on-chain; a global json.Marshaler override on *big.Int would
// apply even where callers don't expect it, so every field that needs this
// goes through BigInt explicitly instead.
type BigInt struct {
	*big.Int
}

// NewBigInt wraps i, treating a nil i as zero.
func NewBigInt(i *big.Int) BigInt {
	if i == nil {
		return BigInt{big.NewInt(0)}
	}
	return BigInt{i}
}

// BigIntFromInt64 is a convenience constructor for literals in tests and config defaults.
func BigIntFromInt64(v int64) BigInt {
	return BigInt{big.NewInt(v)}
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	if b.Int == nil {
		return json.Marshal("0")
	}
	return json.Marshal(b.Int.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "bigint: not a JSON string")
	}
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errors.Errorf("bigint: %q is not a base-10 integer", s)
	}
	b.Int = i
	return nil
}

// Value implements driver.Valuer so BigInt can be used transparently with
// database/sql-backed stores in addition to the JSON-over-Redis path.
func (b BigInt) Value() (driver.Value, error) {
	if b.Int == nil {
		return "0", nil
	}
	return b.Int.String(), nil
}

// Max returns the larger of a and b.
func (b BigInt) Max(other BigInt) BigInt {
	if b.Int == nil {
		return other
	}
	if other.Int == nil {
		return b
	}
	if b.Cmp(other.Int) >= 0 {
		return b
	}
	return other
}

// IsZero reports whether b is nil or numerically zero.
func (b BigInt) IsZero() bool {
	return b.Int == nil || b.Sign() == 0
}

// Mul returns a new BigInt holding b*other, leaving both operands untouched.
func (b BigInt) Mul(other BigInt) BigInt {
	if b.Int == nil || other.Int == nil {
		return BigIntFromInt64(0)
	}
	return BigInt{new(big.Int).Mul(b.Int, other.Int)}
}

// LessOrEqual reports whether b <= other, treating nil as zero.
func (b BigInt) LessOrEqual(other BigInt) bool {
	left := b.Int
	if left == nil {
		left = big.NewInt(0)
	}
	right := other.Int
	if right == nil {
		right = big.NewInt(0)
	}
	return left.Cmp(right) <= 0
}
