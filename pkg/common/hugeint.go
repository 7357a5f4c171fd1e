package common

import (
	"math"
	"math/big"
)

// Hugeint is a signed 128 bit integer. It backs wide decimals.
type Hugeint struct {
	Lower uint64
	Upper int64
}

func HugeintFromInt64(v int64) Hugeint {
	ret := Hugeint{Lower: uint64(v)}
	if v < 0 {
		ret.Upper = -1
	}
	return ret
}

func (h Hugeint) Equal(o Hugeint) bool {
	return h.Lower == o.Lower && h.Upper == o.Upper
}

func (h Hugeint) Compare(o Hugeint) int {
	switch {
	case h.Upper < o.Upper:
		return -1
	case h.Upper > o.Upper:
		return 1
	case h.Lower < o.Lower:
		return -1
	case h.Lower > o.Lower:
		return 1
	}
	return 0
}

func (h Hugeint) Less(o Hugeint) bool {
	return h.Compare(o) < 0
}

func (h Hugeint) IsNull() bool {
	return h.Equal(WideDecimalNull)
}

// FitsInt64 reports h can be narrowed without loss.
func (h Hugeint) FitsInt64() bool {
	return (h.Upper == 0 && h.Lower <= math.MaxInt64) ||
		(h.Upper == -1 && h.Lower > math.MaxInt64)
}

func (h Hugeint) BigInt() *big.Int {
	ret := big.NewInt(h.Upper)
	ret.Lsh(ret, 64)
	ret.Add(ret, new(big.Int).SetUint64(h.Lower))
	return ret
}

func HugeintFromBig(b *big.Int) Hugeint {
	lo := new(big.Int).And(b, new(big.Int).SetUint64(math.MaxUint64))
	hi := new(big.Int).Rsh(b, 64)
	return Hugeint{Lower: lo.Uint64(), Upper: hi.Int64()}
}

func (h Hugeint) String() string {
	return h.BigInt().String()
}

// AddInplace returns false on overflow.
func AddInplace(lhs, rhs *Hugeint) bool {
	ladd := lhs.Lower + rhs.Lower
	overflow := int64(0)
	if ladd < lhs.Lower {
		overflow = 1
	}
	if rhs.Upper >= 0 {
		//rhs is positive
		if lhs.Upper > (math.MaxInt64 - rhs.Upper - overflow) {
			return false
		}
		lhs.Upper = lhs.Upper + overflow + rhs.Upper
	} else {
		//rhs is negative
		if lhs.Upper < (math.MinInt64 - rhs.Upper - overflow) {
			return false
		}
		lhs.Upper = lhs.Upper + (overflow + rhs.Upper)
	}
	lhs.Lower = ladd
	if lhs.Upper == math.MinInt64 && lhs.Lower == 0 {
		return false
	}
	return true
}
