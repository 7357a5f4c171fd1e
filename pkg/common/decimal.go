package common

import (
	"math/big"
	"strings"

	dec "github.com/govalues/decimal"
)

// FormatDecimal renders a narrow decimal stored as value * 10^-scale.
func FormatDecimal(value int64, scale int) string {
	d, err := dec.New(value, scale)
	if err != nil {
		return formatBig(big.NewInt(value), scale)
	}
	return d.String()
}

func FormatWideDecimal(value Hugeint, scale int) string {
	if value.FitsInt64() {
		return FormatDecimal(int64(value.Lower), scale)
	}
	return formatBig(value.BigInt(), scale)
}

func formatBig(b *big.Int, scale int) string {
	s := new(big.Int).Abs(b).String()
	neg := b.Sign() < 0
	if scale > 0 {
		if len(s) <= scale {
			s = strings.Repeat("0", scale-len(s)+1) + s
		}
		s = s[:len(s)-scale] + "." + s[len(s)-scale:]
	}
	if neg {
		return "-" + s
	}
	return s
}

// ParseDecimal parses s into an unscaled value with the given scale.
func ParseDecimal(s string, scale int) (int64, error) {
	d, err := dec.ParseExact(s, scale)
	if err != nil {
		return 0, err
	}
	whole, frac, ok := d.Int64(scale)
	if !ok {
		return 0, errDecimalOverflow
	}
	return whole*pow10Int64(scale) + frac, nil
}

// RescaleDecimal converts an unscaled value from one scale to another,
// truncating extra fraction digits.
func RescaleDecimal(value Hugeint, from, to int) Hugeint {
	if from == to {
		return value
	}
	b := value.BigInt()
	if to > from {
		b.Mul(b, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	} else {
		b.Quo(b, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	}
	return HugeintFromBig(b)
}

func DecimalToFloat64(value Hugeint, scale int) float64 {
	f := new(big.Float).SetInt(value.BigInt())
	if scale > 0 {
		div := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil))
		f.Quo(f, div)
	}
	ret, _ := f.Float64()
	return ret
}

func pow10Int64(n int) int64 {
	ret := int64(1)
	for i := 0; i < n; i++ {
		ret *= 10
	}
	return ret
}
