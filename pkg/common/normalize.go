package common

import "github.com/cockroachdb/errors"

type typeClass int

const (
	tcSigned typeClass = iota
	tcUnsigned
	tcDecimal
	tcFloat
	tcString
	tcDate
	tcDatetime
	tcTime
)

func classOf(lt LType) typeClass {
	switch {
	case lt.Id.IsSignedInt():
		return tcSigned
	case lt.Id.IsUnsignedInt():
		return tcUnsigned
	case lt.Id.IsDecimal():
		return tcDecimal
	case lt.Id.IsFloat():
		return tcFloat
	case lt.Id.IsString():
		return tcString
	case lt.Id == LTID_DATE:
		return tcDate
	case lt.Id == LTID_DATETIME || lt.Id == LTID_TIMESTAMP:
		return tcDatetime
	case lt.Id == LTID_TIME:
		return tcTime
	}
	panic("usp type class")
}

func integerByWidth(width int, unsigned bool) LType {
	ids := []LTypeId{LTID_TINYINT, LTID_SMALLINT, LTID_INT, LTID_BIGINT}
	if unsigned {
		ids = []LTypeId{LTID_UTINYINT, LTID_USMALLINT, LTID_UINT, LTID_UBIGINT}
	}
	switch {
	case width <= 1:
		return MakeLType(ids[0])
	case width <= 2:
		return MakeLType(ids[1])
	case width <= 4:
		return MakeLType(ids[2])
	}
	return MakeLType(ids[3])
}

func decimalOf(lt LType) (precision, scale int) {
	if lt.Id.IsDecimal() {
		return lt.Precision, lt.Scale
	}
	return intDigits(lt.Id), 0
}

// NormalizeTypes returns the type both a and b convert into without loss
// of integer digits. It is the column type of a union of a and b.
func NormalizeTypes(a, b LType) (LType, error) {
	if a.Equal(b) {
		return a, nil
	}
	ca, cb := classOf(a), classOf(b)
	if ca > cb {
		a, b = b, a
		ca, cb = cb, ca
	}
	switch {
	case ca == tcSigned && cb == tcSigned:
		return integerByWidth(max(a.StorageWidth(), b.StorageWidth()), false), nil
	case ca == tcUnsigned && cb == tcUnsigned:
		return integerByWidth(max(a.StorageWidth(), b.StorageWidth()), true), nil
	case ca == tcSigned && cb == tcUnsigned:
		// the unsigned side needs one more byte of signed range
		w := max(a.StorageWidth(), b.StorageWidth()*2)
		if w > 8 {
			return DecimalType(intDigits(LTID_UBIGINT), 0), nil
		}
		return integerByWidth(w, false), nil
	case ca <= tcDecimal && cb == tcDecimal:
		pa, sa := decimalOf(a)
		pb, sb := decimalOf(b)
		scale := max(sa, sb)
		digits := max(pa-sa, pb-sb)
		precision := min(digits+scale, MaxDecimalPrecision)
		ret := DecimalType(precision, scale)
		if a.Id == LTID_UDECIMAL && b.Id == LTID_UDECIMAL {
			ret.Id = LTID_UDECIMAL
		}
		return ret, nil
	case ca <= tcFloat && cb == tcFloat:
		if a.Id == LTID_FLOAT && b.Id == LTID_FLOAT {
			return FloatType(), nil
		}
		return DoubleType(), nil
	case ca == tcString && cb == tcString:
		if a.Id == LTID_TEXT || b.Id == LTID_TEXT {
			return TextType(), nil
		}
		if a.Id == LTID_VARBINARY || b.Id == LTID_VARBINARY {
			return MakeLType(LTID_VARBINARY), nil
		}
		ret := VarcharType(max(a.Width, b.Width))
		if a.Id == LTID_CHAR && b.Id == LTID_CHAR {
			ret.Id = LTID_CHAR
		}
		ret.Charset = a.Charset
		return ret, nil
	case ca == tcDate && cb == tcDatetime:
		return DatetimeType(), nil
	case ca == tcDatetime && cb == tcDatetime:
		return DatetimeType(), nil
	}
	return LType{}, errors.Newf("can not normalize %s and %s", a, b)
}
