package common

import (
	"fmt"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// MaxInlineStringWidth is the widest string stored in the row itself.
// Wider strings live in the string store and the row keeps a handle.
const MaxInlineStringWidth = 8

// MaxNarrowDecimalPrecision is the widest decimal stored in 8 bytes.
const MaxNarrowDecimalPrecision = 18

const MaxDecimalPrecision = 38

type LType struct {
	Id LTypeId
	// declared width. characters for strings, bytes otherwise.
	Width     int
	Scale     int
	Precision int
	Charset   int
}

func MakeLType(id LTypeId) LType {
	ret := LType{Id: id}
	switch id {
	case LTID_TINYINT, LTID_UTINYINT:
		ret.Width = 1
	case LTID_SMALLINT, LTID_USMALLINT:
		ret.Width = 2
	case LTID_MEDINT, LTID_UMEDINT, LTID_INT, LTID_UINT, LTID_FLOAT, LTID_DATE:
		ret.Width = 4
	case LTID_BIGINT, LTID_UBIGINT, LTID_DOUBLE, LTID_DATETIME, LTID_TIMESTAMP, LTID_TIME:
		ret.Width = 8
	case LTID_TEXT, LTID_VARBINARY:
		ret.Width = 65535
	}
	ret.Precision = intDigits(id)
	return ret
}

func TinyintType() LType   { return MakeLType(LTID_TINYINT) }
func SmallintType() LType  { return MakeLType(LTID_SMALLINT) }
func IntType() LType       { return MakeLType(LTID_INT) }
func BigintType() LType    { return MakeLType(LTID_BIGINT) }
func UBigintType() LType   { return MakeLType(LTID_UBIGINT) }
func FloatType() LType     { return MakeLType(LTID_FLOAT) }
func DoubleType() LType    { return MakeLType(LTID_DOUBLE) }
func DateType() LType      { return MakeLType(LTID_DATE) }
func DatetimeType() LType  { return MakeLType(LTID_DATETIME) }
func TimestampType() LType { return MakeLType(LTID_TIMESTAMP) }
func TimeType() LType      { return MakeLType(LTID_TIME) }
func TextType() LType      { return MakeLType(LTID_TEXT) }

func DecimalType(precision, scale int) LType {
	ret := LType{Id: LTID_DECIMAL, Precision: precision, Scale: scale}
	ret.Width = ret.StorageWidth()
	return ret
}

func CharType(width int) LType {
	return LType{Id: LTID_CHAR, Width: width}
}

func VarcharType(width int) LType {
	return LType{Id: LTID_VARCHAR, Width: width}
}

// StorageWidth is the number of bytes the column takes in a row.
func (lt LType) StorageWidth() int {
	switch lt.Id {
	case LTID_TINYINT, LTID_UTINYINT:
		return 1
	case LTID_SMALLINT, LTID_USMALLINT:
		return 2
	case LTID_MEDINT, LTID_UMEDINT, LTID_INT, LTID_UINT, LTID_FLOAT, LTID_DATE:
		return 4
	case LTID_BIGINT, LTID_UBIGINT, LTID_DOUBLE, LTID_DATETIME, LTID_TIMESTAMP, LTID_TIME:
		return 8
	case LTID_DECIMAL, LTID_UDECIMAL:
		switch {
		case lt.Precision <= 2:
			return 1
		case lt.Precision <= 4:
			return 2
		case lt.Precision <= 9:
			return 4
		case lt.Precision <= MaxNarrowDecimalPrecision:
			return 8
		default:
			return 16
		}
	case LTID_CHAR, LTID_VARCHAR:
		switch {
		case lt.Width <= 1:
			return 1
		case lt.Width == 2:
			return 2
		case lt.Width <= 4:
			return 4
		default:
			// inline up to 8, otherwise a string handle
			return 8
		}
	case LTID_TEXT, LTID_VARBINARY:
		return 8
	}
	panic(fmt.Sprintf("usp type %s", lt.Id))
}

// IsLongString reports strings kept out of the row.
func (lt LType) IsLongString() bool {
	switch lt.Id {
	case LTID_TEXT, LTID_VARBINARY:
		return true
	case LTID_CHAR, LTID_VARCHAR:
		return lt.Width > MaxInlineStringWidth
	}
	return false
}

func (lt LType) IsShortString() bool {
	return lt.Id.IsString() && !lt.IsLongString()
}

func (lt LType) IsWideDecimal() bool {
	return lt.Id.IsDecimal() && lt.StorageWidth() == 16
}

func (lt LType) Equal(o LType) bool {
	return lt.Id == o.Id &&
		lt.Width == o.Width &&
		lt.Scale == o.Scale &&
		lt.Precision == o.Precision &&
		lt.Charset == o.Charset
}

func (lt LType) String() string {
	switch {
	case lt.Id.IsDecimal():
		return fmt.Sprintf("%s(%d,%d)", lt.Id, lt.Precision, lt.Scale)
	case lt.Id.IsString():
		return fmt.Sprintf("%s(%d)", lt.Id, lt.Width)
	}
	return lt.Id.String()
}

func (lt LType) Serialize(serial util.Serialize) error {
	for _, v := range []int32{int32(lt.Id), int32(lt.Width), int32(lt.Scale),
		int32(lt.Precision), int32(lt.Charset)} {
		if err := util.Write[int32](v, serial); err != nil {
			return err
		}
	}
	return nil
}

func DeserializeLType(deserial util.Deserialize) (LType, error) {
	var vals [5]int32
	for i := range vals {
		if err := util.Read[int32](&vals[i], deserial); err != nil {
			return LType{}, err
		}
	}
	return LType{
		Id:        LTypeId(vals[0]),
		Width:     int(vals[1]),
		Scale:     int(vals[2]),
		Precision: int(vals[3]),
		Charset:   int(vals[4]),
	}, nil
}

func CopyLTypes(typs ...LType) []LType {
	return util.CopyTo(typs)
}

// intDigits is the decimal digits an integer type can hold.
func intDigits(id LTypeId) int {
	switch id {
	case LTID_TINYINT, LTID_UTINYINT:
		return 3
	case LTID_SMALLINT, LTID_USMALLINT:
		return 5
	case LTID_MEDINT, LTID_UMEDINT:
		return 8
	case LTID_INT, LTID_UINT:
		return 10
	case LTID_BIGINT:
		return 19
	case LTID_UBIGINT:
		return 20
	}
	return 0
}
