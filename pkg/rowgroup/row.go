package rowgroup

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// Row is a cursor over one row of an RGData. It never owns the data.
type Row struct {
	_rg   *RowGroup
	_data *RGData
	_idx  int
}

// RowPtr addresses a row without a schema.
type RowPtr struct {
	Data *RGData
	Idx  int32
}

func (row *Row) Ptr() RowPtr {
	return RowPtr{Data: row._data, Idx: int32(row._idx)}
}

// Point moves the cursor to ptr. The schema is kept.
func (row *Row) Point(ptr RowPtr) {
	row._data = ptr.Data
	row._idx = int(ptr.Idx)
}

func (row *Row) Index() int {
	return row._idx
}

func (row *Row) SetIndex(idx int) {
	row._idx = idx
}

func (row *Row) Next() {
	row._idx++
}

func (row *Row) Data() *RGData {
	return row._data
}

func (row *Row) RowGroup() *RowGroup {
	return row._rg
}

func (row *Row) ColumnCount() int {
	return row._rg.ColumnCount()
}

func (row *Row) ColType(col int) common.LType {
	return row._rg._cols[col].Type
}

func (row *Row) field(col int) []byte {
	off := row._idx*row._data._rowSize + row._rg._offsets[col]
	return row._data._rowData[off : off+row._rg._offsets[col+1]-row._rg._offsets[col]]
}

func (row *Row) bytes() []byte {
	return row._data.rowBytes(row._idx)
}

// GetUintField returns the raw bits of the column, zero extended.
func (row *Row) GetUintField(col int) uint64 {
	f := row.field(col)
	switch len(f) {
	case 1:
		return uint64(f[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(f))
	case 4:
		return uint64(binary.LittleEndian.Uint32(f))
	case 8:
		return binary.LittleEndian.Uint64(f)
	}
	panic("usp width")
}

// GetIntField sign extends signed types.
func (row *Row) GetIntField(col int) int64 {
	typ := row.ColType(col)
	if typ.Id.IsUnsignedInt() || typ.Id == common.LTID_DATE ||
		typ.Id == common.LTID_DATETIME || typ.Id == common.LTID_TIMESTAMP {
		return int64(row.GetUintField(col))
	}
	f := row.field(col)
	switch len(f) {
	case 1:
		return int64(int8(f[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(f)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(f)))
	case 8:
		return int64(binary.LittleEndian.Uint64(f))
	case 16:
		return int64(binary.LittleEndian.Uint64(f))
	}
	panic("usp width")
}

func (row *Row) GetFloatField(col int) float32 {
	return math.Float32frombits(uint32(row.GetUintField(col)))
}

func (row *Row) GetDoubleField(col int) float64 {
	return math.Float64frombits(row.GetUintField(col))
}

func (row *Row) GetInt128Field(col int) common.Hugeint {
	f := row.field(col)
	if len(f) == 16 {
		return common.Hugeint{
			Lower: binary.LittleEndian.Uint64(f),
			Upper: int64(binary.LittleEndian.Uint64(f[8:])),
		}
	}
	typ := row.ColType(col)
	if typ.Id.IsUnsignedInt() {
		return common.Hugeint{Lower: row.GetUintField(col)}
	}
	return common.HugeintFromInt64(row.GetIntField(col))
}

func (row *Row) GetStringField(col int) string {
	typ := row.ColType(col)
	if typ.IsLongString() {
		h := row.GetUintField(col)
		if h == common.STRINGNULL {
			return ""
		}
		return row._data._strings.Get(h)
	}
	f := row.field(col)
	return string(bytes.TrimRight(f, "\x00"))
}

func (row *Row) SetUintField(col int, v uint64) {
	f := row.field(col)
	switch len(f) {
	case 1:
		f[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(f, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(f, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(f, v)
	case 16:
		binary.LittleEndian.PutUint64(f, v)
		binary.LittleEndian.PutUint64(f[8:], 0)
	default:
		panic("usp width")
	}
}

func (row *Row) SetIntField(col int, v int64) {
	f := row.field(col)
	if len(f) == 16 {
		row.SetInt128Field(col, common.HugeintFromInt64(v))
		return
	}
	row.SetUintField(col, uint64(v))
}

func (row *Row) SetFloatField(col int, v float32) {
	row.SetUintField(col, uint64(math.Float32bits(v)))
}

func (row *Row) SetDoubleField(col int, v float64) {
	row.SetUintField(col, math.Float64bits(v))
}

func (row *Row) SetInt128Field(col int, v common.Hugeint) {
	f := row.field(col)
	if len(f) != 16 {
		util.AssertFunc(v.FitsInt64())
		row.SetUintField(col, v.Lower)
		return
	}
	binary.LittleEndian.PutUint64(f, v.Lower)
	binary.LittleEndian.PutUint64(f[8:], uint64(v.Upper))
}

func (row *Row) SetStringField(col int, s string) {
	typ := row.ColType(col)
	if typ.IsLongString() {
		row.SetUintField(col, row._data._strings.Add(s))
		return
	}
	f := row.field(col)
	util.AssertFunc(len(s) <= len(f))
	n := copy(f, s)
	for i := n; i < len(f); i++ {
		f[i] = 0
	}
}

func (row *Row) IsNull(col int) bool {
	typ := row.ColType(col)
	if typ.IsWideDecimal() {
		return row.GetInt128Field(col).IsNull()
	}
	return common.IsNullBits(typ, row.GetUintField(col))
}

func (row *Row) SetNull(col int) {
	typ := row.ColType(col)
	if typ.IsWideDecimal() {
		row.SetInt128Field(col, common.WideDecimalNull)
		return
	}
	bits, ok := common.NullSentinel(typ)
	util.AssertFunc(ok)
	row.SetUintField(col, bits)
}

// InitToNull sets every column to NULL.
func (row *Row) InitToNull() {
	for i := 0; i < row.ColumnCount(); i++ {
		row.SetNull(i)
	}
}

// CopyField copies column srcCol of row into column dstCol of dst. The
// two columns must have the same storage layout.
func (row *Row) CopyField(dst *Row, dstCol, srcCol int) {
	styp := row.ColType(srcCol)
	if styp.IsLongString() {
		h := row.GetUintField(srcCol)
		if h == common.STRINGNULL {
			dst.SetUintField(dstCol, h)
		} else {
			dst.SetStringField(dstCol, row._data._strings.Get(h))
		}
		return
	}
	copy(dst.field(dstCol), row.field(srcCol))
}

// CopyRow copies the whole row into dst which has the same schema.
func (row *Row) CopyRow(dst *Row) {
	if !row._rg.HasLongString() {
		copy(dst.bytes(), row.bytes())
		return
	}
	row.CopyRowTo(dst, 0)
}

// ReleaseStrings frees the long strings of the row in its batch and sets
// them to null. It returns the freed payload bytes.
func (row *Row) ReleaseStrings() int64 {
	if !row._rg.HasLongString() {
		return 0
	}
	var freed int64
	for col := 0; col < row.ColumnCount(); col++ {
		if !row.ColType(col).IsLongString() {
			continue
		}
		h := row.GetUintField(col)
		if h == common.STRINGNULL {
			continue
		}
		freed += row._data._strings.Free(h)
		row.SetUintField(col, common.STRINGNULL)
	}
	return freed
}

// CopyRowTo copies all columns of row into dst starting at column dstOff.
func (row *Row) CopyRowTo(dst *Row, dstOff int) {
	for i := 0; i < row.ColumnCount(); i++ {
		row.CopyField(dst, dstOff+i, i)
	}
}

// AppendTo copies the row to the end of rg's bound data.
func (row *Row) AppendTo(rg *RowGroup) {
	out := Row{}
	rg.GetRow(rg.RowCount(), &out)
	rg.IncRowCount()
	row.CopyRow(&out)
}

// Hash covers every column. It is used for duplicate elimination.
func (row *Row) Hash() uint64 {
	if !row._rg.HasLongString() {
		return xxhash.Sum64(row.bytes())
	}
	d := xxhash.New()
	var buf [8]byte
	for i := 0; i < row.ColumnCount(); i++ {
		if row.ColType(i).IsLongString() {
			s := row.GetStringField(i)
			if row.IsNull(i) {
				binary.LittleEndian.PutUint64(buf[:], common.STRINGNULL)
				_, _ = d.Write(buf[:])
				continue
			}
			binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
			_, _ = d.Write(buf[:])
			_, _ = d.WriteString(s)
			continue
		}
		_, _ = d.Write(row.field(i))
	}
	return d.Sum64()
}

// Equals compares every column of two rows of the same schema.
func (row *Row) Equals(other *Row) bool {
	if !row._rg.HasLongString() {
		return bytes.Equal(row.bytes(), other.bytes())
	}
	for i := 0; i < row.ColumnCount(); i++ {
		if row.ColType(i).IsLongString() {
			ln, rn := row.IsNull(i), other.IsNull(i)
			if ln != rn {
				return false
			}
			if !ln && row.GetStringField(i) != other.GetStringField(i) {
				return false
			}
			continue
		}
		if !bytes.Equal(row.field(i), other.field(i)) {
			return false
		}
	}
	return true
}

// value classes that compare with each other
const (
	vcNumber = iota
	vcFloat
	vcString
	vcDate
	vcDatetime
	vcTime
)

func valueClass(typ common.LType) int {
	switch {
	case typ.Id.IsInteger() || typ.Id.IsDecimal():
		return vcNumber
	case typ.Id.IsFloat():
		return vcFloat
	case typ.Id.IsString():
		return vcString
	case typ.Id == common.LTID_DATE:
		return vcDate
	case typ.Id == common.LTID_DATETIME || typ.Id == common.LTID_TIMESTAMP:
		return vcDatetime
	case typ.Id == common.LTID_TIME:
		return vcTime
	}
	return -1
}

// KeyTypesCompatible reports two columns can be compared as join keys.
func KeyTypesCompatible(a, b common.LType) bool {
	ca, cb := valueClass(a), valueClass(b)
	return ca >= 0 && ca == cb
}

// ComparableTypes reports CompareField accepts the two types.
func ComparableTypes(a, b common.LType) bool {
	ca, cb := valueClass(a), valueClass(b)
	if ca < 0 || cb < 0 {
		return false
	}
	if ca == cb {
		return true
	}
	return (ca == vcNumber && cb == vcFloat) || (ca == vcFloat && cb == vcNumber) ||
		(ca == vcDate && cb == vcDatetime) || (ca == vcDatetime && cb == vcDate)
}

func (row *Row) scaleOf(col int) int {
	typ := row.ColType(col)
	if typ.Id.IsDecimal() {
		return typ.Scale
	}
	return 0
}

// GetNumberAsDouble widens any numeric column.
func (row *Row) GetNumberAsDouble(col int) float64 {
	typ := row.ColType(col)
	switch {
	case typ.Id == common.LTID_FLOAT:
		return float64(row.GetFloatField(col))
	case typ.Id == common.LTID_DOUBLE:
		return row.GetDoubleField(col)
	case typ.Id.IsUnsignedInt():
		return float64(row.GetUintField(col))
	case typ.Id.IsDecimal():
		return common.DecimalToFloat64(row.GetInt128Field(col), typ.Scale)
	}
	return float64(row.GetIntField(col))
}

func (row *Row) temporalAsDatetime(col int) uint64 {
	if row.ColType(col).Id == common.LTID_DATE {
		return common.DateToDatetime(uint32(row.GetUintField(col)))
	}
	return row.GetUintField(col)
}

func cmpOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	if util.GreaterFloat(a, b) {
		return 1
	}
	if util.GreaterFloat(b, a) {
		return -1
	}
	return 0
}

// CompareField compares the non NULL values of two columns. Unsupported
// type combinations are a logic error.
func (row *Row) CompareField(col int, other *Row, otherCol int) (int, error) {
	lt, rt := row.ColType(col), other.ColType(otherCol)
	lc, rc := valueClass(lt), valueClass(rt)
	switch {
	case lc == vcNumber && rc == vcNumber:
		if lt.Id.IsInteger() && rt.Id.IsInteger() && lt.Id.IsSignedInt() == rt.Id.IsSignedInt() {
			if lt.Id.IsSignedInt() {
				return cmpOrdered(row.GetIntField(col), other.GetIntField(otherCol)), nil
			}
			return cmpOrdered(row.GetUintField(col), other.GetUintField(otherCol)), nil
		}
		ls, rs := row.scaleOf(col), other.scaleOf(otherCol)
		lv, rv := row.GetInt128Field(col), other.GetInt128Field(otherCol)
		if ls < rs {
			lv = common.RescaleDecimal(lv, ls, rs)
		} else if rs < ls {
			rv = common.RescaleDecimal(rv, rs, ls)
		}
		return lv.Compare(rv), nil
	case (lc == vcFloat || lc == vcNumber) && (rc == vcFloat || rc == vcNumber):
		return cmpFloat(row.GetNumberAsDouble(col), other.GetNumberAsDouble(otherCol)), nil
	case lc == vcString && rc == vcString:
		return strings.Compare(row.GetStringField(col), other.GetStringField(otherCol)), nil
	case lc == vcDate && rc == vcDate:
		return cmpOrdered(row.GetUintField(col), other.GetUintField(otherCol)), nil
	case (lc == vcDate || lc == vcDatetime) && (rc == vcDate || rc == vcDatetime):
		return cmpOrdered(row.temporalAsDatetime(col), other.temporalAsDatetime(otherCol)), nil
	case lc == vcTime && rc == vcTime:
		return cmpOrdered(row.GetIntField(col), other.GetIntField(otherCol)), nil
	}
	return 0, errors.AssertionFailedf("unsupported type combination %s and %s", lt, rt)
}

// appendKey appends a normalized encoding of the column so that equal
// values of compatible types encode equally.
func (row *Row) appendKey(b []byte, col int) []byte {
	typ := row.ColType(col)
	switch valueClass(typ) {
	case vcNumber:
		v := row.GetInt128Field(col)
		scale := row.scaleOf(col)
		if scale > 0 {
			bi := v.BigInt()
			ten := big.NewInt(10)
			rem := new(big.Int)
			for scale > 0 {
				q, r := new(big.Int).QuoRem(bi, ten, rem)
				if r.Sign() != 0 {
					break
				}
				bi = q
				scale--
			}
			v = common.HugeintFromBig(bi)
		}
		b = append(b, 'n', byte(scale))
		b = binary.LittleEndian.AppendUint64(b, v.Lower)
		return binary.LittleEndian.AppendUint64(b, uint64(v.Upper))
	case vcFloat:
		f := row.GetNumberAsDouble(col)
		if f == 0 {
			f = 0
		}
		b = append(b, 'f')
		return binary.LittleEndian.AppendUint64(b, math.Float64bits(f))
	case vcString:
		s := row.GetStringField(col)
		b = append(b, 's')
		b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
		return append(b, s...)
	case vcDate, vcDatetime:
		b = append(b, 'd')
		return binary.LittleEndian.AppendUint64(b, row.temporalAsDatetime(col))
	case vcTime:
		b = append(b, 't')
		return binary.LittleEndian.AppendUint64(b, row.GetUintField(col))
	}
	panic("usp key type")
}

// HashKeys hashes the key columns. NULL keys hash by their column type.
func (row *Row) HashKeys(cols []int) uint64 {
	var buf [64]byte
	b := buf[:0]
	for _, col := range cols {
		if row.IsNull(col) {
			b = append(b, 0)
			continue
		}
		b = row.appendKey(b, col)
	}
	return xxhash.Sum64(b)
}

// HasNullKey reports any key column is NULL.
func (row *Row) HasNullKey(cols []int) bool {
	for _, col := range cols {
		if row.IsNull(col) {
			return true
		}
	}
	return false
}

// KeysEqual compares key columns of two rows. Two NULL keys are equal
// only when matchNulls is set.
func (row *Row) KeysEqual(cols []int, other *Row, otherCols []int, matchNulls bool) (bool, error) {
	for i, col := range cols {
		ln, rn := row.IsNull(col), other.IsNull(otherCols[i])
		if ln || rn {
			if ln && rn && matchNulls {
				continue
			}
			return false, nil
		}
		c, err := row.CompareField(col, other, otherCols[i])
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

func (row *Row) FieldString(col int) string {
	if row.IsNull(col) {
		return "NULL"
	}
	typ := row.ColType(col)
	switch {
	case typ.Id.IsSignedInt():
		return strconv.FormatInt(row.GetIntField(col), 10)
	case typ.Id.IsUnsignedInt():
		return strconv.FormatUint(row.GetUintField(col), 10)
	case typ.Id == common.LTID_FLOAT:
		return strconv.FormatFloat(float64(row.GetFloatField(col)), 'g', -1, 32)
	case typ.Id == common.LTID_DOUBLE:
		return strconv.FormatFloat(row.GetDoubleField(col), 'g', -1, 64)
	case typ.Id.IsDecimal():
		return common.FormatWideDecimal(row.GetInt128Field(col), typ.Scale)
	case typ.Id.IsString():
		return row.GetStringField(col)
	case typ.Id == common.LTID_DATE:
		return common.FormatDate(uint32(row.GetUintField(col)))
	case typ.Id == common.LTID_DATETIME:
		return common.FormatDatetime(row.GetUintField(col))
	case typ.Id == common.LTID_TIMESTAMP:
		return common.FormatTimestamp(row.GetUintField(col))
	case typ.Id == common.LTID_TIME:
		return common.FormatTime(row.GetIntField(col))
	}
	return "?"
}

func (row *Row) ToString() string {
	sb := strings.Builder{}
	for i := 0; i < row.ColumnCount(); i++ {
		if i > 0 {
			sb.WriteByte('\t')
		}
		sb.WriteString(row.FieldString(i))
	}
	return sb.String()
}
