package rowgroup

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

func allTypes() []common.LType {
	return []common.LType{
		common.TinyintType(),
		common.SmallintType(),
		common.MakeLType(common.LTID_MEDINT),
		common.IntType(),
		common.BigintType(),
		common.MakeLType(common.LTID_UTINYINT),
		common.MakeLType(common.LTID_USMALLINT),
		common.MakeLType(common.LTID_UINT),
		common.UBigintType(),
		common.FloatType(),
		common.DoubleType(),
		common.DecimalType(2, 1),
		common.DecimalType(4, 2),
		common.DecimalType(9, 2),
		common.DecimalType(18, 2),
		common.DecimalType(30, 4),
		common.CharType(1),
		common.CharType(2),
		common.VarcharType(4),
		common.VarcharType(8),
		common.VarcharType(40),
		common.TextType(),
		common.DateType(),
		common.DatetimeType(),
		common.TimestampType(),
		common.TimeType(),
	}
}

func fillAllTypes(row *Row, i int) {
	row.SetIntField(0, int64(-i))
	row.SetIntField(1, int64(-300*i))
	row.SetIntField(2, int64(70000*i))
	row.SetIntField(3, int64(-70000*i))
	row.SetIntField(4, int64(-1)<<40+int64(i))
	row.SetUintField(5, uint64(200+i))
	row.SetUintField(6, uint64(60000+i))
	row.SetUintField(7, uint64(4000000000+i))
	row.SetUintField(8, uint64(1)<<63+uint64(i))
	row.SetFloatField(9, float32(i)+0.5)
	row.SetDoubleField(10, float64(i)*1.25)
	row.SetIntField(11, int64(i))
	row.SetIntField(12, int64(-1234+i))
	row.SetIntField(13, int64(123456789-i))
	row.SetIntField(14, int64(-123456789012345678+i))
	wide := common.HugeintFromInt64(int64(i))
	wide.Upper = int64(i + 7)
	row.SetInt128Field(15, wide)
	row.SetStringField(16, "a")
	row.SetStringField(17, "bc")
	row.SetStringField(18, fmt.Sprintf("d%d", i))
	row.SetStringField(19, fmt.Sprintf("ef%06d", i))
	row.SetStringField(20, fmt.Sprintf("a longer string payload %d", i))
	row.SetStringField(21, "")
	row.SetUintField(22, uint64(common.MakeDate(2024, 2, 1+i)))
	row.SetUintField(23, common.MakeDatetime(2024, 2, 1+i, 10, 30, 15, 500))
	row.SetUintField(24, common.MakeTimestamp(1700000000+int64(i), 12))
	row.SetIntField(25, int64(-3600000000+i))
}

func buildAllTypes(t *testing.T, useStringTable bool) (*RowGroup, *RGData) {
	rg := NewRowGroupFromTypes(allTypes(), 16, useStringTable)
	data := rg.NewRGData()
	rg.SetData(data)
	row := Row{}
	for i := 0; i < 4; i++ {
		rg.GetRow(i, &row)
		if i == 2 {
			row.InitToNull()
		} else {
			fillAllTypes(&row, i)
		}
		rg.IncRowCount()
	}
	require.Equal(t, 4, rg.RowCount())
	return rg, data
}

func TestRGDataRoundTrip(t *testing.T) {
	for _, st := range []bool{true, false} {
		t.Run(fmt.Sprintf("stringTable=%v", st), func(t *testing.T) {
			rg, data := buildAllTypes(t, st)
			data.SetStatus(common.ERR_JOIN_TOO_BIG)

			bs := util.NewByteStream()
			require.NoError(t, SerializeRGData(rg, data, bs))
			first := append([]byte{}, bs.Bytes()...)

			got, err := DeserializeRGData(rg, bs)
			require.NoError(t, err)
			assert.Equal(t, 0, bs.Len())
			assert.Equal(t, data.RowCount(), got.RowCount())
			assert.Equal(t, common.ERR_JOIN_TOO_BIG, got.Status())

			out := NewRowGroupFromTypes(allTypes(), 16, st)
			out.SetData(got)
			var l, r Row
			for i := 0; i < data.RowCount(); i++ {
				rg.GetRow(i, &l)
				out.GetRow(i, &r)
				assert.True(t, l.Equals(&r), "row %d: %s vs %s", i, l.ToString(), r.ToString())
				for col := 0; col < rg.ColumnCount(); col++ {
					assert.Equal(t, l.IsNull(col), r.IsNull(col))
				}
			}

			again := util.NewByteStream()
			require.NoError(t, SerializeRGData(out, got, again))
			assert.Equal(t, first, again.Bytes())
		})
	}
}

func TestRowNulls(t *testing.T) {
	rg, _ := buildAllTypes(t, true)
	row := Row{}
	rg.GetRow(2, &row)
	for col := 0; col < rg.ColumnCount(); col++ {
		assert.True(t, row.IsNull(col), rg.ColType(col).String())
	}
	rg.GetRow(1, &row)
	for col := 0; col < rg.ColumnCount(); col++ {
		assert.False(t, row.IsNull(col), rg.ColType(col).String())
	}
	assert.Equal(t, "NULL", (&Row{_rg: rg, _data: rg.Data(), _idx: 2}).FieldString(0))
}

func TestRowAccessors(t *testing.T) {
	rg, _ := buildAllTypes(t, true)
	row := Row{}
	rg.GetRow(3, &row)
	assert.Equal(t, int64(-3), row.GetIntField(0))
	assert.Equal(t, int64(-900), row.GetIntField(1))
	assert.Equal(t, uint64(203), row.GetUintField(5))
	assert.Equal(t, float32(3.5), row.GetFloatField(9))
	assert.Equal(t, 3.75, row.GetDoubleField(10))
	assert.Equal(t, "-12.31", row.FieldString(12))
	assert.Equal(t, "d3", row.GetStringField(18))
	assert.Equal(t, "ef000003", row.GetStringField(19))
	assert.Equal(t, "a longer string payload 3", row.GetStringField(20))
	assert.Equal(t, "2024-02-04", row.FieldString(22))
	assert.Equal(t, "2024-02-04 10:30:15.000500", row.FieldString(23))
}

func TestSizeInBytes(t *testing.T) {
	rg := NewRowGroupFromTypes([]common.LType{common.IntType(), common.TextType()}, 8, true)
	assert.Equal(t, 12, rg.RowSize())
	data := rg.NewRGData()
	rg.SetData(data)
	row := Row{}
	rg.GetRow(0, &row)
	row.SetIntField(0, 1)
	row.SetStringField(1, "hello")
	rg.IncRowCount()
	assert.Equal(t, int64(12+5), rg.SizeInBytes())
	assert.Equal(t, int64(8*12+5), data.AllocatedBytes())
	data.Reinit()
	assert.Equal(t, int64(0), data.SizeInBytes())
}

func TestCopyRowTo(t *testing.T) {
	small := NewRowGroupFromTypes([]common.LType{common.IntType(), common.VarcharType(20)}, 4, true)
	large := NewRowGroupFromTypes([]common.LType{common.BigintType()}, 4, true)
	joined := large.Concat(small)
	small.SetData(small.NewRGData())
	large.SetData(large.NewRGData())
	joined.SetData(joined.NewRGData())

	var s, l, out Row
	small.GetRow(0, &s)
	s.SetIntField(0, 7)
	s.SetStringField(1, "seven")
	small.IncRowCount()
	large.GetRow(0, &l)
	l.SetIntField(0, 70)
	large.IncRowCount()

	joined.GetRow(0, &out)
	l.CopyRowTo(&out, 0)
	s.CopyRowTo(&out, large.ColumnCount())
	joined.IncRowCount()
	assert.Equal(t, "70\t7\tseven", out.ToString())
}

func TestHashKeys(t *testing.T) {
	rg := NewRowGroupFromTypes([]common.LType{
		common.IntType(),
		common.DecimalType(10, 2),
		common.UBigintType(),
		common.DoubleType(),
		common.DateType(),
		common.DatetimeType(),
	}, 4, true)
	rg.SetData(rg.NewRGData())
	var a, b Row
	rg.GetRow(0, &a)
	rg.GetRow(1, &b)
	a.SetIntField(0, 5)
	b.SetIntField(1, 500)
	b.SetUintField(2, 5)
	a.SetDoubleField(3, 0)
	b.SetDoubleField(3, math.Copysign(0, -1))
	a.SetUintField(4, uint64(common.MakeDate(2020, 1, 1)))
	b.SetUintField(5, common.MakeDatetime(2020, 1, 1, 0, 0, 0, 0))

	assert.Equal(t, a.HashKeys([]int{0}), b.HashKeys([]int{1}))
	assert.Equal(t, a.HashKeys([]int{0}), b.HashKeys([]int{2}))
	assert.Equal(t, a.HashKeys([]int{4}), b.HashKeys([]int{5}))
	assert.Equal(t, a.HashKeys([]int{3}), b.HashKeys([]int{3}))
	eq, err := a.KeysEqual([]int{0, 4}, &b, []int{1, 5}, false)
	require.NoError(t, err)
	assert.True(t, eq)

	a.SetNull(0)
	eq, err = a.KeysEqual([]int{0}, &b, []int{1}, false)
	require.NoError(t, err)
	assert.False(t, eq)
	b.SetNull(1)
	eq, err = a.KeysEqual([]int{0}, &b, []int{1}, true)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestCompareFieldUnsupported(t *testing.T) {
	rg := NewRowGroupFromTypes([]common.LType{common.IntType(), common.VarcharType(20)}, 4, true)
	rg.SetData(rg.NewRGData())
	var a Row
	rg.GetRow(0, &a)
	a.SetIntField(0, 1)
	a.SetStringField(1, "1")
	_, err := a.CompareField(0, &a, 1)
	require.Error(t, err)
	assert.Equal(t, common.ERR_ASSERTION, common.CodeOf(err))
}

func TestConvertField(t *testing.T) {
	src := NewRowGroupFromTypes([]common.LType{
		common.IntType(), common.DateType(), common.DecimalType(5, 1), common.CharType(2),
	}, 4, true)
	dst := NewRowGroupFromTypes([]common.LType{
		common.DecimalType(12, 2), common.DatetimeType(), common.DoubleType(), common.VarcharType(20),
	}, 4, true)
	src.SetData(src.NewRGData())
	dst.SetData(dst.NewRGData())
	var s, d Row
	src.GetRow(0, &s)
	dst.GetRow(0, &d)
	s.SetIntField(0, 42)
	s.SetUintField(1, uint64(common.MakeDate(2021, 3, 4)))
	s.SetIntField(2, 125)
	s.SetStringField(3, "ab")
	for col := 0; col < 4; col++ {
		require.NoError(t, ConvertField(&s, col, &d, col))
	}
	assert.Equal(t, "42.00\t2021-03-04 00:00:00\t12.5\tab", d.ToString())

	s.SetNull(0)
	require.NoError(t, ConvertField(&s, 0, &d, 0))
	assert.True(t, d.IsNull(0))

	require.Error(t, ConvertField(&s, 3, &d, 0))
}

func TestReleaseStrings(t *testing.T) {
	rg := NewRowGroupFromTypes([]common.LType{common.TextType(), common.IntType()}, 4, true)
	data := NewRGData(rg, 2)
	row := Row{}
	rg.InitRow(&row)
	row.Point(RowPtr{Data: data, Idx: 0})
	row.SetStringField(0, "first")
	row.SetIntField(1, 1)
	row.Point(RowPtr{Data: data, Idx: 1})
	row.SetStringField(0, "second")
	row.SetIntField(1, 2)
	data.SetRowCount(2)
	assert.Equal(t, int64(11), data.Strings().SizeInBytes())

	row.Point(RowPtr{Data: data, Idx: 0})
	assert.Equal(t, int64(5), row.ReleaseStrings())
	assert.True(t, row.IsNull(0))
	assert.Equal(t, int64(1), row.GetIntField(1))
	assert.Equal(t, 1, data.Strings().Live())
	assert.Equal(t, int64(0), row.ReleaseStrings())

	// the freed handle is taken again
	row.SetStringField(0, "third!")
	assert.Equal(t, 2, data.Strings().Count())
	assert.Equal(t, 2, data.Strings().Live())
	assert.Equal(t, int64(12), data.Strings().SizeInBytes())
	assert.Equal(t, "third!", row.GetStringField(0))
	row.Point(RowPtr{Data: data, Idx: 1})
	assert.Equal(t, "second", row.GetStringField(0))
}
