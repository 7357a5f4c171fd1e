package common

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

func TestNullSentinel(t *testing.T) {
	cases := []struct {
		typ  LType
		want uint64
	}{
		{TinyintType(), 0x80},
		{SmallintType(), 0x8000},
		{IntType(), 0x80000000},
		{MakeLType(LTID_MEDINT), 0x80000000},
		{BigintType(), 0x8000000000000000},
		{MakeLType(LTID_UTINYINT), 0xFE},
		{MakeLType(LTID_USMALLINT), 0xFFFE},
		{MakeLType(LTID_UINT), 0xFFFFFFFE},
		{UBigintType(), 0xFFFFFFFFFFFFFFFE},
		{FloatType(), 0xFFAAAAAA},
		{DoubleType(), 0xFFFAAAAAAAAAAAAA},
		{DecimalType(2, 1), 0x80},
		{DecimalType(4, 2), 0x8000},
		{DecimalType(9, 2), 0x80000000},
		{DecimalType(18, 2), 0x8000000000000000},
		{CharType(1), 0xFE},
		{CharType(2), 0xFEFF},
		{VarcharType(3), 0xFEFFFFFF},
		{VarcharType(4), 0xFEFFFFFF},
		{CharType(7), 0xFEFFFFFFFFFFFFFF},
		{VarcharType(8), 0xFEFFFFFFFFFFFFFF},
		{VarcharType(100), STRINGNULL},
		{DateType(), 0xFFFFFFFE},
		{DatetimeType(), 0xFFFFFFFFFFFFFFFE},
		{TimestampType(), 0xFFFFFFFFFFFFFFFE},
		{TimeType(), 0xFFFFFFFFFFFFFFFE},
	}
	for _, c := range cases {
		got, ok := NullSentinel(c.typ)
		require.True(t, ok, c.typ.String())
		assert.Equal(t, c.want, got, c.typ.String())
		assert.True(t, IsNullBits(c.typ, c.want))
	}

	_, ok := NullSentinel(DecimalType(30, 2))
	assert.False(t, ok)
	assert.True(t, WideDecimalNull.IsNull())
	assert.Equal(t, 16, DecimalType(30, 2).StorageWidth())
}

func TestNormalizeTypes(t *testing.T) {
	cases := []struct {
		a, b LType
		want LType
	}{
		{TinyintType(), IntType(), IntType()},
		{MakeLType(LTID_UTINYINT), MakeLType(LTID_USMALLINT), MakeLType(LTID_USMALLINT)},
		{IntType(), MakeLType(LTID_USMALLINT), IntType()},
		{IntType(), MakeLType(LTID_UINT), BigintType()},
		{BigintType(), UBigintType(), DecimalType(20, 0)},
		{IntType(), DecimalType(10, 2), DecimalType(12, 2)},
		{DecimalType(5, 1), DecimalType(6, 3), DecimalType(7, 3)},
		{IntType(), DoubleType(), DoubleType()},
		{FloatType(), FloatType(), FloatType()},
		{DecimalType(5, 1), FloatType(), DoubleType()},
		{CharType(4), VarcharType(20), VarcharType(20)},
		{CharType(4), CharType(2), CharType(4)},
		{DateType(), DatetimeType(), DatetimeType()},
	}
	for _, c := range cases {
		got, err := NormalizeTypes(c.a, c.b)
		require.NoError(t, err)
		assert.True(t, c.want.Equal(got), "%s + %s = %s want %s", c.a, c.b, got, c.want)
		rev, err := NormalizeTypes(c.b, c.a)
		require.NoError(t, err)
		assert.True(t, got.Equal(rev))
	}

	_, err := NormalizeTypes(IntType(), VarcharType(10))
	assert.Error(t, err)
}

func TestLTypeSerialize(t *testing.T) {
	bs := util.NewByteStream()
	typs := []LType{IntType(), DecimalType(30, 4), VarcharType(44), DateType()}
	for _, typ := range typs {
		require.NoError(t, typ.Serialize(bs))
	}
	for _, typ := range typs {
		got, err := DeserializeLType(bs)
		require.NoError(t, err)
		assert.True(t, typ.Equal(got))
	}
}

func TestHugeint(t *testing.T) {
	a := HugeintFromInt64(-5)
	b := HugeintFromInt64(7)
	assert.True(t, a.Less(b))
	assert.Equal(t, "-5", a.String())
	assert.True(t, AddInplace(&a, &b))
	assert.Equal(t, "2", a.String())
	assert.True(t, WideDecimalNull.Less(HugeintFromInt64(-1<<62)))
	assert.Equal(t, "-123.45", FormatWideDecimal(HugeintFromInt64(-12345), 2))
	assert.Equal(t, "0.05", FormatDecimal(5, 2))
	v, err := ParseDecimal("-1.25", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(-125), v)
	assert.Equal(t, "1250", RescaleDecimal(HugeintFromInt64(125), 1, 2).String())
}

func TestCodeOf(t *testing.T) {
	err := NewJobError(ERR_JOIN_TOO_BIG, "small side %d", 1)
	assert.Equal(t, ERR_JOIN_TOO_BIG, CodeOf(err))
	assert.Equal(t, ERR_JOIN_TOO_BIG, CodeOf(errors.Wrap(err, "build")))
	assert.True(t, IsResourceError(err))
	assert.Equal(t, ERR_ASSERTION, CodeOf(errors.AssertionFailedf("bad")))
	assert.Equal(t, ERR_OK, CodeOf(nil))
	assert.Equal(t, ERR_INTERNAL, CodeOf(errors.New("x")))
}
