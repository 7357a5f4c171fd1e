package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

func oneRow(t *testing.T, a int64, b float64, s string) *rowgroup.Row {
	rg := rowgroup.NewRowGroupFromTypes([]common.LType{
		common.IntType(), common.DoubleType(), common.VarcharType(30),
	}, 1, true)
	rg.SetData(rg.NewRGData())
	row := &rowgroup.Row{}
	rg.GetRow(0, row)
	row.SetIntField(0, a)
	row.SetDoubleField(1, b)
	row.SetStringField(2, s)
	rg.IncRowCount()
	return row
}

func TestSimpleFilter(t *testing.T) {
	row := oneRow(t, 10, 2.5, "abc")
	cases := []struct {
		f    Filter
		want bool
	}{
		{NewSimpleFilter(ET_Equal, ColumnRef(0), IntConst(10)), true},
		{NewSimpleFilter(ET_NotEqual, ColumnRef(0), IntConst(10)), false},
		{NewSimpleFilter(ET_Greater, ColumnRef(0), ColumnRef(1)), true},
		{NewSimpleFilter(ET_LessEqual, ColumnRef(1), DoubleConst(2.5)), true},
		{NewSimpleFilter(ET_Less, ColumnRef(2), StringConst("abd")), true},
		{NewSimpleFilter(ET_GreaterEqual, ColumnRef(2), StringConst("abd")), false},
		{NewSimpleFilter(ET_Equal, ColumnRef(0), NullConst(common.IntType())), false},
		{NewSimpleFilter(ET_NotEqual, ColumnRef(0), NullConst(common.IntType())), false},
		{And(
			NewSimpleFilter(ET_Equal, ColumnRef(0), IntConst(10)),
			NewSimpleFilter(ET_Equal, ColumnRef(2), StringConst("x"))), false},
		{Or(
			NewSimpleFilter(ET_Equal, ColumnRef(0), IntConst(11)),
			NewSimpleFilter(ET_Equal, ColumnRef(2), StringConst("abc"))), true},
	}
	for i, c := range cases {
		got, err := c.f.Eval(row)
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, c.want, got, "case %d: %s", i, Explain(c.f))
	}
}

func TestFilterTypeMismatch(t *testing.T) {
	row := oneRow(t, 10, 2.5, "abc")
	_, err := NewSimpleFilter(ET_Equal, ColumnRef(0), ColumnRef(2)).Eval(row)
	require.Error(t, err)
	assert.Equal(t, common.ERR_ASSERTION, common.CodeOf(err))
}

func TestExplain(t *testing.T) {
	f := And(
		NewSimpleFilter(ET_Equal, ColumnRef(0), IntConst(1)),
		NewSimpleFilter(ET_Less, ColumnRef(1), ColumnRef(2)))
	s := Explain(f)
	assert.Contains(t, s, "and")
	assert.Contains(t, s, "#0 = 1")
	assert.Contains(t, s, "#1 < #2")
}
