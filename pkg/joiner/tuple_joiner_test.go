package joiner

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/expr"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

const null = math.MinInt64

func intRG(cols int) *rowgroup.RowGroup {
	typs := make([]common.LType, cols)
	for i := range typs {
		typs[i] = common.BigintType()
	}
	return rowgroup.NewRowGroupFromTypes(typs, 16, true)
}

func makeData(rg *rowgroup.RowGroup, rows ...[]int64) *rowgroup.RGData {
	data := rowgroup.NewRGData(rg, len(rows))
	row := rowgroup.Row{}
	rg.InitRow(&row)
	for i, vals := range rows {
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
		for c, v := range vals {
			if v == null {
				row.SetNull(c)
			} else {
				row.SetIntField(c, v)
			}
		}
	}
	data.SetRowCount(len(rows))
	return data
}

// runJoin probes every large row and renders the emitted rows sorted.
func runJoin(t *testing.T, tj *TupleJoiner, large *rowgroup.RGData) ([]string, error) {
	outRG := tj.OutputRG()
	outRG.SetData(rowgroup.NewRGData(outRG, 64))
	var lrow, orow rowgroup.Row
	tj.LargeRG().InitRow(&lrow)
	matches := make([]Entry, 0)
	for i := 0; i < large.RowCount(); i++ {
		lrow.Point(rowgroup.RowPtr{Data: large, Idx: int32(i)})
		if err := tj.Match(&lrow, 0, &matches); err != nil {
			return nil, err
		}
		if err := tj.ApplyJoinRules(&lrow, 0, &matches); err != nil {
			return nil, err
		}
		for _, ent := range matches {
			outRG.GetRow(outRG.RowCount(), &orow)
			tj.JoinRow(&lrow, ent, 0, &orow)
			outRG.IncRowCount()
		}
	}
	if tj.JoinType().Has(JT_SMALLOUTER) {
		for _, ptr := range tj.GetUnmarkedRows() {
			outRG.GetRow(outRG.RowCount(), &orow)
			tj.JoinUnmatchedSmall(ptr, 0, &orow)
			outRG.IncRowCount()
		}
	}
	ret := make([]string, 0, outRG.RowCount())
	for i := 0; i < outRG.RowCount(); i++ {
		outRG.GetRow(i, &orow)
		ret = append(ret, orow.ToString())
	}
	sort.Strings(ret)
	return ret, nil
}

func buildJoiner(t *testing.T, jt JoinType, small *rowgroup.RGData) *TupleJoiner {
	tj, err := NewTupleJoiner(intRG(1), intRG(1), []int{0}, []int{0}, jt, 1)
	require.NoError(t, err)
	tj.InsertRGData(small)
	tj.DoneInserting()
	return tj
}

func TestInnerJoinScenario(t *testing.T) {
	small := makeData(intRG(1), []int64{1}, []int64{2}, []int64{3})
	large := makeData(intRG(1), []int64{1}, []int64{1}, []int64{2}, []int64{4}, []int64{5})
	tj := buildJoiner(t, JT_INNER, small)
	assert.Equal(t, 3, tj.Size())
	assert.Equal(t, 3, tj.UniqueCount())
	got, err := runJoin(t, tj, large)
	require.NoError(t, err)
	assert.Equal(t, []string{"1\t1", "1\t1", "2\t2"}, got)
}

func TestJoinKinds(t *testing.T) {
	smallRows := [][]int64{{1}, {2}, {2}, {3}, {null}}
	largeRows := [][]int64{{1}, {2}, {4}, {null}}
	cases := []struct {
		jt   JoinType
		want []string
	}{
		{JT_INNER, []string{"1\t1", "2\t2", "2\t2"}},
		{JT_LARGEOUTER, []string{"1\t1", "2\t2", "2\t2", "4\tNULL", "NULL\tNULL"}},
		{JT_SMALLOUTER, []string{"1\t1", "2\t2", "2\t2", "NULL\t3", "NULL\tNULL"}},
		{JT_SEMI, []string{"1", "2"}},
		{JT_ANTI, []string{"4", "NULL"}},
		{JT_INNER | JT_MATCHNULLS, []string{"1\t1", "2\t2", "2\t2", "NULL\tNULL"}},
	}
	for _, c := range cases {
		t.Run(c.jt.String(), func(t *testing.T) {
			small := makeData(intRG(1), smallRows...)
			large := makeData(intRG(1), largeRows...)
			got, err := runJoin(t, buildJoiner(t, c.jt, small), large)
			require.NoError(t, err)
			expect := append([]string{}, c.want...)
			sort.Strings(expect)
			assert.Equal(t, expect, got)
		})
	}
}

func TestScalarJoin(t *testing.T) {
	small := makeData(intRG(1), []int64{1}, []int64{2}, []int64{2})
	tj := buildJoiner(t, JT_SCALAR|JT_LARGEOUTER, small)
	got, err := runJoin(t, tj, makeData(intRG(1), []int64{1}, []int64{3}))
	require.NoError(t, err)
	assert.Equal(t, []string{"1\t1", "3\tNULL"}, got)

	_, err = runJoin(t, tj, makeData(intRG(1), []int64{2}))
	require.Error(t, err)
	assert.Equal(t, common.ERR_MORE_THAN_1_ROW, common.CodeOf(err))
}

func TestResidualFilter(t *testing.T) {
	smallRG := intRG(2)
	largeRG := intRG(2)
	small := makeData(smallRG, []int64{1, 10}, []int64{1, 20}, []int64{2, 5})
	large := makeData(largeRG, []int64{1, 15}, []int64{2, 1})

	for _, jt := range []JoinType{JT_INNER, JT_LARGEOUTER} {
		tj, err := NewTupleJoiner(smallRG, largeRG, []int{0}, []int{0}, jt, 1)
		require.NoError(t, err)
		// large.c1 < small.c1
		tj.SetFilter(expr.NewSimpleFilter(expr.ET_Less, expr.ColumnRef(1), expr.ColumnRef(3)))
		assert.True(t, tj.JoinType().Has(JT_WITHFCNEXP))
		tj.InsertRGData(small)
		tj.DoneInserting()
		got, err := runJoin(t, tj, large)
		require.NoError(t, err)
		assert.Equal(t, []string{"1\t15\t1\t20", "2\t1\t2\t5"}, got, jt.String())
	}

	tj, err := NewTupleJoiner(smallRG, largeRG, []int{0}, []int{0}, JT_LARGEOUTER, 1)
	require.NoError(t, err)
	tj.SetFilter(expr.NewSimpleFilter(expr.ET_Greater, expr.ColumnRef(1), expr.IntConst(100)))
	tj.InsertRGData(small)
	tj.DoneInserting()
	got, err := runJoin(t, tj, large)
	require.NoError(t, err)
	assert.Equal(t, []string{"1\t15\tNULL\tNULL", "2\t1\tNULL\tNULL"}, got)
}

func TestIncompatibleKeys(t *testing.T) {
	small := rowgroup.NewRowGroupFromTypes([]common.LType{common.DoubleType()}, 4, true)
	_, err := NewTupleJoiner(small, intRG(1), []int{0}, []int{0}, JT_INNER, 1)
	require.Error(t, err)
	assert.Equal(t, common.ERR_ASSERTION, common.CodeOf(err))
}

func TestConcurrentInsert(t *testing.T) {
	rg := intRG(1)
	tj, err := NewTupleJoiner(rg, rg, []int{0}, []int{0}, JT_INNER|JT_SMALLOUTER, 4)
	require.NoError(t, err)
	wg := sync.WaitGroup{}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for b := 0; b < 10; b++ {
				rows := make([][]int64, 16)
				for i := range rows {
					rows[i] = []int64{int64(g*1000 + b*16 + i)}
				}
				tj.InsertRGData(makeData(rg, rows...))
			}
		}(g)
	}
	wg.Wait()
	tj.DoneInserting()
	assert.Equal(t, 640, tj.Size())
	assert.Equal(t, 640, tj.UniqueCount())
	assert.Greater(t, tj.MemUsage(), int64(640*8))
	assert.Len(t, tj.RGDatas(), 40)

	var lrow rowgroup.Row
	large := makeData(rg, []int64{5}, []int64{2017})
	rg.InitRow(&lrow)
	matches := []Entry{}
	for i := 0; i < 2; i++ {
		lrow.Point(rowgroup.RowPtr{Data: large, Idx: int32(i)})
		require.NoError(t, tj.Match(&lrow, i%4, &matches))
		require.Len(t, matches, 1, fmt.Sprintf("row %d", i))
		require.NoError(t, tj.ApplyJoinRules(&lrow, i%4, &matches))
	}
	assert.Len(t, tj.GetUnmarkedRows(), 638)
}

func TestCopyForDiskJoin(t *testing.T) {
	small := makeData(intRG(1), []int64{1}, []int64{2})
	tj := buildJoiner(t, JT_LARGEOUTER, small)
	cp := tj.CopyForDiskJoin()
	assert.Equal(t, 0, cp.Size())
	assert.False(t, cp.Finished())
	assert.Equal(t, tj.JoinType(), cp.JoinType())
	assert.Equal(t, tj.SmallKeys(), cp.SmallKeys())
	cp.InsertRGData(small)
	cp.DoneInserting()
	got, err := runJoin(t, cp, makeData(intRG(1), []int64{2}, []int64{9}))
	require.NoError(t, err)
	assert.Equal(t, []string{"2\t2", "9\tNULL"}, got)
	tj.Release()
	assert.Equal(t, int64(0), tj.MemUsage()-int64(tj.Size())*entryOverhead)
}
