package orderby

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

const null = int64(-1 << 63)

func newMM(limit int64) *resource.MemManager {
	rm := resource.NewResourceManager(util.MemoryOptions{
		TotalLimit:      limit,
		PatienceTimeout: 10 * time.Millisecond,
		PatienceRetry:   time.Millisecond,
	}, nil)
	return resource.NewMemManager("orderby", rm, limit)
}

func bigintRG(cols int, maxRows int) *rowgroup.RowGroup {
	typs := make([]common.LType, cols)
	for i := range typs {
		typs[i] = common.BigintType()
	}
	return rowgroup.NewRowGroupFromTypes(typs, maxRows, true)
}

func fill(rg *rowgroup.RowGroup, rows [][]int64) []*rowgroup.RGData {
	ret := make([]*rowgroup.RGData, 0)
	row := rowgroup.Row{}
	rg.InitRow(&row)
	for len(rows) > 0 {
		n := min(len(rows), rg.MaxRows())
		data := rowgroup.NewRGData(rg, n)
		for i := 0; i < n; i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			for c, v := range rows[i] {
				if v == null {
					row.SetNull(c)
				} else {
					row.SetIntField(c, v)
				}
			}
		}
		data.SetRowCount(n)
		ret = append(ret, data)
		rows = rows[n:]
	}
	return ret
}

func collect(t *testing.T, fob *FlatOrderBy) []string {
	ret := make([]string, 0)
	row := rowgroup.Row{}
	for {
		data, ok := fob.GetData()
		if !ok {
			break
		}
		fob._rg.InitRow(&row)
		for i := 0; i < data.RowCount(); i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			ret = append(ret, row.ToString())
		}
	}
	_, ok := fob.GetData()
	assert.False(t, ok)
	return ret
}

func TestPdqSortWithPerm(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for _, n := range []int{0, 1, 2, 23, 24, 130, 1000, 50000} {
		for _, dist := range []string{"random", "sorted", "reversed", "few", "organ"} {
			keys := make([]int64, n)
			for i := range keys {
				switch dist {
				case "random":
					keys[i] = rnd.Int63n(1 << 40)
				case "sorted":
					keys[i] = int64(i)
				case "reversed":
					keys[i] = int64(n - i)
				case "few":
					keys[i] = rnd.Int63n(4)
				case "organ":
					keys[i] = int64(min(i, n-i))
				}
			}
			perm := make([]uint64, n)
			for i := range perm {
				perm[i] = uint64(i)
			}
			orig := util.CopyTo(keys)
			pdqSortWithPerm(keys, perm, func(a, b int64) bool { return a < b })

			want := util.CopyTo(orig)
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			require.Equal(t, want, keys, "%s %d", dist, n)
			for i := range keys {
				require.Equal(t, orig[perm[i]], keys[i], "%s %d satellite", dist, n)
			}
		}
	}
}

// Scenario D
func TestNullOrdering(t *testing.T) {
	rg := bigintRG(1, 16)
	for _, c := range []struct {
		nullsFirst bool
		want       []string
	}{
		{true, []string{"NULL", "NULL", "1", "3", "5"}},
		{false, []string{"1", "3", "5", "NULL", "NULL"}},
	} {
		fob := NewFlatOrderBy()
		require.NoError(t, fob.Initialize(rg, OrderByKeys{{Col: 0, Asc: true, NullsFirst: c.nullsFirst}}, nil))
		for _, data := range fill(rg, [][]int64{{5}, {null}, {3}, {null}, {1}}) {
			require.NoError(t, fob.AddBatch(data))
		}
		require.NoError(t, fob.Finalize())
		assert.Equal(t, 5, fob.Remaining())
		assert.Equal(t, c.want, collect(t, fob))
	}

	fob := NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, OrderByKeys{{Col: 0, Asc: false, NullsFirst: true}}, nil))
	for _, data := range fill(rg, [][]int64{{5}, {null}, {3}, {null}, {1}}) {
		require.NoError(t, fob.AddBatch(data))
	}
	require.NoError(t, fob.Finalize())
	assert.Equal(t, []string{"NULL", "NULL", "5", "3", "1"}, collect(t, fob))
}

// Scenario B
func TestOrderByLimit(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	rg := bigintRG(1, 1024)
	rows := make([][]int64, 20000)
	ref := make([]int64, len(rows))
	for i := range rows {
		v := rnd.Int63n(1000000) - 500000
		rows[i] = []int64{v}
		ref[i] = v
	}
	sort.Slice(ref, func(i, j int) bool { return ref[i] < ref[j] })
	want := make([]string, 100)
	for i := range want {
		want[i] = fmt.Sprint(ref[i])
	}
	keys := OrderByKeys{{Col: 0, Asc: true}}

	fob := NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, keys, newMM(64*util.MB)))
	for _, data := range fill(rg, rows) {
		require.NoError(t, fob.AddBatch(data))
	}
	require.NoError(t, fob.Finalize())
	got := collect(t, fob)
	require.Len(t, got, 20000)
	assert.Equal(t, want, got[:100])
	fob.Release()

	lob, err := NewLimitedOrderBy(rg, keys, 100, newMM(64*util.MB))
	require.NoError(t, err)
	for _, data := range fill(rg, rows) {
		require.NoError(t, lob.AddBatch(data))
	}
	assert.Equal(t, 100, lob.Size())
	row := rowgroup.Row{}
	rg.InitRow(&row)
	got = got[:0]
	for _, ptr := range lob.Drain() {
		row.Point(ptr)
		got = append(got, row.ToString())
	}
	assert.Equal(t, want, got)
	lob.Release()
}

func TestMultiKeyOrder(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	rg := bigintRG(3, 100)
	rows := make([][]int64, 3000)
	for i := range rows {
		a := rnd.Int63n(5)
		if a == 0 {
			a = null
		}
		b := rnd.Int63n(7)
		if b == 0 {
			b = null
		}
		rows[i] = []int64{a, b, rnd.Int63n(1000)}
	}
	keys := OrderByKeys{
		{Col: 0, Asc: true, NullsFirst: false},
		{Col: 1, Asc: false, NullsFirst: true},
		{Col: 2, Asc: true},
	}

	cmpVal := func(a, b int64, key SortKey) int {
		if a == null || b == null {
			switch {
			case a == b:
				return 0
			case (a == null) == key.NullsFirst:
				return -1
			}
			return 1
		}
		c := cmpInt64(a, b)
		if !key.Asc {
			c = -c
		}
		return c
	}
	ref := make([][]int64, len(rows))
	copy(ref, rows)
	sort.SliceStable(ref, func(i, j int) bool {
		for _, key := range keys {
			if c := cmpVal(ref[i][key.Col], ref[j][key.Col], key); c != 0 {
				return c < 0
			}
		}
		return false
	})
	want := make([]string, len(ref))
	for i, r := range ref {
		want[i] = rowString(r)
	}

	fob := NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, keys, nil))
	row := rowgroup.Row{}
	for _, data := range fill(rg, rows) {
		rg.InitRow(&row)
		for i := 0; i < data.RowCount(); i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			require.NoError(t, fob.ProcessRow(&row))
		}
	}
	assert.Equal(t, 3000, fob.RowCount())
	require.NoError(t, fob.Finalize())
	perm := fob.Permutation()
	require.Len(t, perm, 3000)

	// adjacent rows respect the comparator
	var l, r rowgroup.Row
	rg.InitRow(&l)
	rg.InitRow(&r)
	for i := 1; i < len(perm); i++ {
		l.Point(perm[i-1])
		r.Point(perm[i])
		require.LessOrEqual(t, fob.Compare().Compare(&l, &r), 0)
	}
	assert.Equal(t, want, collect(t, fob))

	lob, err := NewLimitedOrderBy(rg, keys, 250, nil)
	require.NoError(t, err)
	for _, data := range fill(rg, rows) {
		require.NoError(t, lob.AddBatch(data))
	}
	got := make([]string, 0)
	for {
		ptr, ok := lob.Next()
		if !ok {
			break
		}
		l.Point(ptr)
		got = append(got, l.ToString())
	}
	assert.Equal(t, want[:250], got)
}

func rowString(vals []int64) string {
	s := ""
	for i, v := range vals {
		if i > 0 {
			s += "\t"
		}
		if v == null {
			s += "NULL"
		} else {
			s += fmt.Sprint(v)
		}
	}
	return s
}

func TestStringAndDoubleKeys(t *testing.T) {
	rg := rowgroup.NewRowGroupFromTypes([]common.LType{
		common.VarcharType(100), common.DoubleType(), common.DecimalType(30, 2),
	}, 8, true)
	words := []string{"pear", "apple", "fig", "banana", "apple", "kiwi", "fig"}
	var batches []*rowgroup.RGData
	row := rowgroup.Row{}
	rg.InitRow(&row)
	data := rowgroup.NewRGData(rg, len(words))
	for i, w := range words {
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
		row.SetStringField(0, w)
		row.SetDoubleField(1, float64(len(w))/float64(i+1))
		row.SetInt128Field(2, common.HugeintFromInt64(int64(len(words)-i)))
	}
	data.SetRowCount(len(words))
	batches = append(batches, data)

	fob := NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, OrderByKeys{{Col: 0, Asc: true}, {Col: 1, Asc: false}}, nil))
	require.NoError(t, fob.AddBatch(batches[0]))
	require.NoError(t, fob.Finalize())
	got := make([]string, 0)
	for _, ptr := range fob.Permutation() {
		row.Point(ptr)
		got = append(got, row.GetStringField(0))
	}
	assert.Equal(t, []string{"apple", "apple", "banana", "fig", "fig", "kiwi", "pear"}, got)
	// apple at 1 has the larger double than apple at 4
	row.Point(fob.Permutation()[0])
	assert.Equal(t, 2.5, row.GetDoubleField(1))

	fob = NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, OrderByKeys{{Col: 2, Asc: true}}, nil))
	require.NoError(t, fob.AddBatch(batches[0]))
	require.NoError(t, fob.Finalize())
	row.Point(fob.Permutation()[0])
	assert.Equal(t, "fig", row.GetStringField(0))
	assert.Equal(t, common.HugeintFromInt64(1), row.GetInt128Field(2))
}

func TestOrderByTooBig(t *testing.T) {
	rg := bigintRG(1, 1024)
	rows := make([][]int64, 5000)
	for i := range rows {
		rows[i] = []int64{int64(i)}
	}
	fob := NewFlatOrderBy()
	require.NoError(t, fob.Initialize(rg, OrderByKeys{{Col: 0, Asc: true}}, newMM(16*util.KB)))
	var err error
	for _, data := range fill(rg, rows) {
		if err = fob.AddBatch(data); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.Equal(t, common.ERR_LIMIT_TOO_BIG, common.CodeOf(err))
	fob.Release()
}

func TestLimitedLongStrings(t *testing.T) {
	rg := rowgroup.NewRowGroupFromTypes([]common.LType{common.TextType(), common.BigintType()}, 16, true)
	mm := newMM(1 << 20)
	lob, err := NewLimitedOrderBy(rg, OrderByKeys{{Col: 1, Asc: true}}, 1, mm)
	require.NoError(t, err)

	data := rowgroup.NewRGData(rg, 1)
	row := rowgroup.Row{}
	rg.InitRow(&row)
	pad := strings.Repeat("x", 1020)
	for i := 4999; i >= 0; i-- {
		data.Reinit()
		row.Point(rowgroup.RowPtr{Data: data, Idx: 0})
		row.SetStringField(0, fmt.Sprintf("%04d", i)+pad)
		row.SetIntField(1, int64(i))
		data.SetRowCount(1)
		require.NoError(t, lob.AddBatch(data), "row %d", i)
	}
	assert.Equal(t, 1, lob.Size())
	require.Len(t, lob._store, 1)
	assert.Equal(t, 1, lob._store[0].Strings().Live())
	assert.Equal(t, int64(1024), lob._store[0].Strings().SizeInBytes())
	assert.Less(t, mm.Acquired(), int64(8*util.KB))

	ptrs := lob.Drain()
	require.Len(t, ptrs, 1)
	out := rowgroup.Row{}
	lob.RowGroup().InitRow(&out)
	out.Point(ptrs[0])
	assert.Equal(t, int64(0), out.GetIntField(1))
	assert.Equal(t, "0000"+pad, out.GetStringField(0))
	lob.Release()
	assert.Equal(t, int64(0), mm.Acquired())
}

func TestInvalidKeys(t *testing.T) {
	rg := bigintRG(1, 16)
	_, err := NewIdbCompare(rg, OrderByKeys{{Col: 3}})
	require.Error(t, err)
	assert.Equal(t, common.ERR_ASSERTION, common.CodeOf(err))
	_, err = NewLimitedOrderBy(rg, nil, 1, nil)
	require.Error(t, err)
	assert.Equal(t, "#0 asc nulls first, #1 desc nulls last",
		OrderByKeys{{Col: 0, Asc: true, NullsFirst: true}, {Col: 1}}.String())
}
