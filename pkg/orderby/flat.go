// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orderby

import (
	"sync"

	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// permutation slot size in bytes
const permEntrySize = 8

// span is a tied range [begin,end) of the permutation.
type span struct {
	begin int
	end   int
}

func newSpanQueue() *btree.BTreeG[span] {
	return btree.NewBTreeG[span](func(a, b span) bool {
		return a.begin < b.begin
	})
}

// FlatOrderBy sorts every accumulated row by building a permutation over
// the batches. Rows are never moved. The permutation is built in reverse
// output order and GetData consumes it from the tail.
type FlatOrderBy struct {
	_rg      *rowgroup.RowGroup
	_keys    OrderByKeys
	_cmp     *IdbCompare
	_acct    *resource.Account
	_maxRows int

	_mu      sync.Mutex
	_batches []*rowgroup.RGData
	_current *rowgroup.RGData
	_rows    int

	_perm      []uint64
	_remaining int
	_sorted    bool
	_ranges    int

	_out rowgroup.Row
	_src rowgroup.Row
}

func NewFlatOrderBy() *FlatOrderBy {
	return &FlatOrderBy{}
}

// Initialize binds the schema and the keys. mm may be nil when memory
// is not accounted.
func (fob *FlatOrderBy) Initialize(rg *rowgroup.RowGroup, keys OrderByKeys, mm *resource.MemManager) error {
	cmp, err := NewIdbCompare(rg, keys)
	if err != nil {
		return err
	}
	fob._rg = rg.Clone()
	fob._keys = keys
	fob._cmp = cmp
	fob._maxRows = rg.MaxRows()
	if mm != nil {
		fob._acct = resource.NewAccount(mm)
	}
	fob._rg.InitRow(&fob._out)
	fob._rg.InitRow(&fob._src)
	return nil
}

func (fob *FlatOrderBy) Keys() OrderByKeys {
	return fob._keys
}

func (fob *FlatOrderBy) Compare() *IdbCompare {
	return fob._cmp
}

func (fob *FlatOrderBy) grow(n int64) error {
	if fob._acct == nil || n <= 0 {
		return nil
	}
	if !fob._acct.Grow(n, true) {
		return common.NewJobError(common.ERR_LIMIT_TOO_BIG,
			"order by needs %d more bytes, %d in use", n, fob._acct.Used())
	}
	return nil
}

// AddBatch keeps data for sorting and accounts for its size.
func (fob *FlatOrderBy) AddBatch(data *rowgroup.RGData) error {
	if data.RowCount() == 0 {
		return nil
	}
	fob._mu.Lock()
	defer fob._mu.Unlock()
	util.AssertFunc(!fob._sorted)
	if err := fob.grow(data.SizeInBytes()); err != nil {
		return err
	}
	fob._batches = append(fob._batches, data)
	fob._rows += data.RowCount()
	return nil
}

// ProcessRow copies row into the batch being filled.
func (fob *FlatOrderBy) ProcessRow(row *rowgroup.Row) error {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	util.AssertFunc(!fob._sorted)
	if fob._current == nil {
		fob._current = rowgroup.NewRGData(fob._rg, fob._maxRows)
	}
	fob._out.Point(rowgroup.RowPtr{Data: fob._current, Idx: int32(fob._current.RowCount())})
	row.CopyRow(&fob._out)
	fob._current.SetRowCount(fob._current.RowCount() + 1)
	if fob._current.Full() {
		return fob.sealCurrent()
	}
	return nil
}

func (fob *FlatOrderBy) sealCurrent() error {
	cur := fob._current
	fob._current = nil
	if cur == nil || cur.RowCount() == 0 {
		return nil
	}
	if err := fob.grow(cur.SizeInBytes()); err != nil {
		return err
	}
	fob._batches = append(fob._batches, cur)
	fob._rows += cur.RowCount()
	return nil
}

// RowCount is the number of rows accumulated so far.
func (fob *FlatOrderBy) RowCount() int {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	ret := fob._rows
	if fob._current != nil {
		ret += fob._current.RowCount()
	}
	return ret
}

func (fob *FlatOrderBy) point(row *rowgroup.Row, p uint64) {
	row.Point(rowgroup.RowPtr{Data: fob._batches[p>>32], Idx: int32(p & 0xffffffff)})
}

// Sort builds the permutation key by key. Only the tied ranges of a key
// are refined by the next one.
func (fob *FlatOrderBy) Sort() error {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	if fob._sorted {
		return nil
	}
	if err := fob.sealCurrent(); err != nil {
		return err
	}
	if err := fob.grow(int64(fob._rows) * permEntrySize); err != nil {
		return err
	}
	fob._perm = make([]uint64, 0, fob._rows)
	for b, data := range fob._batches {
		for i := 0; i < data.RowCount(); i++ {
			fob._perm = append(fob._perm, uint64(b)<<32|uint64(i))
		}
	}

	queue := newSpanQueue()
	if len(fob._perm) > 1 {
		queue.Set(span{0, len(fob._perm)})
	}
	for _, key := range fob._keys.reversed() {
		if queue.Len() == 0 {
			break
		}
		next := newSpanQueue()
		queue.Scan(func(s span) bool {
			fob.refine(s, key, next)
			fob._ranges++
			return true
		})
		queue = next
	}
	fob._sorted = true
	util.Debug("order by sorted",
		zap.Int("rows", len(fob._perm)),
		zap.Int("batches", len(fob._batches)),
		zap.Int("ranges", fob._ranges))
	return nil
}

// refine orders the rows of s by key and queues the ranges that stay tied.
func (fob *FlatOrderBy) refine(s span, key SortKey, next *btree.BTreeG[span]) {
	row := &fob._src
	col := key.Col
	switch classOf(fob._rg.ColType(col)) {
	case KC_INT:
		refineSpan(fob, s, key, next, func() int64 { return row.GetIntField(col) }, cmpInt64)
	case KC_UINT:
		refineSpan(fob, s, key, next, func() uint64 { return row.GetUintField(col) }, cmpUint64)
	case KC_DOUBLE:
		refineSpan(fob, s, key, next, func() float64 { return row.GetNumberAsDouble(col) }, cmpDouble)
	case KC_WIDE:
		refineSpan(fob, s, key, next, func() common.Hugeint { return row.GetInt128Field(col) },
			func(a, b common.Hugeint) int { return a.Compare(b) })
	case KC_STRING:
		refineSpan(fob, s, key, next, func() string { return row.GetStringField(col) }, compareString)
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// refineSpan splits the rows of s into NULL and non NULL rows, sorts the
// non NULL ones with their permutation slots and writes both parts back
// in key order.
func refineSpan[K any](
	fob *FlatOrderBy,
	s span,
	key SortKey,
	next *btree.BTreeG[span],
	get func() K,
	cmp func(a, b K) int,
) {
	n := s.end - s.begin
	keys := make([]K, 0, n)
	vals := make([]uint64, 0, n)
	nulls := make([]uint64, 0)
	for _, p := range fob._perm[s.begin:s.end] {
		fob.point(&fob._src, p)
		if fob._src.IsNull(key.Col) {
			nulls = append(nulls, p)
			continue
		}
		keys = append(keys, get())
		vals = append(vals, p)
	}

	less := func(a, b K) bool { return cmp(a, b) < 0 }
	if !key.Asc {
		less = func(a, b K) bool { return cmp(a, b) > 0 }
	}
	pdqSortWithPerm(keys, vals, less)

	valBegin, nullBegin := s.begin, s.begin+len(vals)
	if key.NullsFirst {
		nullBegin, valBegin = s.begin, s.begin+len(nulls)
	}
	copy(fob._perm[nullBegin:], nulls)
	copy(fob._perm[valBegin:], vals)

	// NULLs tie with each other
	if len(nulls) > 1 {
		next.Set(span{nullBegin, nullBegin + len(nulls)})
	}
	for i := 0; i < len(keys); {
		j := i + 1
		for j < len(keys) && cmp(keys[i], keys[j]) == 0 {
			j++
		}
		if j-i > 1 {
			next.Set(span{valBegin + i, valBegin + j})
		}
		i = j
	}
}

// Finalize arms GetData.
func (fob *FlatOrderBy) Finalize() error {
	if err := fob.Sort(); err != nil {
		return err
	}
	fob._mu.Lock()
	defer fob._mu.Unlock()
	fob._remaining = len(fob._perm)
	return nil
}

// Remaining is the number of rows GetData still has to produce.
func (fob *FlatOrderBy) Remaining() int {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	return fob._remaining
}

// GetData copies the next rows in order into a new batch. It returns
// false once every row was produced. It cannot be restarted.
func (fob *FlatOrderBy) GetData() (*rowgroup.RGData, bool) {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	if fob._remaining == 0 {
		return nil, false
	}
	cnt := min(fob._maxRows, fob._remaining)
	out := rowgroup.NewRGData(fob._rg, cnt)
	for i := 0; i < cnt; i++ {
		fob._remaining--
		fob.point(&fob._src, fob._perm[fob._remaining])
		fob._out.Point(rowgroup.RowPtr{Data: out, Idx: int32(i)})
		fob._src.CopyRow(&fob._out)
	}
	out.SetRowCount(cnt)
	return out, true
}

// Skip drops the next n rows without copying them.
func (fob *FlatOrderBy) Skip(n int) int {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	n = min(n, fob._remaining)
	fob._remaining -= n
	return n
}

// Permutation returns the rows not produced yet, in output order.
func (fob *FlatOrderBy) Permutation() []rowgroup.RowPtr {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	ret := make([]rowgroup.RowPtr, 0, fob._remaining)
	for i := fob._remaining - 1; i >= 0; i-- {
		p := fob._perm[i]
		ret = append(ret, rowgroup.RowPtr{Data: fob._batches[p>>32], Idx: int32(p & 0xffffffff)})
	}
	return ret
}

// Release drops the accumulated rows and returns their memory.
func (fob *FlatOrderBy) Release() {
	fob._mu.Lock()
	defer fob._mu.Unlock()
	fob._batches = nil
	fob._current = nil
	fob._perm = nil
	fob._remaining = 0
	fob._rows = 0
	if fob._acct != nil {
		fob._acct.Close()
	}
}
