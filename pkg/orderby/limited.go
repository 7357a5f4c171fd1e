package orderby

import (
	"github.com/liyue201/gostl/ds/priorityqueue"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

// LimitedOrderBy keeps the first reserve rows in order. While rows come
// in the queue runs on the inverted rule so its top is the row to evict.
// RevertRules switches to the output rule before draining.
type LimitedOrderBy struct {
	_rg      *rowgroup.RowGroup
	_cmp     *IdbCompare
	_acct    *resource.Account
	_reserve int
	_maxRows int

	_store []*rowgroup.RGData
	_queue *priorityqueue.PriorityQueue[rowgroup.RowPtr]

	_reverted bool
	_l        rowgroup.Row
	_r        rowgroup.Row
	_dst      rowgroup.Row
}

func NewLimitedOrderBy(
	rg *rowgroup.RowGroup,
	keys OrderByKeys,
	reserve int,
	mm *resource.MemManager,
) (*LimitedOrderBy, error) {
	cmp, err := NewIdbCompare(rg, keys)
	if err != nil {
		return nil, err
	}
	lob := &LimitedOrderBy{
		_rg:      rg.Clone(),
		_cmp:     cmp,
		_reserve: max(reserve, 0),
		_maxRows: rg.MaxRows(),
	}
	if mm != nil {
		lob._acct = resource.NewAccount(mm)
	}
	lob._rg.InitRow(&lob._l)
	lob._rg.InitRow(&lob._r)
	lob._rg.InitRow(&lob._dst)
	lob._queue = priorityqueue.New[rowgroup.RowPtr](lob.evictFirst)
	return lob, nil
}

func (lob *LimitedOrderBy) compare(a, b rowgroup.RowPtr) int {
	lob._l.Point(a)
	lob._r.Point(b)
	return lob._cmp.Compare(&lob._l, &lob._r)
}

// evictFirst puts the last row in output order on top.
func (lob *LimitedOrderBy) evictFirst(a, b rowgroup.RowPtr) int {
	return -lob.compare(a, b)
}

func (lob *LimitedOrderBy) grow(n int64) error {
	if lob._acct == nil || n <= 0 {
		return nil
	}
	if !lob._acct.Grow(n, true) {
		return common.NewJobError(common.ERR_LIMIT_TOO_BIG,
			"order by limit needs %d more bytes, %d in use", n, lob._acct.Used())
	}
	return nil
}

// slot returns the place of the next new row.
func (lob *LimitedOrderBy) slot() (rowgroup.RowPtr, error) {
	var last *rowgroup.RGData
	if len(lob._store) > 0 {
		last = lob._store[len(lob._store)-1]
	}
	if last == nil || last.Full() {
		last = rowgroup.NewRGData(lob._rg, min(lob._maxRows, max(lob._reserve, 1)))
		if err := lob.grow(last.AllocatedBytes()); err != nil {
			return rowgroup.RowPtr{}, err
		}
		lob._store = append(lob._store, last)
	}
	ptr := rowgroup.RowPtr{Data: last, Idx: int32(last.RowCount())}
	last.SetRowCount(last.RowCount() + 1)
	return ptr, nil
}

// copyInto writes row at ptr. A replaced row gives its strings back first.
func (lob *LimitedOrderBy) copyInto(row *rowgroup.Row, ptr rowgroup.RowPtr, replace bool) error {
	before := ptr.Data.Strings().SizeInBytes()
	lob._dst.Point(ptr)
	if replace {
		lob._dst.ReleaseStrings()
	}
	row.CopyRow(&lob._dst)
	delta := ptr.Data.Strings().SizeInBytes() - before
	if delta < 0 {
		if lob._acct != nil {
			lob._acct.Shrink(-delta)
		}
		return nil
	}
	return lob.grow(delta)
}

// ProcessRow keeps row when it belongs to the first reserve rows.
func (lob *LimitedOrderBy) ProcessRow(row *rowgroup.Row) error {
	if lob._reserve == 0 {
		return nil
	}
	if lob._queue.Size() < lob._reserve {
		ptr, err := lob.slot()
		if err != nil {
			return err
		}
		if err = lob.copyInto(row, ptr, false); err != nil {
			return err
		}
		lob._queue.Push(ptr)
		return nil
	}
	top := lob._queue.Top()
	lob._l.Point(top)
	if lob._cmp.Compare(row, &lob._l) >= 0 {
		return nil
	}
	lob._queue.Pop()
	if err := lob.copyInto(row, top, true); err != nil {
		return err
	}
	lob._queue.Push(top)
	return nil
}

// AddBatch feeds every row of data.
func (lob *LimitedOrderBy) AddBatch(data *rowgroup.RGData) error {
	row := rowgroup.Row{}
	lob._rg.InitRow(&row)
	for i := 0; i < data.RowCount(); i++ {
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
		if err := lob.ProcessRow(&row); err != nil {
			return err
		}
	}
	return nil
}

func (lob *LimitedOrderBy) Size() int {
	return lob._queue.Size()
}

// RevertRules rebuilds the queue on the output rule. Rows can only be
// drained afterwards.
func (lob *LimitedOrderBy) RevertRules() {
	if lob._reverted {
		return
	}
	q := priorityqueue.New[rowgroup.RowPtr](lob.compare)
	for !lob._queue.Empty() {
		q.Push(lob._queue.Pop())
	}
	lob._queue = q
	lob._reverted = true
}

// Next pops the first remaining row in output order.
func (lob *LimitedOrderBy) Next() (rowgroup.RowPtr, bool) {
	lob.RevertRules()
	if lob._queue.Empty() {
		return rowgroup.RowPtr{}, false
	}
	return lob._queue.Pop(), true
}

// Drain pops every row in output order.
func (lob *LimitedOrderBy) Drain() []rowgroup.RowPtr {
	lob.RevertRules()
	ret := make([]rowgroup.RowPtr, 0, lob._queue.Size())
	for !lob._queue.Empty() {
		ret = append(ret, lob._queue.Pop())
	}
	return ret
}

func (lob *LimitedOrderBy) Compare() *IdbCompare {
	return lob._cmp
}

func (lob *LimitedOrderBy) RowGroup() *rowgroup.RowGroup {
	return lob._rg
}

// Release drops the kept rows and returns their memory.
func (lob *LimitedOrderBy) Release() {
	lob._store = nil
	lob._queue = priorityqueue.New[rowgroup.RowPtr](lob.evictFirst)
	lob._reverted = false
	if lob._acct != nil {
		lob._acct.Close()
	}
}
