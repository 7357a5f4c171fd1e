package joblist

import (
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

// rowSet keeps one copy of every distinct row it was given. Rows are
// compared on their whole content.
type rowSet struct {
	_rg      *rowgroup.RowGroup
	_acct    *resource.Account
	_code    common.ErrCode
	_maxRows int

	_store []*rowgroup.RGData
	_index map[uint64][]rowgroup.RowPtr
	_size  int
	_probe rowgroup.Row
	_dst   rowgroup.Row
}

// newRowSet charges mm for the copies. A refused charge fails with code.
func newRowSet(rg *rowgroup.RowGroup, mm *resource.MemManager, code common.ErrCode) *rowSet {
	rs := &rowSet{
		_rg:      rg.Clone(),
		_code:    code,
		_maxRows: rg.MaxRows(),
		_index:   make(map[uint64][]rowgroup.RowPtr),
	}
	if mm != nil {
		rs._acct = resource.NewAccount(mm)
	}
	rs._rg.InitRow(&rs._probe)
	rs._rg.InitRow(&rs._dst)
	return rs
}

// entry bytes of the index per row
const rowSetOverhead = 32

func (rs *rowSet) grow(n int64) error {
	if rs._acct == nil || n <= 0 {
		return nil
	}
	if !rs._acct.Grow(n, true) {
		return common.NewJobError(rs._code,
			"distinct rows need %d more bytes, %d in use", n, rs._acct.Used())
	}
	return nil
}

// Insert adds row. It returns false when an equal row is already kept.
func (rs *rowSet) Insert(row *rowgroup.Row) (bool, error) {
	h := row.Hash()
	for _, ptr := range rs._index[h] {
		rs._probe.Point(ptr)
		if rs._probe.Equals(row) {
			return false, nil
		}
	}
	var last *rowgroup.RGData
	if len(rs._store) > 0 {
		last = rs._store[len(rs._store)-1]
	}
	if last == nil || last.Full() {
		last = rowgroup.NewRGData(rs._rg, rs._maxRows)
		if err := rs.grow(last.AllocatedBytes()); err != nil {
			return false, err
		}
		rs._store = append(rs._store, last)
	}
	ptr := rowgroup.RowPtr{Data: last, Idx: int32(last.RowCount())}
	before := last.Strings().SizeInBytes()
	rs._dst.Point(ptr)
	row.CopyRow(&rs._dst)
	last.SetRowCount(last.RowCount() + 1)
	grown := rowSetOverhead + last.Strings().SizeInBytes() - before
	if err := rs.grow(grown); err != nil {
		return false, err
	}
	rs._index[h] = append(rs._index[h], ptr)
	rs._size++
	return true, nil
}

func (rs *rowSet) Len() int {
	return rs._size
}

func (rs *rowSet) Release() {
	rs._store = nil
	rs._index = make(map[uint64][]rowgroup.RowPtr)
	rs._size = 0
	if rs._acct != nil {
		rs._acct.Close()
	}
}
