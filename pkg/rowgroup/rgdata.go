package rowgroup

import (
	"fmt"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// StringStore keeps the payload of long strings. A row stores the handle
// returned by Add.
type StringStore struct {
	_strs  []string
	_free  []uint64
	_bytes int64
}

// Add reuses a freed handle when there is one.
func (ss *StringStore) Add(s string) uint64 {
	ss._bytes += int64(len(s))
	if n := len(ss._free); n > 0 {
		h := ss._free[n-1]
		ss._free = ss._free[:n-1]
		ss._strs[h] = s
		return h
	}
	ss._strs = append(ss._strs, s)
	return uint64(len(ss._strs) - 1)
}

// Free drops the payload of handle and returns its size.
func (ss *StringStore) Free(handle uint64) int64 {
	n := int64(len(ss._strs[handle]))
	ss._strs[handle] = ""
	ss._bytes -= n
	ss._free = append(ss._free, handle)
	return n
}

// Live counts the handles in use.
func (ss *StringStore) Live() int {
	return len(ss._strs) - len(ss._free)
}

func (ss *StringStore) Get(handle uint64) string {
	return ss._strs[handle]
}

func (ss *StringStore) Count() int {
	return len(ss._strs)
}

// SizeInBytes is 0 for a batch without long strings.
func (ss *StringStore) SizeInBytes() int64 {
	if ss == nil {
		return 0
	}
	return ss._bytes
}

func (ss *StringStore) Reset() {
	ss._strs = ss._strs[:0]
	ss._free = ss._free[:0]
	ss._bytes = 0
}

// RGData owns the rows of one batch.
type RGData struct {
	_rowData  []byte
	_strings  *StringStore
	_rowSize  int
	_capacity int
	_rowCount int
	_status   common.ErrCode
}

func NewRGData(rg *RowGroup, capacity int) *RGData {
	util.AssertFunc(capacity >= 0)
	ret := &RGData{
		_rowData:  make([]byte, capacity*rg._rowSize),
		_rowSize:  rg._rowSize,
		_capacity: capacity,
	}
	if rg.HasLongString() {
		ret._strings = &StringStore{}
	}
	return ret
}

// NewStatusRGData is an empty batch carrying a status.
func NewStatusRGData(rg *RowGroup, status common.ErrCode) *RGData {
	ret := NewRGData(rg, 0)
	ret._status = status
	return ret
}

// Reinit drops all rows and keeps the buffer.
func (data *RGData) Reinit() {
	data._rowCount = 0
	data._status = common.ERR_OK
	if data._strings != nil {
		data._strings.Reset()
	}
}

func (data *RGData) RowCount() int {
	return data._rowCount
}

func (data *RGData) SetRowCount(cnt int) {
	util.AssertFunc(cnt <= data._capacity)
	data._rowCount = cnt
}

func (data *RGData) Capacity() int {
	return data._capacity
}

func (data *RGData) Full() bool {
	return data._rowCount >= data._capacity
}

func (data *RGData) Status() common.ErrCode {
	return data._status
}

func (data *RGData) SetStatus(code common.ErrCode) {
	data._status = code
}

func (data *RGData) Strings() *StringStore {
	return data._strings
}

// SizeInBytes counts the used rows and the string payload.
func (data *RGData) SizeInBytes() int64 {
	ret := int64(data._rowCount * data._rowSize)
	if data._strings != nil {
		ret += data._strings.SizeInBytes()
	}
	return ret
}

// AllocatedBytes counts the whole buffer.
func (data *RGData) AllocatedBytes() int64 {
	ret := int64(len(data._rowData))
	if data._strings != nil {
		ret += data._strings.SizeInBytes()
	}
	return ret
}

func (data *RGData) rowBytes(idx int) []byte {
	off := idx * data._rowSize
	return data._rowData[off : off+data._rowSize]
}

func (data *RGData) String() string {
	return fmt.Sprintf("RGData{rows:%d, bytes:%d}", data._rowCount, data.SizeInBytes())
}
