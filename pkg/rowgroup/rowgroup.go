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

package rowgroup

import (
	"fmt"
	"strings"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

type Column struct {
	// source column id
	OID uint32
	// semantic key id
	Key  uint32
	Type common.LType
}

// RowGroup describes the fixed schema of a batch. It is a view: the data
// it reads and writes is bound by SetData and owned by an RGData.
type RowGroup struct {
	_cols           []Column
	_offsets        []int
	_rowSize        int
	_maxRows        int
	_useStringTable bool
	_data           *RGData
}

func NewRowGroup(cols []Column, maxRows int, useStringTable bool) *RowGroup {
	if maxRows <= 0 {
		maxRows = util.DefaultRowGroupSize
	}
	rg := &RowGroup{
		_cols:           util.CopyTo(cols),
		_maxRows:        maxRows,
		_useStringTable: useStringTable,
	}
	rg._offsets = make([]int, len(cols)+1)
	off := 0
	for i, col := range cols {
		rg._offsets[i] = off
		off += col.Type.StorageWidth()
	}
	rg._offsets[len(cols)] = off
	rg._rowSize = off
	return rg
}

// NewRowGroupFromTypes assigns OID and Key by position.
func NewRowGroupFromTypes(typs []common.LType, maxRows int, useStringTable bool) *RowGroup {
	cols := make([]Column, len(typs))
	for i, typ := range typs {
		cols[i] = Column{OID: uint32(3000 + i), Key: uint32(i), Type: typ}
	}
	return NewRowGroup(cols, maxRows, useStringTable)
}

// Clone copies the schema. The copy has no data bound.
func (rg *RowGroup) Clone() *RowGroup {
	ret := *rg
	ret._data = nil
	return &ret
}

// Concat builds the schema of a row made of rg followed by other.
func (rg *RowGroup) Concat(other *RowGroup) *RowGroup {
	cols := make([]Column, 0, rg.ColumnCount()+other.ColumnCount())
	cols = append(cols, rg._cols...)
	cols = append(cols, other._cols...)
	return NewRowGroup(cols, rg._maxRows, rg._useStringTable)
}

// Project builds the schema made of the given columns.
func (rg *RowGroup) Project(colIdx []int) *RowGroup {
	cols := make([]Column, 0, len(colIdx))
	for _, idx := range colIdx {
		cols = append(cols, rg._cols[idx])
	}
	return NewRowGroup(cols, rg._maxRows, rg._useStringTable)
}

func (rg *RowGroup) ColumnCount() int {
	return len(rg._cols)
}

func (rg *RowGroup) Columns() []Column {
	return rg._cols
}

func (rg *RowGroup) Types() []common.LType {
	ret := make([]common.LType, len(rg._cols))
	for i, col := range rg._cols {
		ret[i] = col.Type
	}
	return ret
}

func (rg *RowGroup) ColType(col int) common.LType {
	return rg._cols[col].Type
}

func (rg *RowGroup) Offset(col int) int {
	return rg._offsets[col]
}

func (rg *RowGroup) ColWidth(col int) int {
	return rg._offsets[col+1] - rg._offsets[col]
}

func (rg *RowGroup) RowSize() int {
	return rg._rowSize
}

func (rg *RowGroup) MaxRows() int {
	return rg._maxRows
}

func (rg *RowGroup) UseStringTable() bool {
	return rg._useStringTable
}

func (rg *RowGroup) SetUseStringTable(b bool) {
	rg._useStringTable = b
}

func (rg *RowGroup) HasLongString() bool {
	for _, col := range rg._cols {
		if col.Type.IsLongString() {
			return true
		}
	}
	return false
}

func (rg *RowGroup) Equal(other *RowGroup) bool {
	if rg.ColumnCount() != other.ColumnCount() {
		return false
	}
	for i := range rg._cols {
		if !rg._cols[i].Type.Equal(other._cols[i].Type) {
			return false
		}
	}
	return true
}

// SetData binds the view to data.
func (rg *RowGroup) SetData(data *RGData) {
	util.AssertFunc(data == nil || data._rowSize == rg._rowSize)
	rg._data = data
}

func (rg *RowGroup) Data() *RGData {
	return rg._data
}

func (rg *RowGroup) RowCount() int {
	if rg._data == nil {
		return 0
	}
	return rg._data._rowCount
}

func (rg *RowGroup) SetRowCount(cnt int) {
	rg._data.SetRowCount(cnt)
}

func (rg *RowGroup) IncRowCount() {
	rg._data.SetRowCount(rg._data._rowCount + 1)
}

// InitRow points row at the schema without data.
func (rg *RowGroup) InitRow(row *Row) {
	row._rg = rg
	row._data = rg._data
	row._idx = 0
}

// GetRow points row at the idx-th row of the bound data.
func (rg *RowGroup) GetRow(idx int, row *Row) {
	row._rg = rg
	row._data = rg._data
	row._idx = idx
}

// NewRGData allocates a buffer shaped for this schema.
func (rg *RowGroup) NewRGData() *RGData {
	return NewRGData(rg, rg._maxRows)
}

// SizeInBytes is the memory the bound data takes.
func (rg *RowGroup) SizeInBytes() int64 {
	if rg._data == nil {
		return 0
	}
	return rg._data.SizeInBytes()
}

func (rg *RowGroup) String() string {
	sb := strings.Builder{}
	sb.WriteString("RowGroup(")
	for i, col := range rg._cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%d:%s@%d", col.Key, col.Type, rg._offsets[i]))
	}
	sb.WriteString(fmt.Sprintf(") rowSize=%d", rg._rowSize))
	return sb.String()
}

// ToString prints the bound rows.
func (rg *RowGroup) ToString() string {
	sb := strings.Builder{}
	row := Row{}
	for i := 0; i < rg.RowCount(); i++ {
		rg.GetRow(i, &row)
		sb.WriteString(row.ToString())
		sb.WriteByte('\n')
	}
	return sb.String()
}
