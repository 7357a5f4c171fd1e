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

package joiner

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/huandu/go-clone"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/expr"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

const (
	bucketCount = 64
	// index bytes per small row
	entryOverhead = 48
	// marks a match that stands for a null row
	NullOrdinal int32 = -1
)

// Entry is one small row in the index.
type Entry struct {
	Ptr rowgroup.RowPtr
	Ord int32
}

type bucket struct {
	mu sync.Mutex
	m  map[uint64][]Entry
}

type joinerConfig struct {
	SmallKeys   []int
	LargeKeys   []int
	JT          JoinType
	ThreadCount int
}

// threadState is the scratch a matching thread owns.
type threadState struct {
	small   rowgroup.Row
	joined  *rowgroup.RowGroup
	joinRow rowgroup.Row
	kept    []Entry
}

// TupleJoiner is the in-memory hash index over the small side.
// Inserts may run concurrently. Matching is read only and starts after
// DoneInserting.
type TupleJoiner struct {
	_cfg     joinerConfig
	_smallRG *rowgroup.RowGroup
	_largeRG *rowgroup.RowGroup
	_filter  expr.Filter

	_buckets [bucketCount]*bucket

	_dataMu    sync.Mutex
	_rgDatas   []*rowgroup.RGData
	_nullKeys  []Entry
	_nextOrd   atomic.Int32
	_dataBytes atomic.Int64

	_finished    bool
	_uniqueCount int
	_ordPtrs     []rowgroup.RowPtr
	_marks       []atomic.Bool

	_smallNull *rowgroup.RGData
	_largeNull *rowgroup.RGData
	_threads   []*threadState
}

func NewTupleJoiner(
	smallRG, largeRG *rowgroup.RowGroup,
	smallKeys, largeKeys []int,
	jt JoinType,
	threadCount int,
) (*TupleJoiner, error) {
	if len(smallKeys) == 0 || len(smallKeys) != len(largeKeys) {
		return nil, errors.AssertionFailedf("join keys mismatch: %d vs %d", len(smallKeys), len(largeKeys))
	}
	for i := range smallKeys {
		st, lt := smallRG.ColType(smallKeys[i]), largeRG.ColType(largeKeys[i])
		if !rowgroup.KeyTypesCompatible(st, lt) {
			return nil, errors.AssertionFailedf("incompatible join key types %s and %s", st, lt)
		}
	}
	cfg := joinerConfig{
		SmallKeys:   util.CopyTo(smallKeys),
		LargeKeys:   util.CopyTo(largeKeys),
		JT:          jt,
		ThreadCount: max(threadCount, 1),
	}
	return newTupleJoiner(cfg, smallRG, largeRG), nil
}

func newTupleJoiner(cfg joinerConfig, smallRG, largeRG *rowgroup.RowGroup) *TupleJoiner {
	tj := &TupleJoiner{
		_cfg:     cfg,
		_smallRG: smallRG.Clone(),
		_largeRG: largeRG.Clone(),
	}
	for i := range tj._buckets {
		tj._buckets[i] = &bucket{m: make(map[uint64][]Entry)}
	}
	tj._smallNull = nullRowData(tj._smallRG)
	tj._largeNull = nullRowData(tj._largeRG)
	tj.SetThreadCount(cfg.ThreadCount)
	return tj
}

func nullRowData(rg *rowgroup.RowGroup) *rowgroup.RGData {
	data := rowgroup.NewRGData(rg, 1)
	row := rowgroup.Row{}
	rg.InitRow(&row)
	row.Point(rowgroup.RowPtr{Data: data})
	row.InitToNull()
	data.SetRowCount(1)
	return data
}

// SetFilter installs the residual filter, evaluated over the large row
// followed by the small row.
func (tj *TupleJoiner) SetFilter(f expr.Filter) {
	tj._filter = f
	if f != nil {
		tj._cfg.JT |= JT_WITHFCNEXP
	}
}

func (tj *TupleJoiner) Filter() expr.Filter {
	return tj._filter
}

func (tj *TupleJoiner) SetThreadCount(n int) {
	n = max(n, 1)
	tj._cfg.ThreadCount = n
	for len(tj._threads) < n {
		ts := &threadState{}
		tj._smallRG.InitRow(&ts.small)
		ts.joined = tj._largeRG.Concat(tj._smallRG)
		ts.joined.SetData(rowgroup.NewRGData(ts.joined, 1))
		ts.joined.GetRow(0, &ts.joinRow)
		tj._threads = append(tj._threads, ts)
	}
}

func (tj *TupleJoiner) ThreadCount() int {
	return tj._cfg.ThreadCount
}

func (tj *TupleJoiner) JoinType() JoinType {
	return tj._cfg.JT
}

func (tj *TupleJoiner) SmallRG() *rowgroup.RowGroup {
	return tj._smallRG
}

func (tj *TupleJoiner) LargeRG() *rowgroup.RowGroup {
	return tj._largeRG
}

func (tj *TupleJoiner) SmallKeys() []int {
	return tj._cfg.SmallKeys
}

func (tj *TupleJoiner) LargeKeys() []int {
	return tj._cfg.LargeKeys
}

func (tj *TupleJoiner) matchNulls() bool {
	return tj._cfg.JT.Has(JT_MATCHNULLS)
}

// InsertRGData keeps a reference to data and indexes all of its rows.
func (tj *TupleJoiner) InsertRGData(data *rowgroup.RGData) {
	tj._dataMu.Lock()
	tj._rgDatas = append(tj._rgDatas, data)
	tj._dataMu.Unlock()
	tj._dataBytes.Add(data.SizeInBytes())

	row := rowgroup.Row{}
	tj._smallRG.InitRow(&row)
	for i := 0; i < data.RowCount(); i++ {
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
		tj.Insert(&row, true)
	}
}

// Insert indexes one small row. Its data must stay alive as long as the
// joiner. firstPass rows belong to a batch InsertRGData already counted,
// other rows are counted one by one.
func (tj *TupleJoiner) Insert(row *rowgroup.Row, firstPass bool) {
	util.AssertFunc(!tj._finished)
	if !firstPass {
		tj._dataBytes.Add(int64(tj._smallRG.RowSize()))
	}
	ent := Entry{Ptr: row.Ptr(), Ord: tj._nextOrd.Add(1) - 1}
	if !tj.matchNulls() && row.HasNullKey(tj._cfg.SmallKeys) {
		tj._dataMu.Lock()
		tj._nullKeys = append(tj._nullKeys, ent)
		tj._dataMu.Unlock()
		return
	}
	h := row.HashKeys(tj._cfg.SmallKeys)
	b := tj._buckets[h&(bucketCount-1)]
	b.mu.Lock()
	b.m[h] = append(b.m[h], ent)
	b.mu.Unlock()
}

// DoneInserting freezes the index.
func (tj *TupleJoiner) DoneInserting() {
	if tj._finished {
		return
	}
	tj._finished = true
	n := int(tj._nextOrd.Load())
	tj._ordPtrs = make([]rowgroup.RowPtr, n)
	tj._marks = make([]atomic.Bool, n)
	tj._uniqueCount = 0
	for _, b := range tj._buckets {
		tj._uniqueCount += len(b.m)
		for _, ents := range b.m {
			for _, ent := range ents {
				tj._ordPtrs[ent.Ord] = ent.Ptr
			}
		}
	}
	for _, ent := range tj._nullKeys {
		tj._ordPtrs[ent.Ord] = ent.Ptr
	}
}

func (tj *TupleJoiner) Finished() bool {
	return tj._finished
}

// UniqueCount is the number of distinct key hashes.
func (tj *TupleJoiner) UniqueCount() int {
	return tj._uniqueCount
}

// Size is the number of small rows inserted.
func (tj *TupleJoiner) Size() int {
	return int(tj._nextOrd.Load())
}

// MemUsage is the row data kept alive plus the index.
func (tj *TupleJoiner) MemUsage() int64 {
	return tj._dataBytes.Load() + int64(tj._nextOrd.Load())*entryOverhead
}

// RGDatas returns the retained small side batches in insert order.
func (tj *TupleJoiner) RGDatas() []*rowgroup.RGData {
	tj._dataMu.Lock()
	defer tj._dataMu.Unlock()
	return util.CopyTo(tj._rgDatas)
}

// Match collects the small rows whose keys equal the keys of largeRow.
func (tj *TupleJoiner) Match(largeRow *rowgroup.Row, threadID int, out *[]Entry) error {
	util.AssertFunc(tj._finished)
	*out = (*out)[:0]
	if !tj.matchNulls() && largeRow.HasNullKey(tj._cfg.LargeKeys) {
		return nil
	}
	h := largeRow.HashKeys(tj._cfg.LargeKeys)
	ents := tj._buckets[h&(bucketCount-1)].m[h]
	if len(ents) == 0 {
		return nil
	}
	small := &tj._threads[threadID].small
	for _, ent := range ents {
		small.Point(ent.Ptr)
		eq, err := small.KeysEqual(tj._cfg.SmallKeys, largeRow, tj._cfg.LargeKeys, tj.matchNulls())
		if err != nil {
			return err
		}
		if eq {
			*out = append(*out, ent)
		}
	}
	return nil
}

// MarkMatches records the matched small rows for small outer joins.
func (tj *TupleJoiner) MarkMatches(matches []Entry) {
	for _, ent := range matches {
		if ent.Ord != NullOrdinal {
			tj._marks[ent.Ord].Store(true)
		}
	}
}

func (tj *TupleJoiner) IsMarked(ord int32) bool {
	return tj._marks[ord].Load()
}

// GetUnmarkedRows returns the small rows no large row matched, in insert
// order.
func (tj *TupleJoiner) GetUnmarkedRows() []rowgroup.RowPtr {
	util.AssertFunc(tj._finished)
	ret := make([]rowgroup.RowPtr, 0)
	for i := range tj._marks {
		if !tj._marks[i].Load() {
			ret = append(ret, tj._ordPtrs[i])
		}
	}
	return ret
}

// RowAt returns the small row with the given ordinal.
func (tj *TupleJoiner) RowAt(ord int32) rowgroup.RowPtr {
	return tj._ordPtrs[ord]
}

// SmallNullRow points at the all NULL small row.
func (tj *TupleJoiner) SmallNullRow() rowgroup.RowPtr {
	return rowgroup.RowPtr{Data: tj._smallNull}
}

// LargeNullRow points at the all NULL large row.
func (tj *TupleJoiner) LargeNullRow() rowgroup.RowPtr {
	return rowgroup.RowPtr{Data: tj._largeNull}
}

func (tj *TupleJoiner) nullEntry() Entry {
	return Entry{Ptr: tj.SmallNullRow(), Ord: NullOrdinal}
}

// CopyForDiskJoin returns an empty joiner with the same configuration.
func (tj *TupleJoiner) CopyForDiskJoin() *TupleJoiner {
	cfg := clone.Clone(tj._cfg).(joinerConfig)
	ret := newTupleJoiner(cfg, tj._smallRG, tj._largeRG)
	ret._filter = tj._filter
	return ret
}

// Release drops the references to the small side.
func (tj *TupleJoiner) Release() {
	tj._dataMu.Lock()
	tj._rgDatas = nil
	tj._nullKeys = nil
	tj._dataMu.Unlock()
	for _, b := range tj._buckets {
		b.m = make(map[uint64][]Entry)
	}
	tj._ordPtrs = nil
	tj._marks = nil
	tj._dataBytes.Store(0)
}
