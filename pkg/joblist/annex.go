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

package joblist

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/liyue201/gostl/ds/priorityqueue"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/expr"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/orderby"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

type AnnexState int32

const (
	ANNEX_CREATED AnnexState = iota
	ANNEX_INITIALIZED
	ANNEX_RUNNING
	ANNEX_DRAINING
	ANNEX_DONE
)

func (state AnnexState) String() string {
	switch state {
	case ANNEX_CREATED:
		return "created"
	case ANNEX_INITIALIZED:
		return "initialized"
	case ANNEX_RUNNING:
		return "running"
	case ANNEX_DRAINING:
		return "draining"
	case ANNEX_DONE:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(state))
}

type annexPath int

const (
	AP_COPY annexPath = iota
	AP_DISTINCT
	AP_FLAT_ORDERBY
	AP_LIMITED_ORDERBY
	AP_PARALLEL_ORDERBY
)

func (path annexPath) String() string {
	switch path {
	case AP_COPY:
		return "copy"
	case AP_DISTINCT:
		return "distinct"
	case AP_FLAT_ORDERBY:
		return "flat order by"
	case AP_LIMITED_ORDERBY:
		return "limited order by"
	case AP_PARALLEL_ORDERBY:
		return "parallel order by"
	}
	return fmt.Sprintf("path(%d)", int(path))
}

// NoLimit disables the limit of an annex.
const NoLimit int64 = -1

// ConstantColumn is an output column at Pos holding Value in every row.
type ConstantColumn struct {
	Pos   int
	Value expr.Operand
}

type AnnexOptions struct {
	OrderBy   orderby.OrderByKeys
	Distinct  bool
	Limit     int64
	Offset    int64
	Constants []ConstantColumn
}

func (opts AnnexOptions) hasLimit() bool {
	return opts.Limit >= 0
}

// TupleAnnexStep is the last step of a query. It orders, deduplicates and
// cuts the rows, then fills the constant columns in.
type TupleAnnexStep struct {
	stepBase
	_opts   AnnexOptions
	_inRG   *rowgroup.RowGroup
	_outRG  *rowgroup.RowGroup
	_colMap []int
	_state  atomic.Int32
	_path   annexPath
	_guard  drainGuard

	_upstream     []JobStep
	_limitReached atomic.Bool

	_threads  int
	_locals   []*orderby.LimitedOrderBy
	_finished atomic.Int32

	_rowsIn  atomic.Int64
	_rowsOut atomic.Int64
	_deliver *deliverer
}

func NewTupleAnnexStep(job *JobInfo, inRG *rowgroup.RowGroup, opts AnnexOptions) (*TupleAnnexStep, error) {
	ta := &TupleAnnexStep{
		stepBase: newStepBase(job, "annex"),
		_opts:    opts,
		_inRG:    inRG.Clone(),
	}
	ta.setState(ANNEX_CREATED)
	if opts.Offset < 0 {
		return nil, errors.AssertionFailedf("negative offset %d", opts.Offset)
	}
	if len(opts.OrderBy) > 0 {
		if _, err := orderby.NewIdbCompare(inRG, opts.OrderBy); err != nil {
			return nil, err
		}
	}
	consts := util.CopyTo(opts.Constants)
	sort.Slice(consts, func(i, j int) bool {
		return consts[i].Pos < consts[j].Pos
	})
	width := inRG.ColumnCount() + len(consts)
	typs := make([]common.LType, 0, width)
	ta._colMap = make([]int, 0, inRG.ColumnCount())
	next, c := 0, 0
	for pos := 0; pos < width; pos++ {
		if c < len(consts) && consts[c].Pos == pos {
			if !consts[c].Value.IsConst() {
				return nil, errors.AssertionFailedf("column %d is not a constant", pos)
			}
			typs = append(typs, consts[c].Value.ConstType())
			c++
			continue
		}
		ta._colMap = append(ta._colMap, pos)
		typs = append(typs, inRG.ColType(next))
		next++
	}
	if c != len(consts) {
		return nil, errors.AssertionFailedf("constant column %d out of range", consts[c].Pos)
	}
	ta._opts.Constants = consts
	ta._outRG = rowgroup.NewRowGroupFromTypes(typs, inRG.MaxRows(), inRG.UseStringTable())
	ta._path, ta._threads = ta.choosePath()
	ta.setState(ANNEX_INITIALIZED)
	return ta, nil
}

func (ta *TupleAnnexStep) choosePath() (annexPath, int) {
	opts := ta._opts
	if len(opts.OrderBy) == 0 {
		if opts.Distinct {
			return AP_DISTINCT, 1
		}
		return AP_COPY, 1
	}
	if !opts.hasLimit() {
		return AP_FLAT_ORDERBY, 1
	}
	cfg := ta._job.Cfg.OrderBy
	reserve := opts.Limit + opts.Offset
	if cfg.ReserveSize > 0 && reserve > int64(cfg.ReserveSize) {
		return AP_FLAT_ORDERBY, 1
	}
	if cfg.ParallelThreads > 1 && reserve >= int64(cfg.ParallelMinRows) {
		return AP_PARALLEL_ORDERBY, cfg.ParallelThreads
	}
	return AP_LIMITED_ORDERBY, 1
}

func (ta *TupleAnnexStep) setState(state AnnexState) {
	ta._state.Store(int32(state))
}

func (ta *TupleAnnexStep) State() AnnexState {
	return AnnexState(ta._state.Load())
}

func (ta *TupleAnnexStep) OutputRG() *rowgroup.RowGroup {
	return ta._outRG
}

// SetUpstream lists the steps to abort once the limit is reached.
func (ta *TupleAnnexStep) SetUpstream(steps []JobStep) {
	ta._upstream = steps
}

func (ta *TupleAnnexStep) LimitReached() bool {
	return ta._limitReached.Load()
}

func (ta *TupleAnnexStep) RowsOut() int64 {
	return ta._rowsOut.Load()
}

func (ta *TupleAnnexStep) Run() error {
	if err := ta.checkAssociations(1, 1); err != nil {
		return err
	}
	ta.started()
	ta.setState(ANNEX_RUNNING)
	in := ta.input(0)
	it := in.GetIterator()
	ta._guard.addInput(in, it)
	ta._guard.addOutput(ta.output(0))
	if ta._path == AP_PARALLEL_ORDERBY {
		// the dealer takes one worker
		ta._threads = min(ta._threads, ta._job.Pool.Headroom()-1)
		if ta._threads < 2 {
			util.Info("annex runs order by on one thread",
				zap.String("step", ta.String()),
				zap.Int("headroom", ta._job.Pool.Headroom()))
			ta._path, ta._threads = AP_LIMITED_ORDERBY, 1
		}
	}
	util.Debug("annex running",
		zap.String("step", ta.String()),
		zap.Stringer("path", ta._path),
		zap.Int("threads", ta._threads))
	if ta._path == AP_PARALLEL_ORDERBY {
		ta.runParallel(in, it)
		return nil
	}
	ta.invoke("main", func() error {
		return ta.runSingle(in, it)
	}, ta.finish)
	return nil
}

func (ta *TupleAnnexStep) finish() {
	ta.setState(ANNEX_DRAINING)
	ta._guard.Close()
	ta.setState(ANNEX_DONE)
}

// emit writes src with the constants into the next output row.
func (ta *TupleAnnexStep) emit(bw *batchWriter, src *rowgroup.Row) (bool, error) {
	dst := bw.Next()
	if len(ta._opts.Constants) == 0 {
		src.CopyRow(dst)
	} else {
		for i, col := range ta._colMap {
			src.CopyField(dst, col, i)
		}
		for _, cc := range ta._opts.Constants {
			if err := cc.Value.WriteTo(dst, cc.Pos); err != nil {
				return false, err
			}
		}
	}
	ta._rowsOut.Add(1)
	return bw.Commit(), nil
}

// abortOnLimit stops the steps that feed this one. The input is still
// drained.
func (ta *TupleAnnexStep) abortOnLimit() {
	if ta._limitReached.Swap(true) {
		return
	}
	util.Info("annex limit reached",
		zap.String("step", ta.String()),
		zap.Int64("limit", ta._opts.Limit),
		zap.Int("upstream", len(ta._upstream)))
	for _, step := range ta._upstream {
		step.Abort()
	}
}

// cutter applies offset and limit to rows in output order.
type cutter struct {
	offset  int64
	limit   int64
	skipped int64
	emitted int64
}

// take reports whether the next row is emitted. done turns true once the
// limit is reached.
func (c *cutter) take() (emit bool, done bool) {
	if c.limit >= 0 && c.emitted >= c.limit {
		return false, true
	}
	if c.skipped < c.offset {
		c.skipped++
		return false, false
	}
	c.emitted++
	return true, c.limit >= 0 && c.emitted >= c.limit
}

func (ta *TupleAnnexStep) newCutter() *cutter {
	return &cutter{offset: ta._opts.Offset, limit: ta._opts.Limit}
}

func (ta *TupleAnnexStep) runSingle(in *datalist.RowGroupDL, it int) error {
	bw := newBatchWriter(ta._outRG, ta.output(0), ta._job.MaxRows())
	var err error
	switch ta._path {
	case AP_COPY, AP_DISTINCT:
		err = ta.passThrough(in, it, bw)
	case AP_FLAT_ORDERBY:
		err = ta.flatOrderBy(in, it, bw)
	case AP_LIMITED_ORDERBY:
		err = ta.limitedOrderBy(in, it, bw)
	}
	if err != nil {
		return err
	}
	bw.Flush()
	return nil
}

// passThrough copies rows in arrival order.
func (ta *TupleAnnexStep) passThrough(in *datalist.RowGroupDL, it int, bw *batchWriter) error {
	var set *rowSet
	if ta._path == AP_DISTINCT {
		set = newRowSet(ta._inRG, ta._job.MM, common.ERR_LIMIT_TOO_BIG)
		defer set.Release()
	}
	cut := ta.newCutter()
	done := ta._opts.Limit == 0
	if done {
		ta.abortOnLimit()
	}
	row := rowgroup.Row{}
	ta._inRG.InitRow(&row)
	for {
		data, ok := in.Next(it)
		if !ok {
			return nil
		}
		ta._rowsIn.Add(int64(data.RowCount()))
		if done || ta.cancelled() {
			continue
		}
		for i := 0; i < data.RowCount() && !done; i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			if set != nil {
				fresh, err := set.Insert(&row)
				if err != nil {
					return err
				}
				if !fresh {
					continue
				}
			}
			var emit bool
			emit, done = cut.take()
			if !emit {
				continue
			}
			if ok, err := ta.emit(bw, &row); err != nil || !ok {
				return err
			}
		}
		if done {
			ta.abortOnLimit()
		}
	}
}

// feed hands every input row to process. With distinct only the first of
// equal rows is passed on.
func (ta *TupleAnnexStep) feed(in *datalist.RowGroupDL, it int, set *rowSet, process func(row *rowgroup.Row) error) error {
	row := rowgroup.Row{}
	ta._inRG.InitRow(&row)
	for {
		data, ok := in.Next(it)
		if !ok {
			return nil
		}
		ta._rowsIn.Add(int64(data.RowCount()))
		if ta.cancelled() {
			continue
		}
		if err := util.Inject(util.FAULTS_SCOPE_JOB, "annex.feed"); err != nil {
			return err
		}
		for i := 0; i < data.RowCount(); i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			if set != nil {
				fresh, err := set.Insert(&row)
				if err != nil {
					return err
				}
				if !fresh {
					continue
				}
			}
			if err := process(&row); err != nil {
				return err
			}
		}
	}
}

func (ta *TupleAnnexStep) newDistinctSet() *rowSet {
	if !ta._opts.Distinct {
		return nil
	}
	return newRowSet(ta._inRG, ta._job.MM, common.ERR_LIMIT_TOO_BIG)
}

func (ta *TupleAnnexStep) flatOrderBy(in *datalist.RowGroupDL, it int, bw *batchWriter) error {
	fob := orderby.NewFlatOrderBy()
	if err := fob.Initialize(ta._inRG, ta._opts.OrderBy, ta._job.MM); err != nil {
		in.Drain(it)
		return err
	}
	defer fob.Release()
	set := ta.newDistinctSet()
	if set != nil {
		defer set.Release()
	}
	if err := ta.feed(in, it, set, fob.ProcessRow); err != nil {
		return err
	}
	if ta.cancelled() {
		return nil
	}
	if err := fob.Finalize(); err != nil {
		return err
	}
	fob.Skip(int(ta._opts.Offset))
	cut := &cutter{limit: ta._opts.Limit}
	row := rowgroup.Row{}
	ta._inRG.InitRow(&row)
	for !ta.cancelled() {
		data, ok := fob.GetData()
		if !ok {
			return nil
		}
		for i := 0; i < data.RowCount(); i++ {
			emit, done := cut.take()
			if emit {
				row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
				if ok, err := ta.emit(bw, &row); err != nil || !ok {
					return err
				}
			}
			if done {
				return nil
			}
		}
	}
	return nil
}

func (ta *TupleAnnexStep) limitedOrderBy(in *datalist.RowGroupDL, it int, bw *batchWriter) error {
	lob, err := orderby.NewLimitedOrderBy(ta._inRG, ta._opts.OrderBy,
		int(ta._opts.Limit+ta._opts.Offset), ta._job.MM)
	if err != nil {
		in.Drain(it)
		return err
	}
	defer lob.Release()
	set := ta.newDistinctSet()
	if set != nil {
		defer set.Release()
	}
	if err = ta.feed(in, it, set, lob.ProcessRow); err != nil {
		return err
	}
	if ta.cancelled() {
		return nil
	}
	return ta.emitOrdered(bw, lob.RowGroup(), lob.Drain())
}

// emitOrdered applies offset and limit to rows already in output order.
func (ta *TupleAnnexStep) emitOrdered(bw *batchWriter, rg *rowgroup.RowGroup, ptrs []rowgroup.RowPtr) error {
	cut := ta.newCutter()
	row := rowgroup.Row{}
	rg.InitRow(&row)
	for _, ptr := range ptrs {
		emit, done := cut.take()
		if emit {
			row.Point(ptr)
			if ok, err := ta.emit(bw, &row); err != nil || !ok {
				return err
			}
		}
		if done {
			return nil
		}
	}
	return nil
}

// runParallel deals the input batches round robin to one bounded order by
// per thread. The last thread to finish merges them.
func (ta *TupleAnnexStep) runParallel(in *datalist.RowGroupDL, it int) {
	n := ta._threads
	reserve := int(ta._opts.Limit + ta._opts.Offset)
	locals := make([]*datalist.RowGroupDL, n)
	ta._locals = make([]*orderby.LimitedOrderBy, n)
	for i := range locals {
		locals[i] = datalist.NewRowGroupDL(ta._job.FifoSize(), 1)
		lob, err := orderby.NewLimitedOrderBy(ta._inRG, ta._opts.OrderBy, reserve, ta._job.MM)
		util.AssertFunc(err == nil)
		ta._locals[i] = lob
	}

	ta.invoke("dealer", func() error {
		idx := 0
		for {
			data, ok := in.Next(it)
			if !ok {
				return nil
			}
			ta._rowsIn.Add(int64(data.RowCount()))
			if ta.cancelled() {
				continue
			}
			if !locals[idx%n].Insert(data) {
				return nil
			}
			idx++
		}
	}, func() {
		in.Drain(it)
		for _, local := range locals {
			local.EndOfInput()
		}
	})

	for i := 0; i < n; i++ {
		local := locals[i]
		localIt := local.GetIterator()
		ta.invoke(fmt.Sprintf("sort%d", i), func() error {
			var set *rowSet
			if ta._opts.Distinct {
				set = newRowSet(ta._inRG, ta._job.MM, common.ERR_LIMIT_TOO_BIG)
				defer set.Release()
			}
			return ta.feed(local, localIt, set, ta._locals[i].ProcessRow)
		}, func() {
			local.Drain(localIt)
			if int(ta._finished.Add(1)) != n {
				return
			}
			if !ta.cancelled() {
				ta.fail(safeCall(ta.merge))
			}
			for _, lob := range ta._locals {
				lob.Release()
			}
			ta.finish()
		})
	}
}

type mergeCursor struct {
	ptrs []rowgroup.RowPtr
	pos  int
}

// merge pops the per thread results through one queue in output order.
func (ta *TupleAnnexStep) merge() error {
	cmp := ta._locals[0].Compare()
	l, r := rowgroup.Row{}, rowgroup.Row{}
	ta._inRG.InitRow(&l)
	ta._inRG.InitRow(&r)
	pq := priorityqueue.New[*mergeCursor](func(a, b *mergeCursor) int {
		l.Point(a.ptrs[a.pos])
		r.Point(b.ptrs[b.pos])
		return cmp.Compare(&l, &r)
	})
	total := 0
	for _, lob := range ta._locals {
		ptrs := lob.Drain()
		total += len(ptrs)
		if len(ptrs) > 0 {
			pq.Push(&mergeCursor{ptrs: ptrs})
		}
	}
	util.Debug("annex merge",
		zap.String("step", ta.String()),
		zap.Int("queues", pq.Size()),
		zap.Int("rows", total))

	var set *rowSet
	if ta._opts.Distinct {
		set = newRowSet(ta._inRG, ta._job.MM, common.ERR_LIMIT_TOO_BIG)
		defer set.Release()
	}
	bw := newBatchWriter(ta._outRG, ta.output(0), ta._job.MaxRows())
	cut := ta.newCutter()
	row := rowgroup.Row{}
	ta._inRG.InitRow(&row)
	for !pq.Empty() && !ta.cancelled() {
		cur := pq.Pop()
		row.Point(cur.ptrs[cur.pos])
		cur.pos++
		if cur.pos < len(cur.ptrs) {
			pq.Push(cur)
		}
		if set != nil {
			fresh, err := set.Insert(&row)
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
		}
		emit, done := cut.take()
		if emit {
			if ok, err := ta.emit(bw, &row); err != nil || !ok {
				return err
			}
		}
		if done {
			break
		}
	}
	bw.Flush()
	return nil
}

// safeCall turns a panic of fn into its error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewAssertionErrorWithWrappedErrf(util.ConvertPanicError(r), "panic")
		}
	}()
	return fn()
}

// NextBand serializes the next output batch into bs. See DeliveryStep.
func (ta *TupleAnnexStep) NextBand(bs *util.ByteStream) int {
	if ta._deliver == nil {
		ta._deliver = newDeliverer(ta._job, ta._outRG, ta.output(0))
	}
	return ta._deliver.nextBand(bs)
}

func (ta *TupleAnnexStep) Stats(tree treeprint.Tree) {
	root := ta.statsRoot(tree)
	root.AddNode(fmt.Sprintf("path %s, threads %d, state %s", ta._path, ta._threads, ta.State()))
	if len(ta._opts.OrderBy) > 0 {
		root.AddNode(fmt.Sprintf("order by %s", ta._opts.OrderBy))
	}
	if ta._opts.hasLimit() || ta._opts.Offset > 0 {
		root.AddNode(fmt.Sprintf("limit %d offset %d, reached %v",
			ta._opts.Limit, ta._opts.Offset, ta._limitReached.Load()))
	}
	for _, cc := range ta._opts.Constants {
		root.AddNode(fmt.Sprintf("#%d = %s", cc.Pos, cc.Value))
	}
	root.AddNode(fmt.Sprintf("rows in %d, out %d", ta._rowsIn.Load(), ta._rowsOut.Load()))
}
