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
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/joiner"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/joinpartition"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// loaderOutput is the small side of one partition read back from disk.
type loaderOutput struct {
	leaf    int
	batches []*rowgroup.RGData
	bytes   int64
}

// builderOutput is the joiner built over one partition.
type builderOutput struct {
	leaf  int
	tj    *joiner.TupleJoiner
	bytes int64
}

// DiskJoinStep joins a small side that does not fit in memory. Both sides
// are partitioned to disk by key, then every partition is joined in
// memory by a loader, builder and joiner pipeline. The large side is
// consumed in iterations bounded by LargeSideLimit.
// Inputs are the small side and the large side.
type DiskJoinStep struct {
	stepBase
	_template *joiner.TupleJoiner
	_outRG    *rowgroup.RowGroup
	_jpm      *joinpartition.JoinPartitionManager
	_largeIt  int

	_bufAcct  *resource.Account
	_loadAcct *sharedAccount
	_guard    drainGuard

	_smallRows  atomic.Int64
	_largeRows  atomic.Int64
	_rowsOut    atomic.Int64
	_pipelines  atomic.Int64
	_iterations atomic.Int64
	_stats      atomic.Pointer[joinpartition.Stats]
	_tree       atomic.Pointer[string]
}

// NewDiskJoinStep takes an empty joiner whose configuration every
// partition joiner copies.
func NewDiskJoinStep(job *JobInfo, template *joiner.TupleJoiner) (*DiskJoinStep, error) {
	jpm, err := joinpartition.NewJoinPartitionManager(job.Cfg.Join,
		template.SmallRG(), template.LargeRG(),
		template.SmallKeys(), template.LargeKeys(), job.MaxRows())
	if err != nil {
		return nil, err
	}
	return &DiskJoinStep{
		stepBase:  newStepBase(job, "diskjoin"),
		_template: template,
		_outRG:    template.OutputRG(),
		_jpm:      jpm,
		_largeIt:  -1,
		_bufAcct:  resource.NewAccount(job.MM),
		_loadAcct: newSharedAccount(job.MM),
	}, nil
}

// setLargeIterator makes the step read the large side with a cursor the
// caller already owns.
func (dj *DiskJoinStep) setLargeIterator(it int) {
	dj._largeIt = it
}

func (dj *DiskJoinStep) OutputRG() *rowgroup.RowGroup {
	return dj._outRG
}

func (dj *DiskJoinStep) RowsOut() int64 {
	return dj._rowsOut.Load()
}

func (dj *DiskJoinStep) PartitionStats() joinpartition.Stats {
	if st := dj._stats.Load(); st != nil {
		return *st
	}
	return dj._jpm.Stats()
}

func (dj *DiskJoinStep) Run() error {
	if err := dj.checkAssociations(2, 1); err != nil {
		_ = dj._jpm.Close()
		return err
	}
	dj.started()
	small := dj.input(0)
	smallIt := small.GetIterator()
	large := dj.input(1)
	largeIt := dj._largeIt
	if largeIt < 0 {
		largeIt = large.GetIterator()
	}
	dj._guard.addInput(small, smallIt)
	dj._guard.addInput(large, largeIt)
	dj._guard.addOutput(dj.output(0))
	dj.invoke("main", func() error {
		if err := dj.smallPhase(small, smallIt); err != nil || dj.cancelled() {
			return err
		}
		return dj.largePhase(large, largeIt)
	}, dj.cleanup)
	return nil
}

func (dj *DiskJoinStep) cleanup() {
	dj._guard.Close()
	st := dj._jpm.Stats()
	dj._stats.Store(&st)
	tree := dj._jpm.String()
	dj._tree.Store(&tree)
	if err := dj._jpm.Close(); err != nil {
		dj.fail(err)
	}
	dj._bufAcct.Close()
	dj._loadAcct.Close()
	util.Info("disk join done",
		zap.String("step", dj.String()),
		zap.Int64("smallRows", dj._smallRows.Load()),
		zap.Int64("largeRows", dj._largeRows.Load()),
		zap.Int64("rowsOut", dj._rowsOut.Load()),
		zap.Int("iterations", st.LargeIteration),
		util.Bytes("written", st.BytesWritten),
		util.Bytes("read", st.BytesRead))
}

// chargeBuffers keeps the account equal to the bytes the partitions
// buffer in memory.
func (dj *DiskJoinStep) chargeBuffers() error {
	want := dj._jpm.BufferedBytes()
	if !dj._bufAcct.Resize(want, true) {
		return common.NewJobError(common.ERR_JOIN_TOO_BIG,
			"disk join buffers need %s", humanize.IBytes(uint64(want)))
	}
	return nil
}

func (dj *DiskJoinStep) smallPhase(small *datalist.RowGroupDL, it int) error {
	for {
		data, ok := small.Next(it)
		if !ok {
			break
		}
		if dj.cancelled() {
			small.Drain(it)
			return nil
		}
		if _, err := dj._jpm.InsertSmallSideRGData(data); err != nil {
			return err
		}
		dj._smallRows.Add(int64(data.RowCount()))
		if err := dj.chargeBuffers(); err != nil {
			return err
		}
	}
	if err := dj._jpm.DoneInsertingSmallData(); err != nil {
		return err
	}
	return dj.chargeBuffers()
}

func (dj *DiskJoinStep) largePhase(large *datalist.RowGroupDL, it int) error {
	limit := dj._job.Cfg.Join.LargeSideLimit
	dj._jpm.InitForLargeSideFeed()
	for {
		data, ok := large.Next(it)
		if !ok {
			break
		}
		if dj.cancelled() {
			large.Drain(it)
			return nil
		}
		if _, err := dj._jpm.InsertLargeSideRGData(data); err != nil {
			return err
		}
		dj._largeRows.Add(int64(data.RowCount()))
		if err := dj.chargeBuffers(); err != nil {
			return err
		}
		if limit > 0 && dj._jpm.LargeSideSize() >= limit {
			if err := dj._jpm.DoneInsertingLargeData(false); err != nil {
				return err
			}
			if err := dj.iteration(false); err != nil || dj.cancelled() {
				return err
			}
			dj._jpm.InitForLargeSideFeed()
		}
	}
	if err := dj._jpm.DoneInsertingLargeData(true); err != nil {
		return err
	}
	if err := dj.chargeBuffers(); err != nil {
		return err
	}
	return dj.iteration(true)
}

// iteration joins every partition against the large rows of the current
// iteration. The partitions are split evenly across the pipelines.
func (dj *DiskJoinStep) iteration(last bool) error {
	dj._iterations.Add(1)
	smallOuter := dj._template.JoinType().Has(joiner.JT_SMALLOUTER)
	leaves := make([]int, 0)
	for _, leaf := range dj._jpm.Leaves() {
		if dj._jpm.LargeRows(leaf) > 0 || (last && smallOuter) {
			leaves = append(leaves, leaf)
		}
	}
	if len(leaves) == 0 {
		return nil
	}
	n := min(max(dj._job.Cfg.Join.MaxThreads, 1), len(leaves))
	n = dj._job.Workers(n)
	dj._pipelines.Store(int64(n))
	util.Debug("disk join iteration",
		zap.String("step", dj.String()),
		zap.Int("iteration", dj._jpm.LargeIteration()),
		zap.Bool("last", last),
		zap.Int("partitions", len(leaves)),
		zap.Int("pipelines", n))

	g := &errgroup.Group{}
	// loader, builder and joiner of every pipeline
	g.SetLimit(3 * n)
	for p, rng := range util.SplitEvenly(len(leaves), n) {
		dj.pipeline(g, p, leaves[rng.First:rng.Second], last)
	}
	return g.Wait()
}

// pipeline wires a loader, a builder and a joiner over part with queues
// of one item.
func (dj *DiskJoinStep) pipeline(g *errgroup.Group, p int, part []int, last bool) {
	loaded := datalist.NewFIFO[*loaderOutput](1, 1)
	built := datalist.NewFIFO[*builderOutput](1, 1)
	loadedIt := loaded.GetIterator()
	builtIt := built.GetIterator()
	abort := func() {
		loaded.Cancel()
		built.Cancel()
	}

	dj.goSafe(g, fmt.Sprintf("loader%d", p), func() error {
		defer loaded.EndOfInput()
		for _, leaf := range part {
			if dj.cancelled() {
				return nil
			}
			lo, err := dj.load(leaf)
			if err != nil {
				abort()
				return err
			}
			if !loaded.Insert(lo) {
				dj._loadAcct.Shrink(lo.bytes)
				return nil
			}
		}
		return nil
	})

	dj.goSafe(g, fmt.Sprintf("builder%d", p), func() error {
		defer built.EndOfInput()
		for {
			lo, ok := loaded.Next(loadedIt)
			if !ok {
				return nil
			}
			if dj.cancelled() {
				dj._loadAcct.Shrink(lo.bytes)
				continue
			}
			tj := dj._template.CopyForDiskJoin()
			for _, data := range lo.batches {
				tj.InsertRGData(data)
			}
			tj.DoneInserting()
			if !built.Insert(&builderOutput{leaf: lo.leaf, tj: tj, bytes: lo.bytes}) {
				tj.Release()
				dj._loadAcct.Shrink(lo.bytes)
				return nil
			}
		}
	})

	dj.goSafe(g, fmt.Sprintf("joiner%d", p), func() error {
		for {
			bo, ok := built.Next(builtIt)
			if !ok {
				return nil
			}
			var err error
			if !dj.cancelled() {
				err = dj.joinPartition(bo, last)
			}
			bo.tj.Release()
			dj._loadAcct.Shrink(bo.bytes)
			if err != nil {
				abort()
				return err
			}
		}
	})
}

func (dj *DiskJoinStep) load(leaf int) (*loaderOutput, error) {
	if err := util.Inject(util.FAULTS_SCOPE_JOB, "diskjoin.load"); err != nil {
		return nil, err
	}
	batches, err := dj._jpm.LoadSmallSide(leaf)
	if err != nil {
		return nil, err
	}
	var bytes int64
	for _, data := range batches {
		bytes += data.SizeInBytes()
	}
	if !dj._loadAcct.Grow(bytes, true) {
		return nil, common.NewJobError(common.ERR_JOIN_TOO_BIG,
			"disk join partition %d needs %s", leaf, humanize.IBytes(uint64(bytes)))
	}
	return &loaderOutput{leaf: leaf, batches: batches, bytes: bytes}, nil
}

// joinPartition probes the large rows of the partition. The small rows
// that found a match are remembered across iterations, and after the last
// one the others are emitted for small outer joins.
func (dj *DiskJoinStep) joinPartition(bo *builderOutput, last bool) error {
	tj := bo.tj
	bw := newBatchWriter(dj._outRG, dj.output(0), dj._job.MaxRows())
	defer func() {
		dj._rowsOut.Add(bw.Rows())
	}()
	reader, err := dj._jpm.LargeSideReader(bo.leaf)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()

	largeRow := rowgroup.Row{}
	tj.LargeRG().InitRow(&largeRow)
	matches := make([]joiner.Entry, 0)
	for {
		data, err := reader.Next()
		if err != nil {
			return err
		}
		if data == nil {
			break
		}
		if dj.cancelled() {
			return nil
		}
		for i := 0; i < data.RowCount(); i++ {
			largeRow.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			if err = tj.Match(&largeRow, 0, &matches); err != nil {
				return err
			}
			if err = tj.ApplyJoinRules(&largeRow, 0, &matches); err != nil {
				return err
			}
			for _, ent := range matches {
				tj.JoinRow(&largeRow, ent, 0, bw.Next())
				if !bw.Commit() {
					return nil
				}
			}
		}
	}

	if tj.JoinType().Has(joiner.JT_SMALLOUTER) {
		for ord := 0; ord < tj.Size(); ord++ {
			if tj.IsMarked(int32(ord)) {
				dj._jpm.MarkMatched(bo.leaf, ord)
			}
		}
		if last {
			for ord := 0; ord < tj.Size(); ord++ {
				if dj._jpm.IsMatched(bo.leaf, ord) {
					continue
				}
				tj.JoinUnmatchedSmall(tj.RowAt(int32(ord)), 0, bw.Next())
				if !bw.Commit() {
					return nil
				}
			}
		}
	}
	bw.Flush()
	dj._jpm.NoteProcessed(bo.leaf)
	if last {
		dj._jpm.ReleasePartition(bo.leaf)
	}
	return nil
}

func (dj *DiskJoinStep) Stats(tree treeprint.Tree) {
	root := dj.statsRoot(tree)
	st := dj.PartitionStats()
	root.AddNode(fmt.Sprintf("small rows %d, large rows %d, output rows %d",
		dj._smallRows.Load(), dj._largeRows.Load(), dj._rowsOut.Load()))
	root.AddNode(fmt.Sprintf("iterations %d, pipelines %d, splits %d, max depth %d",
		dj._iterations.Load(), dj._pipelines.Load(), st.Splits, st.MaxDepth))
	root.AddNode(fmt.Sprintf("max partition small %s large %s",
		humanize.IBytes(uint64(st.MaxSmallSize)), humanize.IBytes(uint64(st.MaxLargeSize))))
	root.AddNode(fmt.Sprintf("written %s, read %s",
		humanize.IBytes(uint64(st.BytesWritten)), humanize.IBytes(uint64(st.BytesRead))))
	if tree := dj._tree.Load(); tree != nil {
		branch := root.AddBranch("partitions")
		for _, line := range strings.Split(strings.TrimSpace(*tree), "\n") {
			branch.AddNode(line)
		}
	}
}
