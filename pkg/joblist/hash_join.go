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
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/expr"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/joiner"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

type HashJoinState int32

const (
	THJS_INIT HashJoinState = iota
	// building with the reduced thread count
	THJS_PM
	// building with every thread
	THJS_UM
	THJS_DONE
	THJS_CONVERT_TO_DISK
)

func (state HashJoinState) String() string {
	switch state {
	case THJS_INIT:
		return "init"
	case THJS_PM:
		return "pm"
	case THJS_UM:
		return "um"
	case THJS_DONE:
		return "done"
	case THJS_CONVERT_TO_DISK:
		return "disk"
	}
	return fmt.Sprintf("state(%d)", int32(state))
}

// SmallSideSpec describes one small side. LargeKeys address the large
// row the side is joined with: the large input for the first side, the
// output of the previous side for the others.
type SmallSideSpec struct {
	RG        *rowgroup.RowGroup
	SmallKeys []int
	LargeKeys []int
	JT        joiner.JoinType
	Filter    expr.Filter
}

type smallSide struct {
	_idx   int
	_tj    *joiner.TupleJoiner
	_dl    *datalist.RowGroupDL
	_it    int
	_state atomic.Int32

	_mu      sync.Mutex
	_active  int
	_done    chan struct{}
	_charged int64

	_convert atomic.Bool
	_rows    atomic.Int64
	_batches atomic.Int64
	_disk    atomic.Pointer[DiskJoinStep]
}

func (side *smallSide) state() HashJoinState {
	return HashJoinState(side._state.Load())
}

func (side *smallSide) setState(state HashJoinState) {
	side._state.Store(int32(state))
}

// addBuilder registers one more builder unless the build is over.
func (side *smallSide) addBuilder() bool {
	side._mu.Lock()
	defer side._mu.Unlock()
	if side._active == 0 {
		return false
	}
	side._active++
	return true
}

func (side *smallSide) builderDone() {
	side._mu.Lock()
	defer side._mu.Unlock()
	side._active--
	if side._active == 0 {
		close(side._done)
	}
}

// TupleHashJoinStep joins the large input with one or more small inputs.
// The small sides are built into in-memory joiners under the memory
// budget. A side that does not fit is handed over to a DiskJoinStep.
// Inputs are the small sides in order followed by the large side.
type TupleHashJoinStep struct {
	stepBase
	_largeRG *rowgroup.RowGroup
	_sides   []*smallSide
	_outRG   *rowgroup.RowGroup
	_acct    *sharedAccount

	_largeRows atomic.Int64
	_outRows   atomic.Int64
	_probeTime atomic.Int64
	_guard     drainGuard
}

func NewTupleHashJoinStep(job *JobInfo, largeRG *rowgroup.RowGroup, specs []SmallSideSpec) (*TupleHashJoinStep, error) {
	if len(specs) == 0 {
		return nil, errors.AssertionFailedf("hash join without small side")
	}
	thj := &TupleHashJoinStep{
		stepBase: newStepBase(job, "hashjoin"),
		_largeRG: largeRG.Clone(),
		_acct:    newSharedAccount(job.MM),
	}
	lrg := thj._largeRG
	for i, spec := range specs {
		tj, err := joiner.NewTupleJoiner(spec.RG, lrg, spec.SmallKeys, spec.LargeKeys,
			spec.JT, max(job.Cfg.Join.PMThreads, 1))
		if err != nil {
			return nil, errors.Wrapf(err, "small side %d", i)
		}
		if spec.Filter != nil {
			tj.SetFilter(spec.Filter)
		}
		thj._sides = append(thj._sides, &smallSide{_idx: i, _tj: tj})
		lrg = tj.OutputRG()
	}
	thj._outRG = lrg
	return thj, nil
}

// OutputRG is the schema of the joined rows.
func (thj *TupleHashJoinStep) OutputRG() *rowgroup.RowGroup {
	return thj._outRG
}

func (thj *TupleHashJoinStep) SideState(i int) HashJoinState {
	return thj._sides[i].state()
}

func (thj *TupleHashJoinStep) Run() error {
	if err := thj.checkAssociations(len(thj._sides)+1, 1); err != nil {
		return err
	}
	thj.started()
	for i, side := range thj._sides {
		side._dl = thj.input(i)
		side._it = side._dl.GetIterator()
		thj._guard.addInput(side._dl, side._it)
	}
	large := thj.input(len(thj._sides))
	largeIt := large.GetIterator()
	thj._guard.addInput(large, largeIt)
	thj._guard.addOutput(thj.output(0))
	thj.invoke("main", func() error {
		return thj.execute(large, largeIt)
	}, func() {
		thj._guard.Close()
		thj.release()
	})
	return nil
}

func (thj *TupleHashJoinStep) execute(large *datalist.RowGroupDL, largeIt int) error {
	g := &errgroup.Group{}
	for _, side := range thj._sides {
		thj.goSafe(g, fmt.Sprintf("build%d", side._idx), func() error {
			return thj.buildSide(side)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if thj.cancelled() {
		return nil
	}

	stages := &errgroup.Group{}
	// a stage and, for a disk join, its forwarder
	stages.SetLimit(2 * len(thj._sides))
	in, inIt := large, largeIt
	for i, side := range thj._sides {
		var out *datalist.RowGroupDL
		if i == len(thj._sides)-1 {
			out = thj.output(0)
		} else {
			out = datalist.NewRowGroupDL(thj._job.FifoSize(), 1)
		}
		side, in, inIt := side, in, inIt
		if side.state() == THJS_CONVERT_TO_DISK {
			thj.goSafe(stages, fmt.Sprintf("disk%d", i), func() error {
				return thj.diskStage(stages, side, in, inIt, out)
			})
		} else {
			thj.goSafe(stages, fmt.Sprintf("probe%d", i), func() error {
				return thj.probeStage(side, in, inIt, out)
			})
		}
		in, inIt = out, out.GetIterator()
	}
	return stages.Wait()
}

// buildSide fills the joiner of side. It starts with PMThreads builders
// and a poller that charges the memory growth.
func (thj *TupleHashJoinStep) buildSide(side *smallSide) error {
	opts := thj._job.Cfg.Join
	pmThreads := thj._job.Workers(max(opts.PMThreads, 1))
	maxBuilders := max(thj._job.Workers(opts.MaxThreads), pmThreads)
	side.setState(THJS_PM)
	side._done = make(chan struct{})
	side._active = pmThreads

	g := &errgroup.Group{}
	// builders and the poller
	g.SetLimit(maxBuilders + 1)
	builder := func(n int) {
		thj.goSafe(g, fmt.Sprintf("builder%d.%d", side._idx, n), func() error {
			defer side.builderDone()
			return thj.buildLoop(side)
		})
	}
	for i := 0; i < pmThreads; i++ {
		builder(i)
	}
	thj.goSafe(g, fmt.Sprintf("poller%d", side._idx), func() error {
		interval := opts.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-side._done:
				return nil
			case <-ticker.C:
				if err := thj.checkMemory(side); err != nil {
					return err
				}
				if side.state() == THJS_PM && side._tj.MemUsage() > opts.PMMemLimit {
					thj.promote(side, builder, pmThreads, maxBuilders)
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if thj.cancelled() {
		return nil
	}
	// the poller may not have seen the tail of the build
	if err := thj.checkMemory(side); err != nil {
		return err
	}
	if side.state() == THJS_CONVERT_TO_DISK {
		util.Info("small side converted to disk join",
			zap.String("step", thj.String()),
			zap.Int("side", side._idx),
			zap.Int64("rows", side._rows.Load()),
			util.Bytes("mem", side._tj.MemUsage()))
		return nil
	}
	side._tj.DoneInserting()
	side.setState(THJS_DONE)
	util.Debug("small side built",
		zap.String("step", thj.String()),
		zap.Int("side", side._idx),
		zap.Int("rows", side._tj.Size()),
		zap.Int("unique", side._tj.UniqueCount()))
	return nil
}

func (thj *TupleHashJoinStep) promote(side *smallSide, builder func(n int), from, to int) {
	side.setState(THJS_UM)
	added := 0
	for n := from; n < to; n++ {
		if !side.addBuilder() {
			break
		}
		builder(n)
		added++
	}
	util.Info("small side promoted to um",
		zap.String("step", thj.String()),
		zap.Int("side", side._idx),
		zap.Int("builders", added),
		util.Bytes("mem", side._tj.MemUsage()))
}

func (thj *TupleHashJoinStep) buildLoop(side *smallSide) error {
	for {
		if side._convert.Load() {
			// the rest of the small side goes to the disk join
			return nil
		}
		data, ok := side._dl.Next(side._it)
		if !ok {
			return nil
		}
		if thj.cancelled() {
			side._dl.Drain(side._it)
			return nil
		}
		if err := util.Inject(util.FAULTS_SCOPE_JOB, "hashjoin.build"); err != nil {
			return err
		}
		side._tj.InsertRGData(data)
		side._rows.Add(int64(data.RowCount()))
		side._batches.Add(1)
	}
}

// checkMemory charges the growth of side since the last check. A refused
// charge converts the side to a disk join or fails the job.
func (thj *TupleHashJoinStep) checkMemory(side *smallSide) error {
	if side.state() == THJS_CONVERT_TO_DISK {
		return nil
	}
	opts := thj._job.Cfg.Join
	side._mu.Lock()
	usage := side._tj.MemUsage()
	delta := usage - side._charged
	ok := true
	if delta > 0 {
		if opts.UMMemLimit > 0 && thj._acct.Used()+delta > opts.UMMemLimit {
			ok = false
		} else if ok = thj._acct.Grow(delta, true); ok {
			side._charged += delta
		}
	}
	side._mu.Unlock()
	if ok {
		return nil
	}
	if !opts.AllowDiskJoin {
		return common.NewJobError(common.ERR_JOIN_TOO_BIG,
			"small side %d needs %s, %s charged", side._idx,
			humanize.IBytes(uint64(usage)), humanize.IBytes(uint64(thj._acct.Used())))
	}
	side._convert.Store(true)
	side.setState(THJS_CONVERT_TO_DISK)
	return nil
}

func (thj *TupleHashJoinStep) uncharge(side *smallSide) {
	side._mu.Lock()
	n := side._charged
	side._charged = 0
	side._mu.Unlock()
	thj._acct.Shrink(n)
}

// probeStage joins every row of in with the built side.
func (thj *TupleHashJoinStep) probeStage(side *smallSide, in *datalist.RowGroupDL, inIt int, out *datalist.RowGroupDL) error {
	guard := drainGuard{}
	guard.addInput(in, inIt)
	guard.addOutput(out)
	defer guard.Close()

	tj := side._tj
	workers := thj._job.Workers(max(thj._job.Cfg.Join.MaxThreads, 1))
	tj.SetThreadCount(workers)
	start := time.Now()
	g := &errgroup.Group{}
	g.SetLimit(workers)
	for w := 0; w < workers; w++ {
		thj.goSafe(g, fmt.Sprintf("probe%d.%d", side._idx, w), func() error {
			return thj.probeLoop(side, w, in, inIt, out)
		})
	}
	err := g.Wait()
	thj._probeTime.Add(int64(time.Since(start)))
	if err != nil || thj.cancelled() {
		return err
	}
	if tj.JoinType().Has(joiner.JT_SMALLOUTER) {
		bw := newBatchWriter(tj.OutputRG(), out, thj._job.MaxRows())
		for _, ptr := range tj.GetUnmarkedRows() {
			tj.JoinUnmatchedSmall(ptr, 0, bw.Next())
			if !bw.Commit() {
				break
			}
		}
		bw.Flush()
		thj.countOut(side, bw.Rows())
	}
	return nil
}

func (thj *TupleHashJoinStep) countOut(side *smallSide, n int64) {
	if side._idx == len(thj._sides)-1 {
		thj._outRows.Add(n)
	}
}

func (thj *TupleHashJoinStep) probeLoop(side *smallSide, threadID int, in *datalist.RowGroupDL, inIt int, out *datalist.RowGroupDL) error {
	tj := side._tj
	bw := newBatchWriter(tj.OutputRG(), out, thj._job.MaxRows())
	defer func() {
		thj.countOut(side, bw.Rows())
	}()
	largeRow := rowgroup.Row{}
	tj.LargeRG().InitRow(&largeRow)
	matches := make([]joiner.Entry, 0)
	for {
		data, ok := in.Next(inIt)
		if !ok {
			break
		}
		if thj.cancelled() {
			continue
		}
		if side._idx == 0 {
			thj._largeRows.Add(int64(data.RowCount()))
		}
		for i := 0; i < data.RowCount(); i++ {
			largeRow.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			if err := tj.Match(&largeRow, threadID, &matches); err != nil {
				return err
			}
			if err := tj.ApplyJoinRules(&largeRow, threadID, &matches); err != nil {
				return err
			}
			for _, ent := range matches {
				tj.JoinRow(&largeRow, ent, threadID, bw.Next())
				if !bw.Commit() {
					return nil
				}
			}
		}
	}
	bw.Flush()
	return nil
}

// diskStage hands side over to a disk join. The batches the joiner
// already holds go first, in arrival order, then the rest of the small
// input.
func (thj *TupleHashJoinStep) diskStage(
	g *errgroup.Group,
	side *smallSide,
	in *datalist.RowGroupDL,
	inIt int,
	out *datalist.RowGroupDL,
) error {
	dj, err := NewDiskJoinStep(thj._job, side._tj.CopyForDiskJoin())
	if err != nil {
		thj.abandon(side, in, inIt, out)
		return err
	}
	dj._parent = &thj.stepBase
	side._disk.Store(dj)
	small := datalist.NewRowGroupDL(thj._job.FifoSize(), 1)
	dj.SetInputAssociation(datalist.NewJobStepAssociation(
		&datalist.AnyDataList{Name: "small", DL: small},
		&datalist.AnyDataList{Name: "large", DL: in},
	))
	dj.SetOutputAssociation(datalist.NewJobStepAssociation(
		&datalist.AnyDataList{Name: "out", DL: out},
	))
	dj.setLargeIterator(inIt)

	thj.goSafe(g, fmt.Sprintf("forward%d", side._idx), func() error {
		defer small.EndOfInput()
		buffered := side._tj.RGDatas()
		side._tj.Release()
		for _, data := range buffered {
			if !small.Insert(data) {
				break
			}
		}
		thj.uncharge(side)
		for {
			data, ok := side._dl.Next(side._it)
			if !ok {
				return nil
			}
			if !small.Insert(data) {
				side._dl.Drain(side._it)
				return nil
			}
		}
	})
	if err = dj.Run(); err != nil {
		small.Cancel()
		thj.abandon(side, in, inIt, out)
		return err
	}
	err = dj.Join()
	if side._idx == len(thj._sides)-1 {
		thj._outRows.Add(dj.RowsOut())
	}
	return err
}

// abandon unblocks the neighbours of a stage that never started.
func (thj *TupleHashJoinStep) abandon(side *smallSide, in *datalist.RowGroupDL, inIt int, out *datalist.RowGroupDL) {
	guard := drainGuard{}
	guard.addInput(side._dl, side._it)
	guard.addInput(in, inIt)
	guard.addOutput(out)
	guard.Close()
}

func (thj *TupleHashJoinStep) release() {
	for _, side := range thj._sides {
		side._tj.Release()
	}
	thj._acct.Close()
}

// RowsOut is the number of joined rows produced.
func (thj *TupleHashJoinStep) RowsOut() int64 {
	return thj._outRows.Load()
}

// DiskJoin returns the disk join of side i, nil when it stayed in memory.
func (thj *TupleHashJoinStep) DiskJoin(i int) *DiskJoinStep {
	return thj._sides[i]._disk.Load()
}

func (thj *TupleHashJoinStep) Stats(tree treeprint.Tree) {
	root := thj.statsRoot(tree)
	root.AddNode(fmt.Sprintf("large rows %d, output rows %d, probe %s",
		thj._largeRows.Load(), thj._outRows.Load(), time.Duration(thj._probeTime.Load())))
	for _, side := range thj._sides {
		branch := root.AddMetaBranch(side.state().String(),
			fmt.Sprintf("small side %d %s", side._idx, side._tj.JoinType()))
		branch.AddNode(fmt.Sprintf("rows %d in %d batches", side._rows.Load(), side._batches.Load()))
		if side._tj.Finished() {
			branch.AddNode(fmt.Sprintf("unique keys %d", side._tj.UniqueCount()))
		}
		if side._tj.Filter() != nil {
			side._tj.Filter().Format(branch.AddBranch("filter"))
		}
		if dj := side._disk.Load(); dj != nil {
			dj.Stats(branch)
		}
	}
}
