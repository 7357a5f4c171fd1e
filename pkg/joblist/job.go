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
	"github.com/google/uuid"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/threadpool"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// JobInfo is the execution context shared by the steps of one query.
type JobInfo struct {
	Cfg  *util.Config
	RM   *resource.ResourceManager
	MM   *resource.MemManager
	Pool *threadpool.Pool

	_id        string
	_cancelled atomic.Bool
	_mu        sync.Mutex
	_err       error
	_nextStep  atomic.Uint32
}

func NewJobInfo(cfg *util.Config, rm *resource.ResourceManager, pool *threadpool.Pool) *JobInfo {
	id := uuid.NewString()
	return &JobInfo{
		Cfg:  cfg,
		RM:   rm,
		MM:   resource.NewMemManager("job-"+id, rm, cfg.Memory.SessionLimit),
		Pool: pool,
		_id:  id,
	}
}

func (job *JobInfo) ID() string {
	return job._id
}

// Cancel stops every step at its next batch boundary.
func (job *JobInfo) Cancel() {
	job._cancelled.Store(true)
}

func (job *JobInfo) Cancelled() bool {
	return job._cancelled.Load()
}

// SetError records err as the job status when it is the first one and
// cancels the job.
func (job *JobInfo) SetError(err error) {
	if err == nil {
		return
	}
	job._mu.Lock()
	first := job._err == nil
	if first {
		job._err = err
	}
	job._mu.Unlock()
	if first {
		util.Error("job failed",
			zap.String("job", job._id),
			zap.Stringer("code", common.CodeOf(err)),
			zap.Error(err))
	}
	job.Cancel()
}

func (job *JobInfo) Err() error {
	job._mu.Lock()
	defer job._mu.Unlock()
	return job._err
}

func (job *JobInfo) Status() common.ErrCode {
	return common.CodeOf(job.Err())
}

func (job *JobInfo) MaxRows() int {
	if job.Cfg.RowGroup.MaxRows <= 0 {
		return util.DefaultRowGroupSize
	}
	return job.Cfg.RowGroup.MaxRows
}

func (job *JobInfo) FifoSize() int {
	return max(job.Cfg.Join.FifoSize, 1)
}

// Workers caps want by the idle workers of the pool. It is at least 1.
func (job *JobInfo) Workers(want int) int {
	return max(min(want, job.Pool.Headroom()), 1)
}

// NewRowGroup builds a batch schema with the job settings.
func (job *JobInfo) NewRowGroup(typs []common.LType) *rowgroup.RowGroup {
	return rowgroup.NewRowGroupFromTypes(typs, job.MaxRows(), job.Cfg.RowGroup.UseStringTable)
}

// Close returns whatever the steps still hold.
func (job *JobInfo) Close() {
	if left := job.MM.Acquired(); left != 0 {
		util.Warn("job memory left at close",
			zap.String("job", job._id),
			util.Bytes("bytes", left))
	}
	job.MM.ReleaseAll()
}

// JobStep is one stage of the pipeline. The planner sets the associations
// before Run. Run dispatches the work onto the pool and Join waits for it.
type JobStep interface {
	StepID() uint32
	Name() string
	InputAssociation() *datalist.JobStepAssociation
	SetInputAssociation(in *datalist.JobStepAssociation)
	OutputAssociation() *datalist.JobStepAssociation
	SetOutputAssociation(out *datalist.JobStepAssociation)
	Run() error
	Join() error
	// Abort stops the step producing. It still drains its inputs and
	// closes its outputs.
	Abort()
	Aborted() bool
	Status() common.ErrCode
	Stats(tree treeprint.Tree)
}

type stepBase struct {
	_id   uint32
	_name string
	_job  *JobInfo
	_in   *datalist.JobStepAssociation
	_out  *datalist.JobStepAssociation

	_aborted atomic.Bool
	// _parent runs this step as one of its stages and shares its abort.
	_parent  *stepBase
	_mu      sync.Mutex
	_err     error
	_tasks   []*threadpool.Task
	_start   time.Time
	_end     time.Time
}

func newStepBase(job *JobInfo, name string) stepBase {
	return stepBase{
		_id:   job._nextStep.Add(1),
		_name: name,
		_job:  job,
	}
}

func (sb *stepBase) StepID() uint32 {
	return sb._id
}

func (sb *stepBase) Name() string {
	return sb._name
}

func (sb *stepBase) InputAssociation() *datalist.JobStepAssociation {
	return sb._in
}

func (sb *stepBase) SetInputAssociation(in *datalist.JobStepAssociation) {
	sb._in = in
}

func (sb *stepBase) OutputAssociation() *datalist.JobStepAssociation {
	return sb._out
}

func (sb *stepBase) SetOutputAssociation(out *datalist.JobStepAssociation) {
	sb._out = out
}

func (sb *stepBase) Abort() {
	if !sb._aborted.Swap(true) {
		util.Info("step aborted", zap.String("step", sb.String()))
	}
}

func (sb *stepBase) Aborted() bool {
	return sb._aborted.Load() || (sb._parent != nil && sb._parent.Aborted())
}

func (sb *stepBase) Status() common.ErrCode {
	sb._mu.Lock()
	defer sb._mu.Unlock()
	return common.CodeOf(sb._err)
}

func (sb *stepBase) String() string {
	return fmt.Sprintf("%s#%d", sb._name, sb._id)
}

// cancelled is checked at every batch boundary.
func (sb *stepBase) cancelled() bool {
	return sb._job.Cancelled() || sb.Aborted()
}

// fail records err on the step and the job.
func (sb *stepBase) fail(err error) {
	if err == nil {
		return
	}
	sb._mu.Lock()
	if sb._err == nil {
		sb._err = err
	}
	sb._mu.Unlock()
	sb._job.SetError(err)
}

// invoke runs fn on the pool. Errors and panics stop at this boundary and
// become the job status. cleanup runs on every exit path, also when the
// pool refuses the task.
func (sb *stepBase) invoke(name string, fn func() error, cleanup func()) {
	full := fmt.Sprintf("%s-%s", sb.String(), name)
	task := sb._job.Pool.Invoke(full, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewAssertionErrorWithWrappedErrf(
					util.ConvertPanicError(r), "task %s panicked", full)
			}
			sb.fail(err)
			if cleanup != nil {
				cleanup()
			}
		}()
		util.Debug("task start", zap.String("task", full), util.GoID())
		return fn()
	})
	if !task.Submitted() {
		sb.fail(task.Wait())
		if cleanup != nil {
			cleanup()
		}
	}
	sb._mu.Lock()
	sb._tasks = append(sb._tasks, task)
	sb._mu.Unlock()
}

// goSafe starts fn in g. A panic becomes the returned error and every
// error is recorded at once so sibling workers see the cancellation.
func (sb *stepBase) goSafe(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.NewAssertionErrorWithWrappedErrf(
					util.ConvertPanicError(r), "%s worker %s panicked", sb.String(), name)
			}
			sb.fail(err)
		}()
		return fn()
	})
}

// Join waits for every task of the step.
func (sb *stepBase) Join() error {
	sb._mu.Lock()
	tasks := sb._tasks
	sb._tasks = nil
	sb._mu.Unlock()
	if err := threadpool.Join(tasks...); err != nil {
		sb.fail(err)
	}
	sb._mu.Lock()
	defer sb._mu.Unlock()
	if sb._end.IsZero() {
		sb._end = time.Now()
	}
	return sb._err
}

func (sb *stepBase) started() {
	sb._start = time.Now()
}

func (sb *stepBase) statsRoot(tree treeprint.Tree) treeprint.Tree {
	sb._mu.Lock()
	defer sb._mu.Unlock()
	elapsed := time.Duration(0)
	if !sb._start.IsZero() {
		end := sb._end
		if end.IsZero() {
			end = time.Now()
		}
		elapsed = end.Sub(sb._start)
	}
	return tree.AddMetaBranch(sb.String(), fmt.Sprintf("%s %s", common.CodeOf(sb._err), elapsed))
}

// input returns the queue of input i.
func (sb *stepBase) input(i int) *datalist.RowGroupDL {
	return sb._in.At(i).DL
}

func (sb *stepBase) output(i int) *datalist.RowGroupDL {
	return sb._out.At(i).DL
}

func (sb *stepBase) checkAssociations(inputs, outputs int) error {
	if sb._in.OutSize() != inputs {
		return errors.AssertionFailedf("%s expects %d inputs, got %d", sb.String(), inputs, sb._in.OutSize())
	}
	if sb._out.OutSize() != outputs {
		return errors.AssertionFailedf("%s expects %d outputs, got %d", sb.String(), outputs, sb._out.OutSize())
	}
	return nil
}

type drainInput struct {
	dl *datalist.RowGroupDL
	it int
}

// drainGuard unblocks the neighbours of a step on every exit path: it
// consumes what is left of the inputs and closes the outputs, once.
type drainGuard struct {
	_once    sync.Once
	_inputs  []drainInput
	_outputs []*datalist.RowGroupDL
}

func (g *drainGuard) addInput(dl *datalist.RowGroupDL, it int) {
	g._inputs = append(g._inputs, drainInput{dl: dl, it: it})
}

func (g *drainGuard) addOutput(dl *datalist.RowGroupDL) {
	g._outputs = append(g._outputs, dl)
}

func (g *drainGuard) Close() {
	g._once.Do(func() {
		for _, in := range g._inputs {
			in.dl.Drain(in.it)
		}
		for _, out := range g._outputs {
			out.EndOfInput()
		}
	})
}

// sharedAccount is an Account several workers grow and shrink.
type sharedAccount struct {
	_mu   sync.Mutex
	_acct *resource.Account
}

func newSharedAccount(mm *resource.MemManager) *sharedAccount {
	return &sharedAccount{_acct: resource.NewAccount(mm)}
}

func (sa *sharedAccount) Grow(n int64, patience bool) bool {
	if n <= 0 {
		return true
	}
	sa._mu.Lock()
	defer sa._mu.Unlock()
	return sa._acct.Grow(n, patience)
}

func (sa *sharedAccount) Shrink(n int64) {
	if n <= 0 {
		return
	}
	sa._mu.Lock()
	defer sa._mu.Unlock()
	sa._acct.Shrink(min(n, sa._acct.Used()))
}

func (sa *sharedAccount) Used() int64 {
	sa._mu.Lock()
	defer sa._mu.Unlock()
	return sa._acct.Used()
}

func (sa *sharedAccount) Close() {
	sa._mu.Lock()
	defer sa._mu.Unlock()
	sa._acct.Close()
}

// batchWriter fills output batches of one schema and pushes the full ones
// into a queue.
type batchWriter struct {
	_rg      *rowgroup.RowGroup
	_out     *datalist.RowGroupDL
	_maxRows int
	_data    *rowgroup.RGData
	_row     rowgroup.Row
	_rows    int64
	_closed  bool
}

func newBatchWriter(rg *rowgroup.RowGroup, out *datalist.RowGroupDL, maxRows int) *batchWriter {
	bw := &batchWriter{
		_rg:      rg.Clone(),
		_out:     out,
		_maxRows: max(maxRows, 1),
	}
	bw._rg.InitRow(&bw._row)
	return bw
}

// Next returns the row to fill. Commit makes it part of the batch.
func (bw *batchWriter) Next() *rowgroup.Row {
	if bw._data == nil {
		bw._data = rowgroup.NewRGData(bw._rg, bw._maxRows)
	}
	bw._row.Point(rowgroup.RowPtr{Data: bw._data, Idx: int32(bw._data.RowCount())})
	return &bw._row
}

// Commit returns false once the queue was cancelled.
func (bw *batchWriter) Commit() bool {
	bw._data.SetRowCount(bw._data.RowCount() + 1)
	bw._rows++
	if bw._data.Full() {
		return bw.Flush()
	}
	return true
}

// Flush pushes the partial batch.
func (bw *batchWriter) Flush() bool {
	if bw._closed {
		return false
	}
	data := bw._data
	bw._data = nil
	if data == nil || data.RowCount() == 0 {
		return true
	}
	if !bw._out.Insert(data) {
		bw._closed = true
		return false
	}
	return true
}

func (bw *batchWriter) Rows() int64 {
	return bw._rows
}

// JobList owns the steps of one query in dataflow order.
type JobList struct {
	_job   *JobInfo
	_steps []JobStep
}

type upstreamAware interface {
	SetUpstream(steps []JobStep)
}

func NewJobList(job *JobInfo) *JobList {
	return &JobList{_job: job}
}

// AddStep appends step. Steps that abort on limit learn the steps added
// before them.
func (jl *JobList) AddStep(step JobStep) {
	if ua, ok := step.(upstreamAware); ok {
		ua.SetUpstream(util.CopyTo(jl._steps))
	}
	jl._steps = append(jl._steps, step)
}

func (jl *JobList) Steps() []JobStep {
	return jl._steps
}

func (jl *JobList) Run() error {
	for _, step := range jl._steps {
		if err := step.Run(); err != nil {
			jl._job.SetError(err)
			return err
		}
	}
	return nil
}

// Join waits for every step and returns the job error.
func (jl *JobList) Join() error {
	for _, step := range jl._steps {
		_ = step.Join()
	}
	return jl._job.Err()
}

func (jl *JobList) Abort() {
	jl._job.Cancel()
	for _, step := range jl._steps {
		step.Abort()
	}
}

// Stats renders the step trees.
func (jl *JobList) Stats() string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("job %s %s", jl._job.ID(), jl._job.Status()))
	for _, step := range jl._steps {
		step.Stats(tree)
	}
	return tree.String()
}
