package joblist

import (
	"fmt"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// deliverer hands the batches of one queue to the client, one per call.
type deliverer struct {
	_job  *JobInfo
	_rg   *rowgroup.RowGroup
	_dl   *datalist.RowGroupDL
	_it   int
	_done bool
	_rows int64
	_sent int
}

func newDeliverer(job *JobInfo, rg *rowgroup.RowGroup, dl *datalist.RowGroupDL) *deliverer {
	return &deliverer{
		_job: job,
		_rg:  rg,
		_dl:  dl,
		_it:  dl.GetIterator(),
	}
}

// nextBand serializes the next non empty batch into bs and returns its row
// count. At the end it writes an empty batch with the job status and
// returns 0.
func (d *deliverer) nextBand(bs *util.ByteStream) int {
	bs.Restart()
	if !d._done && !d._job.Cancelled() {
		for {
			data, ok := d._dl.Next(d._it)
			if !ok {
				break
			}
			if data.RowCount() == 0 {
				continue
			}
			if err := rowgroup.SerializeRGData(d._rg, data, bs); err != nil {
				d._job.SetError(common.NewJobError(common.ERR_INTERNAL, "serialize band: %v", err))
				break
			}
			d._rows += int64(data.RowCount())
			d._sent++
			return data.RowCount()
		}
	}
	return d.end(bs)
}

func (d *deliverer) end(bs *util.ByteStream) int {
	if !d._done {
		d._done = true
		d._dl.Drain(d._it)
	}
	status := d._job.Status()
	if status == common.ERR_OK && d._job.Cancelled() {
		status = common.ERR_ABORTED
	}
	bs.Restart()
	err := rowgroup.SerializeRGData(d._rg, rowgroup.NewStatusRGData(d._rg, status), bs)
	if err != nil {
		util.Error("serialize status band", zap.Error(err))
	}
	util.Debug("delivery done",
		zap.String("job", d._job.ID()),
		zap.Int64("rows", d._rows),
		zap.Int("bands", d._sent),
		zap.Stringer("status", status))
	return 0
}

// DeliveryStep is the end of a job whose last step has no delivery of its
// own.
type DeliveryStep struct {
	stepBase
	_rg      *rowgroup.RowGroup
	_deliver *deliverer
}

func NewDeliveryStep(job *JobInfo, rg *rowgroup.RowGroup) *DeliveryStep {
	return &DeliveryStep{
		stepBase: newStepBase(job, "delivery"),
		_rg:      rg.Clone(),
	}
}

func (ds *DeliveryStep) Run() error {
	if err := ds.checkAssociations(1, 0); err != nil {
		return err
	}
	ds.started()
	ds._deliver = newDeliverer(ds._job, ds._rg, ds.input(0))
	return nil
}

// NextBand serializes the next batch of the result into bs. A return of 0
// ends the result; the status of the written batch tells success from
// failure.
func (ds *DeliveryStep) NextBand(bs *util.ByteStream) int {
	util.AssertFunc(ds._deliver != nil)
	if ds.Aborted() {
		return ds._deliver.end(bs)
	}
	return ds._deliver.nextBand(bs)
}

func (ds *DeliveryStep) Rows() int64 {
	if ds._deliver == nil {
		return 0
	}
	return ds._deliver._rows
}

func (ds *DeliveryStep) Stats(tree treeprint.Tree) {
	root := ds.statsRoot(tree)
	if ds._deliver != nil {
		root.AddNode(fmt.Sprintf("rows %d, bands %d", ds._deliver._rows, ds._deliver._sent))
	}
}
