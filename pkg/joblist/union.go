package joblist

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// TupleUnionStep concatenates its inputs into one schema. Column types are
// widened to fit every input.
type TupleUnionStep struct {
	stepBase
	_inRGs    []*rowgroup.RowGroup
	_outRG    *rowgroup.RowGroup
	_distinct bool

	_setMu     sync.Mutex
	_set       *rowSet
	_remaining atomic.Int32
	_guard     drainGuard

	_rowsIn  atomic.Int64
	_rowsOut atomic.Int64
	_dups    atomic.Int64
}

func NewTupleUnionStep(job *JobInfo, inRGs []*rowgroup.RowGroup, distinct bool) (*TupleUnionStep, error) {
	if len(inRGs) == 0 {
		return nil, errors.AssertionFailedf("union without inputs")
	}
	width := inRGs[0].ColumnCount()
	typs := util.CopyTo(inRGs[0].Types())
	for i, rg := range inRGs[1:] {
		if rg.ColumnCount() != width {
			return nil, errors.AssertionFailedf("union input %d has %d columns, want %d",
				i+1, rg.ColumnCount(), width)
		}
		for col := range typs {
			typ, err := common.NormalizeTypes(typs[col], rg.ColType(col))
			if err != nil {
				return nil, errors.Wrapf(err, "union column %d", col)
			}
			typs[col] = typ
		}
	}
	us := &TupleUnionStep{
		stepBase:  newStepBase(job, "union"),
		_distinct: distinct,
		_outRG:    rowgroup.NewRowGroupFromTypes(typs, job.MaxRows(), inRGs[0].UseStringTable()),
	}
	for _, rg := range inRGs {
		us._inRGs = append(us._inRGs, rg.Clone())
	}
	return us, nil
}

func (us *TupleUnionStep) OutputRG() *rowgroup.RowGroup {
	return us._outRG
}

func (us *TupleUnionStep) RowsOut() int64 {
	return us._rowsOut.Load()
}

func (us *TupleUnionStep) Run() error {
	if err := us.checkAssociations(len(us._inRGs), 1); err != nil {
		return err
	}
	us.started()
	if us._distinct {
		us._set = newRowSet(us._outRG, us._job.MM, common.ERR_UNION_TOO_BIG)
	}
	us._guard.addOutput(us.output(0))
	its := make([]int, len(us._inRGs))
	for i := range us._inRGs {
		its[i] = us.input(i).GetIterator()
		us._guard.addInput(us.input(i), its[i])
	}
	us._remaining.Store(int32(len(us._inRGs)))
	for i := range us._inRGs {
		in, it := us.input(i), its[i]
		us.invoke(fmt.Sprintf("input%d", i), func() error {
			return us.readInput(i, in, it)
		}, func() {
			in.Drain(it)
			if us._remaining.Add(-1) != 0 {
				return
			}
			us._guard.Close()
			if us._set != nil {
				us._set.Release()
			}
			util.Debug("union done",
				zap.String("step", us.String()),
				zap.Int64("rowsIn", us._rowsIn.Load()),
				zap.Int64("rowsOut", us._rowsOut.Load()))
		})
	}
	return nil
}

func (us *TupleUnionStep) readInput(idx int, in *datalist.RowGroupDL, it int) error {
	rg := us._inRGs[idx]
	bw := newBatchWriter(us._outRG, us.output(0), us._job.MaxRows())
	src := rowgroup.Row{}
	rg.InitRow(&src)
	for {
		data, ok := in.Next(it)
		if !ok {
			break
		}
		us._rowsIn.Add(int64(data.RowCount()))
		if us.cancelled() {
			continue
		}
		for i := 0; i < data.RowCount(); i++ {
			src.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			dst := bw.Next()
			for col := 0; col < rg.ColumnCount(); col++ {
				if err := rowgroup.ConvertField(&src, col, dst, col); err != nil {
					return err
				}
			}
			if us._set != nil {
				fresh, err := us.insertDistinct(dst)
				if err != nil {
					return err
				}
				if !fresh {
					us._dups.Add(1)
					continue
				}
			}
			us._rowsOut.Add(1)
			if !bw.Commit() {
				return nil
			}
		}
	}
	bw.Flush()
	return nil
}

func (us *TupleUnionStep) insertDistinct(row *rowgroup.Row) (bool, error) {
	us._setMu.Lock()
	defer us._setMu.Unlock()
	return us._set.Insert(row)
}

func (us *TupleUnionStep) Stats(tree treeprint.Tree) {
	root := us.statsRoot(tree)
	root.AddNode(fmt.Sprintf("inputs %d, distinct %v", len(us._inRGs), us._distinct))
	root.AddNode(fmt.Sprintf("rows in %d, out %d, duplicates %d",
		us._rowsIn.Load(), us._rowsOut.Load(), us._dups.Load()))
}
