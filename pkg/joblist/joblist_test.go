package joblist

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/threadpool"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

const null = math.MinInt64

func newTestJob(t *testing.T, mutate func(cfg *util.Config)) *JobInfo {
	cfg := util.DefaultConfig()
	cfg.RowGroup.MaxRows = 4
	cfg.Join.FifoSize = 4
	cfg.Join.PollInterval = 5 * time.Millisecond
	cfg.Join.TempDir = t.TempDir()
	cfg.Join.PartitionSize = 512
	cfg.Memory.PatienceTimeout = 50 * time.Millisecond
	cfg.Memory.PatienceRetry = time.Millisecond
	cfg.OrderBy.ParallelThreads = 1
	if mutate != nil {
		mutate(cfg)
	}
	rm := resource.NewResourceManager(cfg.Memory, nil)
	pool, err := threadpool.New(cfg.Pool.Size)
	require.NoError(t, err)
	job := NewJobInfo(cfg, rm, pool)
	t.Cleanup(func() {
		job.Close()
		pool.Release()
	})
	return job
}

func intRG(job *JobInfo, cols int) *rowgroup.RowGroup {
	typs := make([]common.LType, cols)
	for i := range typs {
		typs[i] = common.BigintType()
	}
	return job.NewRowGroup(typs)
}

func intRows(vals ...int64) [][]int64 {
	rows := make([][]int64, 0, len(vals))
	for _, v := range vals {
		rows = append(rows, []int64{v})
	}
	return rows
}

// makeBatches cuts rows into batches of at most MaxRows rows.
func makeBatches(rg *rowgroup.RowGroup, rows [][]int64) []*rowgroup.RGData {
	ret := make([]*rowgroup.RGData, 0)
	row := rowgroup.Row{}
	rg.InitRow(&row)
	var data *rowgroup.RGData
	for _, vals := range rows {
		if data == nil || data.Full() {
			data = rowgroup.NewRGData(rg, rg.MaxRows())
			ret = append(ret, data)
		}
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(data.RowCount())})
		for c, v := range vals {
			if v == null {
				row.SetNull(c)
			} else {
				row.SetIntField(c, v)
			}
		}
		data.SetRowCount(data.RowCount() + 1)
	}
	return ret
}

func newDL(job *JobInfo) *datalist.RowGroupDL {
	return datalist.NewRowGroupDL(job.FifoSize(), 1)
}

func assoc(dls ...*datalist.RowGroupDL) *datalist.JobStepAssociation {
	jsa := datalist.NewJobStepAssociation()
	for i, dl := range dls {
		jsa.Add(&datalist.AnyDataList{Name: string(rune('a' + i)), DL: dl})
	}
	return jsa
}

// produce feeds rows into dl from another goroutine.
func produce(dl *datalist.RowGroupDL, rg *rowgroup.RowGroup, rows [][]int64) {
	batches := makeBatches(rg, rows)
	go func() {
		defer dl.EndOfInput()
		for _, data := range batches {
			if !dl.Insert(data) {
				return
			}
		}
	}()
}

// collect renders every row of dl in arrival order.
func collect(rg *rowgroup.RowGroup, dl *datalist.RowGroupDL) []string {
	it := dl.GetIterator()
	row := rowgroup.Row{}
	rg.InitRow(&row)
	ret := make([]string, 0)
	for {
		data, ok := dl.Next(it)
		if !ok {
			return ret
		}
		for i := 0; i < data.RowCount(); i++ {
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
			ret = append(ret, row.ToString())
		}
	}
}

func sorted(rows []string) []string {
	sort.Strings(rows)
	return rows
}

func TestJobInfoFirstErrorWins(t *testing.T) {
	job := newTestJob(t, nil)
	assert.Equal(t, common.ERR_OK, job.Status())
	job.SetError(common.NewJobError(common.ERR_JOIN_TOO_BIG, "first"))
	job.SetError(common.NewJobError(common.ERR_UNION_TOO_BIG, "second"))
	assert.Equal(t, common.ERR_JOIN_TOO_BIG, job.Status())
	assert.True(t, job.Cancelled())
}

func TestBatchWriterCutsBatches(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	out := datalist.NewRowGroupDL(16, 1)
	bw := newBatchWriter(rg, out, 4)
	for i := 0; i < 10; i++ {
		bw.Next().SetIntField(0, int64(i))
		require.True(t, bw.Commit())
	}
	require.True(t, bw.Flush())
	out.EndOfInput()
	assert.Equal(t, 3, out.Size())
	assert.Equal(t, int64(10), bw.Rows())
	assert.Len(t, collect(rg, out), 10)
}

func TestDeliveryNextBand(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	in := newDL(job)
	ds := NewDeliveryStep(job, rg)
	ds.SetInputAssociation(assoc(in))
	jl := NewJobList(job)
	jl.AddStep(ds)
	require.NoError(t, jl.Run())
	produce(in, rg, intRows(1, 2, 3, 4, 5, 6))

	bs := util.NewByteStream()
	total := 0
	bands := 0
	for {
		n := ds.NextBand(bs)
		if n == 0 {
			break
		}
		total += n
		bands++
		bs.Rewind()
		data, err := rowgroup.DeserializeRGData(rg, bs)
		require.NoError(t, err)
		assert.Equal(t, n, data.RowCount())
	}
	assert.Equal(t, 6, total)
	assert.Equal(t, 2, bands)

	bs.Rewind()
	last, err := rowgroup.DeserializeRGData(rg, bs)
	require.NoError(t, err)
	assert.Equal(t, 0, last.RowCount())
	assert.Equal(t, common.ERR_OK, last.Status())
	require.NoError(t, jl.Join())
	assert.Equal(t, int64(6), ds.Rows())
	assert.Contains(t, jl.Stats(), "delivery")
}

func TestDeliveryCarriesErrorStatus(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	in := newDL(job)
	ds := NewDeliveryStep(job, rg)
	ds.SetInputAssociation(assoc(in))
	require.NoError(t, ds.Run())
	job.SetError(common.NewJobError(common.ERR_JOIN_TOO_BIG, "too big"))
	produce(in, rg, intRows(1, 2, 3))

	bs := util.NewByteStream()
	assert.Equal(t, 0, ds.NextBand(bs))
	bs.Rewind()
	data, err := rowgroup.DeserializeRGData(rg, bs)
	require.NoError(t, err)
	assert.Equal(t, 0, data.RowCount())
	assert.Equal(t, common.ERR_JOIN_TOO_BIG, data.Status())
	assert.Equal(t, 0, ds.NextBand(bs))
}

func TestDeliveryAbortedStatus(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	in := newDL(job)
	ds := NewDeliveryStep(job, rg)
	ds.SetInputAssociation(assoc(in))
	require.NoError(t, ds.Run())
	produce(in, rg, intRows(1, 2, 3))
	job.Cancel()

	bs := util.NewByteStream()
	assert.Equal(t, 0, ds.NextBand(bs))
	bs.Rewind()
	data, err := rowgroup.DeserializeRGData(rg, bs)
	require.NoError(t, err)
	assert.Equal(t, common.ERR_ABORTED, data.Status())
}

func TestJobWorkers(t *testing.T) {
	job := newTestJob(t, func(cfg *util.Config) {
		cfg.Pool.Size = 3
	})
	assert.Equal(t, 3, job.Workers(8))
	assert.Equal(t, 2, job.Workers(2))
	assert.Equal(t, 1, job.Workers(0))

	release := make(chan struct{})
	tasks := []*threadpool.Task{}
	for i := 0; i < 3; i++ {
		tasks = append(tasks, job.Pool.Invoke("busy", func() error {
			<-release
			return nil
		}))
	}
	require.Eventually(t, func() bool {
		return job.Pool.Headroom() == 0
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, job.Workers(8))
	close(release)
	require.NoError(t, threadpool.Join(tasks...))
}

func TestCheckAssociations(t *testing.T) {
	job := newTestJob(t, nil)
	ds := NewDeliveryStep(job, intRG(job, 1))
	assert.Error(t, ds.Run())
}
