package joblist

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/expr"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/orderby"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

var shuffled = intRows(7, 3, 10, 1, 9, 2, 8, 5, 4, 6)

var asc = orderby.OrderByKeys{{Col: 0, Asc: true}}

func runAnnex(t *testing.T, job *JobInfo, opts AnnexOptions, rows [][]int64) (*TupleAnnexStep, []string, error) {
	rg := intRG(job, 1)
	ta, err := NewTupleAnnexStep(job, rg, opts)
	require.NoError(t, err)
	in, out := newDL(job), newDL(job)
	ta.SetInputAssociation(assoc(in))
	ta.SetOutputAssociation(assoc(out))
	require.NoError(t, ta.Run())
	produce(in, rg, rows)
	got := collect(ta.OutputRG(), out)
	err = ta.Join()
	return ta, got, err
}

func strs(vals ...int) []string {
	ret := make([]string, 0, len(vals))
	for _, v := range vals {
		ret = append(ret, fmt.Sprint(v))
	}
	return ret
}

func TestAnnexLimitOffset(t *testing.T) {
	tests := []struct {
		name   string
		limit  int64
		offset int64
		expect []string
	}{
		{"top3", 3, 0, strs(1, 2, 3)},
		{"zero", 0, 0, strs()},
		{"past end", 5, 10, strs()},
		{"exact span", 4, 6, strs(7, 8, 9, 10)},
		{"short tail", 5, 8, strs(9, 10)},
		{"offset only", NoLimit, 8, strs(9, 10)},
		{"all", NoLimit, 0, strs(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)},
	}
	configs := map[string]func(cfg *util.Config){
		"limited": nil,
		"flat": func(cfg *util.Config) {
			cfg.OrderBy.ReserveSize = 1
		},
		"parallel": func(cfg *util.Config) {
			cfg.OrderBy.ParallelThreads = 3
			cfg.OrderBy.ParallelMinRows = 1
		},
	}
	for cname, mutate := range configs {
		for _, tt := range tests {
			t.Run(cname+"/"+tt.name, func(t *testing.T) {
				job := newTestJob(t, mutate)
				opts := AnnexOptions{OrderBy: asc, Limit: tt.limit, Offset: tt.offset}
				_, got, err := runAnnex(t, job, opts, shuffled)
				require.NoError(t, err)
				assert.Equal(t, tt.expect, got)
				assert.Equal(t, int64(0), job.MM.Acquired())
			})
		}
	}
}

func TestAnnexPath(t *testing.T) {
	job := newTestJob(t, func(cfg *util.Config) {
		cfg.OrderBy.ParallelThreads = 4
		cfg.OrderBy.ParallelMinRows = 100
		cfg.OrderBy.ReserveSize = 1000
	})
	rg := intRG(job, 1)
	tests := []struct {
		opts   AnnexOptions
		expect annexPath
	}{
		{AnnexOptions{Limit: NoLimit}, AP_COPY},
		{AnnexOptions{Limit: NoLimit, Distinct: true}, AP_DISTINCT},
		{AnnexOptions{OrderBy: asc, Limit: NoLimit}, AP_FLAT_ORDERBY},
		{AnnexOptions{OrderBy: asc, Limit: 10}, AP_LIMITED_ORDERBY},
		{AnnexOptions{OrderBy: asc, Limit: 100}, AP_PARALLEL_ORDERBY},
		{AnnexOptions{OrderBy: asc, Limit: 500, Offset: 501}, AP_FLAT_ORDERBY},
	}
	for _, tt := range tests {
		ta, err := NewTupleAnnexStep(job, rg, tt.opts)
		require.NoError(t, err)
		assert.Equal(t, tt.expect, ta._path, tt.opts)
		assert.Equal(t, ANNEX_INITIALIZED, ta.State())
	}
}

func TestAnnexNullsAndDirection(t *testing.T) {
	rows := intRows(2, null, 1, 3, null)
	tests := []struct {
		key    orderby.SortKey
		expect []string
	}{
		{orderby.SortKey{Col: 0, Asc: true}, []string{"1", "2", "3", "NULL", "NULL"}},
		{orderby.SortKey{Col: 0, Asc: true, NullsFirst: true}, []string{"NULL", "NULL", "1", "2", "3"}},
		{orderby.SortKey{Col: 0, Asc: false}, []string{"3", "2", "1", "NULL", "NULL"}},
	}
	for _, tt := range tests {
		for _, limit := range []int64{NoLimit, 5} {
			job := newTestJob(t, nil)
			opts := AnnexOptions{OrderBy: orderby.OrderByKeys{tt.key}, Limit: limit}
			_, got, err := runAnnex(t, job, opts, rows)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got, tt.key.String())
		}
	}
}

func TestAnnexDistinct(t *testing.T) {
	rows := intRows(3, 1, 3, 2, 1, 2, 3)

	job := newTestJob(t, nil)
	_, got, err := runAnnex(t, job, AnnexOptions{Distinct: true, Limit: NoLimit}, rows)
	require.NoError(t, err)
	assert.Equal(t, strs(3, 1, 2), got)

	for _, threads := range []int{1, 3} {
		job = newTestJob(t, func(cfg *util.Config) {
			cfg.OrderBy.ParallelThreads = threads
		})
		_, got, err = runAnnex(t, job, AnnexOptions{OrderBy: asc, Distinct: true, Limit: 2}, rows)
		require.NoError(t, err)
		assert.Equal(t, strs(1, 2), got)
		assert.Equal(t, int64(0), job.MM.Acquired())
	}
}

func TestAnnexParallelMatchesSingle(t *testing.T) {
	rows := make([][]int64, 0)
	for i := int64(0); i < 200; i++ {
		rows = append(rows, []int64{(i * 37) % 101, i})
	}
	keys := orderby.OrderByKeys{{Col: 0, Asc: false}, {Col: 1, Asc: true}}
	results := make([][]string, 0)
	for _, threads := range []int{1, 4} {
		job := newTestJob(t, func(cfg *util.Config) {
			cfg.OrderBy.ParallelThreads = threads
		})
		rg := intRG(job, 2)
		ta, err := NewTupleAnnexStep(job, rg, AnnexOptions{OrderBy: keys, Limit: 15, Offset: 5})
		require.NoError(t, err)
		in, out := newDL(job), newDL(job)
		ta.SetInputAssociation(assoc(in))
		ta.SetOutputAssociation(assoc(out))
		require.NoError(t, ta.Run())
		produce(in, rg, rows)
		got := collect(ta.OutputRG(), out)
		require.NoError(t, ta.Join())
		assert.Len(t, got, 15)
		results = append(results, got)
	}
	assert.Equal(t, results[0], results[1])
}

func TestAnnexParallelSmallPool(t *testing.T) {
	rows := make([][]int64, 0)
	for i := int64(199); i >= 0; i-- {
		rows = append(rows, []int64{i})
	}
	tests := []struct {
		poolSize int
		expect   annexPath
		threads  int
	}{
		{2, AP_LIMITED_ORDERBY, 1},
		{3, AP_PARALLEL_ORDERBY, 2},
		{4, AP_PARALLEL_ORDERBY, 3},
		{8, AP_PARALLEL_ORDERBY, 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("pool=%d", tt.poolSize), func(t *testing.T) {
			job := newTestJob(t, func(cfg *util.Config) {
				cfg.Pool.Size = tt.poolSize
				cfg.OrderBy.ParallelThreads = 4
				cfg.OrderBy.ParallelMinRows = 1
			})
			rg := intRG(job, 1)
			ta, err := NewTupleAnnexStep(job, rg, AnnexOptions{OrderBy: asc, Limit: 5})
			require.NoError(t, err)
			require.Equal(t, AP_PARALLEL_ORDERBY, ta._path)
			in, out := newDL(job), newDL(job)
			ta.SetInputAssociation(assoc(in))
			ta.SetOutputAssociation(assoc(out))

			type result struct {
				got []string
				err error
			}
			done := make(chan result, 1)
			go func() {
				if err := ta.Run(); err != nil {
					done <- result{err: err}
					return
				}
				produce(in, rg, rows)
				got := collect(ta.OutputRG(), out)
				done <- result{got: got, err: ta.Join()}
			}()
			select {
			case res := <-done:
				require.NoError(t, res.err)
				assert.Equal(t, strs(0, 1, 2, 3, 4), res.got)
			case <-time.After(10 * time.Second):
				t.Fatalf("annex with a pool of %d did not finish", tt.poolSize)
			}
			assert.Equal(t, tt.expect, ta._path)
			assert.Equal(t, tt.threads, ta._threads)
		})
	}
}

func TestAnnexConstants(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	ta, err := NewTupleAnnexStep(job, rg, AnnexOptions{
		OrderBy: asc,
		Limit:   2,
		Constants: []ConstantColumn{
			{Pos: 2, Value: expr.StringConst("x")},
			{Pos: 0, Value: expr.IntConst(7)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, ta.OutputRG().ColumnCount())
	assert.Equal(t, common.LTID_BIGINT, ta.OutputRG().ColType(1).Id)

	in, out := newDL(job), newDL(job)
	ta.SetInputAssociation(assoc(in))
	ta.SetOutputAssociation(assoc(out))
	require.NoError(t, ta.Run())
	produce(in, rg, shuffled)
	got := collect(ta.OutputRG(), out)
	require.NoError(t, ta.Join())
	assert.Equal(t, []string{"7\t1\tx", "7\t2\tx"}, got)
}

func TestAnnexBadConstant(t *testing.T) {
	job := newTestJob(t, nil)
	_, err := NewTupleAnnexStep(job, intRG(job, 1), AnnexOptions{
		Limit:     NoLimit,
		Constants: []ConstantColumn{{Pos: 5, Value: expr.IntConst(1)}},
	})
	assert.Error(t, err)
	_, err = NewTupleAnnexStep(job, intRG(job, 1), AnnexOptions{
		Limit:     NoLimit,
		Constants: []ConstantColumn{{Pos: 0, Value: expr.ColumnRef(0)}},
	})
	assert.Error(t, err)
}

func TestAnnexLimitAbortsUpstream(t *testing.T) {
	job := newTestJob(t, nil)
	rg := intRG(job, 1)
	us, err := NewTupleUnionStep(job, []*rowgroup.RowGroup{rg}, false)
	require.NoError(t, err)
	ta, err := NewTupleAnnexStep(job, us.OutputRG(), AnnexOptions{Limit: 3})
	require.NoError(t, err)

	in, mid, out := newDL(job), newDL(job), newDL(job)
	us.SetInputAssociation(assoc(in))
	us.SetOutputAssociation(assoc(mid))
	ta.SetInputAssociation(assoc(mid))
	ta.SetOutputAssociation(assoc(out))
	jl := NewJobList(job)
	jl.AddStep(us)
	jl.AddStep(ta)
	require.NoError(t, jl.Run())

	rows := make([][]int64, 0)
	for i := int64(0); i < 100; i++ {
		rows = append(rows, []int64{i})
	}
	produce(in, rg, rows)
	got := collect(ta.OutputRG(), out)
	require.NoError(t, jl.Join())
	assert.Equal(t, strs(0, 1, 2), got)
	assert.True(t, ta.LimitReached())
	assert.True(t, us.Aborted())
	assert.Equal(t, ANNEX_DONE, ta.State())
	assert.Contains(t, jl.Stats(), "reached true")
}

func TestAnnexFeedFault(t *testing.T) {
	util.Open(util.FAULTS_SCOPE_JOB)
	defer util.Close(util.FAULTS_SCOPE_JOB)
	util.Register(util.FAULTS_SCOPE_JOB, "annex.feed", nil, func([]string) error {
		return errors.New("feed fault")
	})
	for _, threads := range []int{1, 3} {
		job := newTestJob(t, func(cfg *util.Config) {
			cfg.OrderBy.ParallelThreads = threads
		})
		_, got, err := runAnnex(t, job, AnnexOptions{OrderBy: asc, Limit: 3}, shuffled)
		require.Error(t, err)
		assert.Empty(t, got)
		assert.True(t, job.Cancelled())
		assert.Equal(t, int64(0), job.MM.Acquired())
	}
}

func TestAnnexTopHundred(t *testing.T) {
	rows := make([][]int64, 0, 20000)
	for i := int64(0); i < 20000; i++ {
		rows = append(rows, []int64{(i * 7919) % 20000})
	}
	expect := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		expect = append(expect, fmt.Sprint(i))
	}
	for _, threads := range []int{1, 4} {
		job := newTestJob(t, func(cfg *util.Config) {
			cfg.RowGroup.MaxRows = 1024
			cfg.OrderBy.ParallelThreads = threads
		})
		_, got, err := runAnnex(t, job, AnnexOptions{OrderBy: asc, Limit: 100}, rows)
		require.NoError(t, err)
		assert.Equal(t, expect, got)
	}
}
