package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/datalist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/joblist"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/joiner"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/orderby"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/resource"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/threadpool"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

//join cmd

var joinInfo = "hash join two generated tables"
var joinCmd = &cobra.Command{
	Use:   "join",
	Short: joinInfo,
	Long:  joinInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initJoinCfg(); err != nil {
			return err
		}
		return runJoin()
	},
}

var joinTypes = map[string]joiner.JoinType{
	"inner": joiner.JT_INNER,
	"left":  joiner.JT_LARGEOUTER,
	"right": joiner.JT_SMALLOUTER,
	"semi":  joiner.JT_SEMI,
	"anti":  joiner.JT_ANTI,
}

func initJoinCmd() {
	RootCmd.AddCommand(joinCmd)
	joinCmd.Flags().Int("small_rows", 10000, "rows of the small side")
	joinCmd.Flags().Int("large_rows", 100000, "rows of the large side")
	joinCmd.Flags().Int("key_range", 20000, "join keys are drawn from [0, key_range)")
	joinCmd.Flags().String("join_type", "inner", "inner, left, right, semi or anti")
	joinCmd.Flags().Int64("um_mem_limit", testerCfg.Join.UMMemLimit, "small side bytes before the join goes to disk")
	joinCmd.Flags().Bool("allow_disk_join", testerCfg.Join.AllowDiskJoin, "spill to disk instead of failing")
	joinCmd.Flags().String("temp_dir", testerCfg.Join.TempDir, "directory of the partition files")
	joinCmd.Flags().Int("max_threads", testerCfg.Join.MaxThreads, "threads of one join")

	viper.BindPFlag("workload.join.smallRows", joinCmd.Flags().Lookup("small_rows"))
	viper.BindPFlag("workload.join.largeRows", joinCmd.Flags().Lookup("large_rows"))
	viper.BindPFlag("workload.join.keyRange", joinCmd.Flags().Lookup("key_range"))
	viper.BindPFlag("workload.join.joinType", joinCmd.Flags().Lookup("join_type"))
	viper.BindPFlag("join.umMemLimit", joinCmd.Flags().Lookup("um_mem_limit"))
	viper.BindPFlag("join.allowDiskJoin", joinCmd.Flags().Lookup("allow_disk_join"))
	viper.BindPFlag("join.tempDir", joinCmd.Flags().Lookup("temp_dir"))
	viper.BindPFlag("join.maxThreads", joinCmd.Flags().Lookup("max_threads"))
}

func initJoinCfg() error {
	if err := initDebugOptions(); err != nil {
		return err
	}
	testerCfg.Join.UMMemLimit = viper.GetInt64("join.umMemLimit")
	testerCfg.Join.AllowDiskJoin = viper.GetBool("join.allowDiskJoin")
	testerCfg.Join.TempDir = viper.GetString("join.tempDir")
	testerCfg.Join.MaxThreads = viper.GetInt("join.maxThreads")
	return nil
}

//orderby cmd

var orderByInfo = "sort a generated table with limit and offset"
var orderByCmd = &cobra.Command{
	Use:   "orderby",
	Short: orderByInfo,
	Long:  orderByInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initOrderByCfg(); err != nil {
			return err
		}
		return runOrderBy()
	},
}

func initOrderByCmd() {
	RootCmd.AddCommand(orderByCmd)
	orderByCmd.Flags().Int("rows", 100000, "rows to sort")
	orderByCmd.Flags().Int("key_range", 1000, "sort keys are drawn from [0, key_range)")
	orderByCmd.Flags().Int64("limit", 10, "rows to return, -1 for all")
	orderByCmd.Flags().Int64("offset", 0, "rows to skip")
	orderByCmd.Flags().Bool("distinct", false, "drop duplicate rows")
	orderByCmd.Flags().Bool("desc", false, "descending order")
	orderByCmd.Flags().Int("parallel_threads", testerCfg.OrderBy.ParallelThreads, "threads of the parallel order by")

	viper.BindPFlag("workload.orderby.rows", orderByCmd.Flags().Lookup("rows"))
	viper.BindPFlag("workload.orderby.keyRange", orderByCmd.Flags().Lookup("key_range"))
	viper.BindPFlag("workload.orderby.limit", orderByCmd.Flags().Lookup("limit"))
	viper.BindPFlag("workload.orderby.offset", orderByCmd.Flags().Lookup("offset"))
	viper.BindPFlag("workload.orderby.distinct", orderByCmd.Flags().Lookup("distinct"))
	viper.BindPFlag("workload.orderby.desc", orderByCmd.Flags().Lookup("desc"))
	viper.BindPFlag("orderby.parallelThreads", orderByCmd.Flags().Lookup("parallel_threads"))
}

func initOrderByCfg() error {
	if err := initDebugOptions(); err != nil {
		return err
	}
	testerCfg.OrderBy.ParallelThreads = viper.GetInt("orderby.parallelThreads")
	return nil
}

// session holds what one workload shares between its steps.
type session struct {
	rm   *resource.ResourceManager
	pool *threadpool.Pool
	job  *joblist.JobInfo
}

func newSession() (*session, error) {
	rm := resource.NewResourceManager(testerCfg.Memory, prometheus.DefaultRegisterer)
	pool, err := threadpool.New(testerCfg.Pool.Size)
	if err != nil {
		return nil, err
	}
	return &session{
		rm:   rm,
		pool: pool,
		job:  joblist.NewJobInfo(testerCfg, rm, pool),
	}, nil
}

func (s *session) Close() {
	s.job.Close()
	s.pool.Release()
}

func (s *session) newDL() *datalist.RowGroupDL {
	return datalist.NewRowGroupDL(s.job.FifoSize(), 1)
}

// generate feeds n rows into dl from its own goroutine. fill sets row i.
func (s *session) generate(rg *rowgroup.RowGroup, dl *datalist.RowGroupDL, n int, fill func(i int, row *rowgroup.Row)) {
	go func() {
		defer dl.EndOfInput()
		row := rowgroup.Row{}
		rg.InitRow(&row)
		var data *rowgroup.RGData
		for i := 0; i < n; i++ {
			if data == nil {
				data = rowgroup.NewRGData(rg, rg.MaxRows())
			}
			row.Point(rowgroup.RowPtr{Data: data, Idx: int32(data.RowCount())})
			fill(i, &row)
			data.SetRowCount(data.RowCount() + 1)
			if data.Full() {
				if !dl.Insert(data) {
					return
				}
				data = nil
			}
		}
		if data != nil {
			dl.Insert(data)
		}
	}()
}

func link(dls ...*datalist.RowGroupDL) *datalist.JobStepAssociation {
	jsa := datalist.NewJobStepAssociation()
	for i, dl := range dls {
		jsa.Add(&datalist.AnyDataList{Name: fmt.Sprintf("dl%d", i), DL: dl})
	}
	return jsa
}

type bander interface {
	NextBand(bs *util.ByteStream) int
}

// fetch pulls every band of the result like a client would.
func fetch(rg *rowgroup.RowGroup, src bander) (int, error) {
	bs := util.NewByteStream()
	total := 0
	row := rowgroup.Row{}
	rg.InitRow(&row)
	for {
		n := src.NextBand(bs)
		data, err := rowgroup.DeserializeRGData(rg, bs)
		if err != nil {
			return total, err
		}
		if n == 0 {
			if data.Status() != common.ERR_OK {
				return total, errors.Newf("query failed with %s", data.Status())
			}
			return total, nil
		}
		total += n
		if testerCfg.Debug.PrintResult {
			for i := 0; i < data.RowCount(); i++ {
				row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
				fmt.Println(row.ToString())
			}
		}
	}
}

func finish(s *session, jl *joblist.JobList, start time.Time, rows int, fetchErr error) error {
	err := jl.Join()
	if err == nil {
		err = fetchErr
	}
	if testerCfg.Debug.PrintStats {
		fmt.Println(jl.Stats())
	}
	fmt.Printf("%d rows in %s\n", rows, time.Since(start))
	util.Info("workload done",
		zap.String("job", s.job.ID()),
		zap.Int("rows", rows),
		zap.Stringer("status", s.job.Status()),
		util.Bytes("memory", s.rm.Used()))
	return err
}

func runJoin() error {
	jtName := viper.GetString("workload.join.joinType")
	jt, ok := joinTypes[strings.ToLower(jtName)]
	if !ok {
		return errors.Newf("unknown join type %q", jtName)
	}
	smallRows := viper.GetInt("workload.join.smallRows")
	largeRows := viper.GetInt("workload.join.largeRows")
	keyRange := max(viper.GetInt("workload.join.keyRange"), 1)

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()
	typs := []common.LType{common.BigintType(), common.VarcharType(32)}
	smallRG, largeRG := s.job.NewRowGroup(typs), s.job.NewRowGroup(typs)
	thj, err := joblist.NewTupleHashJoinStep(s.job, largeRG, []joblist.SmallSideSpec{{
		RG:        smallRG,
		SmallKeys: []int{0},
		LargeKeys: []int{0},
		JT:        jt,
	}})
	if err != nil {
		return err
	}
	smallDL, largeDL, joined := s.newDL(), s.newDL(), s.newDL()
	thj.SetInputAssociation(link(smallDL, largeDL))
	thj.SetOutputAssociation(link(joined))
	ds := joblist.NewDeliveryStep(s.job, thj.OutputRG())
	ds.SetInputAssociation(link(joined))

	jl := joblist.NewJobList(s.job)
	jl.AddStep(thj)
	jl.AddStep(ds)
	start := time.Now()
	if err = jl.Run(); err != nil {
		return err
	}
	s.generate(smallRG, smallDL, smallRows, func(i int, row *rowgroup.Row) {
		row.SetIntField(0, int64(i*7919%keyRange))
		row.SetStringField(1, fmt.Sprintf("s%d", i))
	})
	s.generate(largeRG, largeDL, largeRows, func(i int, row *rowgroup.Row) {
		row.SetIntField(0, int64(i*104729%keyRange))
		row.SetStringField(1, fmt.Sprintf("l%d", i))
	})
	rows, fetchErr := fetch(thj.OutputRG(), ds)
	return finish(s, jl, start, rows, fetchErr)
}

func runOrderBy() error {
	n := viper.GetInt("workload.orderby.rows")
	keyRange := max(viper.GetInt("workload.orderby.keyRange"), 1)
	opts := joblist.AnnexOptions{
		OrderBy: orderby.OrderByKeys{
			{Col: 0, Asc: !viper.GetBool("workload.orderby.desc")},
		},
		Distinct: viper.GetBool("workload.orderby.distinct"),
		Limit:    viper.GetInt64("workload.orderby.limit"),
		Offset:   viper.GetInt64("workload.orderby.offset"),
	}
	if opts.Limit < 0 {
		opts.Limit = joblist.NoLimit
	}
	if !opts.Distinct {
		opts.OrderBy = append(opts.OrderBy, orderby.SortKey{Col: 1, Asc: true})
	}

	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.Close()
	typs := []common.LType{common.BigintType(), common.BigintType()}
	if opts.Distinct {
		typs = typs[:1]
	}
	rg := s.job.NewRowGroup(typs)
	ta, err := joblist.NewTupleAnnexStep(s.job, rg, opts)
	if err != nil {
		return err
	}
	in, out := s.newDL(), s.newDL()
	ta.SetInputAssociation(link(in))
	ta.SetOutputAssociation(link(out))
	jl := joblist.NewJobList(s.job)
	jl.AddStep(ta)
	start := time.Now()
	if err = jl.Run(); err != nil {
		return err
	}
	s.generate(rg, in, n, func(i int, row *rowgroup.Row) {
		row.SetIntField(0, int64(i*7919%keyRange))
		if !opts.Distinct {
			row.SetIntField(1, int64(i))
		}
	})
	rows, fetchErr := fetch(ta.OutputRG(), ta)
	return finish(s, jl, start, rows, fetchErr)
}
