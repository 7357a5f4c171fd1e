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

package joinpartition

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// Fanout is the number of children a partition splits into.
const Fanout = 8

type Phase int

const (
	JPP_SMALL Phase = iota
	JPP_LARGE
	JPP_PROBE
	JPP_CLOSED
)

type side struct {
	file   string
	bytes  int64
	rows   int64
	frames int
	buf    *rowgroup.RGData
}

// node is one partition. Internal nodes only route rows.
type node struct {
	id       int
	parent   int
	depth    int
	children []int
	small    side
	large    side
	// small rows matched in any iteration, by load ordinal
	matched util.Bitmap
	// times the partition went through a probe
	processed int
	released  bool
}

func (n *node) leaf() bool {
	return len(n.children) == 0
}

// Stats is informational only.
type Stats struct {
	Partitions     int
	MaxDepth       int
	MaxSmallSize   int64
	MaxLargeSize   int64
	BytesWritten   int64
	BytesRead      int64
	LargeIteration int
	Splits         int
}

// JoinPartitionManager partitions both sides of a join that does not fit
// in memory. Rows are routed by hash(key) at every level of the tree.
// Nodes live in an arena and refer to each other by index.
type JoinPartitionManager struct {
	_cfg       util.JoinOptions
	_smallRG   *rowgroup.RowGroup
	_largeRG   *rowgroup.RowGroup
	_smallKeys []int
	_largeKeys []int
	_maxRows   int

	_mu    sync.Mutex
	_nodes []node
	_free  []int
	_root  int
	_dir   string
	_phase Phase

	_diskUsage      int64
	_bufferedBytes  int64
	_largeIteration int
	_lastIteration  bool
	_stats          Stats
}

func NewJoinPartitionManager(
	cfg util.JoinOptions,
	smallRG, largeRG *rowgroup.RowGroup,
	smallKeys, largeKeys []int,
	maxRows int,
) (*JoinPartitionManager, error) {
	if maxRows <= 0 {
		maxRows = util.DefaultRowGroupSize
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	dir := filepath.Join(cfg.TempDir, "diskjoin-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create disk join dir %s", dir), common.ErrDiskIO)
	}
	jpm := &JoinPartitionManager{
		_cfg:       cfg,
		_smallRG:   smallRG.Clone(),
		_largeRG:   largeRG.Clone(),
		_smallKeys: util.CopyTo(smallKeys),
		_largeKeys: util.CopyTo(largeKeys),
		_maxRows:   maxRows,
		_dir:       dir,
		_root:      -1,
		_phase:     JPP_SMALL,
	}
	jpm._root = jpm.newNode(-1, 0)
	jpm.split(jpm._root)
	util.Info("disk join partitions created",
		zap.String("dir", dir),
		util.Bytes("partitionSize", cfg.PartitionSize),
		zap.Int("maxDepth", cfg.MaxDepth))
	return jpm, nil
}

func (jpm *JoinPartitionManager) newNode(parent, depth int) int {
	id := len(jpm._nodes)
	if len(jpm._free) > 0 {
		id = util.Back(jpm._free)
		jpm._free = util.Pop(jpm._free)
	} else {
		jpm._nodes = append(jpm._nodes, node{})
	}
	jpm._nodes[id] = node{
		id:     id,
		parent: parent,
		depth:  depth,
		small:  side{file: jpm.fileName(id, "small")},
		large:  side{file: jpm.fileName(id, "large")},
	}
	jpm._stats.Partitions++
	jpm._stats.MaxDepth = max(jpm._stats.MaxDepth, depth)
	return id
}

func (jpm *JoinPartitionManager) fileName(id int, kind string) string {
	return filepath.Join(jpm._dir, fmt.Sprintf("p%d.%s", id, kind))
}

// split turns leaf id into an internal node with Fanout children.
func (jpm *JoinPartitionManager) split(id int) {
	depth := jpm._nodes[id].depth
	children := make([]int, Fanout)
	for i := range children {
		children[i] = jpm.newNode(id, depth+1)
	}
	jpm._nodes[id].children = children
	jpm._stats.Splits++
}

func (jpm *JoinPartitionManager) route(h uint64) int {
	id := jpm._root
	for !jpm._nodes[id].leaf() {
		n := &jpm._nodes[id]
		id = n.children[util.RehashU64(h, n.depth)%Fanout]
	}
	return id
}

func (jpm *JoinPartitionManager) Phase() Phase {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._phase
}

// InsertSmallSideRGData routes every row of data into a partition. It
// returns the change of bytes held in partition buffers.
func (jpm *JoinPartitionManager) InsertSmallSideRGData(data *rowgroup.RGData) (int64, error) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_SMALL)
	before := jpm._bufferedBytes
	err := jpm.insertRows(data, true)
	return jpm._bufferedBytes - before, err
}

// InsertSmallSideRow routes one small row.
func (jpm *JoinPartitionManager) InsertSmallSideRow(row *rowgroup.Row) (int64, error) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_SMALL)
	before := jpm._bufferedBytes
	err := jpm.insertRow(row, true)
	return jpm._bufferedBytes - before, err
}

// InsertLargeSideRGData routes every row of data into a partition of the
// current iteration.
func (jpm *JoinPartitionManager) InsertLargeSideRGData(data *rowgroup.RGData) (int64, error) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_LARGE)
	before := jpm._bufferedBytes
	err := jpm.insertRows(data, false)
	return jpm._bufferedBytes - before, err
}

func (jpm *JoinPartitionManager) insertRows(data *rowgroup.RGData, small bool) error {
	rg := jpm._largeRG
	if small {
		rg = jpm._smallRG
	}
	row := rowgroup.Row{}
	rg.InitRow(&row)
	for i := 0; i < data.RowCount(); i++ {
		row.Point(rowgroup.RowPtr{Data: data, Idx: int32(i)})
		if err := jpm.insertRow(&row, small); err != nil {
			return err
		}
	}
	return nil
}

func (jpm *JoinPartitionManager) insertRow(row *rowgroup.Row, small bool) error {
	keys, rg := jpm._largeKeys, jpm._largeRG
	if small {
		keys, rg = jpm._smallKeys, jpm._smallRG
	}
	id := jpm.route(row.HashKeys(keys))
	n := &jpm._nodes[id]
	sd := &n.large
	if small {
		sd = &n.small
	}
	if sd.buf == nil {
		sd.buf = rowgroup.NewRGData(rg, jpm._maxRows)
	}
	before := sd.buf.SizeInBytes()
	dst := rowgroup.Row{}
	rg.InitRow(&dst)
	dst.Point(rowgroup.RowPtr{Data: sd.buf, Idx: int32(sd.buf.RowCount())})
	row.CopyRow(&dst)
	sd.buf.SetRowCount(sd.buf.RowCount() + 1)
	sd.rows++
	jpm._bufferedBytes += sd.buf.SizeInBytes() - before
	if !sd.buf.Full() {
		return nil
	}
	if err := jpm.flush(rg, sd); err != nil {
		return err
	}
	if small && sd.bytes > jpm._cfg.PartitionSize && n.depth < jpm._cfg.MaxDepth {
		return jpm.repartition(id)
	}
	return nil
}

// flush writes the buffer of sd as one frame.
func (jpm *JoinPartitionManager) flush(rg *rowgroup.RowGroup, sd *side) error {
	if sd.buf == nil || sd.buf.RowCount() == 0 {
		return nil
	}
	if err := util.Inject(util.FAULTS_SCOPE_JOB, "diskjoin.flush"); err != nil {
		return err
	}
	frame, err := encodeFrame(rg, sd.buf, jpm._cfg.Compression)
	if err != nil {
		return err
	}
	size := int64(len(frame))
	if jpm._cfg.DiskUsageLimit > 0 && jpm._diskUsage+size > jpm._cfg.DiskUsageLimit {
		return common.NewJobError(common.ERR_DBJ_DISK_USAGE_LIMIT,
			"disk join would use %d bytes, limit %d", jpm._diskUsage+size, jpm._cfg.DiskUsageLimit)
	}
	if err = appendFrame(sd.file, frame); err != nil {
		return err
	}
	jpm._diskUsage += size
	jpm._stats.BytesWritten += size
	spillBytesWritten.Add(float64(size))
	sd.bytes += size
	sd.frames++
	jpm._bufferedBytes -= sd.buf.SizeInBytes()
	sd.buf.Reinit()
	return nil
}

// repartition splits a small side leaf that grew past the partition size
// and moves its rows to the new children.
func (jpm *JoinPartitionManager) repartition(id int) error {
	path := jpm._nodes[id].small.file
	// the parent file goes away once its rows are moved
	jpm._diskUsage -= jpm._nodes[id].small.bytes
	jpm.split(id)
	reader, err := openFrameReader(path, jpm._smallRG, jpm.noteRead)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()
	for {
		data, err := reader.Next()
		if err != nil {
			return err
		}
		if data == nil {
			break
		}
		if err = jpm.insertRows(data, true); err != nil {
			return err
		}
	}
	n := &jpm._nodes[id]
	n.small = side{file: n.small.file}
	_ = os.Remove(path)
	util.Debug("disk join partition split",
		zap.Int("partition", id),
		zap.Int("depth", n.depth))
	return nil
}

func (jpm *JoinPartitionManager) noteRead(n int64) {
	jpm._stats.BytesRead += n
	spillBytesRead.Add(float64(n))
}

func (jpm *JoinPartitionManager) flushAll(small bool) error {
	rg := jpm._largeRG
	if small {
		rg = jpm._smallRG
	}
	for i := range jpm._nodes {
		n := &jpm._nodes[i]
		if !n.leaf() {
			continue
		}
		sd := &n.large
		if small {
			sd = &n.small
		}
		if err := jpm.flush(rg, sd); err != nil {
			return err
		}
		sd.buf = nil
		if small {
			jpm._stats.MaxSmallSize = max(jpm._stats.MaxSmallSize, sd.bytes)
		} else {
			jpm._stats.MaxLargeSize = max(jpm._stats.MaxLargeSize, sd.bytes)
		}
	}
	return nil
}

// DoneInsertingSmallData flushes the small side. Large rows may follow
// after InitForLargeSideFeed.
func (jpm *JoinPartitionManager) DoneInsertingSmallData() error {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_SMALL)
	if err := jpm.flushAll(true); err != nil {
		return err
	}
	jpm._phase = JPP_PROBE
	return nil
}

// InitForLargeSideFeed starts a new large side iteration and drops the
// large rows of the previous one.
func (jpm *JoinPartitionManager) InitForLargeSideFeed() {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_PROBE)
	for i := range jpm._nodes {
		n := &jpm._nodes[i]
		if !n.leaf() {
			continue
		}
		if n.large.frames > 0 {
			_ = os.Remove(n.large.file)
			jpm._diskUsage -= n.large.bytes
		}
		n.large = side{file: n.large.file}
	}
	jpm._largeIteration++
	jpm._stats.LargeIteration = jpm._largeIteration
	jpm._lastIteration = false
	jpm._phase = JPP_LARGE
}

// DoneInsertingLargeData closes the current iteration. last marks the end
// of the large side.
func (jpm *JoinPartitionManager) DoneInsertingLargeData(last bool) error {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	util.AssertFunc(jpm._phase == JPP_LARGE)
	if err := jpm.flushAll(false); err != nil {
		return err
	}
	jpm._lastIteration = last
	jpm._phase = JPP_PROBE
	return nil
}

// LargeSideSize is the large side bytes of the current iteration, in
// buffers and on disk.
func (jpm *JoinPartitionManager) LargeSideSize() int64 {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	var ret int64
	for i := range jpm._nodes {
		n := &jpm._nodes[i]
		if !n.leaf() {
			continue
		}
		ret += n.large.bytes
		if n.large.buf != nil {
			ret += n.large.buf.SizeInBytes()
		}
	}
	return ret
}

func (jpm *JoinPartitionManager) BufferedBytes() int64 {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._bufferedBytes
}

func (jpm *JoinPartitionManager) DiskUsage() int64 {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._diskUsage
}

func (jpm *JoinPartitionManager) LargeIteration() int {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._largeIteration
}

func (jpm *JoinPartitionManager) LastLargeIteration() bool {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._lastIteration
}

// Leaves lists the partitions holding rows, in tree order.
func (jpm *JoinPartitionManager) Leaves() []int {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	ret := make([]int, 0)
	var walk func(id int)
	walk = func(id int) {
		n := &jpm._nodes[id]
		if n.leaf() {
			if !n.released && (n.small.rows > 0 || n.large.rows > 0) {
				ret = append(ret, id)
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(jpm._root)
	return ret
}

func (jpm *JoinPartitionManager) SmallRows(leaf int) int64 {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._nodes[leaf].small.rows
}

func (jpm *JoinPartitionManager) LargeRows(leaf int) int64 {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._nodes[leaf].large.rows
}

// LoadSmallSide reads the whole small side of leaf back from disk.
func (jpm *JoinPartitionManager) LoadSmallSide(leaf int) ([]*rowgroup.RGData, error) {
	jpm._mu.Lock()
	n := &jpm._nodes[leaf]
	util.AssertFunc(n.leaf())
	frames := n.small.frames
	path := n.small.file
	jpm._mu.Unlock()

	ret := make([]*rowgroup.RGData, 0, frames)
	if frames == 0 {
		return ret, nil
	}
	reader, err := openFrameReader(path, jpm._smallRG, jpm.lockedNoteRead)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	for {
		data, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if data == nil {
			return ret, nil
		}
		ret = append(ret, data)
	}
}

func (jpm *JoinPartitionManager) lockedNoteRead(n int64) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	jpm.noteRead(n)
}

// PartitionReader streams one side of a partition.
type PartitionReader struct {
	_fr *frameReader
}

// Next returns nil at the end.
func (pr *PartitionReader) Next() (*rowgroup.RGData, error) {
	if pr._fr == nil {
		return nil, nil
	}
	return pr._fr.Next()
}

func (pr *PartitionReader) Close() error {
	if pr._fr == nil {
		return nil
	}
	return pr._fr.Close()
}

// LargeSideReader streams the large rows of leaf for the current iteration.
func (jpm *JoinPartitionManager) LargeSideReader(leaf int) (*PartitionReader, error) {
	jpm._mu.Lock()
	n := &jpm._nodes[leaf]
	util.AssertFunc(n.leaf() && jpm._phase == JPP_PROBE)
	frames := n.large.frames
	path := n.large.file
	jpm._mu.Unlock()
	if frames == 0 {
		return &PartitionReader{}, nil
	}
	fr, err := openFrameReader(path, jpm._largeRG, jpm.lockedNoteRead)
	if err != nil {
		return nil, err
	}
	return &PartitionReader{_fr: fr}, nil
}

// MarkMatched records that the small row with load ordinal ord of leaf
// found a match. Marks survive large side iterations.
func (jpm *JoinPartitionManager) MarkMatched(leaf int, ord int) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	jpm._nodes[leaf].matched.Set(uint64(ord), true)
}

func (jpm *JoinPartitionManager) IsMatched(leaf int, ord int) bool {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._nodes[leaf].matched.IsSet(uint64(ord))
}

// NoteProcessed counts a probe pass over leaf.
func (jpm *JoinPartitionManager) NoteProcessed(leaf int) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	jpm._nodes[leaf].processed++
}

// ReleasePartition drops the files of a leaf that is done for good and
// puts its slot on the free list.
func (jpm *JoinPartitionManager) ReleasePartition(leaf int) {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	n := &jpm._nodes[leaf]
	if n.released || !n.leaf() {
		return
	}
	_ = os.Remove(n.small.file)
	_ = os.Remove(n.large.file)
	jpm._diskUsage -= n.small.bytes + n.large.bytes
	n.small = side{}
	n.large = side{}
	n.matched.Reset()
	n.released = true
	jpm._free = append(jpm._free, leaf)
	jpm._stats.Partitions--
}

func (jpm *JoinPartitionManager) Stats() Stats {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	return jpm._stats
}

func (jpm *JoinPartitionManager) Dir() string {
	return jpm._dir
}

// String renders the partition tree.
func (jpm *JoinPartitionManager) String() string {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	tree := treeprint.NewWithRoot(fmt.Sprintf("disk join: iteration %d, disk %s",
		jpm._largeIteration, humanize.IBytes(uint64(jpm._diskUsage))))
	var walk func(id int, t treeprint.Tree)
	walk = func(id int, t treeprint.Tree) {
		n := &jpm._nodes[id]
		if n.leaf() {
			if n.small.rows == 0 && n.large.rows == 0 {
				return
			}
			t.AddNode(fmt.Sprintf("p%d small=%d rows/%dB large=%d rows/%dB processed=%d",
				id, n.small.rows, n.small.bytes, n.large.rows, n.large.bytes, n.processed))
			return
		}
		branch := t.AddBranch(fmt.Sprintf("p%d depth=%d", id, n.depth))
		for _, c := range n.children {
			walk(c, branch)
		}
	}
	walk(jpm._root, tree)
	return tree.String()
}

// Close removes every spill file. Calling it twice is harmless.
func (jpm *JoinPartitionManager) Close() error {
	jpm._mu.Lock()
	defer jpm._mu.Unlock()
	if jpm._phase == JPP_CLOSED {
		return nil
	}
	jpm._phase = JPP_CLOSED
	for i := range jpm._nodes {
		jpm._nodes[i].small.buf = nil
		jpm._nodes[i].large.buf = nil
	}
	jpm._bufferedBytes = 0
	jpm._diskUsage = 0
	if err := os.RemoveAll(jpm._dir); err != nil {
		return errors.Mark(errors.Wrapf(err, "remove %s", jpm._dir), common.ErrDiskIO)
	}
	return nil
}
