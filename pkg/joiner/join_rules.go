package joiner

import (
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

// ApplyJoinRules turns the raw matches of largeRow into the rows to emit.
// The residual filter runs first, then the join kind decides:
//
//	inner        no match drops the large row
//	large outer  no match emits one row against the null small row
//	small outer  matched small rows are marked
//	semi         at most one match is kept
//	anti         no match emits the large row once, any match drops it
//	scalar       more than one match is ERR_MORE_THAN_1_ROW
func (tj *TupleJoiner) ApplyJoinRules(largeRow *rowgroup.Row, threadID int, matches *[]Entry) error {
	jt := tj._cfg.JT
	if tj._filter != nil && len(*matches) > 0 {
		if err := tj.filterMatches(largeRow, threadID, matches); err != nil {
			return err
		}
	}
	if jt.Has(JT_SMALLOUTER) {
		tj.MarkMatches(*matches)
	}
	switch {
	case jt.Has(JT_ANTI):
		if len(*matches) == 0 {
			*matches = append(*matches, tj.nullEntry())
		} else {
			*matches = (*matches)[:0]
		}
		return nil
	case jt.Has(JT_SCALAR):
		if len(*matches) > 1 {
			return common.NewJobError(common.ERR_MORE_THAN_1_ROW,
				"scalar join matched %d rows", len(*matches))
		}
	case jt.Has(JT_SEMI):
		if len(*matches) > 1 {
			*matches = (*matches)[:1]
		}
	}
	if len(*matches) == 0 && jt.Has(JT_LARGEOUTER) {
		*matches = append(*matches, tj.nullEntry())
	}
	return nil
}

func (tj *TupleJoiner) filterMatches(largeRow *rowgroup.Row, threadID int, matches *[]Entry) error {
	ts := tj._threads[threadID]
	ts.kept = ts.kept[:0]
	largeCols := largeRow.ColumnCount()
	largeRow.CopyRowTo(&ts.joinRow, 0)
	for _, ent := range *matches {
		ts.small.Point(ent.Ptr)
		ts.small.CopyRowTo(&ts.joinRow, largeCols)
		ok, err := tj._filter.Eval(&ts.joinRow)
		if err != nil {
			return err
		}
		if ok {
			ts.kept = append(ts.kept, ent)
		}
	}
	*matches = append((*matches)[:0], ts.kept...)
	// long strings land in the scratch store, drop them
	ts.joined.Data().Reinit()
	ts.joined.SetRowCount(1)
	return nil
}

// JoinRow writes largeRow followed by the small row of ent into out.
// Semi and anti joins only keep the large columns.
func (tj *TupleJoiner) JoinRow(largeRow *rowgroup.Row, ent Entry, threadID int, out *rowgroup.Row) {
	largeRow.CopyRowTo(out, 0)
	if !tj._cfg.JT.OutputsSmallSide() {
		return
	}
	small := &tj._threads[threadID].small
	small.Point(ent.Ptr)
	small.CopyRowTo(out, largeRow.ColumnCount())
}

// JoinUnmatchedSmall writes the null large row followed by the small row
// at ptr into out.
func (tj *TupleJoiner) JoinUnmatchedSmall(ptr rowgroup.RowPtr, threadID int, out *rowgroup.Row) {
	ts := tj._threads[threadID]
	var large rowgroup.Row
	tj._largeRG.InitRow(&large)
	large.Point(tj.LargeNullRow())
	large.CopyRowTo(out, 0)
	ts.small.Point(ptr)
	ts.small.CopyRowTo(out, tj._largeRG.ColumnCount())
}

// OutputRG is the schema of the rows JoinRow writes.
func (tj *TupleJoiner) OutputRG() *rowgroup.RowGroup {
	if !tj._cfg.JT.OutputsSmallSide() {
		return tj._largeRG.Clone()
	}
	return tj._largeRG.Concat(tj._smallRG)
}
