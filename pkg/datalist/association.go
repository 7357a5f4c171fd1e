package datalist

import (
	"fmt"
	"strings"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
)

// RowGroupDL carries row batches between steps.
type RowGroupDL = FIFO[*rowgroup.RGData]

func NewRowGroupDL(capacity, consumers int) *RowGroupDL {
	return NewFIFO[*rowgroup.RGData](capacity, consumers)
}

// AnyDataList is a named endpoint of a step.
type AnyDataList struct {
	Name string
	DL   *RowGroupDL
}

// JobStepAssociation is the ordered list of endpoints a step reads from or
// writes to.
type JobStepAssociation struct {
	_lists []*AnyDataList
}

func NewJobStepAssociation(lists ...*AnyDataList) *JobStepAssociation {
	return &JobStepAssociation{_lists: lists}
}

func (jsa *JobStepAssociation) Add(list *AnyDataList) {
	jsa._lists = append(jsa._lists, list)
}

func (jsa *JobStepAssociation) OutSize() int {
	if jsa == nil {
		return 0
	}
	return len(jsa._lists)
}

func (jsa *JobStepAssociation) At(i int) *AnyDataList {
	return jsa._lists[i]
}

func (jsa *JobStepAssociation) Get(name string) *AnyDataList {
	for _, list := range jsa._lists {
		if list.Name == name {
			return list
		}
	}
	return nil
}

func (jsa *JobStepAssociation) String() string {
	names := make([]string, 0, jsa.OutSize())
	for i := 0; i < jsa.OutSize(); i++ {
		names = append(names, jsa._lists[i].Name)
	}
	return fmt.Sprintf("[%s]", strings.Join(names, ","))
}
