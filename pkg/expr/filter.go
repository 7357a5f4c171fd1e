package expr

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/xlab/treeprint"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

type ET_SubTyp int

const (
	ET_Invalid ET_SubTyp = iota
	ET_Equal
	ET_NotEqual
	ET_Greater
	ET_GreaterEqual
	ET_Less
	ET_LessEqual
	ET_And
	ET_Or
)

func (et ET_SubTyp) String() string {
	switch et {
	case ET_Equal:
		return "="
	case ET_NotEqual:
		return "<>"
	case ET_Greater:
		return ">"
	case ET_GreaterEqual:
		return ">="
	case ET_Less:
		return "<"
	case ET_LessEqual:
		return "<="
	case ET_And:
		return "and"
	case ET_Or:
		return "or"
	}
	return fmt.Sprintf("op(%d)", int(et))
}

// Filter is a boolean expression over one row. Joins evaluate it over the
// large row followed by the candidate small row.
type Filter interface {
	Eval(row *rowgroup.Row) (bool, error)
	Format(tree treeprint.Tree)
}

// Operand is a column of the evaluated row or a constant.
type Operand struct {
	Col    int
	_const *rowgroup.Row
}

func ColumnRef(col int) Operand {
	return Operand{Col: col}
}

// Constant builds a typed constant. set writes the value into column 0
// of a one column row.
func Constant(typ common.LType, set func(row *rowgroup.Row)) Operand {
	rg := rowgroup.NewRowGroupFromTypes([]common.LType{typ}, 1, true)
	rg.SetData(rg.NewRGData())
	row := &rowgroup.Row{}
	rg.GetRow(0, row)
	set(row)
	rg.IncRowCount()
	return Operand{Col: 0, _const: row}
}

func IntConst(v int64) Operand {
	return Constant(common.BigintType(), func(row *rowgroup.Row) { row.SetIntField(0, v) })
}

func DoubleConst(v float64) Operand {
	return Constant(common.DoubleType(), func(row *rowgroup.Row) { row.SetDoubleField(0, v) })
}

func StringConst(s string) Operand {
	return Constant(common.TextType(), func(row *rowgroup.Row) { row.SetStringField(0, s) })
}

func NullConst(typ common.LType) Operand {
	return Constant(typ, func(row *rowgroup.Row) { row.SetNull(0) })
}

func (op Operand) resolve(row *rowgroup.Row) (*rowgroup.Row, int) {
	if op._const != nil {
		return op._const, 0
	}
	return row, op.Col
}

func (op Operand) IsConst() bool {
	return op._const != nil
}

// ConstType is the type of a constant operand.
func (op Operand) ConstType() common.LType {
	util.AssertFunc(op._const != nil)
	return op._const.ColType(0)
}

// WriteTo stores the constant into column col of dst, converting it to
// the column type.
func (op Operand) WriteTo(dst *rowgroup.Row, col int) error {
	if op._const == nil {
		return errors.AssertionFailedf("operand #%d is not a constant", op.Col)
	}
	return rowgroup.ConvertField(op._const, 0, dst, col)
}

func (op Operand) String() string {
	if op._const != nil {
		return op._const.FieldString(0)
	}
	return fmt.Sprintf("#%d", op.Col)
}

// SimpleFilter compares two operands. A NULL operand makes it false.
type SimpleFilter struct {
	Op    ET_SubTyp
	Left  Operand
	Right Operand
}

func NewSimpleFilter(op ET_SubTyp, left, right Operand) *SimpleFilter {
	return &SimpleFilter{Op: op, Left: left, Right: right}
}

func (sf *SimpleFilter) Eval(row *rowgroup.Row) (bool, error) {
	lrow, lcol := sf.Left.resolve(row)
	rrow, rcol := sf.Right.resolve(row)
	if lrow.IsNull(lcol) || rrow.IsNull(rcol) {
		return false, nil
	}
	c, err := lrow.CompareField(lcol, rrow, rcol)
	if err != nil {
		return false, err
	}
	switch sf.Op {
	case ET_Equal:
		return c == 0, nil
	case ET_NotEqual:
		return c != 0, nil
	case ET_Greater:
		return c > 0, nil
	case ET_GreaterEqual:
		return c >= 0, nil
	case ET_Less:
		return c < 0, nil
	case ET_LessEqual:
		return c <= 0, nil
	}
	return false, errors.AssertionFailedf("usp comparison %s", sf.Op)
}

func (sf *SimpleFilter) Format(tree treeprint.Tree) {
	tree.AddNode(fmt.Sprintf("%s %s %s", sf.Left, sf.Op, sf.Right))
}

// BOP combines two filters with and/or.
type BOP struct {
	Op    ET_SubTyp
	Left  Filter
	Right Filter
}

func And(left, right Filter) *BOP {
	return &BOP{Op: ET_And, Left: left, Right: right}
}

func Or(left, right Filter) *BOP {
	return &BOP{Op: ET_Or, Left: left, Right: right}
}

func (bop *BOP) Eval(row *rowgroup.Row) (bool, error) {
	l, err := bop.Left.Eval(row)
	if err != nil {
		return false, err
	}
	switch bop.Op {
	case ET_And:
		if !l {
			return false, nil
		}
	case ET_Or:
		if l {
			return true, nil
		}
	default:
		return false, errors.AssertionFailedf("usp boolean operator %s", bop.Op)
	}
	return bop.Right.Eval(row)
}

func (bop *BOP) Format(tree treeprint.Tree) {
	branch := tree.AddBranch(bop.Op.String())
	bop.Left.Format(branch)
	bop.Right.Format(branch)
}

// Explain renders the filter tree.
func Explain(f Filter) string {
	tree := treeprint.NewWithRoot("filter")
	f.Format(tree)
	return tree.String()
}
