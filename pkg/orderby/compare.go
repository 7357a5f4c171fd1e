package orderby

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// SortKey is one ORDER BY item.
type SortKey struct {
	Col        int
	Asc        bool
	NullsFirst bool
}

func (key SortKey) String() string {
	dir := "desc"
	if key.Asc {
		dir = "asc"
	}
	nulls := "last"
	if key.NullsFirst {
		nulls = "first"
	}
	return fmt.Sprintf("#%d %s nulls %s", key.Col, dir, nulls)
}

type OrderByKeys []SortKey

func (keys OrderByKeys) String() string {
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key.String()
	}
	return strings.Join(parts, ", ")
}

// reversed returns keys that produce the exact reverse order.
func (keys OrderByKeys) reversed() OrderByKeys {
	ret := make(OrderByKeys, len(keys))
	for i, key := range keys {
		ret[i] = SortKey{Col: key.Col, Asc: !key.Asc, NullsFirst: !key.NullsFirst}
	}
	return ret
}

// IdbCompare orders rows of one schema by a list of keys. NULL placement
// follows NullsFirst whatever the direction.
type IdbCompare struct {
	_keys OrderByKeys
}

func NewIdbCompare(rg *rowgroup.RowGroup, keys OrderByKeys) (*IdbCompare, error) {
	if len(keys) == 0 {
		return nil, errors.AssertionFailedf("order by without keys")
	}
	for _, key := range keys {
		if key.Col < 0 || key.Col >= rg.ColumnCount() {
			return nil, errors.AssertionFailedf("order by column %d out of range", key.Col)
		}
		typ := rg.ColType(key.Col)
		if !rowgroup.ComparableTypes(typ, typ) {
			return nil, errors.AssertionFailedf("order by on unsupported type %s", typ)
		}
	}
	return &IdbCompare{_keys: keys}, nil
}

func (cmp *IdbCompare) Keys() OrderByKeys {
	return cmp._keys
}

// Compare returns <0 when l comes before r.
func (cmp *IdbCompare) Compare(l, r *rowgroup.Row) int {
	for _, key := range cmp._keys {
		ln, rn := l.IsNull(key.Col), r.IsNull(key.Col)
		if ln || rn {
			if ln && rn {
				continue
			}
			if ln == key.NullsFirst {
				return -1
			}
			return 1
		}
		c, err := l.CompareField(key.Col, r, key.Col)
		util.AssertFunc(err == nil)
		if c == 0 {
			continue
		}
		if !key.Asc {
			c = -c
		}
		return c
	}
	return 0
}

// Less is Compare(l, r) < 0.
func (cmp *IdbCompare) Less(l, r *rowgroup.Row) bool {
	return cmp.Compare(l, r) < 0
}

// keyClass picks the array type the flat sort extracts a column into.
type keyClass int

const (
	KC_INT keyClass = iota
	KC_UINT
	KC_DOUBLE
	KC_WIDE
	KC_STRING
)

func classOf(typ common.LType) keyClass {
	switch {
	case typ.IsWideDecimal():
		return KC_WIDE
	case typ.Id.IsString():
		return KC_STRING
	case typ.Id.IsFloat():
		return KC_DOUBLE
	case typ.Id.IsUnsignedInt(), typ.Id == common.LTID_DATE,
		typ.Id == common.LTID_DATETIME, typ.Id == common.LTID_TIMESTAMP:
		return KC_UINT
	}
	return KC_INT
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpDouble(a, b float64) int {
	if util.GreaterFloat(a, b) {
		return 1
	}
	if util.GreaterFloat(b, a) {
		return -1
	}
	return 0
}
